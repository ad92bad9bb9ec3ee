// Package orchestrator sequences a workspace migration:
//
//	Plan -> PersistPlan -> Transfer -> gate -> Update -> gate -> Snapshot -> Finalize
//
// The transfer gate stops the run when any transfer errored and the update
// gate stops it when any record update failed. Both persist a problem report
// before returning, and nothing after a failed gate runs, so sources are
// only ever deleted once every reference to them has been repointed.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/archtypes"
	arkerrors "github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/errors"
	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/internal/artifacts"
	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/internal/ledger"
	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/internal/metastore"
	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/internal/objstore"
	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/internal/pool"
	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/internal/progress"
	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/internal/retry"
)

// DefaultSourceScheme is used when the source container is read from the
// workspace metadata.
const DefaultSourceScheme = "gs"

// Config holds the per-run settings.
type Config struct {
	// Workspace names the workspace and the top-level archive prefix
	Workspace string

	// Archive is the archive container
	Archive objstore.URI

	// Source is the source container. When its container is empty the
	// workspace bucket is used with SourceScheme.
	Source       objstore.URI
	SourceScheme string

	Workers          int
	EntityRetries    int
	AttributeRetries int
	RetryOptions     []retry.Option
}

// Orchestrator runs migrations for one workspace.
type Orchestrator struct {
	cfg     Config
	records metastore.Factory
	stores  objstore.Factory
	arts    *artifacts.Store
	ledger  *ledger.Ledger
	logger  *slog.Logger
	line    *progress.Line
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLedger records runs, phases and item outcomes in l.
func WithLedger(l *ledger.Ledger) Option {
	return func(o *Orchestrator) {
		o.ledger = l
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithProgress sets the progress line. A nil line disables progress output.
func WithProgress(line *progress.Line) Option {
	return func(o *Orchestrator) {
		o.line = line
	}
}

// New creates an Orchestrator. records and stores build one handle per
// worker; arts holds the workspace's artifacts.
func New(cfg Config, records metastore.Factory, stores objstore.Factory, arts *artifacts.Store, opts ...Option) *Orchestrator {
	if cfg.Workers < 1 {
		cfg.Workers = pool.DefaultWorkers
	}
	if cfg.SourceScheme == "" {
		cfg.SourceScheme = DefaultSourceScheme
	}
	o := &Orchestrator{cfg: cfg, records: records, stores: stores, arts: arts}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return o
}

// run tracks one invocation: its report and its ledger id.
type run struct {
	o      *Orchestrator
	id     string
	ctx    context.Context
	start  time.Time
	report *archtypes.Report
}

func (o *Orchestrator) begin(ctx context.Context, mode archtypes.Mode) *run {
	r := &run{
		o:      o,
		ctx:    context.WithoutCancel(ctx),
		start:  time.Now(),
		report: &archtypes.Report{Mode: mode, Updates: map[string]archtypes.UpdateCounts{}},
	}
	if o.ledger != nil {
		id, err := o.ledger.BeginRun(r.ctx, o.cfg.Workspace, mode)
		if err != nil {
			o.logger.Warn("run ledger unavailable", "error", err)
		}
		r.id = id
	}
	r.report.RunID = r.id
	o.logger.Info("run started", "workspace", o.cfg.Workspace, "mode", mode, "run", r.id)
	return r
}

func (r *run) phase(p archtypes.Phase, state, detail string) {
	r.o.logger.Debug("phase", "phase", p, "state", state, "detail", detail)
	if r.id == "" {
		return
	}
	if err := r.o.ledger.RecordPhase(r.ctx, r.id, p, state, detail); err != nil {
		r.o.logger.Warn("ledger write failed", "error", err)
	}
}

func (r *run) item(it ledger.Item) {
	if r.id == "" {
		return
	}
	if err := r.o.ledger.RecordItem(r.ctx, r.id, it); err != nil {
		r.o.logger.Warn("ledger write failed", "error", err)
	}
}

// finish stamps the report with outcome. Gate failures map to their abort
// outcomes whatever outcome the caller passed.
func (r *run) finish(outcome archtypes.Outcome, err error) (*archtypes.Report, error) {
	switch {
	case errors.Is(err, arkerrors.ErrTransferGate):
		outcome = archtypes.OutcomeAbortedAtTransfer
	case errors.Is(err, arkerrors.ErrUpdateGate):
		outcome = archtypes.OutcomeAbortedAtUpdate
	}
	r.report.Outcome = outcome
	r.report.Duration = time.Since(r.start)
	if r.id != "" {
		if lerr := r.o.ledger.FinishRun(r.ctx, r.id, outcome); lerr != nil {
			r.o.logger.Warn("ledger write failed", "error", lerr)
		}
	}
	if err != nil {
		r.o.logger.Error("run stopped", "workspace", r.o.cfg.Workspace, "outcome", outcome, "error", err)
	} else {
		r.o.logger.Info("run finished", "workspace", r.o.cfg.Workspace, "outcome", outcome,
			"duration", r.report.Duration)
	}
	return r.report, err
}

// resolveSource returns the configured source container or the workspace's
// own bucket.
func (o *Orchestrator) resolveSource(ctx context.Context, rs metastore.RecordStore) (objstore.URI, error) {
	if o.cfg.Source.Container != "" {
		return o.cfg.Source, nil
	}
	ws, err := rs.Workspace(ctx)
	if err != nil {
		return objstore.URI{}, arkerrors.NewError("plan", err).WithMessage("read workspace")
	}
	if ws.Bucket == "" {
		return objstore.URI{}, arkerrors.NewError("plan",
			fmt.Errorf("%w: workspace %s has no bucket", arkerrors.ErrInvalidInput, o.cfg.Workspace))
	}
	return objstore.URI{Scheme: o.cfg.SourceScheme, Container: ws.Bucket}, nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
