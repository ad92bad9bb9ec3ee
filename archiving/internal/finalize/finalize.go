// Package finalize deletes original objects once their archive copy is
// confirmed.
package finalize

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/archtypes"
	arkerrors "github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/errors"
	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/internal/objstore"
	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/internal/pool"
)

// Decision is what happened to one source.
type Decision string

// Decisions
const (
	Deleted Decision = "deleted"
	Skipped Decision = "skipped"
	Failed  Decision = "error"
)

// Skip reasons
const (
	ReasonDestinationMissing = "destination missing"
	ReasonSourceMissing      = "source missing"
	ReasonSizeMismatch       = "size mismatch"
)

// Outcome is the result of finalizing one pair.
type Outcome struct {
	Decision Decision
	Reason   string
	Err      error
}

// Entry is a pair that was not deleted.
type Entry struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Reason      string `json:"reason"`
}

// Result aggregates one finalize run.
type Result struct {
	Counts  archtypes.FinalizeCounts
	Skipped []Entry
	Errors  []Entry
}

// Finalizer deletes sources on a bounded worker pool.
type Finalizer struct {
	stores  objstore.Factory
	workers int
	logger  *slog.Logger
	record  func(archtypes.Pair, Outcome)
}

// Option configures a Finalizer.
type Option func(*Finalizer)

// WithWorkers bounds the worker pool.
func WithWorkers(n int) Option {
	return func(f *Finalizer) {
		f.workers = n
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Finalizer) {
		f.logger = logger
	}
}

// WithRecorder registers a callback run with every pair's outcome.
func WithRecorder(fn func(archtypes.Pair, Outcome)) Option {
	return func(f *Finalizer) {
		f.record = fn
	}
}

// New creates a Finalizer.
func New(stores objstore.Factory, opts ...Option) *Finalizer {
	f := &Finalizer{stores: stores, workers: pool.DefaultWorkers}
	for _, opt := range opts {
		opt(f)
	}
	if f.logger == nil {
		f.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return f
}

// Run finalizes every pair. Skips and errors are reported, never returned.
func (f *Finalizer) Run(ctx context.Context, pairs []archtypes.Pair) *Result {
	res := &Result{}
	add := func(p archtypes.Pair, o Outcome) {
		res.Counts.Total++
		switch o.Decision {
		case Deleted:
			res.Counts.Deleted++
		case Skipped:
			res.Counts.Skipped++
			res.Skipped = append(res.Skipped, Entry{p.Source, p.Destination, o.Reason})
		default:
			res.Counts.Error++
			res.Errors = append(res.Errors, Entry{p.Source, p.Destination, o.Err.Error()})
			f.logger.Debug("finalize failed", "source", p.Source, "error", o.Err)
		}
		if f.record != nil {
			f.record(p, o)
		}
	}

	unresolved, setupErr := pool.Run(ctx, f.workers, pairs,
		pool.Setup[objstore.Store](f.stores),
		func(ctx context.Context, s objstore.Store, p archtypes.Pair) Outcome {
			return One(ctx, s, p)
		},
		add)
	for _, p := range unresolved {
		err := ctx.Err()
		if err == nil {
			err = setupErr
		}
		add(p, Outcome{Decision: Failed, Err: fmt.Errorf("unresolved: %w", err)})
	}

	f.logger.Info("finalize complete", "total", res.Counts.Total, "deleted", res.Counts.Deleted,
		"skipped", res.Counts.Skipped, "error", res.Counts.Error)
	return res
}

// One deletes the source of p only if, checked now, the destination and the
// source both exist and their sizes agree. Otherwise the pair is skipped.
func One(ctx context.Context, s objstore.Store, p archtypes.Pair) Outcome {
	src, err := objstore.ParseURI(p.Source)
	if err != nil {
		return Outcome{Decision: Failed, Err: err}
	}
	dst, err := objstore.ParseURI(p.Destination)
	if err != nil {
		return Outcome{Decision: Failed, Err: err}
	}

	dstSize, err := s.Size(ctx, dst)
	if arkerrors.IsObjectNotFound(err) {
		return Outcome{Decision: Skipped, Reason: ReasonDestinationMissing}
	}
	if err != nil {
		return Outcome{Decision: Failed, Err: err}
	}

	srcSize, err := s.Size(ctx, src)
	if arkerrors.IsObjectNotFound(err) {
		return Outcome{Decision: Skipped, Reason: ReasonSourceMissing}
	}
	if err != nil {
		return Outcome{Decision: Failed, Err: err}
	}

	if srcSize != dstSize {
		return Outcome{Decision: Skipped, Reason: ReasonSizeMismatch}
	}

	if err := s.Delete(ctx, src); err != nil {
		return Outcome{Decision: Failed, Err: err}
	}
	return Outcome{Decision: Deleted}
}
