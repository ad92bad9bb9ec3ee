// Package updater applies planned rewrites to the record service.
package updater

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/archtypes"
	arkerrors "github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/errors"
	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/internal/metastore"
	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/internal/planner"
	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/internal/pool"
	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/internal/retry"
)

// Default retry budgets.
const (
	DefaultEntityRetries    = 3
	DefaultAttributeRetries = 10
)

// Result aggregates one update run.
type Result struct {
	// AttributesUpdated is true when a workspace attribute batch was applied
	AttributesUpdated bool

	// Tables holds per-table record counts
	Tables map[string]archtypes.UpdateCounts

	// Failed lists failed record ids per table, sorted
	Failed map[string][]string
}

// Concordant reports whether every table's submitted and succeeded counts agree.
func (r *Result) Concordant() bool {
	for _, c := range r.Tables {
		if !c.Concordant() {
			return false
		}
	}
	return true
}

// Updater applies entity and workspace attribute rewrites.
type Updater struct {
	records          metastore.Factory
	workers          int
	entityRetries    int
	attributeRetries int
	retryOpts        []retry.Option
	logger           *slog.Logger
	record           func(table, id string, err error)
}

// Option configures an Updater.
type Option func(*Updater)

// WithWorkers bounds the table worker pool.
func WithWorkers(n int) Option {
	return func(u *Updater) {
		u.workers = n
	}
}

// WithRetries sets the per-record and attribute batch retry budgets.
// Values below one keep the defaults.
func WithRetries(entity, attribute int) Option {
	return func(u *Updater) {
		if entity > 0 {
			u.entityRetries = entity
		}
		if attribute > 0 {
			u.attributeRetries = attribute
		}
	}
}

// WithRetryOptions passes backoff options to every retry loop.
func WithRetryOptions(opts ...retry.Option) Option {
	return func(u *Updater) {
		u.retryOpts = opts
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(u *Updater) {
		u.logger = logger
	}
}

// WithRecorder registers a callback run once per record with its final
// error, nil on success. It is called from several workers at once.
func WithRecorder(fn func(table, id string, err error)) Option {
	return func(u *Updater) {
		u.record = fn
	}
}

// New creates an Updater. Each table worker gets its own record store handle.
func New(records metastore.Factory, opts ...Option) *Updater {
	u := &Updater{
		records:          records,
		workers:          pool.DefaultWorkers,
		entityRetries:    DefaultEntityRetries,
		attributeRetries: DefaultAttributeRetries,
	}
	for _, opt := range opts {
		opt(u)
	}
	if u.logger == nil {
		u.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return u
}

// Run applies the workspace attribute batch, then every entity update.
// A failed attribute batch is returned as an error wrapping
// ErrWorkspaceAttributes and no entity update is attempted. Entity failures
// are reported in the Result only.
func (u *Updater) Run(ctx context.Context, entities planner.EntityUpdates, attrs planner.AttributeUpdates) (*Result, error) {
	res := &Result{
		Tables: map[string]archtypes.UpdateCounts{},
		Failed: map[string][]string{},
	}

	if len(attrs) > 0 {
		if err := u.applyAttributes(ctx, attrs); err != nil {
			return res, err
		}
		res.AttributesUpdated = true
	}

	tables := make([]string, 0, len(entities))
	for t := range entities {
		tables = append(tables, t)
	}
	sort.Strings(tables)

	unresolved, setupErr := pool.Run(ctx, u.workers, tables,
		pool.Setup[metastore.RecordStore](u.records),
		func(ctx context.Context, rs metastore.RecordStore, table string) tableResult {
			return u.updateTable(ctx, rs, table, entities[table])
		},
		func(table string, tr tableResult) {
			res.Tables[table] = tr.counts
			if len(tr.failed) > 0 {
				res.Failed[table] = tr.failed
			}
		})

	if setupErr != nil {
		u.logger.Warn("record store setup failed", "error", setupErr)
	}
	for _, table := range unresolved {
		ids := sortedIDs(entities[table])
		res.Tables[table] = archtypes.UpdateCounts{Total: len(ids), Failed: len(ids)}
		res.Failed[table] = ids
		for _, id := range ids {
			u.recordOutcome(table, id, fmt.Errorf("unresolved: %w", firstErr(ctx.Err(), setupErr)))
		}
	}

	for _, table := range tables {
		c := res.Tables[table]
		u.logger.Info("table updated", "table", table, "total", c.Total,
			"succeeded", c.Succeeded, "failed", c.Failed)
	}
	return res, nil
}

func (u *Updater) applyAttributes(ctx context.Context, attrs planner.AttributeUpdates) error {
	rs, err := u.records(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", arkerrors.ErrWorkspaceAttributes, err)
	}

	var last error
	err = retry.Stubbornly(ctx, u.attributeRetries, func(ctx context.Context) bool {
		last = checkStatus(rs.SetWorkspaceAttributes(ctx, attrs))
		return last == nil
	}, u.retryOpts...)
	if err != nil {
		u.logger.Error("workspace attribute update failed", "attributes", len(attrs), "error", last)
		return arkerrors.NewError("update", fmt.Errorf("%w: %w (last: %v)",
			arkerrors.ErrWorkspaceAttributes, err, last))
	}
	u.logger.Info("workspace attributes updated", "attributes", len(attrs))
	return nil
}

type tableResult struct {
	counts archtypes.UpdateCounts
	failed []string
}

func (u *Updater) updateTable(ctx context.Context, rs metastore.RecordStore, table string, recs map[string]map[string]metastore.Value) tableResult {
	var tr tableResult
	for _, id := range sortedIDs(recs) {
		tr.counts.Total++

		var last error
		err := retry.Stubbornly(ctx, u.entityRetries, func(ctx context.Context) bool {
			last = checkStatus(rs.UpdateRecord(ctx, table, id, recs[id]))
			return last == nil
		}, u.retryOpts...)
		if err != nil {
			if last != nil {
				err = fmt.Errorf("%w (last: %w)", err, last)
			}
			err = arkerrors.NewRecordError("update", table, id, err)
			tr.counts.Failed++
			tr.failed = append(tr.failed, id)
			u.logger.Debug("record update failed", "table", table, "record", id, "error", err)
		} else {
			tr.counts.Succeeded++
		}
		u.recordOutcome(table, id, err)
	}
	return tr
}

func (u *Updater) recordOutcome(table, id string, err error) {
	if u.record != nil {
		u.record(table, id, err)
	}
}

func checkStatus(status int, err error) error {
	if err != nil {
		return err
	}
	if status != metastore.StatusOK {
		return fmt.Errorf("%w: %d", arkerrors.ErrBadStatus, status)
	}
	return nil
}

func sortedIDs(recs map[string]map[string]metastore.Value) []string {
	ids := make([]string, 0, len(recs))
	for id := range recs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
