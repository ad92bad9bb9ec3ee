// Package transfer copies planned objects into the archive container.
//
// Every pair resolves to exactly one status. A failure on one pair never
// stops its siblings; the caller's gate decides what the counts mean.
package transfer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/archtypes"
	arkerrors "github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/errors"
	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/internal/objstore"
	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/internal/pool"
)

// Failure is a pair that ended in StatusError.
type Failure struct {
	archtypes.Pair
	Err error
}

// Result aggregates one transfer run.
type Result struct {
	Counts  archtypes.TransferCounts
	Missing []archtypes.Pair
	Errors  []Failure

	// Copies counts copy requests issued, including continuation steps
	Copies   int
	Duration time.Duration
}

// Outcome is the result of transferring one pair.
type Outcome struct {
	Status archtypes.TransferStatus
	Steps  int
	Err    error
}

// Engine runs transfers on a bounded worker pool.
type Engine struct {
	stores   objstore.Factory
	workers  int
	logger   *slog.Logger
	progress func(archtypes.TransferCounts)
	record   func(archtypes.Pair, Outcome)
}

// Option configures an Engine.
type Option func(*Engine)

// WithWorkers bounds the worker pool.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		e.workers = n
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithProgress registers a callback run with the running counts after
// every completed pair.
func WithProgress(fn func(archtypes.TransferCounts)) Option {
	return func(e *Engine) {
		e.progress = fn
	}
}

// WithRecorder registers a callback run with every pair's outcome,
// unresolved pairs included.
func WithRecorder(fn func(archtypes.Pair, Outcome)) Option {
	return func(e *Engine) {
		e.record = fn
	}
}

// New creates an Engine. Each worker gets its own store from stores.
func New(stores objstore.Factory, opts ...Option) *Engine {
	e := &Engine{stores: stores, workers: pool.DefaultWorkers}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return e
}

// Run transfers every pair. Pairs left unprocessed by cancellation or a
// failed worker setup are counted as errors.
func (e *Engine) Run(ctx context.Context, pairs []archtypes.Pair) *Result {
	start := time.Now()
	res := &Result{}

	add := func(p archtypes.Pair, o Outcome) {
		res.Counts.Add(o.Status)
		res.Copies += o.Steps
		switch o.Status {
		case archtypes.StatusMissing:
			res.Missing = append(res.Missing, p)
		case archtypes.StatusError:
			res.Errors = append(res.Errors, Failure{Pair: p, Err: o.Err})
			e.logger.Debug("transfer failed", "source", p.Source, "destination", p.Destination,
				"code", arkerrors.Classify(o.Err), "error", o.Err)
		default:
			e.logger.Debug("transferred", "source", p.Source, "status", o.Status, "steps", o.Steps)
		}
		if e.record != nil {
			e.record(p, o)
		}
		if e.progress != nil {
			e.progress(res.Counts)
		}
	}

	unresolved, setupErr := pool.Run(ctx, e.workers, pairs,
		pool.Setup[objstore.Store](e.stores),
		func(ctx context.Context, s objstore.Store, p archtypes.Pair) Outcome {
			return One(ctx, s, p)
		},
		add)

	if setupErr != nil {
		e.logger.Warn("worker setup failed", "error", setupErr)
	}
	for _, p := range unresolved {
		err := ctx.Err()
		if err == nil {
			err = setupErr
		}
		add(p, Outcome{Status: archtypes.StatusError, Err: fmt.Errorf("unresolved: %w", err)})
	}

	res.Duration = time.Since(start)
	e.logger.Info("transfer complete", "counts", res.Counts.String(), "copies", res.Copies,
		"elapsed", res.Duration)
	return res
}

// One transfers a single pair:
//
//  1. a missing source is StatusMissing
//  2. an existing destination of the same size is StatusDuplicate
//  3. an existing destination of another size is deleted
//  4. the server-side copy is driven to completion: StatusCopied
//
// Any failure along the way is StatusError.
func One(ctx context.Context, s objstore.Store, p archtypes.Pair) Outcome {
	src, err := objstore.ParseURI(p.Source)
	if err != nil {
		return failed(0, err)
	}
	dst, err := objstore.ParseURI(p.Destination)
	if err != nil {
		return failed(0, err)
	}

	ok, err := s.Exists(ctx, src)
	if err != nil {
		return failed(0, err)
	}
	if !ok {
		return Outcome{Status: archtypes.StatusMissing}
	}

	ok, err = s.Exists(ctx, dst)
	if err != nil {
		return failed(0, err)
	}
	if ok {
		srcSize, err := s.Size(ctx, src)
		if err != nil {
			return failed(0, err)
		}
		dstSize, err := s.Size(ctx, dst)
		if err != nil {
			return failed(0, err)
		}
		if srcSize == dstSize {
			return Outcome{Status: archtypes.StatusDuplicate}
		}
		if err := s.Delete(ctx, dst); err != nil {
			return failed(0, arkerrors.NewObjectError("transfer", dst.String(), err).
				WithMessage("delete stale destination"))
		}
	}

	steps, err := objstore.CopyAll(ctx, s, src, dst)
	if err != nil {
		return failed(steps, err)
	}
	return Outcome{Status: archtypes.StatusCopied, Steps: steps}
}

func failed(steps int, err error) Outcome {
	return Outcome{Status: archtypes.StatusError, Steps: steps, Err: err}
}
