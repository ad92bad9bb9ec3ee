package orchestrator

import (
	"context"
	"fmt"
	"sort"

	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/archtypes"
	arkerrors "github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/errors"
	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/internal/artifacts"
	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/internal/finalize"
	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/internal/ledger"
	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/internal/planner"
	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/internal/snapshot"
	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/internal/transfer"
	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/internal/updater"
)

// work is what the post-plan phases operate on.
type work struct {
	// transfer is the set of pairs to copy; all is the set to finalize
	transfer []archtypes.Pair
	all      []archtypes.Pair

	entities   planner.EntityUpdates
	attributes planner.AttributeUpdates

	// missing carries pairs found missing by earlier runs
	missing []archtypes.Pair

	// sweep skips the missing map, the record update and the snapshot
	sweep bool
}

// plan scans the workspace, resuming from a persisted reference map, and
// persists the result.
func (o *Orchestrator) plan(ctx context.Context, r *run) (*planner.Result, error) {
	r.phase(archtypes.PhasePlan, ledger.PhaseStarted, "")
	if err := o.arts.CheckCompatible(); err != nil {
		return nil, err
	}
	rs, err := o.records(ctx)
	if err != nil {
		return nil, arkerrors.NewError("plan", err).WithMessage("connect to record store")
	}
	source, err := o.resolveSource(ctx, rs)
	if err != nil {
		return nil, err
	}
	refs, err := o.arts.LoadReferenceMap(artifacts.FileMap)
	if err != nil {
		return nil, err
	}

	p := planner.New(source, o.cfg.Archive, o.cfg.Workspace,
		planner.WithReferenceMap(refs), planner.WithLogger(o.logger))
	res, err := p.Plan(ctx, rs)
	if err != nil {
		return nil, err
	}
	for _, perr := range res.Errors {
		o.logger.Warn("cell not planned", "error", perr)
		r.item(ledger.Item{
			Phase:   archtypes.PhasePlan,
			Subject: perr.Error(),
			Status:  string(archtypes.StatusError),
			Code:    string(arkerrors.Classify(perr)),
		})
	}
	r.phase(archtypes.PhasePlan, ledger.PhaseFinished, fmt.Sprintf("%d references", res.Refs.Len()))

	r.phase(archtypes.PhasePersistPlan, ledger.PhaseStarted, "")
	if err := o.arts.SavePlan(res); err != nil {
		return nil, err
	}
	summary := res.Summary()
	summary.Dir = o.arts.Dir()
	r.report.Plan = summary
	r.phase(archtypes.PhasePersistPlan, ledger.PhaseFinished, o.arts.Dir())

	o.logger.Info("plan persisted", "references", summary.References, "new", summary.NewReferences,
		"records", summary.EntityUpdates, "attributes", summary.AttributeUpdates, "dir", summary.Dir)
	return res, nil
}

// execute runs every phase after the plan.
func (o *Orchestrator) execute(ctx context.Context, r *run, w work) (*archtypes.Report, error) {
	tr := o.transfer(ctx, r, w.transfer)
	if err := o.transferGate(r, tr, w); err != nil {
		return r.finish(archtypes.OutcomeFailed, err)
	}

	if !w.sweep {
		ur, err := o.update(ctx, r, w.entities, w.attributes)
		if err != nil {
			return r.finish(archtypes.OutcomeFailed, err)
		}
		if err := o.updateGate(r, ur); err != nil {
			return r.finish(archtypes.OutcomeFailed, err)
		}
		if err := o.snapshot(ctx, r); err != nil {
			return r.finish(archtypes.OutcomeFailed, err)
		}
	}

	o.finalize(ctx, r, w.all)
	return r.finish(archtypes.OutcomeDone, nil)
}

func (o *Orchestrator) transfer(ctx context.Context, r *run, pairs []archtypes.Pair) *transfer.Result {
	r.phase(archtypes.PhaseTransfer, ledger.PhaseStarted, fmt.Sprintf("%d pairs", len(pairs)))
	eng := transfer.New(o.stores,
		transfer.WithWorkers(o.cfg.Workers),
		transfer.WithLogger(o.logger),
		transfer.WithProgress(func(c archtypes.TransferCounts) {
			o.line.Update("transfer: %s", c)
		}),
		transfer.WithRecorder(func(p archtypes.Pair, out transfer.Outcome) {
			r.item(ledger.Item{
				Phase:   archtypes.PhaseTransfer,
				Subject: p.Source,
				Target:  p.Destination,
				Status:  string(out.Status),
				Code:    string(arkerrors.Classify(out.Err)),
				Detail:  errString(out.Err),
			})
		}))
	res := eng.Run(ctx, pairs)
	o.line.Done()

	r.report.Transfer = res.Counts
	o.logger.Info("transfer complete", "counts", res.Counts.String(), "copies", res.Copies,
		"duration", res.Duration)
	return res
}

// transferGate fails when any transfer errored. Missing sources are
// recorded in the missing map and do not stop the run.
func (o *Orchestrator) transferGate(r *run, res *transfer.Result, w work) error {
	missing := mergePairs(w.missing, res.Missing)
	problems := artifacts.MigrationProblems
	if w.sweep {
		problems = artifacts.MiscFileProblems
	}

	if res.Counts.Error > 0 {
		failed := make([]archtypes.Pair, 0, len(res.Errors))
		for _, f := range res.Errors {
			failed = append(failed, f.Pair)
		}
		if err := o.arts.Write(problems, artifacts.NewProblems(missing, failed)); err != nil {
			return err
		}
		r.report.ProblemFile = o.arts.Path(problems)
		r.phase(archtypes.PhaseTransfer, ledger.PhaseAborted, res.Counts.String())
		return arkerrors.NewError("transfer",
			fmt.Errorf("%w: %d of %d transfers errored", arkerrors.ErrTransferGate, res.Counts.Error, res.Counts.Total))
	}

	if err := o.arts.Remove(problems); err != nil {
		o.logger.Warn("could not remove stale problem report", "error", err)
	}
	if !w.sweep {
		if err := o.arts.SaveMissing(missing); err != nil {
			return err
		}
	}
	if len(missing) > 0 {
		o.logger.Warn("sources missing; recorded for review", "missing", len(missing),
			"file", o.arts.Path(artifacts.MissingMap))
	}
	r.phase(archtypes.PhaseTransfer, ledger.PhaseFinished, res.Counts.String())
	return nil
}

func (o *Orchestrator) update(ctx context.Context, r *run, entities planner.EntityUpdates, attrs planner.AttributeUpdates) (*updater.Result, error) {
	r.phase(archtypes.PhaseUpdate, ledger.PhaseStarted, fmt.Sprintf("%d records", entities.Records()))
	u := updater.New(o.records,
		updater.WithWorkers(o.cfg.Workers),
		updater.WithRetries(o.cfg.EntityRetries, o.cfg.AttributeRetries),
		updater.WithRetryOptions(o.cfg.RetryOptions...),
		updater.WithLogger(o.logger),
		updater.WithRecorder(func(table, id string, err error) {
			status := "succeeded"
			if err != nil {
				status = "failed"
			}
			r.item(ledger.Item{
				Phase:   archtypes.PhaseUpdate,
				Subject: table + "/" + id,
				Status:  status,
				Code:    string(arkerrors.Classify(err)),
				Detail:  errString(err),
			})
		}))
	o.line.Update("update: %d records in %d tables", entities.Records(), len(entities))
	res, err := u.Run(ctx, entities, attrs)
	o.line.Done()
	r.report.AttributesUpdated = res.AttributesUpdated
	for table, c := range res.Tables {
		r.report.Updates[table] = c
	}
	if err != nil {
		r.phase(archtypes.PhaseUpdate, ledger.PhaseAborted, err.Error())
		return nil, err
	}
	return res, nil
}

// updateGate fails when any table's submitted and succeeded counts differ.
func (o *Orchestrator) updateGate(r *run, res *updater.Result) error {
	if !res.Concordant() {
		if err := o.arts.Write(artifacts.UpdateProblems, res.Failed); err != nil {
			return err
		}
		r.report.ProblemFile = o.arts.Path(artifacts.UpdateProblems)
		failed := 0
		for _, ids := range res.Failed {
			failed += len(ids)
		}
		r.phase(archtypes.PhaseUpdate, ledger.PhaseAborted, fmt.Sprintf("%d records failed", failed))
		return arkerrors.NewError("update",
			fmt.Errorf("%w: %d records in %d tables failed", arkerrors.ErrUpdateGate, failed, len(res.Failed)))
	}
	if err := o.arts.Remove(artifacts.UpdateProblems); err != nil {
		o.logger.Warn("could not remove stale problem report", "error", err)
	}
	r.phase(archtypes.PhaseUpdate, ledger.PhaseFinished, "")
	return nil
}

// snapshot archives the workspace metadata and the plan copies.
func (o *Orchestrator) snapshot(ctx context.Context, r *run) error {
	r.phase(archtypes.PhaseSnapshot, ledger.PhaseStarted, "")
	store, err := o.stores(ctx)
	if err != nil {
		return arkerrors.NewError("snapshot", err).WithMessage("connect to object store")
	}
	rs, err := o.records(ctx)
	if err != nil {
		return arkerrors.NewError("snapshot", err).WithMessage("connect to record store")
	}

	var extra []snapshot.File
	for _, name := range []string{artifacts.FileMap, artifacts.MissingMap} {
		if !o.arts.Exists(name) {
			continue
		}
		data, err := o.arts.ReadRaw(name)
		if err != nil {
			return err
		}
		extra = append(extra, snapshot.File{Name: name, ContentType: "application/json", Data: data})
	}

	m, err := snapshot.New(store, o.cfg.Archive, o.cfg.Workspace, o.logger).Run(ctx, rs, extra)
	if err != nil {
		r.phase(archtypes.PhaseSnapshot, ledger.PhaseAborted, err.Error())
		return err
	}
	for _, obj := range m.Objects {
		r.report.Snapshot = append(r.report.Snapshot, obj.URI)
	}
	r.phase(archtypes.PhaseSnapshot, ledger.PhaseFinished, fmt.Sprintf("%d objects", len(m.Objects)))
	return nil
}

type finalizeReport struct {
	Counts  archtypes.FinalizeCounts `json:"counts"`
	Skipped []finalize.Entry         `json:"skipped"`
	Errors  []finalize.Entry         `json:"errors"`
}

// finalize deletes confirmed sources. Its report is informational.
func (o *Orchestrator) finalize(ctx context.Context, r *run, pairs []archtypes.Pair) {
	r.phase(archtypes.PhaseFinalize, ledger.PhaseStarted, fmt.Sprintf("%d pairs", len(pairs)))
	f := finalize.New(o.stores,
		finalize.WithWorkers(o.cfg.Workers),
		finalize.WithLogger(o.logger),
		finalize.WithRecorder(func(p archtypes.Pair, out finalize.Outcome) {
			detail := out.Reason
			if out.Err != nil {
				detail = out.Err.Error()
			}
			r.item(ledger.Item{
				Phase:   archtypes.PhaseFinalize,
				Subject: p.Source,
				Target:  p.Destination,
				Status:  string(out.Decision),
				Code:    string(arkerrors.Classify(out.Err)),
				Detail:  detail,
			})
		}))
	o.line.Update("finalize: %d sources", len(pairs))
	res := f.Run(ctx, pairs)
	o.line.Done()

	r.report.Finalize = res.Counts
	rep := finalizeReport{Counts: res.Counts, Skipped: res.Skipped, Errors: res.Errors}
	if err := o.arts.Write(artifacts.FinalizeReport, rep); err != nil {
		o.logger.Warn("could not write finalize report", "error", err)
	}
	r.phase(archtypes.PhaseFinalize, ledger.PhaseFinished,
		fmt.Sprintf("%d deleted, %d skipped, %d error", res.Counts.Deleted, res.Counts.Skipped, res.Counts.Error))
}

// mergePairs returns the union of both lists keyed by source, sorted.
func mergePairs(a, b []archtypes.Pair) []archtypes.Pair {
	seen := make(map[string]archtypes.Pair, len(a)+len(b))
	for _, p := range a {
		seen[p.Source] = p
	}
	for _, p := range b {
		seen[p.Source] = p
	}
	out := make([]archtypes.Pair, 0, len(seen))
	for _, p := range seen {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}
