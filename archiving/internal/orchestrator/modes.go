package orchestrator

import (
	"context"
	"fmt"

	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/archtypes"
	arkerrors "github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/errors"
	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/internal/artifacts"
	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/internal/ledger"
	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/internal/planner"
)

// Plan plans the workspace and persists the plan without touching storage
// or records.
func (o *Orchestrator) Plan(ctx context.Context) (*archtypes.PlanSummary, error) {
	r := o.begin(ctx, archtypes.ModePlanOnly)
	if _, err := o.plan(ctx, r); err != nil {
		_, err = r.finish(archtypes.OutcomeFailed, err)
		return nil, err
	}
	rep, _ := r.finish(archtypes.OutcomePlanned, nil)
	return &rep.Plan, nil
}

// Migrate runs the full pipeline. A gate failure returns the report with an
// error wrapping ErrTransferGate or ErrUpdateGate.
func (o *Orchestrator) Migrate(ctx context.Context) (*archtypes.Report, error) {
	r := o.begin(ctx, archtypes.ModeMigrate)
	res, err := o.plan(ctx, r)
	if err != nil {
		return r.finish(archtypes.OutcomeFailed, err)
	}
	pairs := res.Refs.Pairs()
	return o.execute(ctx, r, work{
		transfer:   pairs,
		all:        pairs,
		entities:   res.Entities,
		attributes: res.Attributes,
	})
}

// Reattempt reloads the persisted plan and transfers only the pairs the last
// problem report lists as errored, then continues through the normal gates.
func (o *Orchestrator) Reattempt(ctx context.Context) (*archtypes.Report, error) {
	r := o.begin(ctx, archtypes.ModeReattempt)
	if err := o.arts.CheckCompatible(); err != nil {
		return r.finish(archtypes.OutcomeFailed, err)
	}
	changed, err := o.arts.Verify()
	if err != nil {
		return r.finish(archtypes.OutcomeFailed, err)
	}
	if len(changed) > 0 {
		o.logger.Warn("plan artifacts edited since they were written", "files", changed, "dir", o.arts.Dir())
	}
	plan, err := o.arts.LoadPlan()
	if err != nil {
		return r.finish(archtypes.OutcomeFailed, err)
	}
	problems, err := o.arts.LoadProblems(artifacts.MigrationProblems)
	if err != nil {
		return r.finish(archtypes.OutcomeFailed, err)
	}
	known, err := o.arts.LoadReferenceMap(artifacts.MissingMap)
	if err != nil {
		return r.finish(archtypes.OutcomeFailed, err)
	}

	refs := planner.LoadReferenceMap(plan.Refs)
	r.report.Plan = archtypes.PlanSummary{
		References:       refs.Len(),
		EntityUpdates:    plan.Entities.Records(),
		AttributeUpdates: len(plan.Attributes),
		Dir:              o.arts.Dir(),
	}
	failed := problems.ErrorPairs()
	o.logger.Info("reattempting failed transfers", "pairs", len(failed), "problems", o.arts.Path(artifacts.MigrationProblems))

	return o.execute(ctx, r, work{
		transfer:   failed,
		all:        refs.Pairs(),
		entities:   plan.Entities,
		attributes: plan.Attributes,
		missing:    mergePairs(known.Pairs(), problems.MissingPairs()),
	})
}

// Sweep moves every object under the source container, optionally limited to
// prefix, into the workspace's misc_files directory. Keys matching any of
// excludes are left in place. Records are not touched.
func (o *Orchestrator) Sweep(ctx context.Context, prefix string, excludes []string) (*archtypes.Report, error) {
	r := o.begin(ctx, archtypes.ModeSweep)
	res, err := o.planSweep(ctx, r, prefix, excludes)
	if err != nil {
		return r.finish(archtypes.OutcomeFailed, err)
	}
	pairs := res.Refs.Pairs()
	return o.execute(ctx, r, work{transfer: pairs, all: pairs, sweep: true})
}

func (o *Orchestrator) planSweep(ctx context.Context, r *run, prefix string, excludes []string) (*planner.SweepResult, error) {
	r.phase(archtypes.PhasePlan, ledger.PhaseStarted, prefix)
	res, err := func() (*planner.SweepResult, error) {
		if err := o.arts.CheckCompatible(); err != nil {
			return nil, err
		}
		patterns, err := planner.CompileExcludes(excludes)
		if err != nil {
			return nil, err
		}
		source := o.cfg.Source
		if source.Container == "" {
			rs, err := o.records(ctx)
			if err != nil {
				return nil, arkerrors.NewError("sweep", err).WithMessage("connect to record store")
			}
			if source, err = o.resolveSource(ctx, rs); err != nil {
				return nil, err
			}
		}
		store, err := o.stores(ctx)
		if err != nil {
			return nil, arkerrors.NewError("sweep", err).WithMessage("connect to object store")
		}
		refs, err := o.arts.LoadReferenceMap(artifacts.MiscFileMap)
		if err != nil {
			return nil, err
		}
		p := planner.New(source, o.cfg.Archive, o.cfg.Workspace,
			planner.WithReferenceMap(refs), planner.WithLogger(o.logger))
		return p.PlanSweep(ctx, store, prefix, patterns)
	}()
	if err != nil {
		r.phase(archtypes.PhasePlan, ledger.PhaseAborted, err.Error())
		return nil, err
	}
	r.phase(archtypes.PhasePlan, ledger.PhaseFinished, fmt.Sprintf("%d references", res.Refs.Len()))

	r.phase(archtypes.PhasePersistPlan, ledger.PhaseStarted, "")
	filtered := res.Filtered
	if filtered == nil {
		filtered = []string{}
	}
	if err := o.arts.Write(artifacts.MiscFileMap, res.Refs); err != nil {
		return nil, err
	}
	if err := o.arts.Write(artifacts.MiscFileFiltered, filtered); err != nil {
		return nil, err
	}
	summary := res.Summary()
	summary.Dir = o.arts.Dir()
	r.report.Plan = summary
	r.phase(archtypes.PhasePersistPlan, ledger.PhaseFinished, o.arts.Dir())
	return res, nil
}
