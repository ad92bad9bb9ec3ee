package archiving

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/archtypes"
	arkerrors "github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/errors"
	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/internal/ledger"
	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/internal/progress"
)

// RecentRuns lists up to limit runs recorded in the ledger under stateDir,
// newest first. An empty workspace lists every workspace.
func RecentRuns(ctx context.Context, stateDir, workspace string, limit int) ([]archtypes.RunSummary, error) {
	l, err := ledger.Open(filepath.Join(stateDir, ledgerFile))
	if err != nil {
		return nil, err
	}
	defer l.Close()

	runs, err := l.RecentRuns(ctx, workspace, limit)
	if err != nil {
		return nil, err
	}
	out := make([]archtypes.RunSummary, 0, len(runs))
	for _, r := range runs {
		transfers, err := l.ItemCounts(ctx, r.ID, archtypes.PhaseTransfer)
		if err != nil {
			return nil, err
		}
		out = append(out, archtypes.RunSummary{
			ID:         r.ID,
			Workspace:  r.Workspace,
			Mode:       r.Mode,
			StartedAt:  r.StartedAt,
			FinishedAt: r.FinishedAt,
			Outcome:    archtypes.Outcome(r.Outcome),
			Items:      r.Items,
			Transfers:  transfers,
		})
	}
	return out, nil
}

// Diagnostic renders a failed run for a terminal. It returns "" for a nil
// error.
func Diagnostic(err error, rep *archtypes.Report) string {
	if err == nil {
		return ""
	}
	if rep == nil {
		rep = &archtypes.Report{}
	}

	switch {
	case errors.Is(err, arkerrors.ErrTransferGate):
		c := rep.Transfer
		return progress.Diagnostic("Transfer gate failed; no records were changed and no sources were deleted",
			[]string{
				fmt.Sprintf("%d of %d transfers errored", c.Error, c.Total),
				fmt.Sprintf("copied %d, duplicate %d, missing %d", c.Copied, c.Duplicate, c.Missing),
				"fix the cause and run reattempt",
			}, rep.ProblemFile)

	case errors.Is(err, arkerrors.ErrUpdateGate):
		tables := make([]string, 0, len(rep.Updates))
		for t := range rep.Updates {
			tables = append(tables, t)
		}
		sort.Strings(tables)
		var details []string
		for _, t := range tables {
			if c := rep.Updates[t]; !c.Concordant() {
				details = append(details, fmt.Sprintf("%s: %d of %d updates failed", t, c.Failed, c.Total))
			}
		}
		details = append(details, "objects are archived; sources were not deleted")
		return progress.Diagnostic("Update gate failed", details, rep.ProblemFile)

	case errors.Is(err, arkerrors.ErrNoProblems):
		return progress.Diagnostic("Nothing to reattempt",
			[]string{"no problem report from a failed transfer exists for this workspace"}, "")

	case errors.Is(err, arkerrors.ErrIncompatibleArtifact), errors.Is(err, arkerrors.ErrArtifactSchema):
		return progress.Diagnostic("Stored plan is unreadable",
			[]string{err.Error(), "run migrate to plan again"}, "")
	}

	return progress.Diagnostic("Run failed", []string{err.Error()}, "")
}
