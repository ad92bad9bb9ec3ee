package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving"
	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/archtypes"
)

func rangeArgs(minArgs, maxArgs int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.RangeArgs(minArgs, maxArgs)(cmd, args); err != nil {
			return usageError{err}
		}
		return nil
	}
}

func (a *app) migrateCmd() *cobra.Command {
	var rf runFlags
	cmd := &cobra.Command{
		Use:   "migrate <namespace/workspace> [archive-container]",
		Short: "Plan, transfer, update, snapshot and finalize a workspace",
		Long: `Plan every reference in the workspace, copy the objects into the archive,
repoint the records and delete the sources.

The run stops before changing any record if a transfer errored, and before
deleting any source if a record update failed. Both failures leave a problem
report in the state directory and exit with status 1.`,
		Args: rangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.migrator(args, rf)
			if err != nil {
				return err
			}
			defer m.Close()

			rep, err := m.Migrate(cmd.Context())
			return a.finish(rep, err)
		},
	}
	rf.register(cmd)
	return cmd
}

func (a *app) reattemptCmd() *cobra.Command {
	var rf runFlags
	cmd := &cobra.Command{
		Use:   "reattempt <namespace/workspace> [archive-container]",
		Short: "Retry the transfers that errored in the last run, then continue",
		Args:  rangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.migrator(args, rf)
			if err != nil {
				return err
			}
			defer m.Close()

			rep, err := m.Reattempt(cmd.Context())
			return a.finish(rep, err)
		},
	}
	rf.register(cmd)
	return cmd
}

func (a *app) planCmd() *cobra.Command {
	var rf runFlags
	cmd := &cobra.Command{
		Use:   "plan <namespace/workspace> [archive-container]",
		Short: "Plan and persist a migration without touching storage or records",
		Args:  rangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.migrator(args, rf)
			if err != nil {
				return err
			}
			defer m.Close()

			sum, err := m.Plan(cmd.Context())
			if err != nil {
				return err
			}
			printPlan(cmd, sum, m.ArtifactDir())
			return nil
		},
	}
	rf.register(cmd)
	return cmd
}

func (a *app) sweepCmd() *cobra.Command {
	var (
		rf       runFlags
		prefix   string
		excludes []string
	)
	cmd := &cobra.Command{
		Use:   "sweep <namespace/workspace> [archive-container]",
		Short: "Move every remaining object in the source container into misc_files",
		Long: `Move every object under the source container, or under --prefix, into
<archive>/<workspace>/misc_files/. Keys matching any --exclude regular
expression are left in place and listed in misc_file_filtered.json.`,
		Args: rangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.migrator(args, rf)
			if err != nil {
				return err
			}
			defer m.Close()

			rep, err := m.Sweep(cmd.Context(), prefix, excludes)
			return a.finish(rep, err)
		},
	}
	rf.register(cmd)
	cmd.Flags().StringVar(&prefix, "prefix", "", "only sweep keys under this prefix")
	cmd.Flags().StringArrayVar(&excludes, "exclude", nil, "skip keys matching this regular expression (repeatable)")
	return cmd
}

func (a *app) statusCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "status [namespace/workspace]",
		Short: "List recent runs from the run ledger",
		Args:  rangeArgs(0, 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var workspace string
			if len(args) == 1 {
				t, err := parseTarget(args[0], a.file.Terra.Namespace)
				if err != nil {
					return err
				}
				workspace = t.workspace
			}
			runs, err := archiving.RecentRuns(cmd.Context(), a.resolvedStateDir(), workspace, limit)
			if err != nil {
				return err
			}
			printRuns(cmd, runs)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs to show")
	return cmd
}

// finish prints the report and keeps it for the failure diagnostic.
func (a *app) finish(rep *archtypes.Report, err error) error {
	a.report = rep
	if rep != nil {
		printReport(a.stdout, rep)
	}
	return err
}

func printPlan(cmd *cobra.Command, sum *archtypes.PlanSummary, dir string) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "references:        %d (%d new)\n", sum.References, sum.NewReferences)
	fmt.Fprintf(out, "record updates:    %d\n", sum.EntityUpdates)
	fmt.Fprintf(out, "attribute updates: %d\n", sum.AttributeUpdates)
	if len(sum.Errors) > 0 {
		fmt.Fprintf(out, "planning errors:   %d\n", len(sum.Errors))
	}
	fmt.Fprintf(out, "plan written to %s\n", dir)
}

func printRuns(cmd *cobra.Command, runs []archtypes.RunSummary) {
	out := cmd.OutOrStdout()
	if len(runs) == 0 {
		fmt.Fprintln(out, "no runs recorded")
		return
	}
	t := table.New().
		Border(lipgloss.HiddenBorder()).
		Headers("RUN", "WORKSPACE", "MODE", "STARTED", "DURATION", "OUTCOME", "ITEMS", "TRANSFERS")
	for _, r := range runs {
		dur, outcome := "-", string(r.Outcome)
		if r.FinishedAt != nil {
			dur = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		if outcome == "" {
			outcome = "running"
		}
		t.Row(r.ID, r.Workspace, string(r.Mode), r.StartedAt.Local().Format(time.DateTime),
			dur, outcome, strconv.Itoa(r.Items), statusCounts(r.Transfers))
	}
	fmt.Fprintln(out, t.String())
}

// statusCounts renders {"copied": 2, "error": 1} as "copied=2 error=1".
func statusCounts(counts map[string]int) string {
	if len(counts) == 0 {
		return "-"
	}
	statuses := make([]string, 0, len(counts))
	for s := range counts {
		statuses = append(statuses, s)
	}
	sort.Strings(statuses)
	parts := make([]string, len(statuses))
	for i, s := range statuses {
		parts[i] = s + "=" + strconv.Itoa(counts[s])
	}
	return strings.Join(parts, " ")
}
