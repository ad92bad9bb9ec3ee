package main

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/archtypes"
)

var (
	doneStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#98C379"))
	abortedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#E06C75"))
)

func printReport(w io.Writer, rep *archtypes.Report) {
	style := abortedStyle
	if rep.Outcome == archtypes.OutcomeDone || rep.Outcome == archtypes.OutcomePlanned {
		style = doneStyle
	}
	fmt.Fprintf(w, "%s %s run %s in %s\n",
		style.Render(string(rep.Outcome)), rep.Mode, rep.RunID, rep.Duration.Round(time.Millisecond))

	t := rep.Transfer
	if t.Total > 0 {
		fmt.Fprintf(w, "  transfer: %d total, %d copied, %d duplicate, %d missing, %d error\n",
			t.Total, t.Copied, t.Duplicate, t.Missing, t.Error)
	}

	tables := make([]string, 0, len(rep.Updates))
	for name := range rep.Updates {
		tables = append(tables, name)
	}
	sort.Strings(tables)
	for _, name := range tables {
		c := rep.Updates[name]
		fmt.Fprintf(w, "  update %s: %d of %d succeeded\n", name, c.Succeeded, c.Total)
	}
	if rep.AttributesUpdated {
		fmt.Fprintln(w, "  workspace attributes updated")
	}

	if f := rep.Finalize; f.Total > 0 {
		fmt.Fprintf(w, "  finalize: %d deleted, %d skipped, %d error\n", f.Deleted, f.Skipped, f.Error)
	}
	if len(rep.Snapshot) > 0 {
		fmt.Fprintf(w, "  snapshot: %d objects archived\n", len(rep.Snapshot))
	}
}
