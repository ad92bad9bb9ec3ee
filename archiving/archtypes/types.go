// Package archtypes provides shared type definitions for the archiving module.
package archtypes

import (
	"fmt"
	"time"
)

// Mode selects which pipeline a Migrator run executes.
type Mode string

// Supported run modes
const (
	// ModeMigrate plans, transfers, updates, snapshots and finalizes a workspace
	ModeMigrate Mode = "migrate"

	// ModeReattempt re-runs the transfer for the errored subset of a persisted plan
	ModeReattempt Mode = "reattempt"

	// ModeSweep moves every object under the source container into misc_files
	ModeSweep Mode = "sweep"

	// ModePlanOnly plans and persists without touching storage or records
	ModePlanOnly Mode = "plan"
)

// Phase names one step of the orchestrator state machine.
type Phase string

// Orchestrator phases in execution order
const (
	PhasePlan        Phase = "plan"
	PhasePersistPlan Phase = "persist-plan"
	PhaseTransfer    Phase = "transfer"
	PhaseUpdate      Phase = "update"
	PhaseSnapshot    Phase = "snapshot"
	PhaseFinalize    Phase = "finalize"
)

// Outcome is the terminal state of a run.
type Outcome string

// Terminal states
const (
	// OutcomeDone means every phase completed
	OutcomeDone Outcome = "done"

	// OutcomePlanned means a plan-only run persisted its plan
	OutcomePlanned Outcome = "planned"

	// OutcomeAbortedAtTransfer means gate 1 failed; sources are intact
	OutcomeAbortedAtTransfer Outcome = "aborted-at-transfer"

	// OutcomeAbortedAtUpdate means gate 2 failed; sources are intact
	OutcomeAbortedAtUpdate Outcome = "aborted-at-update"

	// OutcomeFailed means the run stopped on a fatal error outside the gates
	OutcomeFailed Outcome = "failed"
)

// TransferStatus is the terminal status of one source object.
type TransferStatus string

// Transfer statuses
const (
	// StatusCopied means a full server-side copy completed
	StatusCopied TransferStatus = "copied"

	// StatusDuplicate means the destination already held an object of the same size
	StatusDuplicate TransferStatus = "duplicate"

	// StatusMissing means the source object does not exist
	StatusMissing TransferStatus = "missing"

	// StatusError means the check or copy failed
	StatusError TransferStatus = "error"
)

// TransferCounts aggregates transfer statuses.
// Total always equals Copied + Duplicate + Missing + Error.
type TransferCounts struct {
	Total     int `json:"total"`
	Copied    int `json:"copied"`
	Duplicate int `json:"duplicate"`
	Missing   int `json:"missing"`
	Error     int `json:"error"`
}

// Add counts one item with the given status.
func (c *TransferCounts) Add(status TransferStatus) {
	c.Total++
	switch status {
	case StatusCopied:
		c.Copied++
	case StatusDuplicate:
		c.Duplicate++
	case StatusMissing:
		c.Missing++
	default:
		c.Error++
	}
}

// Conserved reports whether every counted item landed in exactly one bucket.
func (c TransferCounts) Conserved() bool {
	return c.Total == c.Copied+c.Duplicate+c.Missing+c.Error
}

// String renders the counts the way the progress line shows them.
func (c TransferCounts) String() string {
	return fmt.Sprintf("%d(total) = %d(copied) + %d(duplicate) + %d(missing) + %d(error)",
		c.Total, c.Copied, c.Duplicate, c.Missing, c.Error)
}

// UpdateCounts aggregates record updates for one table.
type UpdateCounts struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Concordant reports whether every submitted record update succeeded.
func (c UpdateCounts) Concordant() bool {
	return c.Total == c.Succeeded && c.Failed == 0
}

// FinalizeCounts aggregates source deletions.
type FinalizeCounts struct {
	Total   int `json:"total"`
	Deleted int `json:"deleted"`
	Skipped int `json:"skipped"`
	Error   int `json:"error"`
}

// Pair is one planned move of a source object to its destination.
type Pair struct {
	Source      string
	Destination string
}

// PlanSummary describes a persisted plan.
type PlanSummary struct {
	// References is the number of entries in the reference map
	References int

	// NewReferences is how many of them this run added
	NewReferences int

	// EntityUpdates is the number of records with pending rewrites
	EntityUpdates int

	// AttributeUpdates is the number of workspace attributes with pending rewrites
	AttributeUpdates int

	// Errors holds local planning errors; the scan continued past each one
	Errors []error

	// Filtered lists keys a sweep skipped because they matched an exclusion
	Filtered []string

	// Dir is where the plan artifacts were written
	Dir string
}

// Report is the result of a migrate, reattempt or sweep run.
type Report struct {
	RunID    string
	Mode     Mode
	Outcome  Outcome
	Plan     PlanSummary
	Transfer TransferCounts
	Updates  map[string]UpdateCounts
	Finalize FinalizeCounts

	// AttributesUpdated is true when the workspace attribute batch was applied
	AttributesUpdated bool

	// ProblemFile names the persisted problem report that explains an abort
	ProblemFile string

	// Snapshot lists the archive objects written by the snapshot phase
	Snapshot []string

	Duration time.Duration
}

// RunSummary describes one recorded run.
type RunSummary struct {
	ID         string
	Workspace  string
	Mode       Mode
	StartedAt  time.Time
	FinishedAt *time.Time
	Outcome    Outcome
	Items      int
	// Transfers counts the run's transfer items by status
	Transfers map[string]int
}
