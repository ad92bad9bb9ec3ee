// Package ledger records runs, phase transitions and per-item outcomes in a
// local SQLite database. Writers from every worker pool go through one
// process-wide lock.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/archtypes"
)

// FileName is the ledger database file inside the state directory.
const FileName = "ledger.db"

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	workspace   TEXT NOT NULL,
	mode        TEXT NOT NULL,
	started_at  TIMESTAMP NOT NULL,
	finished_at TIMESTAMP,
	outcome     TEXT
);
CREATE TABLE IF NOT EXISTS phases (
	run_id     TEXT NOT NULL REFERENCES runs(id),
	phase      TEXT NOT NULL,
	state      TEXT NOT NULL,
	detail     TEXT,
	at         TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS items (
	run_id  TEXT NOT NULL REFERENCES runs(id),
	phase   TEXT NOT NULL,
	subject TEXT NOT NULL,
	target  TEXT,
	status  TEXT NOT NULL,
	code    TEXT,
	detail  TEXT,
	at      TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS items_run ON items(run_id, phase, status);
`

// Phase transition states.
const (
	PhaseStarted  = "started"
	PhaseFinished = "finished"
	PhaseAborted  = "aborted"
)

// Item is one per-item outcome.
type Item struct {
	Phase   archtypes.Phase
	Subject string // source URI or table/record
	Target  string // destination URI, if any
	Status  string
	Code    string
	Detail  string
}

// Run is a summary row of the runs table.
type Run struct {
	ID         string
	Workspace  string
	Mode       archtypes.Mode
	StartedAt  time.Time
	FinishedAt *time.Time
	Outcome    string
	Items      int
}

// Ledger is the run ledger.
type Ledger struct {
	mu  sync.Mutex
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the ledger at path. ":memory:" opens a private
// in-memory ledger.
func Open(path string) (*Ledger, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("ledger: create directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("ledger: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ledger: initialize %s: %w", path, err)
	}
	return &Ledger{db: db, now: time.Now}, nil
}

// Close closes the database.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.db.Close()
}

// BeginRun records a new run and returns its id.
func (l *Ledger) BeginRun(ctx context.Context, workspace string, mode archtypes.Mode) (string, error) {
	id := uuid.NewString()
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO runs (id, workspace, mode, started_at) VALUES (?, ?, ?, ?)`,
		id, workspace, string(mode), l.now().UTC())
	if err != nil {
		return "", fmt.Errorf("ledger: begin run: %w", err)
	}
	return id, nil
}

// RecordPhase records a phase transition.
func (l *Ledger) RecordPhase(ctx context.Context, runID string, phase archtypes.Phase, state, detail string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO phases (run_id, phase, state, detail, at) VALUES (?, ?, ?, ?, ?)`,
		runID, string(phase), state, detail, l.now().UTC())
	if err != nil {
		return fmt.Errorf("ledger: record phase: %w", err)
	}
	return nil
}

// RecordItem records one per-item outcome. Safe for concurrent use.
func (l *Ledger) RecordItem(ctx context.Context, runID string, it Item) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO items (run_id, phase, subject, target, status, code, detail, at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, string(it.Phase), it.Subject, it.Target, it.Status, it.Code, it.Detail, l.now().UTC())
	if err != nil {
		return fmt.Errorf("ledger: record item: %w", err)
	}
	return nil
}

// FinishRun records a run's terminal outcome.
func (l *Ledger) FinishRun(ctx context.Context, runID string, outcome archtypes.Outcome) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, outcome = ? WHERE id = ?`,
		l.now().UTC(), string(outcome), runID)
	if err != nil {
		return fmt.Errorf("ledger: finish run: %w", err)
	}
	return nil
}

// ItemCounts returns per-status item counts of one run phase.
func (l *Ledger) ItemCounts(ctx context.Context, runID string, phase archtypes.Phase) (map[string]int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rows, err := l.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM items WHERE run_id = ? AND phase = ? GROUP BY status`,
		runID, string(phase))
	if err != nil {
		return nil, fmt.Errorf("ledger: item counts: %w", err)
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("ledger: item counts: %w", err)
		}
		out[status] = n
	}
	return out, rows.Err()
}

// RecentRuns returns up to limit runs, newest first. An empty workspace
// matches every workspace.
func (l *Ledger) RecentRuns(ctx context.Context, workspace string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	rows, err := l.db.QueryContext(ctx, `
		SELECT r.id, r.workspace, r.mode, r.started_at, r.finished_at, COALESCE(r.outcome, ''),
			(SELECT COUNT(*) FROM items i WHERE i.run_id = r.id)
		FROM runs r
		WHERE ? = '' OR r.workspace = ?
		ORDER BY r.started_at DESC, r.rowid DESC
		LIMIT ?`, workspace, workspace, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: recent runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var mode string
		var finished sql.NullTime
		if err := rows.Scan(&r.ID, &r.Workspace, &mode, &r.StartedAt, &finished, &r.Outcome, &r.Items); err != nil {
			return nil, fmt.Errorf("ledger: recent runs: %w", err)
		}
		r.Mode = archtypes.Mode(mode)
		if finished.Valid {
			t := finished.Time
			r.FinishedAt = &t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
