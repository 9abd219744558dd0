package jobstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ikido/fleetctl/pkg/api"
)

// Index is a queryable SQLite mirror of the job record store, used by
// "list jobs" / "status" operations so callers don't have to scan every
// file under jobs/. The append-only job record and output log (§6.1)
// remain the source of truth; Index rows are rebuilt freely from them.
type Index struct {
	db *sqlx.DB
}

// NewIndex creates the jobs table if absent and returns an Index bound to
// db. db is shared with internal/worktree's SQLite store.
func NewIndex(db *sqlx.DB) (*Index, error) {
	const schema = `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		agent_name TEXT NOT NULL,
		schedule_name TEXT,
		trigger_source TEXT NOT NULL,
		status TEXT NOT NULL,
		session_id TEXT,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP,
		handoff_count INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_agent_name ON jobs(agent_name);
	CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
	`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("create jobs index schema: %w", err)
	}
	return &Index{db: db}, nil
}

// Upsert writes job's current queryable fields, called after every
// Create/UpdateStatus against the Store.
func (idx *Index) Upsert(ctx context.Context, job api.Job) error {
	_, err := idx.db.ExecContext(ctx, idx.db.Rebind(`
		INSERT INTO jobs (id, agent_name, schedule_name, trigger_source, status, session_id, started_at, finished_at, handoff_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			session_id = excluded.session_id,
			finished_at = excluded.finished_at,
			handoff_count = excluded.handoff_count
	`), job.ID, job.AgentName, job.ScheduleName, job.TriggerSource, job.Status, job.SessionID,
		job.StartedAt, job.FinishedAt, job.Tokens.HandoffCount)
	return err
}

// JobSummary is one row of a List query: enough to render a job listing
// without reading every job's full record from disk.
type JobSummary struct {
	ID            string     `db:"id"`
	AgentName     string     `db:"agent_name"`
	ScheduleName  string     `db:"schedule_name"`
	TriggerSource string     `db:"trigger_source"`
	Status        string     `db:"status"`
	SessionID     string     `db:"session_id"`
	StartedAt     time.Time  `db:"started_at"`
	FinishedAt    *time.Time `db:"finished_at"`
	HandoffCount  int        `db:"handoff_count"`
}

// ListOptions narrows a List query.
type ListOptions struct {
	AgentName string
	Status    string
	Limit     int
}

// List returns job summaries newest-first, optionally filtered by agent
// and/or status.
func (idx *Index) List(ctx context.Context, opts ListOptions) ([]JobSummary, error) {
	query := "SELECT id, agent_name, schedule_name, trigger_source, status, session_id, started_at, finished_at, handoff_count FROM jobs WHERE 1=1"
	var args []any
	if opts.AgentName != "" {
		query += " AND agent_name = ?"
		args = append(args, opts.AgentName)
	}
	if opts.Status != "" {
		query += " AND status = ?"
		args = append(args, opts.Status)
	}
	query += " ORDER BY started_at DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	var rows []JobSummary
	if err := idx.db.SelectContext(ctx, &rows, idx.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("query job index: %w", err)
	}
	return rows, nil
}

// NonTerminalJobIDs returns the ids of jobs still pending or running, used
// by startup worktree reconciliation to tell a job still in flight apart
// from one that finished (or never reached the index) before the
// restart — api.JobPending and api.JobRunning are the only two statuses
// that haven't reached one of api.JobCompleted/JobFailed/JobCancelled/
// JobTimedOut.
func (idx *Index) NonTerminalJobIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := idx.db.SelectContext(ctx, &ids, idx.db.Rebind(
		`SELECT id FROM jobs WHERE status IN (?, ?)`),
		string(api.JobPending), string(api.JobRunning))
	if err != nil {
		return nil, fmt.Errorf("query non-terminal job ids: %w", err)
	}
	return ids, nil
}
