// Package database provides the shared SQLite connection used by the job
// index (internal/jobstore) and the worktree store (internal/worktree).
// The fleet's durable record of truth is the file-based job log and
// session/conversation-key stores (§6.1); this connection only backs the
// queryable secondary indexes built on top of them.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/ikido/fleetctl/internal/common/config"
)

// DB wraps a sqlx.DB configured for SQLite's single-writer model.
type DB struct {
	conn *sqlx.DB
}

// NewDB opens (and creates, if absent) the SQLite database at cfg.Path,
// enabling WAL mode and a busy timeout so concurrent readers don't
// collide with the job executor's writes.
func NewDB(ctx context.Context, cfg config.DatabaseConfig) (*DB, error) {
	conn, err := sqlx.Open("sqlite3", cfg.DSN()+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite job index: %w", err)
	}

	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 5
	}
	conn.SetMaxOpenConns(maxConns)
	conn.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping sqlite job index: %w", err)
	}

	return &DB{conn: conn}, nil
}

// Conn returns the underlying sqlx.DB, shared by every component that
// needs a SQLite-backed index (job index, worktree store).
func (db *DB) Conn() *sqlx.DB {
	return db.conn
}

// Close closes the connection.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}
	return db.conn.Close()
}

// Ping verifies the database connection is still alive.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}
