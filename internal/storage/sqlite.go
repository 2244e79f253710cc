// Package storage provides the shared SQLite-backed durable store.
//
// All writes go through a single-writer discipline: WriteLocked acquires the
// store's write lock, runs the mutation, and retries with backoff when SQLite
// reports the database busy or locked. Readers go straight to the pool.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// ErrPersistence is returned when a write failed after exhausting retries.
var ErrPersistence = errors.New("persistent store write failed")

// DB wraps the SQLite handle with the write-lock discipline.
type DB struct {
	db *sql.DB
	mu sync.Mutex // serializes writers in-process

	maxRetries int
}

const defaultMaxRetries = 5

// Open opens (creating if necessary) the sprintd database at path and runs
// schema migration.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &DB{db: db, maxRetries: defaultMaxRetries}
	if err := s.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Handle exposes the raw database handle for read queries.
func (s *DB) Handle() *sql.DB {
	return s.db
}

// Close closes the underlying database.
func (s *DB) Close() error {
	return s.db.Close()
}

// WriteLocked runs fn under the store write lock, retrying on SQLite
// busy/locked with exponential backoff and jitter. After maxRetries failed
// attempts the last error is wrapped in ErrPersistence.
func (s *DB) WriteLocked(ctx context.Context, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	const baseDelay = 50 * time.Millisecond
	const maxDelay = 500 * time.Millisecond

	var err error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !isBusy(err) {
			return err
		}
		if attempt == s.maxRetries {
			break
		}

		delay := baseDelay << uint(attempt)
		if delay > maxDelay {
			delay = maxDelay
		}
		// ±25% jitter
		jitter := time.Duration(rand.IntN(int(delay / 2)))
		delay = delay - delay/4 + jitter

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%w: %w", ErrPersistence, err)
}

// WriteTx runs fn inside a transaction under the write lock.
func (s *DB) WriteTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return s.WriteLocked(ctx, func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if err := fn(tx); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// isBusy reports whether err is a retryable SQLite busy/locked condition.
// String matching avoids depending on driver-specific error types.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "(5)") || // SQLITE_BUSY
		strings.Contains(msg, "(6)") // SQLITE_LOCKED
}

func (s *DB) initSchema(ctx context.Context) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS backlog_items (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			priority TEXT NOT NULL DEFAULT 'medium',
			story_points INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'planned',
			lane TEXT NOT NULL DEFAULT 'later',
			sprint_id TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_backlog_project ON backlog_items(project_id, status, lane);`,

		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			sprint_id TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			priority TEXT NOT NULL DEFAULT 'medium',
			autonomy TEXT NOT NULL DEFAULT 'auto',
			status TEXT NOT NULL DEFAULT 'queued',
			depends_on TEXT NOT NULL DEFAULT '[]',
			retry_count INTEGER NOT NULL DEFAULT 0,
			max_retries INTEGER NOT NULL DEFAULT 0,
			result TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			approved_at DATETIME,
			created_at DATETIME NOT NULL,
			started_at DATETIME,
			completed_at DATETIME
		);`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_project_status ON tasks(project_id, status);`,

		`CREATE TABLE IF NOT EXISTS sprints (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			name TEXT NOT NULL,
			goal TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'planning',
			capacity_points INTEGER NOT NULL DEFAULT 0,
			committed_points INTEGER NOT NULL DEFAULT 0,
			start_date DATETIME NOT NULL,
			end_date DATETIME NOT NULL,
			created_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sprints_project ON sprints(project_id, status);`,

		`CREATE TABLE IF NOT EXISTS patterns (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			item_type TEXT NOT NULL DEFAULT '',
			keywords TEXT NOT NULL DEFAULT '[]',
			corrected_text TEXT NOT NULL DEFAULT '',
			confidence REAL NOT NULL DEFAULT 0,
			usage_count INTEGER NOT NULL DEFAULT 0,
			success_count INTEGER NOT NULL DEFAULT 0,
			failure_count INTEGER NOT NULL DEFAULT 0,
			last_used_at DATETIME,
			created_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_patterns_project_kind ON patterns(project_id, kind);`,

		`CREATE TABLE IF NOT EXISTS memory_records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			project_id TEXT NOT NULL,
			agent_type TEXT NOT NULL DEFAULT '',
			kind TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			expires_at DATETIME
		);`,
		`CREATE INDEX IF NOT EXISTS idx_memory_session ON memory_records(session_id);`,
		`CREATE INDEX IF NOT EXISTS idx_memory_project ON memory_records(project_id, created_at);`,

		`CREATE TABLE IF NOT EXISTS event_log (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL DEFAULT '',
			type TEXT NOT NULL,
			source TEXT NOT NULL,
			payload TEXT NOT NULL DEFAULT '{}',
			created_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_event_log_project ON event_log(project_id, created_at);`,
	}

	for _, q := range schema {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}
