package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/davrin/sprintd/internal/backlog"
	"github.com/davrin/sprintd/internal/storage"
)

// Filter narrows task listings.
type Filter struct {
	ProjectID string
	SprintID  string
	Status    Status
}

// Store defines the persistence interface for tasks.
type Store interface {
	Create(ctx context.Context, t *Task) error
	Get(ctx context.Context, id string) (*Task, error)
	List(ctx context.Context, filter Filter) ([]*Task, error)
	Update(ctx context.Context, t *Task) error
	QueuedProjects(ctx context.Context) ([]string, error)
}

// SQLStore persists tasks in the shared SQLite store.
type SQLStore struct {
	db *storage.DB
}

// NewSQLStore creates a task store over db.
func NewSQLStore(db *storage.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Create inserts a new task, assigning an id if missing.
func (s *SQLStore) Create(ctx context.Context, t *Task) error {
	if t.ID == "" {
		t.ID = GenerateTaskID()
	}
	if t.Status == "" {
		t.Status = StatusQueued
	}
	if t.Priority == "" {
		t.Priority = backlog.PriorityMedium
	}
	if t.Autonomy == "" {
		t.Autonomy = AutonomyAuto
	}
	t.CreatedAt = time.Now()

	deps, err := json.Marshal(t.DependsOn)
	if err != nil {
		return fmt.Errorf("marshal dependencies: %w", err)
	}

	return s.db.WriteLocked(ctx, func(ctx context.Context) error {
		_, err := s.db.Handle().ExecContext(ctx,
			`INSERT INTO tasks
			 (id, project_id, sprint_id, title, description, priority, autonomy, status,
			  depends_on, retry_count, max_retries, result, error, approved_at, created_at, started_at, completed_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.ProjectID, t.SprintID, t.Title, t.Description, string(t.Priority),
			t.Autonomy, string(t.Status), string(deps), t.RetryCount, t.MaxRetries,
			t.Result, t.Error, t.ApprovedAt, t.CreatedAt, t.StartedAt, t.CompletedAt)
		if err != nil {
			return fmt.Errorf("insert task: %w", err)
		}
		return nil
	})
}

// Get returns a task by id, or nil when it does not exist.
func (s *SQLStore) Get(ctx context.Context, id string) (*Task, error) {
	row := s.db.Handle().QueryRowContext(ctx,
		`SELECT id, project_id, sprint_id, title, description, priority, autonomy, status,
		        depends_on, retry_count, max_retries, result, error, approved_at, created_at, started_at, completed_at
		 FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return t, err
}

// List returns tasks matching the filter, oldest first.
func (s *SQLStore) List(ctx context.Context, filter Filter) ([]*Task, error) {
	query := `SELECT id, project_id, sprint_id, title, description, priority, autonomy, status,
	                 depends_on, retry_count, max_retries, result, error, approved_at, created_at, started_at, completed_at
	          FROM tasks WHERE 1=1`
	var args []any
	if filter.ProjectID != "" {
		query += ` AND project_id = ?`
		args = append(args, filter.ProjectID)
	}
	if filter.SprintID != "" {
		query += ` AND sprint_id = ?`
		args = append(args, filter.SprintID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := s.db.Handle().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// Update rewrites a task's mutable fields.
func (s *SQLStore) Update(ctx context.Context, t *Task) error {
	deps, err := json.Marshal(t.DependsOn)
	if err != nil {
		return fmt.Errorf("marshal dependencies: %w", err)
	}

	return s.db.WriteLocked(ctx, func(ctx context.Context) error {
		_, err := s.db.Handle().ExecContext(ctx,
			`UPDATE tasks
			 SET status = ?, depends_on = ?, retry_count = ?, result = ?, error = ?,
			     approved_at = ?, started_at = ?, completed_at = ?
			 WHERE id = ?`,
			string(t.Status), string(deps), t.RetryCount, t.Result, t.Error,
			t.ApprovedAt, t.StartedAt, t.CompletedAt, t.ID)
		if err != nil {
			return fmt.Errorf("update task: %w", err)
		}
		return nil
	})
}

// QueuedProjects returns the distinct projects that currently have queued tasks.
func (s *SQLStore) QueuedProjects(ctx context.Context) ([]string, error) {
	rows, err := s.db.Handle().QueryContext(ctx,
		`SELECT DISTINCT project_id FROM tasks WHERE status = ? ORDER BY project_id`,
		string(StatusQueued))
	if err != nil {
		return nil, fmt.Errorf("list queued projects: %w", err)
	}
	defer rows.Close()

	var projects []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var t Task
	var priority, status, deps string
	err := row.Scan(&t.ID, &t.ProjectID, &t.SprintID, &t.Title, &t.Description,
		&priority, &t.Autonomy, &status, &deps, &t.RetryCount, &t.MaxRetries,
		&t.Result, &t.Error, &t.ApprovedAt, &t.CreatedAt, &t.StartedAt, &t.CompletedAt)
	if err != nil {
		return nil, err
	}
	t.Priority = backlog.Priority(priority)
	t.Status = Status(status)
	if err := json.Unmarshal([]byte(deps), &t.DependsOn); err != nil {
		return nil, fmt.Errorf("unmarshal dependencies: %w", err)
	}
	return &t, nil
}

func scanTasks(rows *sql.Rows) ([]*Task, error) {
	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}
