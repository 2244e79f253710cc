package planner

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/davrin/sprintd/internal/storage"
)

// Store defines the persistence interface for sprints.
type Store interface {
	Create(ctx context.Context, sp *Sprint) error
	Get(ctx context.Context, id string) (*Sprint, error)
	ActiveByProject(ctx context.Context, projectID string) (*Sprint, error)
	ActiveProjects(ctx context.Context) ([]string, error)
	ListByProject(ctx context.Context, projectID string) ([]*Sprint, error)
	Update(ctx context.Context, sp *Sprint) error
}

// SQLStore persists sprints in the shared SQLite store.
type SQLStore struct {
	db *storage.DB
}

// NewSQLStore creates a sprint store over db.
func NewSQLStore(db *storage.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Create inserts a new sprint, assigning an id if missing.
func (s *SQLStore) Create(ctx context.Context, sp *Sprint) error {
	if sp.ID == "" {
		sp.ID = GenerateSprintID()
	}
	if sp.Status == "" {
		sp.Status = SprintPlanning
	}
	sp.CreatedAt = time.Now()

	return s.db.WriteLocked(ctx, func(ctx context.Context) error {
		_, err := s.db.Handle().ExecContext(ctx,
			`INSERT INTO sprints
			 (id, project_id, name, goal, status, capacity_points, committed_points, start_date, end_date, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sp.ID, sp.ProjectID, sp.Name, sp.Goal, string(sp.Status),
			sp.CapacityPoints, sp.CommittedPoints, sp.StartDate, sp.EndDate, sp.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert sprint: %w", err)
		}
		return nil
	})
}

// Get returns a sprint by id, or nil when it does not exist.
func (s *SQLStore) Get(ctx context.Context, id string) (*Sprint, error) {
	row := s.db.Handle().QueryRowContext(ctx,
		`SELECT id, project_id, name, goal, status, capacity_points, committed_points, start_date, end_date, created_at
		 FROM sprints WHERE id = ?`, id)
	sp, err := scanSprint(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return sp, err
}

// ActiveByProject returns the most recent active sprint for a project, or nil.
func (s *SQLStore) ActiveByProject(ctx context.Context, projectID string) (*Sprint, error) {
	row := s.db.Handle().QueryRowContext(ctx,
		`SELECT id, project_id, name, goal, status, capacity_points, committed_points, start_date, end_date, created_at
		 FROM sprints WHERE project_id = ? AND status = ? ORDER BY created_at DESC LIMIT 1`,
		projectID, string(SprintActive))
	sp, err := scanSprint(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return sp, err
}

// ActiveProjects returns the distinct projects with an active sprint.
func (s *SQLStore) ActiveProjects(ctx context.Context) ([]string, error) {
	rows, err := s.db.Handle().QueryContext(ctx,
		`SELECT DISTINCT project_id FROM sprints WHERE status = ? ORDER BY project_id`,
		string(SprintActive))
	if err != nil {
		return nil, fmt.Errorf("list active projects: %w", err)
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

// ListByProject returns a project's sprints, newest first.
func (s *SQLStore) ListByProject(ctx context.Context, projectID string) ([]*Sprint, error) {
	rows, err := s.db.Handle().QueryContext(ctx,
		`SELECT id, project_id, name, goal, status, capacity_points, committed_points, start_date, end_date, created_at
		 FROM sprints WHERE project_id = ? ORDER BY created_at DESC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list sprints: %w", err)
	}
	defer rows.Close()

	var sprints []*Sprint
	for rows.Next() {
		sp, err := scanSprint(rows)
		if err != nil {
			return nil, err
		}
		sprints = append(sprints, sp)
	}
	return sprints, rows.Err()
}

// Update rewrites a sprint's mutable fields.
func (s *SQLStore) Update(ctx context.Context, sp *Sprint) error {
	return s.db.WriteLocked(ctx, func(ctx context.Context) error {
		_, err := s.db.Handle().ExecContext(ctx,
			`UPDATE sprints
			 SET name = ?, goal = ?, status = ?, committed_points = ?, end_date = ?
			 WHERE id = ?`,
			sp.Name, sp.Goal, string(sp.Status), sp.CommittedPoints, sp.EndDate, sp.ID)
		if err != nil {
			return fmt.Errorf("update sprint: %w", err)
		}
		return nil
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSprint(row rowScanner) (*Sprint, error) {
	var sp Sprint
	var status string
	err := row.Scan(&sp.ID, &sp.ProjectID, &sp.Name, &sp.Goal, &status,
		&sp.CapacityPoints, &sp.CommittedPoints, &sp.StartDate, &sp.EndDate, &sp.CreatedAt)
	if err != nil {
		return nil, err
	}
	sp.Status = SprintStatus(status)
	return &sp, nil
}
