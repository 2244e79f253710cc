package backlog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/davrin/sprintd/internal/storage"
)

// Store defines the persistence interface for backlog items.
// The planner only reads; mutation happens through item workflows.
type Store interface {
	Create(ctx context.Context, item *Item) error
	Get(ctx context.Context, id string) (*Item, error)
	ListCandidates(ctx context.Context, projectID string, filter Filter) ([]*Item, error)
	ListBySprint(ctx context.Context, sprintID string) ([]*Item, error)
	Update(ctx context.Context, item *Item) error
}

// SQLStore persists backlog items in the shared SQLite store.
type SQLStore struct {
	db *storage.DB
}

// NewSQLStore creates a backlog store over db.
func NewSQLStore(db *storage.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Create inserts a new item, assigning an id if missing.
func (s *SQLStore) Create(ctx context.Context, item *Item) error {
	if item.ID == "" {
		item.ID = GenerateItemID()
	}
	if item.Status == "" {
		item.Status = ItemPlanned
	}
	if item.Lane == "" {
		item.Lane = LaneLater
	}
	if item.Priority == "" {
		item.Priority = PriorityMedium
	}
	now := time.Now()
	item.CreatedAt = now
	item.UpdatedAt = now

	return s.db.WriteLocked(ctx, func(ctx context.Context) error {
		_, err := s.db.Handle().ExecContext(ctx,
			`INSERT INTO backlog_items
			 (id, project_id, title, description, priority, story_points, status, lane, sprint_id, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			item.ID, item.ProjectID, item.Title, item.Description, string(item.Priority),
			item.StoryPoints, string(item.Status), string(item.Lane), item.SprintID,
			item.CreatedAt, item.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert backlog item: %w", err)
		}
		return nil
	})
}

// Get returns an item by id, or nil when it does not exist.
func (s *SQLStore) Get(ctx context.Context, id string) (*Item, error) {
	row := s.db.Handle().QueryRowContext(ctx,
		`SELECT id, project_id, title, description, priority, story_points, status, lane, sprint_id, created_at, updated_at
		 FROM backlog_items WHERE id = ?`, id)
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return item, err
}

// ListCandidates returns items for a project matching the filter, oldest first.
func (s *SQLStore) ListCandidates(ctx context.Context, projectID string, filter Filter) ([]*Item, error) {
	query := `SELECT id, project_id, title, description, priority, story_points, status, lane, sprint_id, created_at, updated_at
		 FROM backlog_items WHERE project_id = ?`
	args := []any{projectID}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Lane != "" {
		query += ` AND lane = ?`
		args = append(args, string(filter.Lane))
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.Handle().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list backlog items: %w", err)
	}
	defer rows.Close()
	return scanItems(rows)
}

// ListBySprint returns items committed to a sprint.
func (s *SQLStore) ListBySprint(ctx context.Context, sprintID string) ([]*Item, error) {
	rows, err := s.db.Handle().QueryContext(ctx,
		`SELECT id, project_id, title, description, priority, story_points, status, lane, sprint_id, created_at, updated_at
		 FROM backlog_items WHERE sprint_id = ? ORDER BY created_at ASC`, sprintID)
	if err != nil {
		return nil, fmt.Errorf("list sprint items: %w", err)
	}
	defer rows.Close()
	return scanItems(rows)
}

// Update rewrites an item's mutable fields.
func (s *SQLStore) Update(ctx context.Context, item *Item) error {
	item.UpdatedAt = time.Now()
	return s.db.WriteLocked(ctx, func(ctx context.Context) error {
		_, err := s.db.Handle().ExecContext(ctx,
			`UPDATE backlog_items
			 SET title = ?, description = ?, priority = ?, story_points = ?, status = ?, lane = ?, sprint_id = ?, updated_at = ?
			 WHERE id = ?`,
			item.Title, item.Description, string(item.Priority), item.StoryPoints,
			string(item.Status), string(item.Lane), item.SprintID, item.UpdatedAt, item.ID)
		if err != nil {
			return fmt.Errorf("update backlog item: %w", err)
		}
		return nil
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*Item, error) {
	var it Item
	var priority, status, lane string
	err := row.Scan(&it.ID, &it.ProjectID, &it.Title, &it.Description, &priority,
		&it.StoryPoints, &status, &lane, &it.SprintID, &it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		return nil, err
	}
	it.Priority = Priority(priority)
	it.Status = ItemStatus(status)
	it.Lane = Lane(lane)
	return &it, nil
}

func scanItems(rows *sql.Rows) ([]*Item, error) {
	var items []*Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}
