package learning

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/davrin/sprintd/internal/storage"
)

// PatternStore defines the persistence interface for patterns.
type PatternStore interface {
	Create(ctx context.Context, p *Pattern) error
	Update(ctx context.Context, p *Pattern) error
	ListByKind(ctx context.Context, projectID string, kind Kind) ([]*Pattern, error)
	ListByProject(ctx context.Context, projectID string) ([]*Pattern, error)
	Projects(ctx context.Context) ([]string, error)
	DeleteBelowConfidence(ctx context.Context, projectID string, threshold float64) (int, error)
}

// SQLStore persists patterns in the shared SQLite store.
type SQLStore struct {
	db *storage.DB
}

// NewSQLStore creates a pattern store over db.
func NewSQLStore(db *storage.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Create inserts a new pattern, assigning an id if missing.
func (s *SQLStore) Create(ctx context.Context, p *Pattern) error {
	if p.ID == "" {
		p.ID = GeneratePatternID()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	keywords, err := json.Marshal(p.Keywords)
	if err != nil {
		return fmt.Errorf("marshal keywords: %w", err)
	}

	return s.db.WriteLocked(ctx, func(ctx context.Context) error {
		_, err := s.db.Handle().ExecContext(ctx,
			`INSERT INTO patterns
			 (id, project_id, kind, item_type, keywords, corrected_text, confidence,
			  usage_count, success_count, failure_count, last_used_at, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.ProjectID, string(p.Kind), p.ItemType, string(keywords), p.CorrectedText,
			p.Confidence, p.UsageCount, p.SuccessCount, p.FailureCount, p.LastUsedAt, p.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert pattern: %w", err)
		}
		return nil
	})
}

// Update rewrites a pattern's counters and confidence.
func (s *SQLStore) Update(ctx context.Context, p *Pattern) error {
	keywords, err := json.Marshal(p.Keywords)
	if err != nil {
		return fmt.Errorf("marshal keywords: %w", err)
	}

	return s.db.WriteLocked(ctx, func(ctx context.Context) error {
		_, err := s.db.Handle().ExecContext(ctx,
			`UPDATE patterns
			 SET keywords = ?, corrected_text = ?, confidence = ?,
			     usage_count = ?, success_count = ?, failure_count = ?, last_used_at = ?
			 WHERE id = ?`,
			string(keywords), p.CorrectedText, p.Confidence,
			p.UsageCount, p.SuccessCount, p.FailureCount, p.LastUsedAt, p.ID)
		if err != nil {
			return fmt.Errorf("update pattern: %w", err)
		}
		return nil
	})
}

// ListByKind returns all patterns of a kind for a project.
func (s *SQLStore) ListByKind(ctx context.Context, projectID string, kind Kind) ([]*Pattern, error) {
	rows, err := s.db.Handle().QueryContext(ctx,
		`SELECT id, project_id, kind, item_type, keywords, corrected_text, confidence,
		        usage_count, success_count, failure_count, last_used_at, created_at
		 FROM patterns WHERE project_id = ? AND kind = ? ORDER BY created_at ASC`,
		projectID, string(kind))
	if err != nil {
		return nil, fmt.Errorf("list patterns: %w", err)
	}
	defer rows.Close()

	var patterns []*Pattern
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, p)
	}
	return patterns, rows.Err()
}

// ListByProject returns all patterns for a project across kinds.
func (s *SQLStore) ListByProject(ctx context.Context, projectID string) ([]*Pattern, error) {
	rows, err := s.db.Handle().QueryContext(ctx,
		`SELECT id, project_id, kind, item_type, keywords, corrected_text, confidence,
		        usage_count, success_count, failure_count, last_used_at, created_at
		 FROM patterns WHERE project_id = ? ORDER BY confidence DESC, created_at ASC`,
		projectID)
	if err != nil {
		return nil, fmt.Errorf("list patterns: %w", err)
	}
	defer rows.Close()

	var patterns []*Pattern
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, p)
	}
	return patterns, rows.Err()
}

// Projects returns the distinct projects that have learned patterns.
func (s *SQLStore) Projects(ctx context.Context) ([]string, error) {
	rows, err := s.db.Handle().QueryContext(ctx,
		`SELECT DISTINCT project_id FROM patterns ORDER BY project_id`)
	if err != nil {
		return nil, fmt.Errorf("list pattern projects: %w", err)
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

// DeleteBelowConfidence removes patterns below threshold, returning the count.
func (s *SQLStore) DeleteBelowConfidence(ctx context.Context, projectID string, threshold float64) (int, error) {
	var deleted int64
	err := s.db.WriteLocked(ctx, func(ctx context.Context) error {
		res, err := s.db.Handle().ExecContext(ctx,
			`DELETE FROM patterns WHERE project_id = ? AND confidence < ?`,
			projectID, threshold)
		if err != nil {
			return fmt.Errorf("delete patterns: %w", err)
		}
		deleted, _ = res.RowsAffected()
		return nil
	})
	return int(deleted), err
}

func scanPattern(rows *sql.Rows) (*Pattern, error) {
	var p Pattern
	var kind, keywords string
	var lastUsed sql.NullTime
	err := rows.Scan(&p.ID, &p.ProjectID, &kind, &p.ItemType, &keywords, &p.CorrectedText,
		&p.Confidence, &p.UsageCount, &p.SuccessCount, &p.FailureCount, &lastUsed, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	p.Kind = Kind(kind)
	if lastUsed.Valid {
		p.LastUsedAt = &lastUsed.Time
	}
	_ = json.Unmarshal([]byte(keywords), &p.Keywords)
	return &p, nil
}
