package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/davrin/sprintd/internal/events"
	"github.com/davrin/sprintd/internal/storage"
)

// Record kinds persisted to the memory_records table.
const (
	recordSessionStarted = "session_started"
	recordDecision       = "decision"
	recordCreatedItem    = "created_item"
	recordRejection      = "rejection"
	recordStory          = "story"
)

// DefaultSessionTTL bounds how long a session's records outlive it.
const DefaultSessionTTL = 24 * time.Hour

// Store holds live sessions in-process and mirrors every mutation to the
// durable store through the single-writer write path.
type Store struct {
	db  *storage.DB
	bus *events.Bus
	ttl time.Duration

	mu   sync.RWMutex
	live map[string]*Session
}

// NewStore creates a memory store. A zero ttl applies DefaultSessionTTL.
func NewStore(db *storage.DB, bus *events.Bus, ttl time.Duration) *Store {
	if ttl == 0 {
		ttl = DefaultSessionTTL
	}
	return &Store{
		db:   db,
		bus:  bus,
		ttl:  ttl,
		live: make(map[string]*Session),
	}
}

// StartSession creates a live session and persists its start record.
func (s *Store) StartSession(ctx context.Context, projectID, agentType string) (*Session, error) {
	expires := time.Now().Add(s.ttl)
	sess := newSession(projectID, agentType, &expires)

	if err := s.persistRecord(ctx, sess, recordSessionStarted, agentType); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.live[sess.ID] = sess
	s.mu.Unlock()

	s.bus.Publish(events.NewTypedEventForProject(events.SourceMemory, events.SessionStartedPayload{
		SessionID: sess.ID,
		AgentType: agentType,
	}, projectID))

	return sess, nil
}

// EndSession removes a session from the live set. Ending an unknown session
// is a no-op.
func (s *Store) EndSession(ctx context.Context, sessionID string) {
	s.mu.Lock()
	sess, ok := s.live[sessionID]
	if ok {
		delete(s.live, sessionID)
	}
	s.mu.Unlock()

	if !ok {
		return
	}

	s.bus.Publish(events.NewTypedEventForProject(events.SourceMemory, events.SessionEndedPayload{
		SessionID: sessionID,
	}, sess.ProjectID))
}

// RecordDecision appends a decision to the session's recency list.
func (s *Store) RecordDecision(ctx context.Context, sessionID, decision string) error {
	sess, err := s.getOrLoad(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess == nil {
		return nil
	}

	s.mu.Lock()
	sess.addDecision(decision)
	s.mu.Unlock()

	if err := s.persistRecord(ctx, sess, recordDecision, decision); err != nil {
		return err
	}

	s.bus.Publish(events.NewTypedEventForProject(events.SourceMemory, events.DecisionRecordedPayload{
		SessionID: sessionID,
		Decision:  decision,
	}, sess.ProjectID))
	return nil
}

// RecordCreatedItem appends an item created during the session.
func (s *Store) RecordCreatedItem(ctx context.Context, sessionID, item string) error {
	sess, err := s.getOrLoad(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess == nil {
		return nil
	}

	s.mu.Lock()
	sess.addCreatedItem(item)
	s.mu.Unlock()

	if err := s.persistRecord(ctx, sess, recordCreatedItem, item); err != nil {
		return err
	}

	s.bus.Publish(events.NewTypedEventForProject(events.SourceMemory, events.ItemCreatedPayload{
		SessionID: sessionID,
		Item:      item,
	}, sess.ProjectID))
	return nil
}

// RecordRejection remembers a suggestion the user rejected.
func (s *Store) RecordRejection(ctx context.Context, sessionID, suggestion string) error {
	sess, err := s.getOrLoad(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess == nil {
		return nil
	}

	s.mu.Lock()
	sess.RejectedSuggestions[suggestion] = true
	s.mu.Unlock()

	if err := s.persistRecord(ctx, sess, recordRejection, suggestion); err != nil {
		return err
	}

	s.bus.Publish(events.NewTypedEventForProject(events.SourceMemory, events.RejectionRecordedPayload{
		SessionID:  sessionID,
		Suggestion: suggestion,
	}, sess.ProjectID))
	return nil
}

// RecordStoryDiscussion notes a story id in the session's dedup ring buffer.
func (s *Store) RecordStoryDiscussion(ctx context.Context, sessionID, storyID string) error {
	sess, err := s.getOrLoad(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess == nil {
		return nil
	}

	s.mu.Lock()
	sess.RecentStoryIDs.Add(storyID)
	s.mu.Unlock()

	if err := s.persistRecord(ctx, sess, recordStory, storyID); err != nil {
		return err
	}

	s.bus.Publish(events.NewTypedEventForProject(events.SourceMemory, events.StoryDiscussedPayload{
		SessionID: sessionID,
		StoryID:   storyID,
	}, sess.ProjectID))
	return nil
}

// GetSession returns the live session, reconstructing it from persisted
// records when not in-process. Returns nil when no records exist.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	s.mu.RLock()
	sess, ok := s.live[sessionID]
	s.mu.RUnlock()
	if ok {
		return sess, nil
	}
	return s.loadSession(ctx, sessionID)
}

// getOrLoad returns the live session, materializing a persisted one into the
// live set if found.
func (s *Store) getOrLoad(ctx context.Context, sessionID string) (*Session, error) {
	s.mu.RLock()
	sess, ok := s.live[sessionID]
	s.mu.RUnlock()
	if ok {
		return sess, nil
	}

	sess, err := s.loadSession(ctx, sessionID)
	if err != nil || sess == nil {
		return sess, err
	}

	s.mu.Lock()
	s.live[sessionID] = sess
	s.mu.Unlock()
	return sess, nil
}

// loadSession reconstructs a session by replaying its persisted records.
func (s *Store) loadSession(ctx context.Context, sessionID string) (*Session, error) {
	rows, err := s.db.Handle().QueryContext(ctx,
		`SELECT project_id, agent_type, kind, content, created_at, expires_at
		 FROM memory_records WHERE session_id = ? ORDER BY created_at ASC, id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session records: %w", err)
	}
	defer rows.Close()

	var sess *Session
	for rows.Next() {
		var projectID, agentType, kind, content string
		var createdAt time.Time
		var expiresAt *time.Time
		if err := rows.Scan(&projectID, &agentType, &kind, &content, &createdAt, &expiresAt); err != nil {
			return nil, err
		}

		if sess == nil {
			sess = &Session{
				ID:                  sessionID,
				ProjectID:           projectID,
				AgentType:           agentType,
				RejectedSuggestions: make(map[string]bool),
				RecentStoryIDs:      NewStoryRing(storyRingCapacity),
				CreatedAt:           createdAt,
				ExpiresAt:           expiresAt,
			}
		}

		switch kind {
		case recordDecision:
			sess.addDecision(content)
		case recordCreatedItem:
			sess.addCreatedItem(content)
		case recordRejection:
			sess.RejectedSuggestions[content] = true
		case recordStory:
			sess.RecentStoryIDs.Add(content)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sess, nil
}

// ClearSessionMemory deletes persisted and in-memory state for a session.
func (s *Store) ClearSessionMemory(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	sess := s.live[sessionID]
	delete(s.live, sessionID)
	s.mu.Unlock()

	err := s.db.WriteLocked(ctx, func(ctx context.Context) error {
		_, err := s.db.Handle().ExecContext(ctx,
			`DELETE FROM memory_records WHERE session_id = ?`, sessionID)
		return err
	})
	if err != nil {
		return err
	}

	projectID := ""
	if sess != nil {
		projectID = sess.ProjectID
	}
	s.bus.Publish(events.NewTypedEventForProject(events.SourceMemory, events.SessionClearedPayload{
		SessionID: sessionID,
	}, projectID))
	return nil
}

// ClearProjectMemory deletes all persisted and in-memory records for a project.
func (s *Store) ClearProjectMemory(ctx context.Context, projectID string) error {
	s.mu.Lock()
	for id, sess := range s.live {
		if sess.ProjectID == projectID {
			delete(s.live, id)
		}
	}
	s.mu.Unlock()

	var deleted int64
	err := s.db.WriteLocked(ctx, func(ctx context.Context) error {
		res, err := s.db.Handle().ExecContext(ctx,
			`DELETE FROM memory_records WHERE project_id = ?`, projectID)
		if err != nil {
			return err
		}
		deleted, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return err
	}

	s.bus.Publish(events.NewTypedEventForProject(events.SourceMemory, events.ProjectMemoryClearedPayload{
		Deleted: int(deleted),
	}, projectID))
	return nil
}

// CleanupExpiredMemory deletes records past their expiration, emitting
// memory-cleaned only when rows were actually removed.
func (s *Store) CleanupExpiredMemory(ctx context.Context) (int, error) {
	now := time.Now()

	s.mu.Lock()
	for id, sess := range s.live {
		if sess.expired(now) {
			delete(s.live, id)
		}
	}
	s.mu.Unlock()

	var deleted int64
	err := s.db.WriteLocked(ctx, func(ctx context.Context) error {
		res, err := s.db.Handle().ExecContext(ctx,
			`DELETE FROM memory_records WHERE expires_at IS NOT NULL AND expires_at < ?`, now)
		if err != nil {
			return err
		}
		deleted, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, err
	}

	if deleted > 0 {
		slog.Info("expired memory removed", "records", deleted)
		s.bus.Publish(events.NewTypedEvent(events.SourceMemory, events.MemoryCleanedPayload{
			Deleted: int(deleted),
		}))
	}
	return int(deleted), nil
}

// persistRecord mirrors one session mutation to the durable store.
func (s *Store) persistRecord(ctx context.Context, sess *Session, kind, content string) error {
	return s.db.WriteLocked(ctx, func(ctx context.Context) error {
		_, err := s.db.Handle().ExecContext(ctx,
			`INSERT INTO memory_records (session_id, project_id, agent_type, kind, content, created_at, expires_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			sess.ID, sess.ProjectID, sess.AgentType, kind, content, time.Now(), sess.ExpiresAt)
		if err != nil {
			return fmt.Errorf("insert memory record: %w", err)
		}
		return nil
	})
}
