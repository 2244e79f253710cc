// Package memory implements the bounded per-session memory store.
//
// Sessions are materialized in-process and mirrored to durable storage on
// every mutating call, so a session can be reconstructed from its persisted
// records after a restart.
package memory

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Capacity bounds for session collections.
const (
	maxRecentDecisions = 50
	maxCreatedItems    = 50
	storyRingCapacity  = 10
)

// Session is the bounded per-session memory of one agent conversation.
type Session struct {
	ID                  string          `json:"id"`
	ProjectID           string          `json:"project_id"`
	AgentType           string          `json:"agent_type"`
	RecentDecisions     []string        `json:"recent_decisions"` // most-recent-first
	CreatedItems        []string        `json:"created_items"`
	RejectedSuggestions map[string]bool `json:"rejected_suggestions"`
	RecentStoryIDs      *StoryRing      `json:"recent_story_ids"`
	CreatedAt           time.Time       `json:"created_at"`
	ExpiresAt           *time.Time      `json:"expires_at,omitempty"`
}

func newSession(projectID, agentType string, expiresAt *time.Time) *Session {
	return &Session{
		ID:                  GenerateSessionID(),
		ProjectID:           projectID,
		AgentType:           agentType,
		RejectedSuggestions: make(map[string]bool),
		RecentStoryIDs:      NewStoryRing(storyRingCapacity),
		CreatedAt:           time.Now(),
		ExpiresAt:           expiresAt,
	}
}

// addDecision prepends a decision, trimming to the capacity bound.
func (s *Session) addDecision(decision string) {
	s.RecentDecisions = append([]string{decision}, s.RecentDecisions...)
	if len(s.RecentDecisions) > maxRecentDecisions {
		s.RecentDecisions = s.RecentDecisions[:maxRecentDecisions]
	}
}

// addCreatedItem appends a created item, trimming oldest entries.
func (s *Session) addCreatedItem(item string) {
	s.CreatedItems = append(s.CreatedItems, item)
	if len(s.CreatedItems) > maxCreatedItems {
		s.CreatedItems = s.CreatedItems[len(s.CreatedItems)-maxCreatedItems:]
	}
}

// expired reports whether the session has passed its expiration.
func (s *Session) expired(now time.Time) bool {
	return s.ExpiresAt != nil && now.After(*s.ExpiresAt)
}

// StoryRing is a fixed-capacity ring buffer of story ids with dedup-on-insert.
// Insertion order is preserved; re-adding an existing id is a no-op.
type StoryRing struct {
	ids []string
	cap int
}

// NewStoryRing creates a ring with the given capacity.
func NewStoryRing(capacity int) *StoryRing {
	return &StoryRing{cap: capacity}
}

// Add inserts id unless already present, evicting the oldest entry when full.
func (r *StoryRing) Add(id string) {
	for _, existing := range r.ids {
		if existing == id {
			return
		}
	}
	r.ids = append(r.ids, id)
	if len(r.ids) > r.cap {
		r.ids = r.ids[len(r.ids)-r.cap:]
	}
}

// IDs returns the buffered ids, oldest first.
func (r *StoryRing) IDs() []string {
	out := make([]string, len(r.ids))
	copy(out, r.ids)
	return out
}

// Len returns the number of buffered ids.
func (r *StoryRing) Len() int {
	return len(r.ids)
}

// MarshalJSON renders the ring as a plain id array.
func (r *StoryRing) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.IDs())
}

// UnmarshalJSON restores the ring from a plain id array.
func (r *StoryRing) UnmarshalJSON(data []byte) error {
	if err := json.Unmarshal(data, &r.ids); err != nil {
		return err
	}
	if r.cap == 0 {
		r.cap = storyRingCapacity
	}
	return nil
}

// GenerateSessionID creates a unique memory session identifier.
func GenerateSessionID() string {
	u := uuid.New().String()
	return "mem_" + strings.ReplaceAll(u[:8], "-", "")
}
