package memory

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/davrin/sprintd/internal/events"
	"github.com/davrin/sprintd/internal/storage"
)

func newTestStore(t *testing.T, ttl time.Duration) (*Store, *events.Bus) {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "sprintd.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	bus := events.NewBus(128)
	t.Cleanup(bus.Close)

	return NewStore(db, bus, ttl), bus
}

func TestStartAndEndSession(t *testing.T) {
	store, _ := newTestStore(t, 0)
	ctx := context.Background()

	sess, err := store.StartSession(ctx, "proj-a", "planner")
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	if sess.ID == "" || sess.ExpiresAt == nil {
		t.Fatalf("incomplete session: %+v", sess)
	}

	got, err := store.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got == nil || got.ID != sess.ID {
		t.Fatalf("expected live session, got %+v", got)
	}

	store.EndSession(ctx, sess.ID)
	// Ending twice (now unknown) must be a no-op, not an error.
	store.EndSession(ctx, sess.ID)
	store.EndSession(ctx, "mem_unknown")
}

func TestStoryRingDedup(t *testing.T) {
	store, _ := newTestStore(t, 0)
	ctx := context.Background()

	sess, err := store.StartSession(ctx, "proj-a", "planner")
	if err != nil {
		t.Fatalf("start session: %v", err)
	}

	if err := store.RecordStoryDiscussion(ctx, sess.ID, "story-1"); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := store.RecordStoryDiscussion(ctx, sess.ID, "story-1"); err != nil {
		t.Fatalf("record: %v", err)
	}

	got, _ := store.GetSession(ctx, sess.ID)
	if got.RecentStoryIDs.Len() != 1 {
		t.Errorf("expected 1 story after duplicate insert, got %d", got.RecentStoryIDs.Len())
	}
}

func TestStoryRingCapacity(t *testing.T) {
	store, _ := newTestStore(t, 0)
	ctx := context.Background()

	sess, err := store.StartSession(ctx, "proj-a", "planner")
	if err != nil {
		t.Fatalf("start session: %v", err)
	}

	for i := 0; i < 15; i++ {
		if err := store.RecordStoryDiscussion(ctx, sess.ID, fmt.Sprintf("story-%d", i)); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	got, _ := store.GetSession(ctx, sess.ID)
	ids := got.RecentStoryIDs.IDs()
	if len(ids) != 10 {
		t.Fatalf("expected 10 stories, got %d", len(ids))
	}
	// Oldest five evicted, most recent ten retained in order.
	if ids[0] != "story-5" || ids[9] != "story-14" {
		t.Errorf("unexpected ring contents: %v", ids)
	}
}

func TestDecisionsMostRecentFirst(t *testing.T) {
	store, _ := newTestStore(t, 0)
	ctx := context.Background()

	sess, _ := store.StartSession(ctx, "proj-a", "planner")
	for _, d := range []string{"first", "second", "third"} {
		if err := store.RecordDecision(ctx, sess.ID, d); err != nil {
			t.Fatalf("record decision: %v", err)
		}
	}

	got, _ := store.GetSession(ctx, sess.ID)
	if got.RecentDecisions[0] != "third" {
		t.Errorf("expected most-recent-first, got %v", got.RecentDecisions)
	}
}

func TestSessionReconstructionFromRecords(t *testing.T) {
	store, bus := newTestStore(t, 0)
	ctx := context.Background()

	sess, _ := store.StartSession(ctx, "proj-a", "planner")
	_ = store.RecordDecision(ctx, sess.ID, "use greedy packing")
	_ = store.RecordRejection(ctx, sess.ID, "rewrite in rust")
	_ = store.RecordStoryDiscussion(ctx, sess.ID, "story-9")
	store.EndSession(ctx, sess.ID)

	// Fresh store over the same database simulates a restart.
	restarted := NewStore(storeDB(store), bus, 0)
	got, err := restarted.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got == nil {
		t.Fatal("expected reconstructed session")
	}
	if len(got.RecentDecisions) != 1 || got.RecentDecisions[0] != "use greedy packing" {
		t.Errorf("decisions not reconstructed: %v", got.RecentDecisions)
	}
	if !got.RejectedSuggestions["rewrite in rust"] {
		t.Error("rejection not reconstructed")
	}
	if got.RecentStoryIDs.Len() != 1 {
		t.Errorf("stories not reconstructed: %v", got.RecentStoryIDs.IDs())
	}
}

func TestGetUnknownSessionReturnsNil(t *testing.T) {
	store, _ := newTestStore(t, 0)

	got, err := store.GetSession(context.Background(), "mem_missing")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for unknown session, got %+v", got)
	}
}

func TestClearSessionMemory(t *testing.T) {
	store, _ := newTestStore(t, 0)
	ctx := context.Background()

	sess, _ := store.StartSession(ctx, "proj-a", "planner")
	_ = store.RecordDecision(ctx, sess.ID, "a decision")

	if err := store.ClearSessionMemory(ctx, sess.ID); err != nil {
		t.Fatalf("clear: %v", err)
	}

	got, err := store.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got != nil {
		t.Errorf("expected session gone after clear, got %+v", got)
	}
}

func TestClearProjectMemory(t *testing.T) {
	store, _ := newTestStore(t, 0)
	ctx := context.Background()

	a, _ := store.StartSession(ctx, "proj-a", "planner")
	b, _ := store.StartSession(ctx, "proj-b", "planner")

	if err := store.ClearProjectMemory(ctx, "proj-a"); err != nil {
		t.Fatalf("clear project: %v", err)
	}

	if got, _ := store.GetSession(ctx, a.ID); got != nil {
		t.Error("proj-a session should be cleared")
	}
	if got, _ := store.GetSession(ctx, b.ID); got == nil {
		t.Error("proj-b session must survive")
	}
}

func TestCleanupExpiredMemoryEmitsOnlyWhenDeleted(t *testing.T) {
	store, bus := newTestStore(t, time.Hour)
	ctx := context.Background()

	var mu sync.Mutex
	var cleanedEvents int
	done := make(chan struct{}, 4)
	bus.Subscribe(func(e events.Event) {
		mu.Lock()
		cleanedEvents++
		mu.Unlock()
		done <- struct{}{}
	}, events.EventMemoryCleaned)

	// Nothing expired yet.
	n, err := store.CleanupExpiredMemory(ctx)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 deleted, got %d", n)
	}

	// Session with a TTL already in the past.
	expired := NewStore(storeDB(store), bus, -time.Minute)
	sess, _ := expired.StartSession(ctx, "proj-a", "planner")
	_ = expired.RecordDecision(ctx, sess.ID, "soon gone")

	n, err = store.CleanupExpiredMemory(ctx)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if n == 0 {
		t.Fatal("expected expired rows deleted")
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected memory-cleaned event")
	}
	mu.Lock()
	defer mu.Unlock()
	if cleanedEvents != 1 {
		t.Errorf("expected exactly one memory-cleaned event, got %d", cleanedEvents)
	}
}

// storeDB exposes the underlying DB for restart-simulation tests.
func storeDB(s *Store) *storage.DB {
	return s.db
}
