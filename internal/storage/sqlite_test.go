package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/davrin/sprintd/internal/events"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "sprintd.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestWriteLockedSucceeds(t *testing.T) {
	db := openTestDB(t)

	err := db.WriteLocked(context.Background(), func(ctx context.Context) error {
		_, err := db.Handle().ExecContext(ctx,
			`INSERT INTO event_log (id, project_id, type, source, payload, created_at)
			 VALUES ('e1', 'p1', 'task.queued', 'queue', '{}', ?)`, time.Now())
		return err
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	var count int
	if err := db.Handle().QueryRow(`SELECT COUNT(*) FROM event_log`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 row, got %d", count)
	}
}

func TestWriteLockedRetriesBusy(t *testing.T) {
	db := openTestDB(t)

	attempts := 0
	err := db.WriteLocked(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return fmt.Errorf("database is locked")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestWriteLockedExhaustsRetries(t *testing.T) {
	db := openTestDB(t)

	attempts := 0
	err := db.WriteLocked(context.Background(), func(ctx context.Context) error {
		attempts++
		return fmt.Errorf("database is locked")
	})
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if attempts != defaultMaxRetries+1 {
		t.Errorf("expected %d attempts, got %d", defaultMaxRetries+1, attempts)
	}
}

func TestWriteLockedNonBusyErrorNotRetried(t *testing.T) {
	db := openTestDB(t)

	attempts := 0
	wantErr := errors.New("constraint violation")
	err := db.WriteLocked(context.Background(), func(ctx context.Context) error {
		attempts++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected original error, got %v", err)
	}
	if errors.Is(err, ErrPersistence) {
		t.Error("non-busy error must not be wrapped as persistence failure")
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
}

func TestEventLoggerPersistsAndQueries(t *testing.T) {
	db := openTestDB(t)
	bus := events.NewBus(64)
	defer bus.Close()

	el := NewEventLogger(db, bus)
	defer el.Close()

	bus.Publish(events.NewTypedEventForProject(events.SourceQueue,
		events.TaskQueuedPayload{TaskID: "task_1", Title: "a"}, "proj-a"))
	bus.Publish(events.NewTypedEventForProject(events.SourcePlanner,
		events.SprintCreatedPayload{SprintID: "sprint_1"}, "proj-a"))

	// Event delivery and persistence are async.
	deadline := time.Now().Add(2 * time.Second)
	var got []events.Event
	for time.Now().Before(deadline) {
		var err error
		got, err = el.RecentEvents(context.Background(), "proj-a", 10)
		if err != nil {
			t.Fatalf("recent events: %v", err)
		}
		if len(got) == 2 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 persisted events, got %d", len(got))
	}
}
