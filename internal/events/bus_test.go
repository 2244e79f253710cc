package events

import (
	"sync"
	"testing"
	"time"
)

func TestBusPublishSubscribe(t *testing.T) {
	bus := NewBus(64)
	defer bus.Close()

	var mu sync.Mutex
	var received []Event

	bus.Subscribe(func(e Event) {
		mu.Lock()
		received = append(received, e)
		mu.Unlock()
	}, EventTaskQueued)

	bus.Publish(NewTypedEvent(SourceQueue, TaskQueuedPayload{TaskID: "task_1", Title: "hello"}))
	bus.Publish(NewTypedEvent(SourceQueue, TaskStartedPayload{TaskID: "task_1"}))

	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	if len(received) != 1 {
		t.Fatalf("expected 1 event, got %d", len(received))
	}
	if received[0].Type != EventTaskQueued {
		t.Errorf("expected task.queued, got %s", received[0].Type)
	}
}

func TestBusSubscribeAll(t *testing.T) {
	bus := NewBus(64)
	defer bus.Close()

	var mu sync.Mutex
	count := 0

	bus.Subscribe(func(e Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	bus.Publish(NewTypedEvent(SourceQueue, TaskQueuedPayload{TaskID: "task_1"}))
	bus.Publish(NewTypedEvent(SourcePlanner, SprintCreatedPayload{SprintID: "sprint_1"}))

	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	if count != 2 {
		t.Errorf("expected 2 events, got %d", count)
	}
}

func TestBusProjectScope(t *testing.T) {
	e := NewTypedEventForProject(SourcePlanner, SprintCreatedPayload{SprintID: "sprint_1"}, "proj-a")
	if e.ProjectID != "proj-a" {
		t.Errorf("expected project id proj-a, got %q", e.ProjectID)
	}
	if e.Type != EventSprintCreated {
		t.Errorf("expected sprint.created, got %s", e.Type)
	}
	if e.Payload["sprint_id"] != "sprint_1" {
		t.Errorf("payload sprint_id = %v", e.Payload["sprint_id"])
	}
}

func TestRingBuffer(t *testing.T) {
	rb := NewRingBuffer(3)

	for i := 0; i < 5; i++ {
		rb.Add(NewEvent(EventTaskQueued, SourceQueue, map[string]any{"i": i}))
	}

	got := rb.Get(10)
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
	// Oldest surviving entry is i=2
	if got[0].Payload["i"] != 2 {
		t.Errorf("expected oldest entry i=2, got %v", got[0].Payload["i"])
	}
}

func TestSubscribeChan(t *testing.T) {
	bus := NewBus(64)
	defer bus.Close()

	ch, cancel := bus.SubscribeChan(8, EventTaskCompleted)
	defer cancel()

	bus.Publish(NewTypedEvent(SourceQueue, TaskCompletedPayload{TaskID: "task_1"}))

	select {
	case e := <-ch:
		if e.Type != EventTaskCompleted {
			t.Errorf("expected task.completed, got %s", e.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBusPublishAfterClose(t *testing.T) {
	bus := NewBus(4)
	bus.Close()

	// Must not panic.
	bus.Publish(NewTypedEvent(SourceQueue, TaskQueuedPayload{TaskID: "task_1"}))
}
