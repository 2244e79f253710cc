package storage

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/davrin/sprintd/internal/events"
)

// EventLogger persists bus events to the event_log table, one row per event,
// queryable by project and time.
type EventLogger struct {
	db          *DB
	unsubscribe func()
}

// NewEventLogger subscribes to all bus events and mirrors them to the store.
func NewEventLogger(db *DB, bus *events.Bus) *EventLogger {
	el := &EventLogger{db: db}
	el.unsubscribe = bus.Subscribe(el.handleEvent)
	return el
}

// Close unsubscribes the logger from the event bus.
func (el *EventLogger) Close() {
	if el.unsubscribe != nil {
		el.unsubscribe()
	}
}

func (el *EventLogger) handleEvent(e events.Event) {
	if err := el.writeEvent(e); err != nil {
		slog.Warn("persist event", "type", e.Type, "error", err)
	}
}

func (el *EventLogger) writeEvent(e events.Event) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return el.db.WriteLocked(ctx, func(ctx context.Context) error {
		_, err := el.db.Handle().ExecContext(ctx,
			`INSERT INTO event_log (id, project_id, type, source, payload, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			e.ID, e.ProjectID, string(e.Type), string(e.Source), string(payload), e.Timestamp)
		return err
	})
}

// RecentEvents returns up to limit persisted events for a project, newest first.
func (el *EventLogger) RecentEvents(ctx context.Context, projectID string, limit int) ([]events.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := el.db.Handle().QueryContext(ctx,
		`SELECT id, project_id, type, source, payload, created_at
		 FROM event_log WHERE project_id = ? ORDER BY created_at DESC LIMIT ?`,
		projectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []events.Event
	for rows.Next() {
		var e events.Event
		var payload string
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.Type, &e.Source, &payload, &e.Timestamp); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(payload), &e.Payload)
		result = append(result, e)
	}
	return result, rows.Err()
}
