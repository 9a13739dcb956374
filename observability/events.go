package observability

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/fieldline/fieldline/idgen"
)

// BusinessEvent represents a domain-level event to record: a job created,
// a task completed, a login attempt.
type BusinessEvent struct {
	EventType   string
	ServiceName string
	EntityType  string
	EntityID    string
	ActorID     string
	Action      string
	Details     string // optional JSON
	Success     bool
}

// EventLogger writes business events to the observability database.
type EventLogger struct {
	db    *sql.DB
	newID idgen.Generator
}

// EventLoggerOption configures an EventLogger.
type EventLoggerOption func(*EventLogger)

// WithEventIDGenerator sets a custom ID generator for event IDs.
func WithEventIDGenerator(gen idgen.Generator) EventLoggerOption {
	return func(l *EventLogger) { l.newID = gen }
}

// NewEventLogger creates a logger backed by the given observability database.
func NewEventLogger(db *sql.DB, opts ...EventLoggerOption) *EventLogger {
	l := &EventLogger{
		db:    db,
		newID: idgen.Prefixed("evt_", idgen.Default),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// LogEvent records a business event. Errors are logged via slog but do not
// propagate, so a failing observability store never blocks the request path.
func (l *EventLogger) LogEvent(ctx context.Context, event BusinessEvent) {
	eventID := l.newID()
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO business_event_logs (
			event_id, event_type, service_name, entity_type, entity_id,
			actor_id, action, details, success, created_at
		) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		eventID, event.EventType, event.ServiceName, event.EntityType, event.EntityID,
		event.ActorID, event.Action, event.Details, event.Success, time.Now().Unix())
	if err != nil {
		slog.Error("observability event log failed", "error", err, "event_type", event.EventType)
	}
}

// CountEvents returns the number of stored events of the given type.
// An empty eventType counts all events.
func (l *EventLogger) CountEvents(ctx context.Context, eventType string) (int, error) {
	var n int
	var err error
	if eventType == "" {
		err = l.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM business_event_logs`).Scan(&n)
	} else {
		err = l.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM business_event_logs WHERE event_type = ?`, eventType).Scan(&n)
	}
	return n, err
}
