// Package events publishes engine lifecycle events to NATS so downstream
// consumers (alerting, data pipelines) can react to refresh cycles and
// maintenance runs without polling.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/trace"
)

// EventType discriminates the payload shape.
type EventType string

const (
	RefreshCompleted     EventType = "listing.refresh.completed"
	RefreshRolledBack    EventType = "listing.refresh.rolled_back"
	MaintenanceCompleted EventType = "cache.maintenance.completed"
	RetentionCompleted   EventType = "listing.retention.completed"
)

// Event is the envelope written to the subject. Payload carries the
// operation's own report type, marshalled as-is.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload"`
}

// Publisher writes events to a NATS subject. A nil Publisher or nil
// connection publishes nothing and returns nil, so callers never guard.
type Publisher struct {
	conn    *nats.Conn
	subject string
}

// NewPublisher builds a Publisher using the provided NATS connection.
func NewPublisher(conn *nats.Conn, subject string) *Publisher {
	return &Publisher{conn: conn, subject: subject}
}

// Publish marshals the event and sends it with trace correlation headers.
func (p *Publisher) Publish(ctx context.Context, eventType EventType, payload any) error {
	if p == nil || p.conn == nil {
		return nil
	}

	data, err := json.Marshal(Event{Type: eventType, OccurredAt: time.Now().UTC(), Payload: payload})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	return p.conn.PublishMsg(&nats.Msg{Subject: p.subject, Data: data, Header: map[string][]string{
		"x-trace-id":   {traceIDFromContext(ctx)},
		"x-event-type": {string(eventType)},
	}})
}

func traceIDFromContext(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span == nil {
		return ""
	}
	sc := span.SpanContext()
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}
