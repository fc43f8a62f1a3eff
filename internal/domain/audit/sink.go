// Package audit defines the audit event stream for pipeline operations.
package audit

import (
	"context"
	"sync"
	"time"

	"abasto/internal/core/id"
)

// Action identifies the audited operation.
type Action string

const (
	ActionCreate   Action = "create"
	ActionSubmit   Action = "submit"
	ActionApprove  Action = "approve"
	ActionReject   Action = "reject"
	ActionOrder    Action = "order"
	ActionConfirm  Action = "confirm"
	ActionReceive  Action = "receive"
	ActionDispatch Action = "dispatch"
	ActionClose    Action = "close"
	ActionFlag     Action = "flag"
)

// Event is one audited pipeline operation.
type Event struct {
	ID         id.ID          `json:"id"`
	EntityType string         `json:"entity_type"`
	EntityID   id.ID          `json:"entity_id"`
	Action     Action         `json:"action"`
	Actor      string         `json:"actor"`
	Details    map[string]any `json:"details,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// NewEvent creates an event with a generated ID and timestamp.
func NewEvent(entityType string, entityID id.ID, action Action, actor string) Event {
	return Event{
		ID:         id.New(),
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		Actor:      actor,
		OccurredAt: time.Now().UTC(),
	}
}

// Sink receives audit events. Implementations must not fail the
// business operation; errors are logged and swallowed by callers.
type Sink interface {
	Record(ctx context.Context, event Event)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Record(context.Context, Event) {}

// MemorySink keeps events in memory. Used in tests and as a default
// when no durable sink is configured.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Record(_ context.Context, event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

// Events returns a copy of the recorded events.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// ByEntity returns recorded events for one entity.
func (s *MemorySink) ByEntity(entityID id.ID) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, e := range s.events {
		if e.EntityID == entityID {
			out = append(out, e)
		}
	}
	return out
}
