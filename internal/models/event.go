package models

import "time"

// EventKind enumerates the conversational event types the pipeline consumes.
type EventKind string

const (
	// EventQuestion is a question asked to the assistant.
	EventQuestion EventKind = "question"
	// EventAnswer is a human answering a question routed past the assistant.
	EventAnswer EventKind = "answer"
	// EventMessage is a free-form message attributed to a subject, used for
	// sentiment tracking.
	EventMessage EventKind = "message"
)

// ConversationEvent is one turn supplied by the external event source.
// The core never fetches events itself; it is driven.
type ConversationEvent struct {
	TenantID  string    `json:"tenant_id"`
	Kind      EventKind `json:"event_kind"`
	ActorID   string    `json:"actor_id"`
	SubjectID string    `json:"subject_id,omitempty"`
	Text      string    `json:"text,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Valid reports whether the event carries the minimum fields for processing.
func (e ConversationEvent) Valid() bool {
	return e.TenantID != "" && e.Kind != "" && e.ActorID != "" && !e.Timestamp.IsZero()
}
