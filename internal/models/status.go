package models

import "time"

// Status event constants.
const (
	StatusEventAttempt = "attempt"
	StatusEventSent    = "sent"
	StatusEventFailed  = "failed"
	StatusEventDLQ     = "dlq"
)

// StatusEvent represents lifecycle events emitted for outbound messages.
type StatusEvent struct {
	MessageID  string    `json:"message_id"`
	Channel    string    `json:"channel"`
	EventType  string    `json:"event_type"`
	Attempt    int       `json:"attempt,omitempty"`
	Error      string    `json:"error,omitempty"`
	DurationMs int64     `json:"duration_ms,omitempty"`
	TraceID    string    `json:"trace_id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
