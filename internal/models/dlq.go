package models

import (
	"encoding/json"
	"time"
)

// Failure types for DLQ records.
const (
	FailureTypePermanent  = "permanent"
	FailureTypeTransient  = "transient"
	FailureTypeValidation = "validation"
	FailureTypeNoSender   = "no_sender"
	FailureTypeContent    = "content"
	FailureTypeUnknown    = "unknown"
)

// DLQRecord is written for every request that will not be delivered.
// Payloads that are not valid JSON are kept in RawPayload instead of
// OriginalMessage.
type DLQRecord struct {
	MessageID       string            `json:"message_id"`
	Channel         string            `json:"channel"`
	OriginalMessage json.RawMessage   `json:"original_message,omitempty"`
	RawPayload      []byte            `json:"raw_payload,omitempty"`
	Attempts        int               `json:"attempts"`
	FailureType     string            `json:"failure_type"`
	LastError       string            `json:"last_error,omitempty"`
	Errors          []string          `json:"errors,omitempty"`
	FirstFailedAt   time.Time         `json:"first_failed_at"`
	LastAttemptAt   time.Time         `json:"last_attempt_at"`
	TraceID         string            `json:"trace_id,omitempty"`
	Meta            map[string]string `json:"meta,omitempty"`
}
