package callstore

import (
	"time"

	"github.com/google/uuid"
)

// CallStatus is the lifecycle status of a voice call. Transitions are driven
// by provider webhooks, so duplicates and out-of-order deliveries must be
// tolerated by the store's update path.
type CallStatus string

const (
	StatusInitiated          CallStatus = "initiated"
	StatusRinging            CallStatus = "ringing"
	StatusInProgress         CallStatus = "in-progress"
	StatusCompleted          CallStatus = "completed"
	StatusFailed             CallStatus = "failed"
	StatusRecordingAvailable CallStatus = "recording_available"
)

// statusRank orders statuses so that stale webhook deliveries can be
// detected: a status never moves to a lower rank.
var statusRank = map[CallStatus]int{
	StatusInitiated:          0,
	StatusRinging:            1,
	StatusInProgress:         2,
	StatusCompleted:          3,
	StatusFailed:             3,
	StatusRecordingAvailable: 4,
}

// Rank returns the ordering rank of a status, or -1 for unknown values.
func (s CallStatus) Rank() int {
	r, ok := statusRank[s]
	if !ok {
		return -1
	}
	return r
}

// Valid reports whether the status is one of the known lifecycle values.
func (s CallStatus) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// Terminal reports whether no further status transition is expected, apart
// from completed -> recording_available which is best-effort.
func (s CallStatus) Terminal() bool {
	return s == StatusFailed || s == StatusRecordingAvailable
}

// CallMetadata is frozen at call-creation time so a bridge instantiated
// later, possibly after a process restart, resumes with identical behavior.
type CallMetadata struct {
	SystemPrompt string `json:"system_prompt,omitempty"`
	Voice        string `json:"voice,omitempty"`
	Greeting     string `json:"greeting,omitempty"`
}

// VoiceCall is one outbound call attempt. It is the aggregate root: events
// are owned by and cannot outlive their call. Calls are never deleted.
type VoiceCall struct {
	ID              uuid.UUID    `json:"id"`
	ToPhoneNumber   string       `json:"to_phone_number"`
	FromPhoneNumber string       `json:"from_phone_number"`
	OrganizationID  string       `json:"organization_id,omitempty"`
	ProviderCallID  string       `json:"provider_call_id,omitempty"`
	Status          CallStatus   `json:"status"`
	DurationSeconds *int         `json:"duration_seconds,omitempty"`
	CostCents       *int         `json:"cost_cents,omitempty"`
	RecordingURL    string       `json:"recording_url,omitempty"`
	Metadata        CallMetadata `json:"metadata"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// VoiceCallEvent is an append-only log entry tied to exactly one call.
// Events are never updated or deleted after insert.
type VoiceCallEvent struct {
	ID          uuid.UUID      `json:"id"`
	VoiceCallID uuid.UUID      `json:"voice_call_id"`
	EventType   string         `json:"event_type"`
	EventData   map[string]any `json:"event_data,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// Event types recorded by the orchestrator and the media relay.
const (
	EventCallInitiated          = "call.initiated"
	EventCallRinging            = "call.ringing"
	EventCallInProgress         = "call.in_progress"
	EventCallCompleted          = "call.completed"
	EventCallFailed             = "call.failed"
	EventRecordingAvailable     = "call.recording_available"
	EventStreamStarted          = "stream.started"
	EventStreamStopped          = "stream.stopped"
	EventSessionConfigured      = "session.configured"
	EventSessionBootstrapFailed = "session.bootstrap_failed"
	EventSessionError           = "session.error"
)

// StatusEventType maps an applied status transition to its event type.
func StatusEventType(s CallStatus) string {
	switch s {
	case StatusInitiated:
		return EventCallInitiated
	case StatusRinging:
		return EventCallRinging
	case StatusInProgress:
		return EventCallInProgress
	case StatusCompleted:
		return EventCallCompleted
	case StatusFailed:
		return EventCallFailed
	case StatusRecordingAvailable:
		return EventRecordingAvailable
	}
	return "call.status_changed"
}
