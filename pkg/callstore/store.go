package callstore

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a call does not exist.
	ErrNotFound = errors.New("callstore: call not found")
	// ErrDuplicateCall is returned when a call id is inserted twice.
	ErrDuplicateCall = errors.New("callstore: call already exists")
)

// StatusUpdate carries the mutable fields applied on a status transition.
// Duration and cost are set together, once, on a terminal update that
// carries a duration.
type StatusUpdate struct {
	Status          CallStatus
	DurationSeconds *int
	CostCents       *int
}

// Store is the persistence contract for calls and their event log.
//
// Events are append-only: no update or delete methods exist by design.
// UpdateStatus is idempotent; re-applying the current status is a no-op
// and reports applied=false.
type Store interface {
	CreateCall(ctx context.Context, call *VoiceCall) error
	GetCall(ctx context.Context, id uuid.UUID) (*VoiceCall, error)
	GetCallByProviderID(ctx context.Context, providerCallID string) (*VoiceCall, error)
	ListCalls(ctx context.Context, organizationID string, limit, offset int) ([]*VoiceCall, error)

	// UpdateStatus applies a status transition. It reports applied=false
	// when the update is a duplicate or would regress the status; the row
	// is left untouched in that case.
	UpdateStatus(ctx context.Context, id uuid.UUID, update StatusUpdate) (applied bool, err error)

	// SetRecordingURL attaches a recording URL after completion.
	SetRecordingURL(ctx context.Context, id uuid.UUID, url string) error

	AppendEvent(ctx context.Context, event *VoiceCallEvent) error

	// ListEvents returns all events for a call, ordered by timestamp ascending.
	ListEvents(ctx context.Context, callID uuid.UUID) ([]*VoiceCallEvent, error)
}
