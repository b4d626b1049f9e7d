package callstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store implementation used in tests and when no
// database is configured. It mirrors the idempotency semantics of the
// Postgres store.
type MemoryStore struct {
	mu     sync.RWMutex
	calls  map[uuid.UUID]*VoiceCall
	events []*VoiceCallEvent
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{calls: make(map[uuid.UUID]*VoiceCall)}
}

func (s *MemoryStore) CreateCall(ctx context.Context, call *VoiceCall) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.calls[call.ID]; exists {
		return ErrDuplicateCall
	}
	cp := *call
	s.calls[call.ID] = &cp
	return nil
}

func (s *MemoryStore) GetCall(ctx context.Context, id uuid.UUID) (*VoiceCall, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	call, ok := s.calls[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *call
	return &cp, nil
}

func (s *MemoryStore) GetCallByProviderID(ctx context.Context, providerCallID string) (*VoiceCall, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, call := range s.calls {
		if call.ProviderCallID == providerCallID && providerCallID != "" {
			cp := *call
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListCalls(ctx context.Context, organizationID string, limit, offset int) ([]*VoiceCall, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var calls []*VoiceCall
	for _, call := range s.calls {
		if organizationID != "" && call.OrganizationID != organizationID {
			continue
		}
		cp := *call
		calls = append(calls, &cp)
	}
	sort.Slice(calls, func(i, j int) bool {
		return calls[i].CreatedAt.After(calls[j].CreatedAt)
	})

	if offset >= len(calls) {
		return nil, nil
	}
	calls = calls[offset:]
	if len(calls) > limit {
		calls = calls[:limit]
	}
	return calls, nil
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, id uuid.UUID, update StatusUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	call, ok := s.calls[id]
	if !ok {
		return false, ErrNotFound
	}
	if update.Status == call.Status || update.Status.Rank() <= call.Status.Rank() {
		return false, nil
	}

	call.Status = update.Status
	if update.DurationSeconds != nil {
		call.DurationSeconds = update.DurationSeconds
	}
	if update.CostCents != nil {
		call.CostCents = update.CostCents
	}
	call.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *MemoryStore) SetRecordingURL(ctx context.Context, id uuid.UUID, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	call, ok := s.calls[id]
	if !ok {
		return ErrNotFound
	}
	call.RecordingURL = url
	call.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) AppendEvent(ctx context.Context, event *VoiceCallEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *event
	s.events = append(s.events, &cp)
	return nil
}

func (s *MemoryStore) ListEvents(ctx context.Context, callID uuid.UUID) ([]*VoiceCallEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var events []*VoiceCallEvent
	for _, event := range s.events {
		if event.VoiceCallID == callID {
			cp := *event
			events = append(events, &cp)
		}
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
	return events, nil
}
