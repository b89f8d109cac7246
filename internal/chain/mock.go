package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/tumodex/perpd/internal/domain"
)

// MockSource is a scripted in-memory event source for the mock operating
// mode and for tests. Events are appended at explicit cursors and served
// back in insertion order.
type MockSource struct {
	mu     sync.Mutex
	head   uint64
	events map[domain.EventCategory][]scriptedEvent
}

type scriptedEvent struct {
	cursor uint64
	raw    domain.RawEvent
}

// NewMockSource creates an empty source with head cursor 0.
func NewMockSource() *MockSource {
	return &MockSource{events: make(map[domain.EventCategory][]scriptedEvent)}
}

// SetHead moves the head cursor. The head never moves backwards.
func (s *MockSource) SetHead(cursor uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cursor > s.head {
		s.head = cursor
	}
}

// Emit scripts one event at the given cursor, marshalling the payload to
// JSON, and advances the head to cover it.
func (s *MockSource) Emit(category domain.EventCategory, cursor uint64, txHash string, timestampMs int64, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("mock: marshal payload: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[category] = append(s.events[category], scriptedEvent{
		cursor: cursor,
		raw: domain.RawEvent{
			TxHash:      txHash,
			TimestampMs: timestampMs,
			Payload:     body,
		},
	})
	if cursor > s.head {
		s.head = cursor
	}
	return nil
}

// EmitRaw scripts one pre-encoded event at the given cursor.
func (s *MockSource) EmitRaw(category domain.EventCategory, cursor uint64, raw domain.RawEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[category] = append(s.events[category], scriptedEvent{cursor: cursor, raw: raw})
	if cursor > s.head {
		s.head = cursor
	}
}

// LatestCursor implements domain.EventSource.
func (s *MockSource) LatestCursor(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.head, nil
}

// QueryEvents implements domain.EventSource.
func (s *MockSource) QueryEvents(ctx context.Context, category domain.EventCategory, from, to uint64) ([]domain.RawEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.RawEvent
	for _, ev := range s.events[category] {
		if ev.cursor >= from && ev.cursor <= to {
			out = append(out, ev.raw)
		}
	}
	return out, nil
}
