package audit

import (
	"context"
	"sync"
)

// Store persists the ordered event chain. Seq is assigned by the store,
// starting at 0, dense and strictly increasing.
type Store interface {
	// Append stores the event and returns its assigned sequence number.
	Append(ctx context.Context, event Event) (int64, error)

	// Last returns the most recent event, or ok=false on an empty log.
	Last(ctx context.Context) (Event, bool, error)

	// Range returns events with from <= Seq <= to, ordered by Seq.
	Range(ctx context.Context, from, to int64) ([]Event, error)

	// Count returns the number of stored events.
	Count(ctx context.Context) (int64, error)

	// Close releases store resources.
	Close() error
}

// MemoryStore is an in-process Store used by tests and by deployments that
// trade durability for zero setup (the daemon defaults to SQLite).
type MemoryStore struct {
	mu     sync.RWMutex
	events []Event
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Append stores the event and returns its sequence number.
func (s *MemoryStore) Append(_ context.Context, event Event) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	event.Seq = int64(len(s.events))
	s.events = append(s.events, event)
	return event.Seq, nil
}

// Last returns the most recent event.
func (s *MemoryStore) Last(_ context.Context) (Event, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.events) == 0 {
		return Event{}, false, nil
	}
	return s.events[len(s.events)-1], true, nil
}

// Range returns events in [from, to].
func (s *MemoryStore) Range(_ context.Context, from, to int64) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if from < 0 {
		from = 0
	}
	if to >= int64(len(s.events)) {
		to = int64(len(s.events)) - 1
	}
	if from > to {
		return nil, nil
	}

	out := make([]Event, to-from+1)
	copy(out, s.events[from:to+1])
	return out, nil
}

// Count returns the number of events.
func (s *MemoryStore) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.events)), nil
}

// Close is a no-op for the in-process store.
func (s *MemoryStore) Close() error {
	return nil
}

// Tamper overwrites a stored event in place. Only tests use this, to prove
// that Verify detects modified history.
func (s *MemoryStore) Tamper(seq int64, mutate func(*Event)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seq < 0 || seq >= int64(len(s.events)) {
		return false
	}
	mutate(&s.events[seq])
	return true
}
