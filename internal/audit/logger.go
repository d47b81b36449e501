package audit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Zeeeepa/attune-ai-sub002/internal/types"
)

// Redactor rewrites payload values before they are stored, so raw secrets
// and PII never land in the audit log. A nil Redactor stores values as-is.
type Redactor func(string) string

// Logger appends hash-chained events to a Store and verifies chain
// integrity. Appends are serialized; the previous hash is cached so each
// append is a single store round trip.
type Logger struct {
	store    Store
	redact   Redactor
	clock    func() time.Time
	mu       sync.Mutex
	last     string
	primed   bool
	failures atomic.Int64
}

// NewLogger creates a Logger over the given store. The chain is primed from
// the store's last event so restarts continue the existing chain.
func NewLogger(store Store, redact Redactor) *Logger {
	return &Logger{
		store:  store,
		redact: redact,
		clock:  time.Now,
	}
}

// WithClock replaces the logger's time source. Tests use this for
// deterministic timestamps.
func (l *Logger) WithClock(clock func() time.Time) *Logger {
	l.clock = clock
	return l
}

// Append records one event. On store failure the chain state is untouched,
// AUDIT_WRITE_FAILED is returned, and the failure counter feeds the health
// surface; the caller must treat its triggering mutation as failed.
func (l *Logger) Append(ctx context.Context, actor, action, resourceID string, payload map[string]string) (Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.primed {
		last, ok, err := l.store.Last(ctx)
		if err != nil {
			l.failures.Add(1)
			return Event{}, types.WrapError(types.AUDIT_WRITE_FAILED, "prime audit chain", err)
		}
		if ok {
			l.last = last.Hash
		}
		l.primed = true
	}

	event := Event{
		EventID:    types.NewID(),
		Timestamp:  l.clock().UTC(),
		Actor:      actor,
		Action:     action,
		ResourceID: resourceID,
		Payload:    l.redacted(payload),
		PrevHash:   l.last,
	}

	hash, err := ComputeHash(event)
	if err != nil {
		l.failures.Add(1)
		return Event{}, types.WrapError(types.AUDIT_WRITE_FAILED, "hash audit event", err)
	}
	event.Hash = hash

	seq, err := l.store.Append(ctx, event)
	if err != nil {
		l.failures.Add(1)
		return Event{}, types.WrapError(types.AUDIT_WRITE_FAILED, "append audit event", err)
	}

	event.Seq = seq
	l.last = event.Hash
	return event, nil
}

// Verify recomputes the chain over [from, to]. It returns true when every
// stored hash reproduces; otherwise false plus the sequence number of the
// first broken event. A from beyond the log start verifies the sub-chain
// anchored at the stored PrevHash of the first event in range.
func (l *Logger) Verify(ctx context.Context, from, to int64) (bool, int64, error) {
	events, err := l.store.Range(ctx, from, to)
	if err != nil {
		return false, 0, err
	}
	if len(events) == 0 {
		return true, 0, nil
	}

	prev := events[0].PrevHash
	if events[0].Seq == 0 && prev != "" {
		return false, 0, nil
	}

	expectedSeq := events[0].Seq
	for _, event := range events {
		// A missing event breaks the dense sequence.
		if event.Seq != expectedSeq {
			return false, expectedSeq, nil
		}
		expectedSeq++

		if event.PrevHash != prev {
			return false, event.Seq, nil
		}

		recomputed, err := ComputeHash(event)
		if err != nil {
			return false, event.Seq, err
		}
		if recomputed != event.Hash {
			return false, event.Seq, nil
		}
		prev = event.Hash
	}

	return true, 0, nil
}

// VerifyAll verifies the entire stored chain.
func (l *Logger) VerifyAll(ctx context.Context) (bool, int64, error) {
	count, err := l.store.Count(ctx)
	if err != nil {
		return false, 0, err
	}
	if count == 0 {
		return true, 0, nil
	}
	return l.Verify(ctx, 0, count-1)
}

// RequireIntact verifies the entire chain and returns an AUDIT_CHAIN_BROKEN
// error naming the first broken sequence when it does not reproduce.
func (l *Logger) RequireIntact(ctx context.Context) error {
	valid, broken, err := l.VerifyAll(ctx)
	if err != nil {
		return err
	}
	if !valid {
		return types.NewError(types.AUDIT_CHAIN_BROKEN,
			fmt.Sprintf("audit chain broken at sequence %d", broken))
	}
	return nil
}

// Count returns the number of stored events.
func (l *Logger) Count(ctx context.Context) (int64, error) {
	return l.store.Count(ctx)
}

// Events returns stored events in [from, to].
func (l *Logger) Events(ctx context.Context, from, to int64) ([]Event, error) {
	return l.store.Range(ctx, from, to)
}

// FailureCount returns how many appends have failed since startup. A
// non-zero count calls the audit guarantee into question and is surfaced by
// the health check.
func (l *Logger) FailureCount() int64 {
	return l.failures.Load()
}

func (l *Logger) redacted(payload map[string]string) map[string]string {
	if payload == nil || l.redact == nil {
		return payload
	}
	out := make(map[string]string, len(payload))
	for key, value := range payload {
		out[key] = l.redact(value)
	}
	return out
}
