package substrate

import (
	"bytes"
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// Clock abstracts time for TTL decisions. Tests inject a manual clock to
// exercise expiry deterministically.
type Clock func() time.Time

type localEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

func (e localEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// LocalSubstrate implements Substrate in process memory. It preserves the
// interface semantics of the Redis substrate (atomic round trips, TTL
// expiry) but its keyspace is visible to one process only: signals and
// staged-pattern listing degrade to single-agent scope.
type LocalSubstrate struct {
	mu     sync.Mutex
	clock  Clock
	kv     map[string]localEntry
	lists  map[string]localListEntry
	hashes map[string]map[string][]byte
}

type localListEntry struct {
	items     [][]byte
	expiresAt time.Time
}

func (e localListEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// NewLocalSubstrate creates an in-process substrate on the wall clock.
func NewLocalSubstrate() *LocalSubstrate {
	return NewLocalSubstrateWithClock(time.Now)
}

// NewLocalSubstrateWithClock creates an in-process substrate with an
// injected time source.
func NewLocalSubstrateWithClock(clock Clock) *LocalSubstrate {
	return &LocalSubstrate{
		clock:  clock,
		kv:     make(map[string]localEntry),
		lists:  make(map[string]localListEntry),
		hashes: make(map[string]map[string][]byte),
	}
}

// Name identifies the implementation.
func (l *LocalSubstrate) Name() string {
	return "local"
}

// Get returns the value for key, treating expired entries as absent.
func (l *LocalSubstrate) Get(_ context.Context, key string) ([]byte, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.liveEntry(key)
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), entry.value...), true, nil
}

// Set stores value with TTL.
func (l *LocalSubstrate) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.kv[key] = localEntry{
		value:     append([]byte(nil), value...),
		expiresAt: l.deadline(ttl),
	}
	return nil
}

// SetNX stores value only if key is absent (or expired).
func (l *LocalSubstrate) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.liveEntry(key); exists {
		return false, nil
	}

	l.kv[key] = localEntry{
		value:     append([]byte(nil), value...),
		expiresAt: l.deadline(ttl),
	}
	return true, nil
}

// CompareAndSwap swaps the value iff the current value equals old.
func (l *LocalSubstrate) CompareAndSwap(_ context.Context, key string, old, new []byte, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.liveEntry(key)
	if !ok || !bytes.Equal(entry.value, old) {
		return false, nil
	}

	l.kv[key] = localEntry{
		value:     append([]byte(nil), new...),
		expiresAt: l.deadline(ttl),
	}
	return true, nil
}

// GetDel atomically reads and deletes key.
func (l *LocalSubstrate) GetDel(_ context.Context, key string) ([]byte, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.liveEntry(key)
	if !ok {
		return nil, false, nil
	}
	delete(l.kv, key)
	return entry.value, true, nil
}

// Delete removes key.
func (l *LocalSubstrate) Delete(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, ok := l.liveEntry(key)
	delete(l.kv, key)
	return ok, nil
}

// Keys lists live keys with the given prefix, sorted for determinism.
func (l *LocalSubstrate) Keys(_ context.Context, prefix string) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	var keys []string
	for key, entry := range l.kv {
		if strings.HasPrefix(key, prefix) && !entry.expired(now) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// CountPrefix counts live keys with the given prefix.
func (l *LocalSubstrate) CountPrefix(ctx context.Context, prefix string) (int64, error) {
	keys, err := l.Keys(ctx, prefix)
	if err != nil {
		return 0, err
	}
	return int64(len(keys)), nil
}

// Push appends to the list at key and refreshes its TTL.
func (l *LocalSubstrate) Push(_ context.Context, key string, value []byte, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	entry := l.lists[key]
	if entry.expired(now) {
		entry = localListEntry{}
	}

	entry.items = append(entry.items, append([]byte(nil), value...))
	entry.expiresAt = l.deadline(ttl)
	l.lists[key] = entry
	return nil
}

// Drain atomically reads and clears the list at key.
func (l *LocalSubstrate) Drain(_ context.Context, key string) ([][]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.lists[key]
	delete(l.lists, key)
	if !ok || entry.expired(l.clock()) {
		return nil, nil
	}
	return entry.items, nil
}

// HSet sets one hash field.
func (l *LocalSubstrate) HSet(_ context.Context, key, field string, value []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	hash, ok := l.hashes[key]
	if !ok {
		hash = make(map[string][]byte)
		l.hashes[key] = hash
	}
	hash[field] = append([]byte(nil), value...)
	return nil
}

// HGetAll returns every field of the hash at key.
func (l *LocalSubstrate) HGetAll(_ context.Context, key string) (map[string][]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[string][]byte, len(l.hashes[key]))
	for field, value := range l.hashes[key] {
		out[field] = append([]byte(nil), value...)
	}
	return out, nil
}

// HDel removes hash fields.
func (l *LocalSubstrate) HDel(_ context.Context, key string, fields ...string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	hash, ok := l.hashes[key]
	if !ok {
		return nil
	}
	for _, field := range fields {
		delete(hash, field)
	}
	if len(hash) == 0 {
		delete(l.hashes, key)
	}
	return nil
}

// Ping always succeeds for the in-process substrate.
func (l *LocalSubstrate) Ping(_ context.Context) error {
	return nil
}

// Close drops all state.
func (l *LocalSubstrate) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.kv = make(map[string]localEntry)
	l.lists = make(map[string]localListEntry)
	l.hashes = make(map[string]map[string][]byte)
	return nil
}

// Sweep removes expired entries eagerly. The coordinator's background loop
// calls this so memory does not grow unbounded between reads.
func (l *LocalSubstrate) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	removed := 0
	for key, entry := range l.kv {
		if entry.expired(now) {
			delete(l.kv, key)
			removed++
		}
	}
	for key, entry := range l.lists {
		if entry.expired(now) {
			delete(l.lists, key)
			removed++
		}
	}
	return removed
}

// liveEntry returns the entry for key if present and unexpired, removing it
// lazily when expired. Callers must hold l.mu.
func (l *LocalSubstrate) liveEntry(key string) (localEntry, bool) {
	entry, ok := l.kv[key]
	if !ok {
		return localEntry{}, false
	}
	if entry.expired(l.clock()) {
		delete(l.kv, key)
		return localEntry{}, false
	}
	return entry, true
}

func (l *LocalSubstrate) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return l.clock().Add(ttl)
}
