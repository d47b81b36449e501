package shortterm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Zeeeepa/attune-ai-sub002/internal/substrate"
	"github.com/Zeeeepa/attune-ai-sub002/internal/types"
)

// Store is the short-term coordination store. It never evaluates access
// tiers itself; the facade gates every call before it reaches here. All
// mutations are single substrate round trips so concurrent callers and
// cancelled contexts cannot leave partial state behind.
type Store struct {
	sub      substrate.Substrate
	ttl      TTLConfig
	resolver *Resolver
	clock    func() time.Time
	degraded bool
}

// NewStore creates a Store over the given substrate. degraded records
// whether the substrate is the in-process fallback; the store keeps working
// either way, and the management surface reports the mode.
func NewStore(sub substrate.Substrate, ttl TTLConfig, resolver *Resolver, degraded bool) *Store {
	ttl.ApplyDefaults()
	if resolver == nil {
		resolver = NewResolver(nil, nil)
	}
	return &Store{
		sub:      sub,
		ttl:      ttl,
		resolver: resolver,
		clock:    time.Now,
		degraded: degraded,
	}
}

// WithClock replaces the store's time source for deterministic tests.
func (s *Store) WithClock(clock func() time.Time) *Store {
	s.clock = clock
	return s
}

// Degraded reports whether the store runs on the single-process fallback.
// In that mode signals and staged-pattern listing have single-agent scope.
func (s *Store) Degraded() bool {
	return s.degraded
}

// TTL returns the store's TTL configuration.
func (s *Store) TTL() TTLConfig {
	return s.ttl
}

// Put stores a working-memory value under the working TTL. The value is
// JSON-encoded; the resolution policy for the working namespace applies
// (last-write-wins by default, so a plain set).
func (s *Store) Put(ctx context.Context, agentID, key string, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode working value: %w", err)
	}

	strategy := s.resolver.StrategyFor(string(TTLWorking))
	if strategy == StrategyRejectSecond {
		won, err := s.sub.SetNX(ctx, nsWorking+key, encoded, s.ttl.Working)
		if err != nil {
			return err
		}
		if !won {
			return types.NewRetryableError(types.CONFLICT,
				fmt.Sprintf("working key %q already written by a concurrent agent", key))
		}
		return nil
	}

	return s.sub.Set(ctx, nsWorking+key, encoded, s.ttl.Working)
}

// Get reads a working-memory value into out. found=false after expiry.
func (s *Store) Get(ctx context.Context, key string, out any) (bool, error) {
	raw, found, err := s.sub.Get(ctx, nsWorking+key)
	if err != nil || !found {
		return false, err
	}
	if out == nil {
		return true, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("decode working value %q: %w", key, err)
	}
	return true, nil
}

// Delete removes a working-memory key.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	return s.sub.Delete(ctx, nsWorking+key)
}

// Stage places a pattern in the staging namespace under the staged TTL.
// The write is a SetNX: re-staging an existing pattern ID is rejected as a
// duplicate, never silently overwritten. The staging index (no TTL) tracks
// the entry so a later expiry can still be audited.
func (s *Store) Stage(ctx context.Context, pattern StagedPattern) error {
	if err := pattern.Validate(); err != nil {
		return err
	}
	if pattern.StagedAt.IsZero() {
		pattern.StagedAt = s.clock().UTC()
	}

	encoded, err := json.Marshal(pattern)
	if err != nil {
		return fmt.Errorf("encode staged pattern: %w", err)
	}

	won, err := s.sub.SetNX(ctx, nsStaged+pattern.PatternID.String(), encoded, s.ttl.Staged)
	if err != nil {
		return err
	}
	if !won {
		return types.NewError(types.DUPLICATE_PATTERN,
			fmt.Sprintf("pattern %s is already staged", pattern.PatternID))
	}

	indexEntry, err := json.Marshal(stagedIndexEntry{
		AgentID:   pattern.AgentID,
		SessionID: pattern.SessionID,
		Name:      pattern.Name,
		StagedAt:  pattern.StagedAt,
	})
	if err != nil {
		return fmt.Errorf("encode staged index entry: %w", err)
	}
	return s.sub.HSet(ctx, stagedIndex, pattern.PatternID.String(), indexEntry)
}

// GetStaged reads a staged pattern without claiming it.
func (s *Store) GetStaged(ctx context.Context, id types.ID) (StagedPattern, bool, error) {
	raw, found, err := s.sub.Get(ctx, nsStaged+id.String())
	if err != nil || !found {
		return StagedPattern{}, false, err
	}

	var pattern StagedPattern
	if err := json.Unmarshal(raw, &pattern); err != nil {
		return StagedPattern{}, false, fmt.Errorf("decode staged pattern %s: %w", id, err)
	}
	return pattern, true, nil
}

// ListStaged returns staged patterns matching the filter.
func (s *Store) ListStaged(ctx context.Context, filter StagedFilter) ([]StagedPattern, error) {
	keys, err := s.sub.Keys(ctx, nsStaged)
	if err != nil {
		return nil, err
	}

	patterns := make([]StagedPattern, 0, len(keys))
	for _, key := range keys {
		raw, found, err := s.sub.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if !found {
			continue // expired between scan and read
		}

		var pattern StagedPattern
		if err := json.Unmarshal(raw, &pattern); err != nil {
			return nil, fmt.Errorf("decode staged pattern at %s: %w", key, err)
		}
		if filter.matches(pattern) {
			patterns = append(patterns, pattern)
		}
	}
	return patterns, nil
}

// TakeStaged atomically claims a staged pattern for promotion or rejection.
// Exactly one of any set of concurrent claimants observes the pattern; the
// rest get PATTERN_NOT_STAGED and must check the long-term store before
// treating it as an error.
func (s *Store) TakeStaged(ctx context.Context, id types.ID) (StagedPattern, error) {
	raw, found, err := s.sub.GetDel(ctx, nsStaged+id.String())
	if err != nil {
		return StagedPattern{}, err
	}
	if !found {
		return StagedPattern{}, types.NewRetryableError(types.PATTERN_NOT_STAGED,
			fmt.Sprintf("pattern %s is not in staging", id))
	}

	var pattern StagedPattern
	if err := json.Unmarshal(raw, &pattern); err != nil {
		return StagedPattern{}, fmt.Errorf("decode staged pattern %s: %w", id, err)
	}
	return pattern, nil
}

// Restage puts a claimed pattern back, refreshing its TTL. The facade uses
// this to roll a claim back when the audit append for the mutation fails.
func (s *Store) Restage(ctx context.Context, pattern StagedPattern) error {
	encoded, err := json.Marshal(pattern)
	if err != nil {
		return fmt.Errorf("encode staged pattern: %w", err)
	}
	return s.sub.Set(ctx, nsStaged+pattern.PatternID.String(), encoded, s.ttl.Staged)
}

// ClearStagedIndex removes a pattern from the staging index once its exit
// (promotion, rejection, audited expiry) is recorded.
func (s *Store) ClearStagedIndex(ctx context.Context, id types.ID) error {
	return s.sub.HDel(ctx, stagedIndex, id.String())
}

// ReassignStaged rewrites a staged pattern's author. The session reaper uses
// this to release patterns owned by abandoned sessions.
func (s *Store) ReassignStaged(ctx context.Context, id types.ID, newAgentID string) error {
	pattern, found, err := s.GetStaged(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return types.NewError(types.PATTERN_NOT_STAGED,
			fmt.Sprintf("pattern %s is not in staging", id))
	}

	pattern.AgentID = newAgentID
	pattern.SessionID = ""
	return s.Restage(ctx, pattern)
}

// ExpiredStaged compares the staging index against live staged keys and
// returns the entries whose keys expired without promotion or rejection.
// The caller audits each and then clears it from the index, keeping the
// invariant that a staged pattern never vanishes silently. A missing key
// whose staged TTL has not yet run out is not an expiry: a promoter holds
// the claim between TakeStaged and ClearStagedIndex, and reporting that
// window would audit a pattern as expired while it lands in the vault.
func (s *Store) ExpiredStaged(ctx context.Context) (map[types.ID]StagedPattern, error) {
	index, err := s.sub.HGetAll(ctx, stagedIndex)
	if err != nil {
		return nil, err
	}

	now := s.clock().UTC()
	expired := make(map[types.ID]StagedPattern)
	for idStr, rawEntry := range index {
		id := types.ID(idStr)
		_, live, err := s.sub.Get(ctx, nsStaged+idStr)
		if err != nil {
			return nil, err
		}
		if live {
			continue
		}

		var entry stagedIndexEntry
		if err := json.Unmarshal(rawEntry, &entry); err != nil {
			return nil, fmt.Errorf("decode staged index entry %s: %w", idStr, err)
		}
		if now.Before(entry.StagedAt.Add(s.ttl.Staged)) {
			continue
		}
		expired[id] = StagedPattern{
			PatternID: id,
			AgentID:   entry.AgentID,
			SessionID: entry.SessionID,
			Name:      entry.Name,
			StagedAt:  entry.StagedAt,
		}
	}
	return expired, nil
}

// StagedBySession returns the IDs of staged patterns owned by a session,
// from the index (which survives key expiry).
func (s *Store) StagedBySession(ctx context.Context, sessionID string) ([]types.ID, error) {
	index, err := s.sub.HGetAll(ctx, stagedIndex)
	if err != nil {
		return nil, err
	}

	var ids []types.ID
	for idStr, rawEntry := range index {
		var entry stagedIndexEntry
		if err := json.Unmarshal(rawEntry, &entry); err != nil {
			return nil, fmt.Errorf("decode staged index entry %s: %w", idStr, err)
		}
		if entry.SessionID == sessionID {
			ids = append(ids, types.ID(idStr))
		}
	}
	return ids, nil
}

// SendSignal delivers a signal under the signal TTL. With a target it lands
// on the target's queue; without one it lands on the shared broadcast queue.
func (s *Store) SendSignal(ctx context.Context, signal Signal) (Signal, error) {
	if signal.Type == "" {
		return Signal{}, fmt.Errorf("signal requires a type")
	}
	if signal.SignalID.IsZero() {
		signal.SignalID = types.NewID()
	}
	if signal.SentAt.IsZero() {
		signal.SentAt = s.clock().UTC()
	}

	slot := signal.Target
	if slot == "" {
		slot = broadcastSlot
	}

	encoded, err := json.Marshal(signal)
	if err != nil {
		return Signal{}, fmt.Errorf("encode signal: %w", err)
	}

	if err := s.sub.Push(ctx, nsSignal+slot, encoded, s.ttl.Signal); err != nil {
		return Signal{}, err
	}
	return signal, nil
}

// PollSignals drains the agent's queue plus the broadcast queue, optionally
// filtered by type. Draining is atomic per queue: each signal is delivered
// to at most one poll.
func (s *Store) PollSignals(ctx context.Context, agentID, typeFilter string) ([]Signal, error) {
	var signals []Signal

	for _, slot := range []string{agentID, broadcastSlot} {
		items, err := s.sub.Drain(ctx, nsSignal+slot)
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			var signal Signal
			if err := json.Unmarshal(item, &signal); err != nil {
				return nil, fmt.Errorf("decode signal: %w", err)
			}
			if typeFilter != "" && signal.Type != typeFilter {
				// Filtered-out signals are not requeued; polls consume their
				// queue. Callers wanting selective consumption poll untyped.
				continue
			}
			signals = append(signals, signal)
		}
	}
	return signals, nil
}

// SnapshotSession stores a session snapshot under the session TTL. When the
// session namespace's policy is merge and a snapshot already exists, the two
// are merged additively via a compare-and-swap loop, so concurrent
// snapshotters writing disjoint fields both land.
func (s *Store) SnapshotSession(ctx context.Context, sessionID string, state map[string]any) error {
	encoded, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode session snapshot: %w", err)
	}

	key := nsSession + "snap:" + sessionID
	if s.resolver.StrategyFor(string(TTLSession)) != StrategyMerge {
		return s.sub.Set(ctx, key, encoded, s.ttl.Session)
	}

	for attempt := 0; attempt < 8; attempt++ {
		current, found, err := s.sub.Get(ctx, key)
		if err != nil {
			return err
		}
		if !found {
			won, err := s.sub.SetNX(ctx, key, encoded, s.ttl.Session)
			if err != nil {
				return err
			}
			if won {
				return nil
			}
			continue // lost the initial write, merge with the winner
		}

		resolution, err := s.resolver.Resolve(string(TTLSession), ConflictContext{
			Key:     key,
			WriterA: "stored",
			WriterB: sessionID,
			ValueA:  current,
			ValueB:  encoded,
		})
		if err != nil {
			return err
		}

		swapped, err := s.sub.CompareAndSwap(ctx, key, current, resolution.Winner, s.ttl.Session)
		if err != nil {
			return err
		}
		if swapped {
			return nil
		}
	}

	return types.NewRetryableError(types.CONFLICT,
		fmt.Sprintf("session snapshot %s contended beyond retry budget", sessionID))
}

// RestoreSession reads a session snapshot. found=false once the session TTL
// has expired it.
func (s *Store) RestoreSession(ctx context.Context, sessionID string) (map[string]any, bool, error) {
	raw, found, err := s.sub.Get(ctx, nsSession+"snap:"+sessionID)
	if err != nil || !found {
		return nil, false, err
	}

	var state map[string]any
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, false, fmt.Errorf("decode session snapshot %s: %w", sessionID, err)
	}
	return state, true, nil
}

// Counts returns live key counts per TTL class for the statistics surface.
func (s *Store) Counts(ctx context.Context) (map[TTLClass]int64, error) {
	counts := make(map[TTLClass]int64, 4)
	for class, prefix := range map[TTLClass]string{
		TTLWorking: nsWorking,
		TTLStaged:  nsStaged,
		TTLSignal:  nsSignal,
		TTLSession: nsSession,
	} {
		count, err := s.sub.CountPrefix(ctx, prefix)
		if err != nil {
			return nil, err
		}
		counts[class] = count
	}
	return counts, nil
}

// ClearAll removes every short-term key. Steward-gated at the facade.
func (s *Store) ClearAll(ctx context.Context) error {
	for _, prefix := range []string{nsWorking, nsStaged, nsSignal, nsSession} {
		keys, err := s.sub.Keys(ctx, prefix)
		if err != nil {
			return err
		}
		for _, key := range keys {
			if _, err := s.sub.Delete(ctx, key); err != nil {
				return err
			}
		}
	}

	index, err := s.sub.HGetAll(ctx, stagedIndex)
	if err != nil {
		return err
	}
	fields := make([]string, 0, len(index))
	for field := range index {
		fields = append(fields, field)
	}
	return s.sub.HDel(ctx, stagedIndex, fields...)
}

// Ping reports substrate reachability for the status surface.
func (s *Store) Ping(ctx context.Context) error {
	return s.sub.Ping(ctx)
}
