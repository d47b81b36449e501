package session

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zeeeepa/attune-ai-sub002/internal/audit"
	"github.com/Zeeeepa/attune-ai-sub002/internal/shortterm"
	"github.com/Zeeeepa/attune-ai-sub002/internal/substrate"
	"github.com/Zeeeepa/attune-ai-sub002/internal/types"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type coordHarness struct {
	coord   *Coordinator
	store   *shortterm.Store
	auditor *audit.Logger
	clock   *testClock
}

func newCoordHarness(t *testing.T) *coordHarness {
	t.Helper()

	clock := &testClock{now: time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)}
	sub := substrate.NewLocalSubstrateWithClock(clock.Now)
	store := shortterm.NewStore(sub, shortterm.DefaultTTLConfig(), nil, true).WithClock(clock.Now)
	auditor := audit.NewLogger(audit.NewMemoryStore(), nil)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	coord := NewCoordinator(sub, store, auditor, logger).WithClock(clock.Now)
	return &coordHarness{coord: coord, store: store, auditor: auditor, clock: clock}
}

func TestCoordinator_RegisterAndHeartbeat(t *testing.T) {
	h := newCoordHarness(t)
	ctx := context.Background()

	info, err := h.coord.RegisterSession(ctx, "session-1", "agent-a")
	require.NoError(t, err)
	assert.Equal(t, "session-1", info.SessionID)
	assert.Equal(t, "agent-a", info.AgentID)

	active, err := h.coord.ListActiveSessions(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)

	// Heartbeats inside the window keep the session active past its TTL.
	h.clock.Advance(20 * time.Minute)
	require.NoError(t, h.coord.Heartbeat(ctx, "session-1"))
	h.clock.Advance(20 * time.Minute)

	active, err = h.coord.ListActiveSessions(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)

	// Silence for more than the session TTL drops it from the active list.
	h.clock.Advance(31 * time.Minute)
	active, err = h.coord.ListActiveSessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestCoordinator_HeartbeatUnknownSession(t *testing.T) {
	h := newCoordHarness(t)

	err := h.coord.Heartbeat(context.Background(), "never-registered")
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.SESSION_NOT_FOUND))
}

func TestCoordinator_RegisterRequiresIDs(t *testing.T) {
	h := newCoordHarness(t)

	_, err := h.coord.RegisterSession(context.Background(), "", "agent-a")
	require.Error(t, err)
	_, err = h.coord.RegisterSession(context.Background(), "session-1", "")
	require.Error(t, err)
}

func TestCoordinator_ReapAbandonedReleasesStagedPatterns(t *testing.T) {
	h := newCoordHarness(t)
	ctx := context.Background()

	_, err := h.coord.RegisterSession(ctx, "session-1", "agent-a")
	require.NoError(t, err)

	patternID := types.NewID()
	require.NoError(t, h.store.Stage(ctx, shortterm.StagedPattern{
		PatternID:   patternID,
		AgentID:     "agent-a",
		SessionID:   "session-1",
		PatternType: "error-handling",
		Name:        "retry with backoff",
		Description: "wrap transient failures in exponential backoff",
		Confidence:  0.9,
	}))

	// Not yet abandoned at just under 2x the session TTL.
	h.clock.Advance(59 * time.Minute)
	reclaimed, err := h.coord.ReapAbandoned(ctx)
	require.NoError(t, err)
	assert.Empty(t, reclaimed)

	h.clock.Advance(2 * time.Minute)
	reclaimed, err = h.coord.ReapAbandoned(ctx)
	require.NoError(t, err)
	require.Len(t, reclaimed, 1)
	assert.Equal(t, patternID, reclaimed[0])

	// The pattern is still staged but no longer owned by the dead session.
	pattern, found, err := h.store.GetStaged(ctx, patternID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, ReclaimedOwner, pattern.AgentID)
	assert.Empty(t, pattern.SessionID)

	// One reclaim entry plus one reap entry, chained.
	valid, _, err := h.auditor.VerifyAll(ctx)
	require.NoError(t, err)
	assert.True(t, valid)

	count, err := h.auditor.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	// The session record itself is gone.
	require.Error(t, h.coord.Heartbeat(ctx, "session-1"))

	// Reaping again finds nothing.
	reclaimed, err = h.coord.ReapAbandoned(ctx)
	require.NoError(t, err)
	assert.Empty(t, reclaimed)
}

func TestCoordinator_SessionRecordOutlivesAbandonmentThreshold(t *testing.T) {
	h := newCoordHarness(t)
	ctx := context.Background()

	_, err := h.coord.RegisterSession(ctx, "session-1", "agent-a")
	require.NoError(t, err)

	// Past 2x the session TTL the session is abandoned, not expired. The
	// record must still be readable or the reaper could never reclaim it.
	h.clock.Advance(2*h.coord.sessionTTL + time.Minute)
	sessions, err := h.coord.listSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)

	reclaimed, err := h.coord.ReapAbandoned(ctx)
	require.NoError(t, err)
	assert.Empty(t, reclaimed) // nothing staged, but the session is swept

	sessions, err = h.coord.listSessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestCoordinator_ReapSkipsLiveSessions(t *testing.T) {
	h := newCoordHarness(t)
	ctx := context.Background()

	_, err := h.coord.RegisterSession(ctx, "live", "agent-a")
	require.NoError(t, err)
	_, err = h.coord.RegisterSession(ctx, "dead", "agent-b")
	require.NoError(t, err)

	h.clock.Advance(50 * time.Minute)
	require.NoError(t, h.coord.Heartbeat(ctx, "live"))
	h.clock.Advance(15 * time.Minute)

	_, err = h.coord.ReapAbandoned(ctx)
	require.NoError(t, err)

	require.NoError(t, h.coord.Heartbeat(ctx, "live"))
	assert.Error(t, h.coord.Heartbeat(ctx, "dead"))
}

func TestCoordinator_AuditExpiredStaged(t *testing.T) {
	h := newCoordHarness(t)
	ctx := context.Background()

	patternID := types.NewID()
	require.NoError(t, h.store.Stage(ctx, shortterm.StagedPattern{
		PatternID:   patternID,
		AgentID:     "agent-a",
		SessionID:   "session-1",
		PatternType: "error-handling",
		Name:        "retry with backoff",
		Description: "wrap transient failures in exponential backoff",
		Confidence:  0.9,
	}))

	// Let the staged key run out its 24h TTL without promotion.
	h.clock.Advance(24*time.Hour + time.Minute)

	audited, err := h.coord.AuditExpiredStaged(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, audited)

	events, err := h.auditor.Events(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, audit.ActionExpire, events[0].Action)
	assert.Equal(t, patternID.String(), events[0].ResourceID)

	// The index entry is cleared; a second pass audits nothing.
	audited, err = h.coord.AuditExpiredStaged(ctx)
	require.NoError(t, err)
	assert.Zero(t, audited)
}

func TestCoordinator_AuditExpiredStagedSkipsInFlightPromotion(t *testing.T) {
	h := newCoordHarness(t)
	ctx := context.Background()

	patternID := types.NewID()
	require.NoError(t, h.store.Stage(ctx, shortterm.StagedPattern{
		PatternID:   patternID,
		AgentID:     "agent-a",
		SessionID:   "session-1",
		PatternType: "error-handling",
		Name:        "retry with backoff",
		Description: "wrap transient failures in exponential backoff",
		Confidence:  0.9,
	}))

	// A promoter holds the claim between taking the staged key and
	// clearing the index. The watcher must not audit this as an expiry or
	// drop the index entry out from under the promoter.
	_, err := h.store.TakeStaged(ctx, patternID)
	require.NoError(t, err)

	audited, err := h.coord.AuditExpiredStaged(ctx)
	require.NoError(t, err)
	assert.Zero(t, audited)

	count, err := h.auditor.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	// The index entry is still there for the promoter to clear.
	ids, err := h.store.StagedBySession(ctx, "session-1")
	require.NoError(t, err)
	assert.Len(t, ids, 1)
}

func TestCoordinator_StartStop(t *testing.T) {
	h := newCoordHarness(t)

	h.coord.Start(10 * time.Millisecond)
	h.coord.Start(10 * time.Millisecond) // idempotent
	time.Sleep(30 * time.Millisecond)
	h.coord.Stop()
	h.coord.Stop() // idempotent
}
