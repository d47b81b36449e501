package shortterm

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zeeeepa/attune-ai-sub002/internal/substrate"
	"github.com/Zeeeepa/attune-ai-sub002/internal/types"
)

type storeHarness struct {
	name    string
	store   *Store
	advance func(time.Duration)
}

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

func storeHarnesses(t *testing.T) []storeHarness {
	t.Helper()

	clock := &testClock{now: time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)}
	local := NewStore(substrate.NewLocalSubstrateWithClock(clock.Now), DefaultTTLConfig(), nil, true).
		WithClock(clock.Now)

	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	redisStore := NewStore(substrate.NewRedisSubstrateFromClient(client), DefaultTTLConfig(), nil, false).
		WithClock(clock.Now)

	return []storeHarness{
		{name: "local", store: local, advance: clock.Advance},
		{name: "redis", store: redisStore, advance: func(d time.Duration) {
			clock.Advance(d)
			server.FastForward(d)
		}},
	}
}

func testPattern(id types.ID) StagedPattern {
	return StagedPattern{
		PatternID:   id,
		AgentID:     "agent-a",
		SessionID:   "session-1",
		PatternType: "error-handling",
		Name:        "retry with backoff",
		Description: "wrap transient failures in exponential backoff",
		Confidence:  0.9,
	}
}

func TestStore_PutGetWithWorkingTTL(t *testing.T) {
	for _, h := range storeHarnesses(t) {
		t.Run(h.name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, h.store.Put(ctx, "agent-a", "current-chapter", "chapter-3"))

			var value string
			found, err := h.store.Get(ctx, "current-chapter", &value)
			require.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, "chapter-3", value)

			// Working keys expire after an hour.
			h.advance(time.Hour + time.Minute)

			found, err = h.store.Get(ctx, "current-chapter", &value)
			require.NoError(t, err)
			assert.False(t, found)
		})
	}
}

func TestStore_StageRejectsDuplicateID(t *testing.T) {
	for _, h := range storeHarnesses(t) {
		t.Run(h.name, func(t *testing.T) {
			ctx := context.Background()
			id := types.NewID()

			require.NoError(t, h.store.Stage(ctx, testPattern(id)))

			err := h.store.Stage(ctx, testPattern(id))
			require.Error(t, err)
			assert.True(t, types.IsCode(err, types.DUPLICATE_PATTERN))

			// The first write is untouched.
			stored, found, err := h.store.GetStaged(ctx, id)
			require.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, "agent-a", stored.AgentID)
		})
	}
}

func TestStore_StageValidation(t *testing.T) {
	store := storeHarnesses(t)[0].store

	bad := testPattern(types.NewID())
	bad.Confidence = 1.5
	assert.Error(t, store.Stage(context.Background(), bad))

	missing := testPattern(types.NewID())
	missing.AgentID = ""
	assert.Error(t, store.Stage(context.Background(), missing))
}

func TestStore_ListStagedFilters(t *testing.T) {
	for _, h := range storeHarnesses(t) {
		t.Run(h.name, func(t *testing.T) {
			ctx := context.Background()

			high := testPattern(types.NewID())
			low := testPattern(types.NewID())
			low.Confidence = 0.2
			low.PatternType = "tech-debt"
			low.AgentID = "agent-b"

			require.NoError(t, h.store.Stage(ctx, high))
			require.NoError(t, h.store.Stage(ctx, low))

			all, err := h.store.ListStaged(ctx, StagedFilter{})
			require.NoError(t, err)
			assert.Len(t, all, 2)

			confident, err := h.store.ListStaged(ctx, StagedFilter{MinConfidence: 0.5})
			require.NoError(t, err)
			require.Len(t, confident, 1)
			assert.Equal(t, high.PatternID, confident[0].PatternID)

			byType, err := h.store.ListStaged(ctx, StagedFilter{PatternType: "tech-debt"})
			require.NoError(t, err)
			require.Len(t, byType, 1)
			assert.Equal(t, low.PatternID, byType[0].PatternID)
		})
	}
}

func TestStore_TakeStagedExactlyOnce(t *testing.T) {
	for _, h := range storeHarnesses(t) {
		t.Run(h.name, func(t *testing.T) {
			ctx := context.Background()
			id := types.NewID()
			require.NoError(t, h.store.Stage(ctx, testPattern(id)))

			taken, err := h.store.TakeStaged(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, id, taken.PatternID)

			_, err = h.store.TakeStaged(ctx, id)
			require.Error(t, err)
			assert.True(t, types.IsCode(err, types.PATTERN_NOT_STAGED))
			assert.True(t, types.IsRetryable(err))
		})
	}
}

func TestStore_StagedExpiryIsTracked(t *testing.T) {
	for _, h := range storeHarnesses(t) {
		t.Run(h.name, func(t *testing.T) {
			ctx := context.Background()
			id := types.NewID()
			require.NoError(t, h.store.Stage(ctx, testPattern(id)))

			// Nothing expired yet.
			expired, err := h.store.ExpiredStaged(ctx)
			require.NoError(t, err)
			assert.Empty(t, expired)

			h.advance(24*time.Hour + time.Minute)

			expired, err = h.store.ExpiredStaged(ctx)
			require.NoError(t, err)
			require.Contains(t, expired, id)
			assert.Equal(t, "agent-a", expired[id].AgentID)

			// Once audited, the index entry is cleared and the expiry is no
			// longer reported.
			require.NoError(t, h.store.ClearStagedIndex(ctx, id))
			expired, err = h.store.ExpiredStaged(ctx)
			require.NoError(t, err)
			assert.Empty(t, expired)
		})
	}
}

func TestStore_InFlightClaimNotReportedExpired(t *testing.T) {
	for _, h := range storeHarnesses(t) {
		t.Run(h.name, func(t *testing.T) {
			ctx := context.Background()
			id := types.NewID()
			require.NoError(t, h.store.Stage(ctx, testPattern(id)))

			// A promoter has claimed the key but not yet cleared the index.
			// The key is gone yet the staged TTL has not run out, so the
			// entry must not be reported as an expiry.
			_, err := h.store.TakeStaged(ctx, id)
			require.NoError(t, err)

			expired, err := h.store.ExpiredStaged(ctx)
			require.NoError(t, err)
			assert.Empty(t, expired)

			// If the claim never completes, the entry surfaces once the TTL
			// genuinely elapses.
			h.advance(24*time.Hour + time.Minute)
			expired, err = h.store.ExpiredStaged(ctx)
			require.NoError(t, err)
			assert.Contains(t, expired, id)
		})
	}
}

func TestStore_PromotedPatternNotReportedExpired(t *testing.T) {
	for _, h := range storeHarnesses(t) {
		t.Run(h.name, func(t *testing.T) {
			ctx := context.Background()
			id := types.NewID()
			require.NoError(t, h.store.Stage(ctx, testPattern(id)))

			// Promotion claims the key and clears the index.
			_, err := h.store.TakeStaged(ctx, id)
			require.NoError(t, err)
			require.NoError(t, h.store.ClearStagedIndex(ctx, id))

			h.advance(25 * time.Hour)

			expired, err := h.store.ExpiredStaged(ctx)
			require.NoError(t, err)
			assert.Empty(t, expired)
		})
	}
}

func TestStore_SignalsTargetedAndBroadcast(t *testing.T) {
	for _, h := range storeHarnesses(t) {
		t.Run(h.name, func(t *testing.T) {
			ctx := context.Background()

			_, err := h.store.SendSignal(ctx, Signal{
				Type: "chapter-done", Sender: "agent-a", Target: "agent-b",
			})
			require.NoError(t, err)
			_, err = h.store.SendSignal(ctx, Signal{
				Type: "review-needed", Sender: "agent-a",
			})
			require.NoError(t, err)

			// agent-b sees its targeted signal plus the broadcast.
			signals, err := h.store.PollSignals(ctx, "agent-b", "")
			require.NoError(t, err)
			require.Len(t, signals, 2)

			// Polling again delivers nothing: queues drain atomically.
			signals, err = h.store.PollSignals(ctx, "agent-b", "")
			require.NoError(t, err)
			assert.Empty(t, signals)
		})
	}
}

func TestStore_SignalsExpireAtSignalTTL(t *testing.T) {
	for _, h := range storeHarnesses(t) {
		t.Run(h.name, func(t *testing.T) {
			ctx := context.Background()

			_, err := h.store.SendSignal(ctx, Signal{Type: "ping", Sender: "agent-a", Target: "agent-b"})
			require.NoError(t, err)

			h.advance(5*time.Minute + time.Second)

			signals, err := h.store.PollSignals(ctx, "agent-b", "")
			require.NoError(t, err)
			assert.Empty(t, signals, "signals are unreadable after five minutes")
		})
	}
}

func TestStore_SessionSnapshotMerge(t *testing.T) {
	for _, h := range storeHarnesses(t) {
		t.Run(h.name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, h.store.SnapshotSession(ctx, "s1", map[string]any{"chapter": "3"}))
			require.NoError(t, h.store.SnapshotSession(ctx, "s1", map[string]any{"reviewer": "agent-b"}))

			state, found, err := h.store.RestoreSession(ctx, "s1")
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, "3", state["chapter"])
			assert.Equal(t, "agent-b", state["reviewer"])

			h.advance(30*time.Minute + time.Second)

			_, found, err = h.store.RestoreSession(ctx, "s1")
			require.NoError(t, err)
			assert.False(t, found)
		})
	}
}

func TestStore_Counts(t *testing.T) {
	for _, h := range storeHarnesses(t) {
		t.Run(h.name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, h.store.Put(ctx, "agent-a", "k1", 1))
			require.NoError(t, h.store.Put(ctx, "agent-a", "k2", 2))
			require.NoError(t, h.store.Stage(ctx, testPattern(types.NewID())))

			counts, err := h.store.Counts(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(2), counts[TTLWorking])
			assert.Equal(t, int64(1), counts[TTLStaged])
			assert.Equal(t, int64(0), counts[TTLSignal])
		})
	}
}

func TestStore_ClearAll(t *testing.T) {
	for _, h := range storeHarnesses(t) {
		t.Run(h.name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, h.store.Put(ctx, "agent-a", "k1", 1))
			require.NoError(t, h.store.Stage(ctx, testPattern(types.NewID())))

			require.NoError(t, h.store.ClearAll(ctx))

			counts, err := h.store.Counts(ctx)
			require.NoError(t, err)
			for class, count := range counts {
				assert.Zero(t, count, "class %s should be empty", class)
			}

			expired, err := h.store.ExpiredStaged(ctx)
			require.NoError(t, err)
			assert.Empty(t, expired)
		})
	}
}
