package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/Zeeeepa/attune-ai-sub002/internal/shortterm"
	"github.com/Zeeeepa/attune-ai-sub002/internal/types"
)

// TestTracedMemory_PassThrough verifies the traced wrapper preserves the
// facade's behavior, including error propagation, span machinery aside.
func TestTracedMemory_PassThrough(t *testing.T) {
	h := newFacade(t)
	traced := NewTracedMemory(h.mem, noop.NewTracerProvider().Tracer("test"))
	ctx := context.Background()

	assert.Same(t, h.mem, traced.Unwrap())
	assert.True(t, traced.Degraded())

	require.NoError(t, traced.Stash(ctx, contributor, "k", "v"))

	var value string
	found, err := traced.Retrieve(ctx, observer, "k", &value)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v", value)

	require.NoError(t, traced.ShareContext(ctx, contributor, "shared-k", 42))
	var n int
	found, err = traced.GetSharedContext(ctx, observer, "shared-k", &n)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 42, n)

	_, err = traced.SendSignal(ctx, contributor, "ping", nil, "")
	require.NoError(t, err)
	signals, err := traced.ReceiveSignals(ctx, validator, "")
	require.NoError(t, err)
	assert.Len(t, signals, 1)

	require.NoError(t, traced.SnapshotSession(ctx, contributor, "s1", map[string]any{"a": "b"}))
	state, found, err := traced.RestoreSession(ctx, contributor, "s1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "b", state["a"])

	id, err := traced.StagePattern(ctx, contributor, stagedFixture())
	require.NoError(t, err)

	staged, err := traced.ListStaged(ctx, validator, shortterm.StagedFilter{})
	require.NoError(t, err)
	assert.Len(t, staged, 1)

	result, err := traced.PromotePattern(ctx, validator, id)
	require.NoError(t, err)
	assert.Equal(t, id, result.PatternID)

	recalled, err := traced.RecallPattern(ctx, observer, id)
	require.NoError(t, err)
	assert.NotEmpty(t, recalled.Plaintext)

	rejectID, err := traced.StagePattern(ctx, contributor, stagedFixture())
	require.NoError(t, err)
	require.NoError(t, traced.RejectPattern(ctx, validator, rejectID, "not useful"))

	persisted, err := traced.PersistPattern(ctx, contributor, PersistRequest{
		Content:     "plain content",
		PatternType: "process",
		Name:        "direct",
		Confidence:  0.7,
	})
	require.NoError(t, err)
	require.NoError(t, traced.DeletePattern(ctx, steward, persisted.PatternID))

	// Errors pass through untouched.
	err = traced.ClearShortTerm(ctx, observer)
	assert.True(t, types.IsCode(err, types.PERMISSION_DENIED))
	require.NoError(t, traced.ClearShortTerm(ctx, steward))
}
