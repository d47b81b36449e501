package mgmt

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zeeeepa/attune-ai-sub002/internal/access"
	"github.com/Zeeeepa/attune-ai-sub002/internal/audit"
	"github.com/Zeeeepa/attune-ai-sub002/internal/crypto"
	"github.com/Zeeeepa/attune-ai-sub002/internal/longterm"
	"github.com/Zeeeepa/attune-ai-sub002/internal/memory"
	"github.com/Zeeeepa/attune-ai-sub002/internal/scrub"
	"github.com/Zeeeepa/attune-ai-sub002/internal/shortterm"
	"github.com/Zeeeepa/attune-ai-sub002/internal/substrate"
	"github.com/Zeeeepa/attune-ai-sub002/internal/types"
)

var (
	observer  = types.AgentCredential{AgentID: "observer-1", Tier: types.TierObserver}
	validator = types.AgentCredential{AgentID: "validator-1", Tier: types.TierValidator}
	steward   = types.AgentCredential{AgentID: "steward-1", Tier: types.TierSteward}
)

type svcHarness struct {
	svc        *Service
	mem        *memory.UnifiedMemory
	vault      *longterm.Store
	auditStore *audit.MemoryStore
	auditor    *audit.Logger
}

func newService(t *testing.T) *svcHarness {
	t.Helper()

	sub := substrate.NewLocalSubstrate()
	short := shortterm.NewStore(sub, shortterm.DefaultTTLConfig(), nil, true)

	vault, err := longterm.Open(filepath.Join(t.TempDir(), "vault.db"))
	require.NoError(t, err)
	t.Cleanup(func() { vault.Close() })

	auditStore := audit.NewMemoryStore()
	auditor := audit.NewLogger(auditStore, scrub.NewDefaultClassifier().Redactor())

	ring, err := crypto.NewKeyRing("k1", []byte("test-master-secret-32-bytes-long"))
	require.NoError(t, err)
	encryptor := crypto.NewManager(ring)

	gate := access.NewController()
	mem, err := memory.New(memory.Deps{
		Gate:       gate,
		Short:      short,
		Vault:      vault,
		Classifier: scrub.NewDefaultClassifier(),
		Encryptor:  encryptor,
		Auditor:    auditor,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)

	svc := NewService(mem, short, vault, auditor, gate, encryptor,
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	return &svcHarness{svc: svc, mem: mem, vault: vault, auditStore: auditStore, auditor: auditor}
}

func (h *svcHarness) persist(t *testing.T, content string, requested types.Classification) memory.PersistResult {
	t.Helper()
	result, err := h.mem.PersistPattern(context.Background(), steward, memory.PersistRequest{
		Content:     content,
		PatternType: "error-handling",
		Name:        "fixture",
		Confidence:  0.8,
		Requested:   requested,
	})
	require.NoError(t, err)
	return result
}

func TestService_Status(t *testing.T) {
	h := newService(t)
	ctx := context.Background()

	h.persist(t, "plain content", types.ClassPublic)

	status, err := h.svc.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "local-fallback", status.SubstrateMode)
	assert.True(t, status.SubstrateReachable)
	assert.Equal(t, int64(1), status.PatternCounts["public"])
	assert.Equal(t, int64(1), status.AuditEvents)
}

func TestService_Statistics(t *testing.T) {
	h := newService(t)
	ctx := context.Background()

	require.NoError(t, h.mem.Stash(ctx, steward, "k", "v"))
	_, err := h.mem.StagePattern(ctx, steward, shortterm.StagedPattern{
		PatternType: "error-handling",
		Name:        "staged one",
		Confidence:  0.7,
	})
	require.NoError(t, err)
	h.persist(t, "plain content", types.ClassPublic)

	stats, err := h.svc.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.ShortTermCounts[shortterm.TTLWorking])
	assert.Equal(t, int64(1), stats.ShortTermCounts[shortterm.TTLStaged])
	assert.Positive(t, stats.StorageBytes)
	assert.Equal(t, 1, stats.StagedByAgent[steward.AgentID])
}

func TestService_ListPatternsNeverIncludesContent(t *testing.T) {
	h := newService(t)
	ctx := context.Background()

	h.persist(t, "plain content", types.ClassPublic)
	h.persist(t, `api_key = "sk-live-a1b2c3d4e5f6g7h8"`, types.ClassPublic)

	summaries, err := h.svc.ListPatterns(ctx, longterm.ListFilter{})
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	for _, summary := range summaries {
		assert.NotEmpty(t, summary.Name)
	}

	class := types.ClassSensitive
	sensitive, err := h.svc.ListPatterns(ctx, longterm.ListFilter{Classification: &class})
	require.NoError(t, err)
	require.Len(t, sensitive, 1)
	assert.True(t, sensitive[0].Encrypted)
}

func TestService_ExportContentRules(t *testing.T) {
	h := newService(t)
	ctx := context.Background()

	h.persist(t, "plain content", types.ClassPublic)
	secret := h.persist(t, `api_key = "sk-live-a1b2c3d4e5f6g7h8"`, types.ClassPublic)
	require.Equal(t, types.ClassSensitive, secret.Classification)

	// Default export: content for public, metadata only for sensitive.
	bundle, err := h.svc.ExportPatterns(ctx, validator, ExportRequest{})
	require.NoError(t, err)
	require.Len(t, bundle.Patterns, 2)
	for _, p := range bundle.Patterns {
		if p.Classification == types.ClassSensitive {
			assert.Empty(t, p.Content)
		} else {
			assert.Equal(t, "plain content", p.Content)
		}
	}

	// Sensitive export requires steward.
	_, err = h.svc.ExportPatterns(ctx, validator, ExportRequest{IncludeSensitive: true})
	assert.True(t, types.IsCode(err, types.PERMISSION_DENIED))

	bundle, err = h.svc.ExportPatterns(ctx, steward, ExportRequest{IncludeSensitive: true})
	require.NoError(t, err)
	found := false
	for _, p := range bundle.Patterns {
		if p.Classification == types.ClassSensitive {
			assert.Contains(t, p.Content, "sk-live")
			found = true
		}
	}
	assert.True(t, found)

	// Every export left an audit entry.
	count, err := h.auditor.Count(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, count, int64(4))
}

func TestService_HealthHealthy(t *testing.T) {
	h := newService(t)

	health := h.svc.HealthCheck(context.Background())
	// Local fallback substrate means degraded, never healthy.
	assert.Equal(t, types.HealthStateDegraded, health.State)
	assert.NotEmpty(t, health.Hints)
}

func TestService_HealthHardFailsOnBrokenAuditChain(t *testing.T) {
	h := newService(t)
	ctx := context.Background()

	h.persist(t, "plain content", types.ClassPublic)
	h.persist(t, "more content", types.ClassPublic)

	// Tamper with the first event's payload.
	require.True(t, h.auditStore.Tamper(0, func(e *audit.Event) {
		e.Payload = map[string]string{"classification": "forged"}
	}))

	health := h.svc.HealthCheck(ctx)
	assert.Equal(t, types.HealthStateUnhealthy, health.State)

	valid, broken, err := h.svc.VerifyAuditChain(ctx)
	require.NoError(t, err)
	assert.False(t, valid)
	assert.Equal(t, int64(0), broken)
}

func TestService_DeleteGoesThroughGate(t *testing.T) {
	h := newService(t)
	ctx := context.Background()

	result := h.persist(t, "plain content", types.ClassPublic)

	err := h.svc.DeletePattern(ctx, observer, result.PatternID)
	assert.True(t, types.IsCode(err, types.PERMISSION_DENIED))

	require.NoError(t, h.svc.DeletePattern(ctx, steward, result.PatternID))
}
