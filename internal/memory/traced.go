package memory

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Zeeeepa/attune-ai-sub002/internal/shortterm"
	"github.com/Zeeeepa/attune-ai-sub002/internal/types"
)

// TracedMemory wraps a UnifiedMemory with OpenTelemetry tracing. Every
// facade operation gets one span named "vault.memory.{operation}" carrying
// the agent, tier, and resource attributes; errors are recorded on the span.
type TracedMemory struct {
	inner  *UnifiedMemory
	tracer trace.Tracer
}

// NewTracedMemory wraps the given facade with the given tracer.
func NewTracedMemory(inner *UnifiedMemory, tracer trace.Tracer) *TracedMemory {
	return &TracedMemory{inner: inner, tracer: tracer}
}

// Unwrap returns the underlying facade for surfaces that need it directly.
func (t *TracedMemory) Unwrap() *UnifiedMemory {
	return t.inner
}

// Degraded reports the substrate mode of the underlying facade.
func (t *TracedMemory) Degraded() bool {
	return t.inner.Degraded()
}

func (t *TracedMemory) start(ctx context.Context, op string, cred types.AgentCredential) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "vault.memory."+op)
	span.SetAttributes(
		attribute.String("vault.memory.operation", op),
		attribute.String("vault.agent.id", cred.AgentID),
		attribute.String("vault.agent.tier", cred.Tier.String()),
	)
	return ctx, span
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// Stash traces UnifiedMemory.Stash.
func (t *TracedMemory) Stash(ctx context.Context, cred types.AgentCredential, key string, value any) error {
	ctx, span := t.start(ctx, "stash", cred)
	span.SetAttributes(attribute.String("vault.memory.key", key))
	err := t.inner.Stash(ctx, cred, key, value)
	finish(span, err)
	return err
}

// Retrieve traces UnifiedMemory.Retrieve.
func (t *TracedMemory) Retrieve(ctx context.Context, cred types.AgentCredential, key string, out any) (bool, error) {
	ctx, span := t.start(ctx, "retrieve", cred)
	span.SetAttributes(attribute.String("vault.memory.key", key))
	found, err := t.inner.Retrieve(ctx, cred, key, out)
	span.SetAttributes(attribute.Bool("vault.memory.found", found))
	finish(span, err)
	return found, err
}

// ShareContext traces UnifiedMemory.ShareContext.
func (t *TracedMemory) ShareContext(ctx context.Context, cred types.AgentCredential, key string, value any) error {
	ctx, span := t.start(ctx, "share_context", cred)
	span.SetAttributes(attribute.String("vault.memory.key", key))
	err := t.inner.ShareContext(ctx, cred, key, value)
	finish(span, err)
	return err
}

// GetSharedContext traces UnifiedMemory.GetSharedContext.
func (t *TracedMemory) GetSharedContext(ctx context.Context, cred types.AgentCredential, key string, out any) (bool, error) {
	ctx, span := t.start(ctx, "get_shared_context", cred)
	span.SetAttributes(attribute.String("vault.memory.key", key))
	found, err := t.inner.GetSharedContext(ctx, cred, key, out)
	span.SetAttributes(attribute.Bool("vault.memory.found", found))
	finish(span, err)
	return found, err
}

// SendSignal traces UnifiedMemory.SendSignal.
func (t *TracedMemory) SendSignal(ctx context.Context, cred types.AgentCredential, signalType string, payload map[string]any, target string) (shortterm.Signal, error) {
	ctx, span := t.start(ctx, "send_signal", cred)
	span.SetAttributes(
		attribute.String("vault.signal.type", signalType),
		attribute.String("vault.signal.target", target),
	)
	signal, err := t.inner.SendSignal(ctx, cred, signalType, payload, target)
	finish(span, err)
	return signal, err
}

// ReceiveSignals traces UnifiedMemory.ReceiveSignals.
func (t *TracedMemory) ReceiveSignals(ctx context.Context, cred types.AgentCredential, typeFilter string) ([]shortterm.Signal, error) {
	ctx, span := t.start(ctx, "receive_signals", cred)
	signals, err := t.inner.ReceiveSignals(ctx, cred, typeFilter)
	span.SetAttributes(attribute.Int("vault.signal.count", len(signals)))
	finish(span, err)
	return signals, err
}

// SnapshotSession traces UnifiedMemory.SnapshotSession.
func (t *TracedMemory) SnapshotSession(ctx context.Context, cred types.AgentCredential, sessionID string, state map[string]any) error {
	ctx, span := t.start(ctx, "snapshot_session", cred)
	span.SetAttributes(attribute.String("vault.session.id", sessionID))
	err := t.inner.SnapshotSession(ctx, cred, sessionID, state)
	finish(span, err)
	return err
}

// RestoreSession traces UnifiedMemory.RestoreSession.
func (t *TracedMemory) RestoreSession(ctx context.Context, cred types.AgentCredential, sessionID string) (map[string]any, bool, error) {
	ctx, span := t.start(ctx, "restore_session", cred)
	span.SetAttributes(attribute.String("vault.session.id", sessionID))
	state, found, err := t.inner.RestoreSession(ctx, cred, sessionID)
	span.SetAttributes(attribute.Bool("vault.memory.found", found))
	finish(span, err)
	return state, found, err
}

// StagePattern traces UnifiedMemory.StagePattern.
func (t *TracedMemory) StagePattern(ctx context.Context, cred types.AgentCredential, pattern shortterm.StagedPattern) (types.ID, error) {
	ctx, span := t.start(ctx, "stage_pattern", cred)
	span.SetAttributes(attribute.String("vault.pattern.type", pattern.PatternType))
	id, err := t.inner.StagePattern(ctx, cred, pattern)
	if err == nil {
		span.SetAttributes(attribute.String("vault.pattern.id", id.String()))
	}
	finish(span, err)
	return id, err
}

// ListStaged traces UnifiedMemory.ListStaged.
func (t *TracedMemory) ListStaged(ctx context.Context, cred types.AgentCredential, filter shortterm.StagedFilter) ([]shortterm.StagedPattern, error) {
	ctx, span := t.start(ctx, "list_staged", cred)
	patterns, err := t.inner.ListStaged(ctx, cred, filter)
	span.SetAttributes(attribute.Int("vault.pattern.count", len(patterns)))
	finish(span, err)
	return patterns, err
}

// PromotePattern traces UnifiedMemory.PromotePattern.
func (t *TracedMemory) PromotePattern(ctx context.Context, cred types.AgentCredential, id types.ID) (PersistResult, error) {
	ctx, span := t.start(ctx, "promote_pattern", cred)
	span.SetAttributes(attribute.String("vault.pattern.id", id.String()))
	result, err := t.inner.PromotePattern(ctx, cred, id)
	if err == nil {
		span.SetAttributes(attribute.String("vault.pattern.classification", result.Classification.String()))
	}
	finish(span, err)
	return result, err
}

// RejectPattern traces UnifiedMemory.RejectPattern.
func (t *TracedMemory) RejectPattern(ctx context.Context, cred types.AgentCredential, id types.ID, reason string) error {
	ctx, span := t.start(ctx, "reject_pattern", cred)
	span.SetAttributes(attribute.String("vault.pattern.id", id.String()))
	err := t.inner.RejectPattern(ctx, cred, id, reason)
	finish(span, err)
	return err
}

// PersistPattern traces UnifiedMemory.PersistPattern.
func (t *TracedMemory) PersistPattern(ctx context.Context, cred types.AgentCredential, req PersistRequest) (PersistResult, error) {
	ctx, span := t.start(ctx, "persist_pattern", cred)
	span.SetAttributes(attribute.String("vault.pattern.type", req.PatternType))
	result, err := t.inner.PersistPattern(ctx, cred, req)
	if err == nil {
		span.SetAttributes(
			attribute.String("vault.pattern.id", result.PatternID.String()),
			attribute.String("vault.pattern.classification", result.Classification.String()),
		)
	}
	finish(span, err)
	return result, err
}

// RecallPattern traces UnifiedMemory.RecallPattern.
func (t *TracedMemory) RecallPattern(ctx context.Context, cred types.AgentCredential, id types.ID) (RecalledPattern, error) {
	ctx, span := t.start(ctx, "recall_pattern", cred)
	span.SetAttributes(attribute.String("vault.pattern.id", id.String()))
	recalled, err := t.inner.RecallPattern(ctx, cred, id)
	if err == nil {
		span.SetAttributes(attribute.String("vault.pattern.classification", recalled.Classification.String()))
	}
	finish(span, err)
	return recalled, err
}

// DeletePattern traces UnifiedMemory.DeletePattern.
func (t *TracedMemory) DeletePattern(ctx context.Context, cred types.AgentCredential, id types.ID) error {
	ctx, span := t.start(ctx, "delete_pattern", cred)
	span.SetAttributes(attribute.String("vault.pattern.id", id.String()))
	err := t.inner.DeletePattern(ctx, cred, id)
	finish(span, err)
	return err
}

// ClearShortTerm traces UnifiedMemory.ClearShortTerm.
func (t *TracedMemory) ClearShortTerm(ctx context.Context, cred types.AgentCredential) error {
	ctx, span := t.start(ctx, "clear_short_term", cred)
	err := t.inner.ClearShortTerm(ctx, cred)
	finish(span, err)
	return err
}
