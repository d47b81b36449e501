// Package memory provides UnifiedMemory, the single entry point agents use
// for both memory tiers. Every call follows the same fixed order: access
// gate, then the tier-appropriate component, then the audit log. A gate
// denial never reaches a store, and a mutation whose audit append fails is
// rolled back rather than left standing unaudited.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Zeeeepa/attune-ai-sub002/internal/access"
	"github.com/Zeeeepa/attune-ai-sub002/internal/audit"
	"github.com/Zeeeepa/attune-ai-sub002/internal/crypto"
	"github.com/Zeeeepa/attune-ai-sub002/internal/longterm"
	"github.com/Zeeeepa/attune-ai-sub002/internal/scrub"
	"github.com/Zeeeepa/attune-ai-sub002/internal/shortterm"
	"github.com/Zeeeepa/attune-ai-sub002/internal/types"
)

// sharedPrefix is the well-known working-memory namespace for context shared
// between agents via ShareContext/GetSharedContext.
const sharedPrefix = "shared:"

// UnifiedMemory composes the access gate, both stores, the classification
// pipeline, encryption, and the audit log behind one surface.
type UnifiedMemory struct {
	gate       *access.Controller
	short      *shortterm.Store
	vault      *longterm.Store
	classifier *scrub.Classifier
	encryptor  crypto.Encryptor
	auditor    *audit.Logger
	logger     *slog.Logger
	clock      func() time.Time
}

// Deps carries the constructor-injected components for UnifiedMemory.
// All fields are required except Logger, which defaults to slog.Default().
type Deps struct {
	Gate       *access.Controller
	Short      *shortterm.Store
	Vault      *longterm.Store
	Classifier *scrub.Classifier
	Encryptor  crypto.Encryptor
	Auditor    *audit.Logger
	Logger     *slog.Logger
}

// New creates a UnifiedMemory over eagerly constructed dependencies.
func New(deps Deps) (*UnifiedMemory, error) {
	switch {
	case deps.Gate == nil:
		return nil, fmt.Errorf("unified memory requires an access controller")
	case deps.Short == nil:
		return nil, fmt.Errorf("unified memory requires a short-term store")
	case deps.Vault == nil:
		return nil, fmt.Errorf("unified memory requires a long-term store")
	case deps.Classifier == nil:
		return nil, fmt.Errorf("unified memory requires a classifier")
	case deps.Encryptor == nil:
		return nil, fmt.Errorf("unified memory requires an encryptor")
	case deps.Auditor == nil:
		return nil, fmt.Errorf("unified memory requires an audit logger")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &UnifiedMemory{
		gate:       deps.Gate,
		short:      deps.Short,
		vault:      deps.Vault,
		classifier: deps.Classifier,
		encryptor:  deps.Encryptor,
		auditor:    deps.Auditor,
		logger:     logger,
		clock:      time.Now,
	}, nil
}

// WithClock replaces the facade's time source for deterministic tests.
func (m *UnifiedMemory) WithClock(clock func() time.Time) *UnifiedMemory {
	m.clock = clock
	m.short.WithClock(clock)
	return m
}

// Degraded reports whether the short-term tier runs on the single-process
// fallback substrate.
func (m *UnifiedMemory) Degraded() bool {
	return m.short.Degraded()
}

// Stash stores a working-memory value under the working TTL.
func (m *UnifiedMemory) Stash(ctx context.Context, cred types.AgentCredential, key string, value any) error {
	if err := m.gate.Authorize(cred, access.OpWriteWorking); err != nil {
		return err
	}

	// Stashing may overwrite; remember what was there so a failed audit
	// append rolls back to the prior value instead of deleting it.
	var prev json.RawMessage
	hadPrev, err := m.short.Get(ctx, key, &prev)
	if err != nil {
		return err
	}

	if err := m.short.Put(ctx, cred.AgentID, key, value); err != nil {
		return err
	}

	if _, err := m.auditor.Append(ctx, cred.AgentID, audit.ActionStash, key, nil); err != nil {
		// The stash and its audit entry are one unit; undo the write.
		if hadPrev {
			if putErr := m.short.Put(ctx, cred.AgentID, key, prev); putErr != nil {
				m.logger.Error("failed to restore overwritten stash", "key", key, "error", putErr)
			}
		} else if _, delErr := m.short.Delete(ctx, key); delErr != nil {
			m.logger.Error("failed to roll back unaudited stash", "key", key, "error", delErr)
		}
		return err
	}
	return nil
}

// Retrieve reads a working-memory value into out. found=false after expiry.
func (m *UnifiedMemory) Retrieve(ctx context.Context, cred types.AgentCredential, key string, out any) (bool, error) {
	if err := m.gate.Authorize(cred, access.OpReadShared); err != nil {
		return false, err
	}
	return m.short.Get(ctx, key, out)
}

// ShareContext stashes a value in the well-known shared namespace where any
// agent with read access can find it.
func (m *UnifiedMemory) ShareContext(ctx context.Context, cred types.AgentCredential, key string, value any) error {
	return m.Stash(ctx, cred, sharedPrefix+key, value)
}

// GetSharedContext reads a value from the shared namespace.
func (m *UnifiedMemory) GetSharedContext(ctx context.Context, cred types.AgentCredential, key string, out any) (bool, error) {
	return m.Retrieve(ctx, cred, sharedPrefix+key, out)
}

// SendSignal delivers a coordination signal, broadcast when target is empty.
// The sender is always the credential's agent, whatever the signal claims.
func (m *UnifiedMemory) SendSignal(ctx context.Context, cred types.AgentCredential, signalType string, payload map[string]any, target string) (shortterm.Signal, error) {
	if err := m.gate.Authorize(cred, access.OpSendSignal); err != nil {
		return shortterm.Signal{}, err
	}

	var encoded json.RawMessage
	if payload != nil {
		var err error
		encoded, err = json.Marshal(payload)
		if err != nil {
			return shortterm.Signal{}, fmt.Errorf("encode signal payload: %w", err)
		}
	}

	signal, err := m.short.SendSignal(ctx, shortterm.Signal{
		Sender:  cred.AgentID,
		Target:  target,
		Type:    signalType,
		Payload: encoded,
	})
	if err != nil {
		return shortterm.Signal{}, err
	}

	if _, err := m.auditor.Append(ctx, cred.AgentID, audit.ActionSignal, signal.SignalID.String(),
		map[string]string{"type": signalType, "target": target}); err != nil {
		return shortterm.Signal{}, err
	}
	return signal, nil
}

// ReceiveSignals drains the caller's queue plus the broadcast queue,
// optionally filtered by type.
func (m *UnifiedMemory) ReceiveSignals(ctx context.Context, cred types.AgentCredential, typeFilter string) ([]shortterm.Signal, error) {
	if err := m.gate.Authorize(cred, access.OpPollSignals); err != nil {
		return nil, err
	}
	return m.short.PollSignals(ctx, cred.AgentID, typeFilter)
}

// SnapshotSession stores a session state snapshot under the session TTL.
// Concurrent snapshots of the same session merge additively.
func (m *UnifiedMemory) SnapshotSession(ctx context.Context, cred types.AgentCredential, sessionID string, state map[string]any) error {
	if err := m.gate.Authorize(cred, access.OpSnapshot); err != nil {
		return err
	}

	if err := m.short.SnapshotSession(ctx, sessionID, state); err != nil {
		return err
	}

	_, err := m.auditor.Append(ctx, cred.AgentID, audit.ActionSnapshot, sessionID, nil)
	return err
}

// RestoreSession reads a session snapshot back. found=false once the
// session TTL has expired it.
func (m *UnifiedMemory) RestoreSession(ctx context.Context, cred types.AgentCredential, sessionID string) (map[string]any, bool, error) {
	if err := m.gate.Authorize(cred, access.OpRestore); err != nil {
		return nil, false, err
	}

	state, found, err := m.short.RestoreSession(ctx, sessionID)
	if err != nil || !found {
		return nil, found, err
	}

	if _, err := m.auditor.Append(ctx, cred.AgentID, audit.ActionRestore, sessionID, nil); err != nil {
		return nil, false, err
	}
	return state, true, nil
}

// ClearShortTerm wipes every short-term namespace. Steward only.
func (m *UnifiedMemory) ClearShortTerm(ctx context.Context, cred types.AgentCredential) error {
	if err := m.gate.Authorize(cred, access.OpClearAll); err != nil {
		return err
	}

	if err := m.short.ClearAll(ctx); err != nil {
		return err
	}

	_, err := m.auditor.Append(ctx, cred.AgentID, audit.ActionDelete, "short-term", map[string]string{"scope": "clear_all"})
	return err
}
