package memory

import (
	"context"
	"fmt"

	"github.com/Zeeeepa/attune-ai-sub002/internal/access"
	"github.com/Zeeeepa/attune-ai-sub002/internal/audit"
	"github.com/Zeeeepa/attune-ai-sub002/internal/longterm"
	"github.com/Zeeeepa/attune-ai-sub002/internal/shortterm"
	"github.com/Zeeeepa/attune-ai-sub002/internal/types"
)

// PersistRequest describes content to be persisted directly to the vault.
// Requested is the caller's classification floor; with Pinned set the
// content is rejected if detections exceed it, unless Override (Steward) is
// also set, in which case it is stored at the detected level.
type PersistRequest struct {
	Content     string
	PatternType string
	Name        string
	Description string
	Confidence  float64
	Requested   types.Classification
	Pinned      bool
	Override    bool
}

// PersistResult reports where a pattern landed and at what classification.
type PersistResult struct {
	PatternID      types.ID
	Version        int
	Classification types.Classification
}

// RecalledPattern is a vault row plus its recovered plaintext content.
type RecalledPattern struct {
	longterm.SecurePattern
	Plaintext string
}

// StagePattern places a pattern in the staging queue under the staged TTL.
// The pattern ID is assigned if empty; the author is always the caller. An
// id that is already staged or already promoted is rejected as a duplicate.
func (m *UnifiedMemory) StagePattern(ctx context.Context, cred types.AgentCredential, pattern shortterm.StagedPattern) (types.ID, error) {
	if err := m.gate.Authorize(cred, access.OpStage); err != nil {
		return "", err
	}

	if pattern.PatternID.IsZero() {
		pattern.PatternID = types.NewID()
	} else {
		// Promotion removes the staged key, so staging alone cannot refuse
		// an id that already graduated. The vault is the durable record.
		promoted, err := m.vault.Exists(ctx, pattern.PatternID)
		if err != nil {
			return "", err
		}
		if promoted {
			return "", types.NewError(types.DUPLICATE_PATTERN,
				fmt.Sprintf("pattern %s was already promoted to the vault", pattern.PatternID))
		}
	}
	pattern.AgentID = cred.AgentID
	pattern.StagedAt = m.clock().UTC()

	if err := m.short.Stage(ctx, pattern); err != nil {
		return "", err
	}

	if _, err := m.auditor.Append(ctx, cred.AgentID, audit.ActionStage, pattern.PatternID.String(),
		map[string]string{"name": pattern.Name, "type": pattern.PatternType}); err != nil {
		// Unaudited staging must not stand; withdraw the pattern.
		if _, takeErr := m.short.TakeStaged(ctx, pattern.PatternID); takeErr != nil {
			m.logger.Error("failed to roll back unaudited staging",
				"pattern_id", pattern.PatternID, "error", takeErr)
		}
		if clearErr := m.short.ClearStagedIndex(ctx, pattern.PatternID); clearErr != nil {
			m.logger.Error("failed to clear staging index during rollback",
				"pattern_id", pattern.PatternID, "error", clearErr)
		}
		return "", err
	}
	return pattern.PatternID, nil
}

// StageDiscoveredPattern is the coordination-helper form of StagePattern for
// agents reporting a discovery in place.
func (m *UnifiedMemory) StageDiscoveredPattern(ctx context.Context, cred types.AgentCredential, sessionID, patternType, name, description string, confidence float64, codeSample string) (types.ID, error) {
	return m.StagePattern(ctx, cred, shortterm.StagedPattern{
		SessionID:   sessionID,
		PatternType: patternType,
		Name:        name,
		Description: description,
		Confidence:  confidence,
		CodeSample:  codeSample,
	})
}

// ListStaged returns staged patterns matching the filter. Validator and up.
func (m *UnifiedMemory) ListStaged(ctx context.Context, cred types.AgentCredential, filter shortterm.StagedFilter) ([]shortterm.StagedPattern, error) {
	if err := m.gate.Authorize(cred, access.OpListStaged); err != nil {
		return nil, err
	}
	return m.short.ListStaged(ctx, filter)
}

// PromotePattern moves a staged pattern into the vault. The staging claim is
// a single atomic round trip, so of any set of concurrent promoters exactly
// one succeeds; the rest see CONFLICT. Promoting an id that already made it
// into the vault is an idempotent success.
func (m *UnifiedMemory) PromotePattern(ctx context.Context, cred types.AgentCredential, id types.ID) (PersistResult, error) {
	if err := m.gate.Authorize(cred, access.OpPromote); err != nil {
		return PersistResult{}, err
	}

	pattern, err := m.short.TakeStaged(ctx, id)
	if err != nil {
		if !types.IsCode(err, types.PATTERN_NOT_STAGED) {
			return PersistResult{}, err
		}
		// Not in staging: either already promoted (idempotent success) or a
		// concurrent promoter holds the claim right now (conflict).
		existing, vaultErr := m.vault.Get(ctx, id)
		if vaultErr == nil {
			return PersistResult{
				PatternID:      existing.PatternID,
				Version:        existing.Version,
				Classification: existing.Classification,
			}, nil
		}
		if types.IsCode(vaultErr, types.PATTERN_NOT_FOUND) {
			return PersistResult{}, types.NewRetryableError(types.CONFLICT,
				fmt.Sprintf("pattern %s is being promoted by a concurrent caller or was never staged", id))
		}
		return PersistResult{}, vaultErr
	}

	row, err := m.buildVaultRow(pattern, cred.AgentID, types.ClassPublic)
	if err != nil {
		m.restage(ctx, pattern)
		return PersistResult{}, err
	}

	if err := m.vault.Insert(ctx, row); err != nil {
		if types.IsCode(err, types.CONFLICT) {
			// A racing promoter beat us to the insert; their row stands.
			if clearErr := m.short.ClearStagedIndex(ctx, id); clearErr != nil {
				m.logger.Error("failed to clear staging index after promotion race",
					"pattern_id", id, "error", clearErr)
			}
			return PersistResult{}, types.NewRetryableError(types.CONFLICT,
				fmt.Sprintf("pattern %s was promoted concurrently", id))
		}
		m.restage(ctx, pattern)
		return PersistResult{}, err
	}

	if _, err := m.auditor.Append(ctx, cred.AgentID, audit.ActionPromote, id.String(),
		map[string]string{
			"classification": row.Classification.String(),
			"audit_ref":      row.AuditRef,
			"author":         pattern.AgentID,
		}); err != nil {
		// Promotion without its audit entry must not stand: remove the row
		// and put the pattern back in staging.
		if delErr := m.vault.Delete(ctx, id); delErr != nil {
			m.logger.Error("failed to remove unaudited promotion",
				"pattern_id", id, "error", delErr)
		}
		m.restage(ctx, pattern)
		return PersistResult{}, err
	}

	if err := m.short.ClearStagedIndex(ctx, id); err != nil {
		m.logger.Error("failed to clear staging index after promotion",
			"pattern_id", id, "error", err)
	}

	return PersistResult{
		PatternID:      row.PatternID,
		Version:        row.Version,
		Classification: row.Classification,
	}, nil
}

// RejectPattern removes a staged pattern with a recorded reason. The claim
// is atomic, so a promotion and a rejection racing on one id cannot both
// win.
func (m *UnifiedMemory) RejectPattern(ctx context.Context, cred types.AgentCredential, id types.ID, reason string) error {
	if err := m.gate.Authorize(cred, access.OpReject); err != nil {
		return err
	}

	pattern, err := m.short.TakeStaged(ctx, id)
	if err != nil {
		return err
	}

	if _, err := m.auditor.Append(ctx, cred.AgentID, audit.ActionReject, id.String(),
		map[string]string{"reason": reason, "author": pattern.AgentID}); err != nil {
		m.restage(ctx, pattern)
		return err
	}

	return m.short.ClearStagedIndex(ctx, id)
}

// PersistPattern classifies content and writes it straight to the vault,
// bypassing staging. Detected secrets escalate the classification; SENSITIVE
// content is encrypted before it touches disk.
func (m *UnifiedMemory) PersistPattern(ctx context.Context, cred types.AgentCredential, req PersistRequest) (PersistResult, error) {
	if err := m.gate.Authorize(cred, access.OpPersist); err != nil {
		return PersistResult{}, err
	}
	if req.Content == "" {
		return PersistResult{}, fmt.Errorf("persist requires content")
	}
	if req.Override && !cred.Tier.AtLeast(types.TierSteward) {
		return PersistResult{}, types.NewError(types.PERMISSION_DENIED,
			"classification override requires steward tier")
	}

	result := m.classifier.Classify(req.Content, req.Requested)
	if req.Pinned {
		if err := m.classifier.CheckPinned(result, req.Requested, req.Override); err != nil {
			return PersistResult{}, err
		}
	}

	row, err := m.buildVaultRowFromContent(types.NewID(), req, result.Classification, cred.AgentID)
	if err != nil {
		return PersistResult{}, err
	}

	if err := m.vault.Insert(ctx, row); err != nil {
		return PersistResult{}, err
	}

	if _, err := m.auditor.Append(ctx, cred.AgentID, audit.ActionPersist, row.PatternID.String(),
		map[string]string{
			"classification": row.Classification.String(),
			"audit_ref":      row.AuditRef,
			"type":           req.PatternType,
		}); err != nil {
		if delErr := m.vault.Delete(ctx, row.PatternID); delErr != nil {
			m.logger.Error("failed to remove unaudited persist",
				"pattern_id", row.PatternID, "error", delErr)
		}
		return PersistResult{}, err
	}

	return PersistResult{
		PatternID:      row.PatternID,
		Version:        row.Version,
		Classification: row.Classification,
	}, nil
}

// RecallPattern reads a pattern back from the vault, decrypting SENSITIVE
// content for Validator and up. A decryption authentication failure is
// flagged in the audit log as a security event and fails closed.
func (m *UnifiedMemory) RecallPattern(ctx context.Context, cred types.AgentCredential, id types.ID) (RecalledPattern, error) {
	if err := m.gate.Authorize(cred, access.OpRecall); err != nil {
		return RecalledPattern{}, err
	}

	row, err := m.vault.Get(ctx, id)
	if err != nil {
		return RecalledPattern{}, err
	}

	recalled := RecalledPattern{SecurePattern: row}
	if row.Encrypted == nil {
		recalled.Plaintext = row.Content
	} else {
		if !cred.Tier.AtLeast(types.TierValidator) {
			return RecalledPattern{}, types.NewError(types.PERMISSION_DENIED, fmt.Sprintf(
				"agent %s (tier %s) requires tier %s to recall sensitive content",
				cred.AgentID, cred.Tier, types.TierValidator))
		}

		plaintext, err := m.encryptor.Decrypt(*row.Encrypted)
		if err != nil {
			if types.IsCode(err, types.DECRYPT_AUTH_FAILED) {
				if _, auditErr := m.auditor.Append(ctx, cred.AgentID, audit.ActionSecurityEvent, id.String(),
					map[string]string{"event": "decrypt_auth_failed", "key_id": row.Encrypted.KeyID}); auditErr != nil {
					m.logger.Error("failed to audit decryption failure",
						"pattern_id", id, "error", auditErr)
				}
			}
			return RecalledPattern{}, err
		}
		recalled.Plaintext = string(plaintext)
	}

	if _, err := m.auditor.Append(ctx, cred.AgentID, audit.ActionRecall, id.String(),
		map[string]string{"classification": row.Classification.String()}); err != nil {
		return RecalledPattern{}, err
	}
	return recalled, nil
}

// DeletePattern removes every version of a pattern from the vault. Steward
// only.
func (m *UnifiedMemory) DeletePattern(ctx context.Context, cred types.AgentCredential, id types.ID) error {
	if err := m.gate.Authorize(cred, access.OpDelete); err != nil {
		return err
	}

	// Snapshot the versions first so an audit failure can restore them.
	latest, err := m.vault.Get(ctx, id)
	if err != nil {
		return err
	}
	versions := make([]longterm.SecurePattern, 0, latest.Version)
	for v := 1; v <= latest.Version; v++ {
		row, err := m.vault.GetVersion(ctx, id, v)
		if err != nil {
			if types.IsCode(err, types.PATTERN_NOT_FOUND) {
				continue
			}
			return err
		}
		versions = append(versions, row)
	}

	if err := m.vault.Delete(ctx, id); err != nil {
		return err
	}

	if _, err := m.auditor.Append(ctx, cred.AgentID, audit.ActionDelete, id.String(),
		map[string]string{"classification": latest.Classification.String()}); err != nil {
		for _, row := range versions {
			if insErr := m.vault.Insert(ctx, row); insErr != nil {
				m.logger.Error("failed to restore pattern after audit failure",
					"pattern_id", id, "version", row.Version, "error", insErr)
			}
		}
		return err
	}
	return nil
}

// restage returns a claimed pattern to staging after a failed promotion or
// rejection so the claim does not destroy it.
func (m *UnifiedMemory) restage(ctx context.Context, pattern shortterm.StagedPattern) {
	if err := m.short.Restage(ctx, pattern); err != nil {
		m.logger.Error("failed to restage pattern after rollback",
			"pattern_id", pattern.PatternID, "error", err)
	}
}

// buildVaultRow classifies a staged pattern's full content and produces the
// immutable vault row, encrypting when the label demands it.
func (m *UnifiedMemory) buildVaultRow(pattern shortterm.StagedPattern, promotedBy string, requested types.Classification) (longterm.SecurePattern, error) {
	content := pattern.Description
	if pattern.CodeSample != "" {
		content = content + "\n\n" + pattern.CodeSample
	}

	result := m.classifier.Classify(content, requested)

	row := longterm.SecurePattern{
		PatternID:      pattern.PatternID,
		Version:        1,
		Classification: result.Classification,
		PatternType:    pattern.PatternType,
		Name:           pattern.Name,
		Description:    pattern.Description,
		Confidence:     pattern.Confidence,
		AuditRef:       types.NewID().String(),
		PromotedBy:     promotedBy,
		PromotedAt:     m.clock().UTC(),
	}

	if result.Classification.RequiresEncryption() {
		blob, err := m.encryptor.Encrypt([]byte(content), "")
		if err != nil {
			return longterm.SecurePattern{}, err
		}
		row.Encrypted = &blob
		// The description column would leak the secret in plaintext; keep
		// only the redacted copy outside the envelope.
		row.Description = result.Redacted
	} else {
		row.Content = content
	}
	return row, nil
}

func (m *UnifiedMemory) buildVaultRowFromContent(id types.ID, req PersistRequest, class types.Classification, promotedBy string) (longterm.SecurePattern, error) {
	row := longterm.SecurePattern{
		PatternID:      id,
		Version:        1,
		Classification: class,
		PatternType:    req.PatternType,
		Name:           req.Name,
		Description:    req.Description,
		Confidence:     req.Confidence,
		AuditRef:       types.NewID().String(),
		PromotedBy:     promotedBy,
		PromotedAt:     m.clock().UTC(),
	}

	if class.RequiresEncryption() {
		blob, err := m.encryptor.Encrypt([]byte(req.Content), "")
		if err != nil {
			return longterm.SecurePattern{}, err
		}
		row.Encrypted = &blob
	} else {
		row.Content = req.Content
	}
	return row, nil
}
