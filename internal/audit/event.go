// Package audit implements the tamper-evident event log. Every mutation in
// the memory core writes exactly one entry; entries hash-chain so that
// recomputing the chain reproduces every stored hash, and any mismatch
// proves tampering.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/Zeeeepa/attune-ai-sub002/internal/types"
)

// Event is one append-only audit record. Hash covers PrevHash plus the
// canonical encoding of every other field, so no field can change without
// breaking the chain from this event forward.
type Event struct {
	Seq        int64             `json:"seq"`
	EventID    types.ID          `json:"event_id"`
	Timestamp  time.Time         `json:"timestamp"`
	Actor      string            `json:"actor"`
	Action     string            `json:"action"`
	ResourceID string            `json:"resource_id"`
	Payload    map[string]string `json:"payload,omitempty"`
	PrevHash   string            `json:"prev_hash"`
	Hash       string            `json:"hash"`
}

// canonicalEvent is the hashed form: every field except Hash and Seq, with
// the timestamp pinned to UTC RFC3339Nano. encoding/json sorts map keys, so
// the encoding is deterministic for identical inputs.
type canonicalEvent struct {
	EventID    types.ID          `json:"event_id"`
	Timestamp  string            `json:"timestamp"`
	Actor      string            `json:"actor"`
	Action     string            `json:"action"`
	ResourceID string            `json:"resource_id"`
	Payload    map[string]string `json:"payload,omitempty"`
}

// ComputeHash returns hex(SHA-256(prevHash ‖ canonical(event))). The stored
// Hash field is ignored; Seq is a storage detail and not covered.
func ComputeHash(event Event) (string, error) {
	canonical := canonicalEvent{
		EventID:    event.EventID,
		Timestamp:  event.Timestamp.UTC().Format(time.RFC3339Nano),
		Actor:      event.Actor,
		Action:     event.Action,
		ResourceID: event.ResourceID,
		Payload:    event.Payload,
	}

	encoded, err := json.Marshal(canonical)
	if err != nil {
		return "", err
	}

	hasher := sha256.New()
	hasher.Write([]byte(event.PrevHash))
	hasher.Write(encoded)
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// Actions recorded by the memory core.
const (
	ActionStash          = "stash"
	ActionStage          = "stage_pattern"
	ActionPromote        = "promote_pattern"
	ActionReject         = "reject_pattern"
	ActionExpire         = "expire_pattern"
	ActionReclaim        = "reclaim_pattern"
	ActionPersist        = "persist_pattern"
	ActionRecall         = "recall_pattern"
	ActionDelete         = "delete_pattern"
	ActionSignal         = "send_signal"
	ActionSnapshot       = "snapshot_session"
	ActionRestore        = "restore_session"
	ActionSecurityEvent  = "security_violation"
	ActionSessionReap    = "reap_session"
	ActionExport         = "export_patterns"
)
