// Package shortterm implements the TTL-scoped coordination store agents
// share within and across sessions: working memory, the pattern-staging
// queue, inter-agent signals, and session snapshots. Each concern lives in
// its own namespace with its own TTL class; the substrate enforces expiry.
package shortterm

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Zeeeepa/attune-ai-sub002/internal/types"
)

// TTLClass names an expiry-policy bucket.
type TTLClass string

const (
	TTLWorking TTLClass = "working"
	TTLStaged  TTLClass = "staged"
	TTLSignal  TTLClass = "signal"
	TTLSession TTLClass = "session"
)

// Namespace prefixes. Each TTL class owns a prefix so per-class key counts
// and expiry stay independent.
const (
	nsWorking     = "st:working:"
	nsStaged      = "st:staged:"
	nsSignal      = "st:signal:"
	nsSession     = "st:session:"
	stagedIndex   = "st:staged-index"
	broadcastSlot = "all"
)

// TTLConfig holds the per-class TTLs. Working and signal keys are advisory
// (losing them is acceptable); staged keys are tracked by an index so their
// expiry is never silent.
type TTLConfig struct {
	Working time.Duration `yaml:"working"`
	Staged  time.Duration `yaml:"staged"`
	Signal  time.Duration `yaml:"signal"`
	Session time.Duration `yaml:"session"`
}

// DefaultTTLConfig returns the standard TTL classes.
func DefaultTTLConfig() TTLConfig {
	return TTLConfig{
		Working: time.Hour,
		Staged:  24 * time.Hour,
		Signal:  5 * time.Minute,
		Session: 30 * time.Minute,
	}
}

// ApplyDefaults fills unset fields with the standard values.
func (c *TTLConfig) ApplyDefaults() {
	defaults := DefaultTTLConfig()
	if c.Working <= 0 {
		c.Working = defaults.Working
	}
	if c.Staged <= 0 {
		c.Staged = defaults.Staged
	}
	if c.Signal <= 0 {
		c.Signal = defaults.Signal
	}
	if c.Session <= 0 {
		c.Session = defaults.Session
	}
}

// For returns the TTL of the given class.
func (c TTLConfig) For(class TTLClass) time.Duration {
	switch class {
	case TTLStaged:
		return c.Staged
	case TTLSignal:
		return c.Signal
	case TTLSession:
		return c.Session
	default:
		return c.Working
	}
}

// StagedPattern is a discovered pattern waiting for validator review. It
// lives in the staging namespace under a bounded TTL and exits only via
// promotion, rejection, or audited expiry.
type StagedPattern struct {
	PatternID   types.ID          `json:"pattern_id"`
	AgentID     string            `json:"agent_id"`
	SessionID   string            `json:"session_id,omitempty"`
	PatternType string            `json:"pattern_type"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Confidence  float64           `json:"confidence"`
	CodeSample  string            `json:"code_sample,omitempty"`
	Context     map[string]string `json:"context,omitempty"`
	StagedAt    time.Time         `json:"staged_at"`
}

// Validate checks the pattern is well-formed for staging.
func (p StagedPattern) Validate() error {
	if p.PatternID.IsZero() {
		return types.NewError(types.DUPLICATE_PATTERN, "pattern ID cannot be empty")
	}
	if p.AgentID == "" {
		return fmt.Errorf("staged pattern requires an author agent ID")
	}
	if p.PatternType == "" {
		return fmt.Errorf("staged pattern requires a pattern type")
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		return fmt.Errorf("confidence must be within [0,1], got %v", p.Confidence)
	}
	return nil
}

// StagedFilter narrows ListStaged results. Zero fields match everything.
type StagedFilter struct {
	PatternType   string
	AgentID       string
	MinConfidence float64
}

func (f StagedFilter) matches(p StagedPattern) bool {
	if f.PatternType != "" && p.PatternType != f.PatternType {
		return false
	}
	if f.AgentID != "" && p.AgentID != f.AgentID {
		return false
	}
	if p.Confidence < f.MinConfidence {
		return false
	}
	return true
}

// Signal is a short-lived inter-agent message. Target empty means broadcast:
// the signal lands on the shared queue and is consumed by the first poller
// (work-queue semantics).
type Signal struct {
	SignalID types.ID        `json:"signal_id"`
	Type     string          `json:"type"`
	Sender   string          `json:"sender"`
	Target   string          `json:"target,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	SentAt   time.Time       `json:"sent_at"`
}

// stagedIndexEntry is what the staging index records per pattern, enough to
// audit an expiry after the staged key itself is gone.
type stagedIndexEntry struct {
	AgentID   string    `json:"agent_id"`
	SessionID string    `json:"session_id,omitempty"`
	Name      string    `json:"name,omitempty"`
	StagedAt  time.Time `json:"staged_at"`
}
