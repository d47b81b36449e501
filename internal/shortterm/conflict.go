package shortterm

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/Zeeeepa/attune-ai-sub002/internal/types"
)

// Strategy selects how a write race on one coordination key is resolved.
type Strategy string

const (
	// StrategyLastWriteWins keeps the later writer's value. Default for
	// working memory and signals, where losing an update is acceptable.
	StrategyLastWriteWins Strategy = "last-write-wins"

	// StrategyRejectSecond keeps the first writer's value; the second caller
	// gets a retryable Conflict. Default for staging and promotion, where a
	// double write would double-promote.
	StrategyRejectSecond Strategy = "reject-second"

	// StrategyMerge combines both values with a caller-supplied merge
	// function. Used for additive session-snapshot fields.
	StrategyMerge Strategy = "merge"
)

// IsValid checks if the Strategy is a known value.
func (s Strategy) IsValid() bool {
	switch s {
	case StrategyLastWriteWins, StrategyRejectSecond, StrategyMerge:
		return true
	default:
		return false
	}
}

// ConflictContext describes two writers racing on one key. ValueA belongs to
// the writer whose value is currently stored (the first committed write);
// ValueB to the writer that arrived second.
type ConflictContext struct {
	Key         string
	WriterA     string
	WriterB     string
	ValueA      []byte
	ValueB      []byte
	BaseVersion string
}

// Resolution is the outcome of resolving a conflict.
type Resolution struct {
	Winner       []byte
	WinnerID     string
	StrategyUsed Strategy
}

// MergeFunc combines both racing values. base is the last commonly observed
// value (may be nil when unknown).
type MergeFunc func(base, a, b []byte) ([]byte, error)

// Resolver applies a per-namespace resolution policy. Resolution is a pure
// function of the context, so identical inputs always produce identical
// outcomes and fixed scenarios replay in tests.
type Resolver struct {
	policies map[string]Strategy
	fallback Strategy
	merge    MergeFunc
}

// DefaultPolicies maps each TTL-class namespace to its default strategy.
func DefaultPolicies() map[string]Strategy {
	return map[string]Strategy{
		string(TTLWorking): StrategyLastWriteWins,
		string(TTLSignal):  StrategyLastWriteWins,
		string(TTLStaged):  StrategyRejectSecond,
		string(TTLSession): StrategyMerge,
	}
}

// NewResolver creates a Resolver with the given per-namespace policies and
// merge function. Unknown namespaces fall back to last-write-wins.
func NewResolver(policies map[string]Strategy, merge MergeFunc) *Resolver {
	if policies == nil {
		policies = DefaultPolicies()
	}
	if merge == nil {
		merge = MergeJSONObjects
	}
	return &Resolver{
		policies: policies,
		fallback: StrategyLastWriteWins,
		merge:    merge,
	}
}

// StrategyFor returns the strategy configured for a namespace.
func (r *Resolver) StrategyFor(namespace string) Strategy {
	if strategy, ok := r.policies[namespace]; ok {
		return strategy
	}
	return r.fallback
}

// Resolve applies the namespace's strategy to a conflict.
// Last-write-wins keeps writer B (the later arrival); reject-second keeps
// writer A and the caller surfaces Conflict to B; merge combines both.
func (r *Resolver) Resolve(namespace string, conflict ConflictContext) (Resolution, error) {
	strategy := r.StrategyFor(namespace)

	switch strategy {
	case StrategyRejectSecond:
		return Resolution{
			Winner:       conflict.ValueA,
			WinnerID:     conflict.WriterA,
			StrategyUsed: StrategyRejectSecond,
		}, nil

	case StrategyMerge:
		merged, err := r.merge(nil, conflict.ValueA, conflict.ValueB)
		if err != nil {
			return Resolution{}, types.WrapError(types.CONFLICT,
				fmt.Sprintf("merge failed for key %s", conflict.Key), err)
		}
		winnerID := conflict.WriterA
		if !bytes.Equal(merged, conflict.ValueA) {
			winnerID = conflict.WriterA + "+" + conflict.WriterB
		}
		return Resolution{
			Winner:       merged,
			WinnerID:     winnerID,
			StrategyUsed: StrategyMerge,
		}, nil

	default:
		return Resolution{
			Winner:       conflict.ValueB,
			WinnerID:     conflict.WriterB,
			StrategyUsed: StrategyLastWriteWins,
		}, nil
	}
}

// MergeJSONObjects is the default merge function: both values must be JSON
// objects; fields are unioned with B's entries winning key collisions. It is
// intended for additive session-snapshot fields where writers touch disjoint
// keys.
func MergeJSONObjects(_, a, b []byte) ([]byte, error) {
	merged := make(map[string]any)

	if len(a) > 0 {
		if err := json.Unmarshal(a, &merged); err != nil {
			return nil, fmt.Errorf("value A is not a JSON object: %w", err)
		}
	}

	overlay := make(map[string]any)
	if len(b) > 0 {
		if err := json.Unmarshal(b, &overlay); err != nil {
			return nil, fmt.Errorf("value B is not a JSON object: %w", err)
		}
	}

	for key, value := range overlay {
		merged[key] = value
	}

	// encoding/json sorts map keys, so merge output is deterministic and
	// fixed scenarios replay byte-for-byte.
	return json.Marshal(merged)
}
