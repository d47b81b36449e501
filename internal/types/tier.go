package types

import (
	"encoding/json"
	"fmt"
)

// AccessTier represents an agent's trust level. Tiers are totally ordered:
// Observer < Contributor < Validator < Steward. An operation proceeds iff the
// caller's tier is at or above the tier the operation requires.
type AccessTier int

const (
	// TierObserver may read shared context but never mutate anything.
	TierObserver AccessTier = iota
	// TierContributor may write working memory, send signals, and stage patterns.
	TierContributor
	// TierValidator may list staged patterns and promote or reject them.
	TierValidator
	// TierSteward may delete patterns, clear namespaces, and export sensitive content.
	TierSteward
)

var tierNames = map[AccessTier]string{
	TierObserver:    "observer",
	TierContributor: "contributor",
	TierValidator:   "validator",
	TierSteward:     "steward",
}

var tiersByName = map[string]AccessTier{
	"observer":    TierObserver,
	"contributor": TierContributor,
	"validator":   TierValidator,
	"steward":     TierSteward,
}

// String returns the string representation of the AccessTier.
func (t AccessTier) String() string {
	if name, ok := tierNames[t]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", int(t))
}

// IsValid checks if the AccessTier is a valid value.
func (t AccessTier) IsValid() bool {
	_, ok := tierNames[t]
	return ok
}

// AtLeast reports whether t satisfies the given minimum tier.
func (t AccessTier) AtLeast(minimum AccessTier) bool {
	return t >= minimum
}

// ParseTier parses and validates a tier name.
func ParseTier(s string) (AccessTier, error) {
	if tier, ok := tiersByName[s]; ok {
		return tier, nil
	}
	return TierObserver, fmt.Errorf("invalid access tier: %q", s)
}

// MarshalJSON implements json.Marshaler, encoding the tier by name.
func (t AccessTier) MarshalJSON() ([]byte, error) {
	if !t.IsValid() {
		return nil, fmt.Errorf("invalid access tier: %d", int(t))
	}
	return json.Marshal(t.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *AccessTier) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}

	tier, err := ParseTier(str)
	if err != nil {
		return err
	}

	*t = tier
	return nil
}

// AgentCredential identifies a calling agent and its trust tier.
// Credentials are issued out of band; the memory core only evaluates them.
type AgentCredential struct {
	AgentID string     `json:"agent_id"`
	Tier    AccessTier `json:"tier"`
}

// Validate checks that the credential carries an agent ID and a known tier.
func (c AgentCredential) Validate() error {
	if c.AgentID == "" {
		return NewError(PERMISSION_DENIED, "credential missing agent ID")
	}
	if !c.Tier.IsValid() {
		return NewError(PERMISSION_DENIED, "credential carries unknown tier")
	}
	return nil
}
