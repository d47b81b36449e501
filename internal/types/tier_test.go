package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccessTier_Ordering(t *testing.T) {
	assert.True(t, TierObserver < TierContributor)
	assert.True(t, TierContributor < TierValidator)
	assert.True(t, TierValidator < TierSteward)
}

func TestAccessTier_AtLeast(t *testing.T) {
	tests := []struct {
		name     string
		tier     AccessTier
		minimum  AccessTier
		expected bool
	}{
		{"observer below contributor", TierObserver, TierContributor, false},
		{"contributor meets contributor", TierContributor, TierContributor, true},
		{"steward exceeds validator", TierSteward, TierValidator, true},
		{"validator below steward", TierValidator, TierSteward, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.tier.AtLeast(tt.minimum))
		})
	}
}

func TestParseTier(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		expected  AccessTier
		expectErr bool
	}{
		{"observer", "observer", TierObserver, false},
		{"contributor", "contributor", TierContributor, false},
		{"validator", "validator", TierValidator, false},
		{"steward", "steward", TierSteward, false},
		{"unknown", "admin", TierObserver, true},
		{"empty", "", TierObserver, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tier, err := ParseTier(tt.input)
			if tt.expectErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, tier)
		})
	}
}

func TestAccessTier_JSONRoundTrip(t *testing.T) {
	data, err := json.Marshal(TierValidator)
	require.NoError(t, err)
	assert.Equal(t, `"validator"`, string(data))

	var tier AccessTier
	require.NoError(t, json.Unmarshal(data, &tier))
	assert.Equal(t, TierValidator, tier)

	assert.Error(t, json.Unmarshal([]byte(`"root"`), &tier))
}

func TestAgentCredential_Validate(t *testing.T) {
	valid := AgentCredential{AgentID: "agent-1", Tier: TierContributor}
	assert.NoError(t, valid.Validate())

	missing := AgentCredential{Tier: TierContributor}
	assert.Error(t, missing.Validate())

	badTier := AgentCredential{AgentID: "agent-1", Tier: AccessTier(42)}
	err := badTier.Validate()
	require.Error(t, err)
	assert.True(t, IsCode(err, PERMISSION_DENIED))
}
