package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassification_Ordering(t *testing.T) {
	assert.True(t, ClassPublic < ClassInternal)
	assert.True(t, ClassInternal < ClassSensitive)
}

func TestClassification_RequiresEncryption(t *testing.T) {
	assert.False(t, ClassPublic.RequiresEncryption())
	assert.False(t, ClassInternal.RequiresEncryption())
	assert.True(t, ClassSensitive.RequiresEncryption())
}

func TestMaxClassification(t *testing.T) {
	tests := []struct {
		name     string
		labels   []Classification
		expected Classification
	}{
		{"empty defaults to public", nil, ClassPublic},
		{"single label", []Classification{ClassInternal}, ClassInternal},
		{"sensitive dominates", []Classification{ClassPublic, ClassSensitive, ClassInternal}, ClassSensitive},
		{"all public", []Classification{ClassPublic, ClassPublic}, ClassPublic},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, MaxClassification(tt.labels...))
		})
	}
}

func TestClassification_JSONRoundTrip(t *testing.T) {
	data, err := json.Marshal(ClassSensitive)
	require.NoError(t, err)
	assert.Equal(t, `"sensitive"`, string(data))

	var class Classification
	require.NoError(t, json.Unmarshal(data, &class))
	assert.Equal(t, ClassSensitive, class)

	assert.Error(t, json.Unmarshal([]byte(`"top-secret"`), &class))
}
