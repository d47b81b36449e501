package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryError_Error(t *testing.T) {
	plain := NewError(CONFLICT, "lost promotion race")
	assert.Equal(t, "[CONFLICT] lost promotion race", plain.Error())

	wrapped := WrapError(STORE_QUERY_FAILED, "list patterns", fmt.Errorf("disk full"))
	assert.Equal(t, "[STORE_QUERY_FAILED] list patterns: disk full", wrapped.Error())
}

func TestMemoryError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := WrapError(SUBSTRATE_UNAVAILABLE, "redis ping", cause)

	assert.Equal(t, cause, errors.Unwrap(err))
	assert.True(t, errors.Is(err, cause))
}

func TestMemoryError_Is(t *testing.T) {
	err := NewError(PERMISSION_DENIED, "tier too low")

	assert.True(t, errors.Is(err, NewError(PERMISSION_DENIED, "different message")))
	assert.False(t, errors.Is(err, NewError(CONFLICT, "tier too low")))
}

func TestIsCode(t *testing.T) {
	base := NewRetryableError(CONFLICT, "concurrent writer won")
	wrapped := fmt.Errorf("promote: %w", base)

	assert.True(t, IsCode(wrapped, CONFLICT))
	assert.False(t, IsCode(wrapped, PERMISSION_DENIED))
	assert.False(t, IsCode(fmt.Errorf("plain"), CONFLICT))
}

func TestIsRetryable(t *testing.T) {
	require.True(t, IsRetryable(NewRetryableError(CONFLICT, "retry me")))
	require.False(t, IsRetryable(NewError(PERMISSION_DENIED, "never retried")))
	require.False(t, IsRetryable(fmt.Errorf("plain")))
}
