package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitTracing_DisabledReturnsInertProvider(t *testing.T) {
	tp, err := InitTracing(context.Background(), TracingConfig{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, tp)

	// Spans can be created and ended without an exporter.
	_, span := tp.Tracer("test").Start(context.Background(), "op")
	span.End()

	assert.NoError(t, ShutdownTracing(context.Background(), tp))
}

func TestInitTracing_ValidatesConfig(t *testing.T) {
	_, err := InitTracing(context.Background(), TracingConfig{Enabled: true})
	assert.Error(t, err)

	_, err = InitTracing(context.Background(), TracingConfig{
		Enabled:    true,
		Endpoint:   "localhost:4317",
		SampleRate: 2.0,
	})
	assert.Error(t, err)
}

func TestShutdownTracing_NilProvider(t *testing.T) {
	assert.NoError(t, ShutdownTracing(context.Background(), nil))
}

func TestTracingConfig_Validate(t *testing.T) {
	assert.NoError(t, TracingConfig{}.Validate())
	assert.NoError(t, TracingConfig{
		Enabled:    true,
		Endpoint:   "collector:4317",
		SampleRate: 0.5,
	}.Validate())
	assert.Error(t, TracingConfig{Enabled: true, SampleRate: 0.5}.Validate())
	assert.Error(t, TracingConfig{Enabled: true, Endpoint: "collector:4317", SampleRate: -1}.Validate())
}
