// Package observability wires structured logging and distributed tracing
// for vaultd. Logging goes through slog with sensitive-field redaction;
// tracing exports spans over OTLP when enabled and is a true no-op
// otherwise.
package observability

import "fmt"

// TracingConfig configures the OTLP span exporter.
type TracingConfig struct {
	Enabled      bool
	Endpoint     string
	ServiceName  string
	SampleRate   float64
	InsecureMode bool
}

// Validate checks the configuration for an enabled exporter.
func (c TracingConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Endpoint == "" {
		return fmt.Errorf("tracing endpoint is required when tracing is enabled")
	}
	if c.SampleRate < 0 || c.SampleRate > 1 {
		return fmt.Errorf("sample rate must be between 0.0 and 1.0, got %f", c.SampleRate)
	}
	return nil
}
