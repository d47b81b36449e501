package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validator validates configuration values.
type Validator interface {
	Validate(cfg *Config) error
}

// validatorImpl implements Validator using go-playground/validator.
type validatorImpl struct {
	validate *validator.Validate
}

// NewValidator creates a new Validator instance.
func NewValidator() Validator {
	return &validatorImpl{validate: validator.New()}
}

// Validate validates the configuration and returns detailed error messages.
func (v *validatorImpl) Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	if err := v.validate.Struct(cfg); err != nil {
		validationErrs, ok := err.(validator.ValidationErrors)
		if !ok {
			return fmt.Errorf("validation error: %w", err)
		}
		var messages []string
		for _, e := range validationErrs {
			messages = append(messages, formatValidationError(e))
		}
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(messages, "\n  - "))
	}

	// Duration fields and cross-field rules need custom checks.
	for name, d := range map[string]int64{
		"ttl.working": int64(cfg.TTL.Working),
		"ttl.staged":  int64(cfg.TTL.Staged),
		"ttl.signal":  int64(cfg.TTL.Signal),
		"ttl.session": int64(cfg.TTL.Session),
	} {
		if d < 0 {
			return fmt.Errorf("invalid configuration:\n  - %s must not be negative", name)
		}
	}

	if strings.Contains(cfg.Security.MasterSecret, "${") {
		return fmt.Errorf("invalid configuration:\n  - security.master_secret references an unset environment variable")
	}

	if cfg.Server.Enabled {
		if cfg.Server.ListenAddress == "" {
			return fmt.Errorf("invalid configuration:\n  - server.listen_address is required when the server is enabled")
		}
		if cfg.Server.TokenSecret == "" || strings.Contains(cfg.Server.TokenSecret, "${") {
			return fmt.Errorf("invalid configuration:\n  - server.token_secret must be set (use VAULT_TOKEN_SECRET) when the server is enabled")
		}
	}

	if cfg.Tracing.Enabled && cfg.Tracing.Endpoint == "" {
		return fmt.Errorf("invalid configuration:\n  - tracing.endpoint is required when tracing is enabled")
	}

	return nil
}

// formatValidationError formats a single validation error with field path
// and details.
func formatValidationError(e validator.FieldError) string {
	fieldPath := formatFieldPath(e.Namespace())

	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fieldPath)
	case "min":
		return fmt.Sprintf("%s must be at least %s (got: %v)", fieldPath, e.Param(), e.Value())
	case "max":
		return fmt.Sprintf("%s must be at most %s (got: %v)", fieldPath, e.Param(), e.Value())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s] (got: %v)", fieldPath, e.Param(), e.Value())
	default:
		return fmt.Sprintf("%s failed validation '%s' (got: %v)", fieldPath, e.Tag(), e.Value())
	}
}

// formatFieldPath converts validator namespace to a readable field path.
// Example: "Config.Security.MasterSecret" -> "security.master_secret"
func formatFieldPath(namespace string) string {
	parts := strings.Split(namespace, ".")
	if len(parts) <= 1 {
		return namespace
	}

	result := make([]string, 0, len(parts)-1)
	for i := 1; i < len(parts); i++ {
		result = append(result, camelToSnake(parts[i]))
	}
	return strings.Join(result, ".")
}

// camelToSnake converts CamelCase to snake_case.
func camelToSnake(s string) string {
	var result strings.Builder
	for i, r := range s {
		if i > 0 && r >= 'A' && r <= 'Z' {
			result.WriteRune('_')
		}
		result.WriteRune(r)
	}
	return strings.ToLower(result.String())
}
