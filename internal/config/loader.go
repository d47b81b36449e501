package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/spf13/viper"
)

// Loader handles loading configuration from files.
type Loader interface {
	Load(path string) (*Config, error)
	LoadWithDefaults(path string) (*Config, error)
}

// viperLoader implements Loader using Viper.
type viperLoader struct {
	validator Validator
}

// NewLoader creates a new Loader instance.
func NewLoader(validator Validator) Loader {
	return &viperLoader{validator: validator}
}

// Load loads configuration from the specified file path. Unset sections
// fall back to their defaults, ${VAR} references are interpolated from the
// environment, and VAULT_* overrides are applied before validation.
func (l *viperLoader) Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	interpolateSecrets(cfg)
	cfg.ApplyEnvironmentOverrides()

	if err := l.validator.Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// LoadWithDefaults loads configuration from the specified file path. If
// the file doesn't exist, returns the default configuration with
// environment overrides applied.
func (l *viperLoader) LoadWithDefaults(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.ApplyEnvironmentOverrides()
		if err := l.validator.Validate(cfg); err != nil {
			return nil, fmt.Errorf("default configuration validation failed: %w", err)
		}
		return cfg, nil
	}
	return l.Load(path)
}

// interpolateSecrets applies ${VAR} interpolation to the fields that
// commonly reference environment variables. Paths and addresses may embed
// variables too; structural fields like TTLs never do.
func interpolateSecrets(cfg *Config) {
	cfg.Core.HomeDir = interpolateString(cfg.Core.HomeDir)
	cfg.Core.DataDir = interpolateString(cfg.Core.DataDir)
	cfg.Substrate.RedisAddr = interpolateString(cfg.Substrate.RedisAddr)
	cfg.Substrate.RedisPassword = interpolateString(cfg.Substrate.RedisPassword)
	cfg.Vault.Path = interpolateString(cfg.Vault.Path)
	cfg.Audit.Path = interpolateString(cfg.Audit.Path)
	cfg.Security.MasterSecret = interpolateString(cfg.Security.MasterSecret)
	cfg.Server.TokenSecret = interpolateString(cfg.Server.TokenSecret)
	cfg.Server.ListenAddress = interpolateString(cfg.Server.ListenAddress)
	cfg.Tracing.Endpoint = interpolateString(cfg.Tracing.Endpoint)
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// interpolateString replaces ${VAR_NAME} with environment variable values.
// Unset variables leave the reference in place so validation can flag it.
func interpolateString(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		if envValue := os.Getenv(varName); envValue != "" {
			return envValue
		}
		return match
	})
}
