// Package config loads and validates the vaultd configuration: substrate
// connection, TTL classes, conflict policies, vault and audit storage,
// encryption keys, and the management HTTP surface. Secrets are never put
// in the YAML file directly; they are interpolated from the environment
// with ${VAR} syntax or overridden by VAULT_* variables.
package config

import (
	"time"

	"github.com/Zeeeepa/attune-ai-sub002/internal/shortterm"
	"github.com/Zeeeepa/attune-ai-sub002/internal/substrate"
)

// Config is the root configuration for vaultd.
type Config struct {
	Core      CoreConfig      `mapstructure:"core" yaml:"core"`
	Substrate SubstrateConfig `mapstructure:"substrate" yaml:"substrate"`
	TTL       TTLConfig       `mapstructure:"ttl" yaml:"ttl"`
	Conflict  ConflictConfig  `mapstructure:"conflict" yaml:"conflict"`
	Vault     VaultConfig     `mapstructure:"vault" yaml:"vault"`
	Audit     AuditConfig     `mapstructure:"audit" yaml:"audit"`
	Security  SecurityConfig  `mapstructure:"security" yaml:"security"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Session   SessionConfig   `mapstructure:"session" yaml:"session"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Tracing   TracingConfig   `mapstructure:"tracing" yaml:"tracing"`
}

// CoreConfig holds filesystem roots. DataDir is the default parent of the
// vault and audit database files.
type CoreConfig struct {
	HomeDir string `mapstructure:"home_dir" yaml:"home_dir"`
	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`
}

// SubstrateConfig selects the coordination substrate. When Redis is
// unreachable at startup the process runs on the in-process fallback.
type SubstrateConfig struct {
	RedisAddr     string        `mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password" yaml:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db" yaml:"redis_db" validate:"min=0,max=15"`
	DialTimeout   time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
}

// ToSubstrate converts to the substrate package's connection config.
func (c SubstrateConfig) ToSubstrate() substrate.Config {
	return substrate.Config{
		RedisAddr:     c.RedisAddr,
		RedisPassword: c.RedisPassword,
		RedisDB:       c.RedisDB,
		DialTimeout:   c.DialTimeout,
	}
}

// TTLConfig bounds the lifetime of each short-term namespace.
type TTLConfig struct {
	Working time.Duration `mapstructure:"working" yaml:"working"`
	Staged  time.Duration `mapstructure:"staged" yaml:"staged"`
	Signal  time.Duration `mapstructure:"signal" yaml:"signal"`
	Session time.Duration `mapstructure:"session" yaml:"session"`
}

// ToShortTerm converts to the short-term store's TTL config, filling unset
// classes with the standard values.
func (c TTLConfig) ToShortTerm() shortterm.TTLConfig {
	ttl := shortterm.TTLConfig{
		Working: c.Working,
		Staged:  c.Staged,
		Signal:  c.Signal,
		Session: c.Session,
	}
	ttl.ApplyDefaults()
	return ttl
}

// ConflictConfig names the write-race strategy per namespace. Empty fields
// keep the namespace's default.
type ConflictConfig struct {
	Working string `mapstructure:"working" yaml:"working" validate:"omitempty,oneof=last-write-wins reject-second merge"`
	Staged  string `mapstructure:"staged" yaml:"staged" validate:"omitempty,oneof=last-write-wins reject-second merge"`
	Signal  string `mapstructure:"signal" yaml:"signal" validate:"omitempty,oneof=last-write-wins reject-second merge"`
	Session string `mapstructure:"session" yaml:"session" validate:"omitempty,oneof=last-write-wins reject-second merge"`
}

// Policies builds the resolver policy map, starting from the defaults and
// applying configured overrides.
func (c ConflictConfig) Policies() map[string]shortterm.Strategy {
	policies := shortterm.DefaultPolicies()
	for class, value := range map[string]string{
		string(shortterm.TTLWorking): c.Working,
		string(shortterm.TTLStaged):  c.Staged,
		string(shortterm.TTLSignal):  c.Signal,
		string(shortterm.TTLSession): c.Session,
	} {
		if value != "" {
			policies[class] = shortterm.Strategy(value)
		}
	}
	return policies
}

// VaultConfig locates the long-term pattern store.
type VaultConfig struct {
	Path string `mapstructure:"path" yaml:"path" validate:"required"`
}

// AuditConfig locates the audit log store.
type AuditConfig struct {
	Path string `mapstructure:"path" yaml:"path" validate:"required"`
}

// SecurityConfig holds the encryption key material. MasterSecret is
// expected to arrive via ${VAULT_MASTER_SECRET} interpolation, never as a
// literal in the file.
type SecurityConfig struct {
	MasterSecret string `mapstructure:"master_secret" yaml:"master_secret" validate:"required,min=16"`
	ActiveKeyID  string `mapstructure:"active_key_id" yaml:"active_key_id" validate:"required"`
}

// ServerConfig tunes the management HTTP surface.
type ServerConfig struct {
	Enabled       bool          `mapstructure:"enabled" yaml:"enabled"`
	ListenAddress string        `mapstructure:"listen_address" yaml:"listen_address"`
	TokenSecret   string        `mapstructure:"token_secret" yaml:"token_secret"`
	TokenTTL      time.Duration `mapstructure:"token_ttl" yaml:"token_ttl"`
	RatePerSecond float64       `mapstructure:"rate_per_second" yaml:"rate_per_second" validate:"min=0"`
	RateBurst     int           `mapstructure:"rate_burst" yaml:"rate_burst" validate:"min=0"`
}

// SessionConfig tunes the abandoned-session reaper.
type SessionConfig struct {
	ReapInterval time.Duration `mapstructure:"reap_interval" yaml:"reap_interval"`
}

// LoggingConfig tunes the slog output.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" yaml:"format" validate:"oneof=json text"`
}

// TracingConfig tunes the OTel exporter. Disabled means the facade runs
// with a noop tracer.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled" yaml:"enabled"`
	Endpoint    string  `mapstructure:"endpoint" yaml:"endpoint"`
	ServiceName string  `mapstructure:"service_name" yaml:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate" yaml:"sample_rate" validate:"min=0,max=1"`
}
