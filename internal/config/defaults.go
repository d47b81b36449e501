package config

import (
	"os"
	"path/filepath"
	"time"
)

// DefaultConfig returns the configuration vaultd runs with when no file is
// present. The master secret has no default; it must come from the
// environment.
func DefaultConfig() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	dataDir := filepath.Join(home, ".vaultd")

	return &Config{
		Core: CoreConfig{
			HomeDir: home,
			DataDir: dataDir,
		},
		Substrate: SubstrateConfig{
			RedisAddr:   "localhost:6379",
			DialTimeout: 5 * time.Second,
		},
		TTL: TTLConfig{
			Working: time.Hour,
			Staged:  24 * time.Hour,
			Signal:  5 * time.Minute,
			Session: 30 * time.Minute,
		},
		Vault: VaultConfig{
			Path: filepath.Join(dataDir, "vault.db"),
		},
		Audit: AuditConfig{
			Path: filepath.Join(dataDir, "audit.db"),
		},
		Security: SecurityConfig{
			MasterSecret: os.Getenv("VAULT_MASTER_SECRET"),
			ActiveKeyID:  "primary",
		},
		Server: ServerConfig{
			Enabled:       true,
			ListenAddress: "127.0.0.1:8420",
			TokenSecret:   os.Getenv("VAULT_TOKEN_SECRET"),
			TokenTTL:      24 * time.Hour,
			RatePerSecond: 10,
			RateBurst:     20,
		},
		Session: SessionConfig{
			ReapInterval: 5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "vaultd",
			SampleRate:  1.0,
		},
	}
}

// ApplyEnvironmentOverrides checks for environment variables and overrides
// the config values if they are set.
//
// Supported environment variables:
//   - VAULT_REDIS_ADDR: overrides substrate.redis_addr
//   - VAULT_REDIS_PASSWORD: overrides substrate.redis_password
//   - VAULT_MASTER_SECRET: overrides security.master_secret
//   - VAULT_TOKEN_SECRET: overrides server.token_secret
//   - VAULT_LISTEN_ADDRESS: overrides server.listen_address
//   - VAULT_LOG_LEVEL: overrides logging.level
func (c *Config) ApplyEnvironmentOverrides() {
	if addr := os.Getenv("VAULT_REDIS_ADDR"); addr != "" {
		c.Substrate.RedisAddr = addr
	}
	if password := os.Getenv("VAULT_REDIS_PASSWORD"); password != "" {
		c.Substrate.RedisPassword = password
	}
	if secret := os.Getenv("VAULT_MASTER_SECRET"); secret != "" {
		c.Security.MasterSecret = secret
	}
	if secret := os.Getenv("VAULT_TOKEN_SECRET"); secret != "" {
		c.Server.TokenSecret = secret
	}
	if addr := os.Getenv("VAULT_LISTEN_ADDRESS"); addr != "" {
		c.Server.ListenAddress = addr
	}
	if level := os.Getenv("VAULT_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}
