// Package substrate abstracts the shared cache the short-term store runs on.
// Two implementations exist behind one interface: a networked Redis substrate
// shared by every agent process, and an in-process substrate used when Redis
// is unreachable. The choice is made once at startup; business logic never
// branches on which one it got.
//
// Every mutating method is a single atomic round trip, so a caller that is
// cancelled mid-operation either completed on the substrate or did not;
// partially-applied state is never observable.
package substrate

import (
	"context"
	"log/slog"
	"time"
)

// Substrate is the key/value contract the short-term store is built on.
// Values are opaque bytes; TTLs are enforced by the substrate itself.
type Substrate interface {
	// Name identifies the implementation ("redis" or "local").
	Name() string

	// Get returns the value for key, with found=false after expiry.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value under key with the given TTL (0 means no expiry).
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// SetNX stores value only if key does not exist. Returns true when this
	// caller won the write.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// CompareAndSwap replaces the value only if the current value equals old.
	// Returns true when the swap happened.
	CompareAndSwap(ctx context.Context, key string, old, new []byte, ttl time.Duration) (bool, error)

	// GetDel atomically reads and deletes key. Exactly one of any set of
	// concurrent callers observes the value.
	GetDel(ctx context.Context, key string) ([]byte, bool, error)

	// Delete removes key, reporting whether it existed.
	Delete(ctx context.Context, key string) (bool, error)

	// Keys lists live keys with the given prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// CountPrefix counts live keys with the given prefix.
	CountPrefix(ctx context.Context, prefix string) (int64, error)

	// Push appends value to the list at key and refreshes the list's TTL.
	Push(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Drain atomically reads and clears the list at key.
	Drain(ctx context.Context, key string) ([][]byte, error)

	// HSet sets one field in the hash at key. Hashes carry no TTL; they back
	// indexes that must outlive the entries they track.
	HSet(ctx context.Context, key, field string, value []byte) error

	// HGetAll returns every field of the hash at key.
	HGetAll(ctx context.Context, key string) (map[string][]byte, error)

	// HDel removes fields from the hash at key.
	HDel(ctx context.Context, key string, fields ...string) error

	// Ping checks substrate reachability.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// Config selects and tunes the substrate connection.
type Config struct {
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	DialTimeout   time.Duration `yaml:"dial_timeout"`
}

// Connect pings Redis once and returns the networked substrate on success.
// On failure it returns the in-process substrate and degraded=true; callers
// keep functioning with single-process scope, and the condition is logged
// once here rather than surfaced as an error.
func Connect(ctx context.Context, cfg Config, logger *slog.Logger) (Substrate, bool) {
	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	redisSubstrate := NewRedisSubstrate(cfg)

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := redisSubstrate.Ping(pingCtx); err != nil {
		_ = redisSubstrate.Close()
		logger.Warn("cache substrate unreachable, running on in-process fallback",
			"addr", cfg.RedisAddr,
			"error", err,
			"scope", "signals and staged-pattern listing degrade to single-agent visibility")
		return NewLocalSubstrate(), true
	}

	logger.Info("connected to cache substrate", "addr", cfg.RedisAddr)
	return redisSubstrate, false
}
