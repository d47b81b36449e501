package substrate

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Zeeeepa/attune-ai-sub002/internal/types"
)

// casScript atomically swaps a key's value when the current value matches.
// KEYS[1] = key, ARGV[1] = expected old value, ARGV[2] = new value,
// ARGV[3] = TTL in milliseconds (0 = keep no expiry).
var casScript = redis.NewScript(`
local current = redis.call("GET", KEYS[1])
if current == false or current ~= ARGV[1] then
	return 0
end
if tonumber(ARGV[3]) > 0 then
	redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
else
	redis.call("SET", KEYS[1], ARGV[2])
end
return 1
`)

// drainScript atomically reads and deletes a list.
var drainScript = redis.NewScript(`
local items = redis.call("LRANGE", KEYS[1], 0, -1)
redis.call("DEL", KEYS[1])
return items
`)

// RedisSubstrate implements Substrate over a shared Redis instance. All
// agents see the same keyspace, so signals and staged patterns are visible
// across processes.
type RedisSubstrate struct {
	client *redis.Client
}

// NewRedisSubstrate creates the networked substrate. The connection is not
// verified here; Connect pings before committing to it.
func NewRedisSubstrate(cfg Config) *RedisSubstrate {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return &RedisSubstrate{client: client}
}

// NewRedisSubstrateFromClient wraps an existing client. Tests use this with
// miniredis.
func NewRedisSubstrateFromClient(client *redis.Client) *RedisSubstrate {
	return &RedisSubstrate{client: client}
}

// Name identifies the implementation.
func (r *RedisSubstrate) Name() string {
	return "redis"
}

// Get returns the value for key.
func (r *RedisSubstrate) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, wrapUnavailable("get", err)
	}
	return value, true, nil
}

// Set stores value with TTL.
func (r *RedisSubstrate) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return wrapUnavailable("set", err)
	}
	return nil
}

// SetNX stores value only if key is absent.
func (r *RedisSubstrate) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	won, err := r.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, wrapUnavailable("setnx", err)
	}
	return won, nil
}

// CompareAndSwap swaps the value iff the current value equals old.
func (r *RedisSubstrate) CompareAndSwap(ctx context.Context, key string, old, new []byte, ttl time.Duration) (bool, error) {
	result, err := casScript.Run(ctx, r.client, []string{key},
		string(old), string(new), ttl.Milliseconds()).Int()
	if err != nil {
		return false, wrapUnavailable("cas", err)
	}
	return result == 1, nil
}

// GetDel atomically reads and deletes key.
func (r *RedisSubstrate) GetDel(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := r.client.GetDel(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, wrapUnavailable("getdel", err)
	}
	return value, true, nil
}

// Delete removes key.
func (r *RedisSubstrate) Delete(ctx context.Context, key string) (bool, error) {
	removed, err := r.client.Del(ctx, key).Result()
	if err != nil {
		return false, wrapUnavailable("del", err)
	}
	return removed > 0, nil
}

// Keys lists live keys with the given prefix using SCAN.
func (r *RedisSubstrate) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, wrapUnavailable("scan", err)
	}
	return keys, nil
}

// CountPrefix counts live keys with the given prefix.
func (r *RedisSubstrate) CountPrefix(ctx context.Context, prefix string) (int64, error) {
	keys, err := r.Keys(ctx, prefix)
	if err != nil {
		return 0, err
	}
	return int64(len(keys)), nil
}

// Push appends to the list at key and refreshes its TTL in one pipeline.
func (r *RedisSubstrate) Push(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	pipe := r.client.TxPipeline()
	pipe.RPush(ctx, key, value)
	if ttl > 0 {
		pipe.PExpire(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return wrapUnavailable("push", err)
	}
	return nil
}

// Drain atomically reads and clears the list at key.
func (r *RedisSubstrate) Drain(ctx context.Context, key string) ([][]byte, error) {
	items, err := drainScript.Run(ctx, r.client, []string{key}).StringSlice()
	if err != nil {
		return nil, wrapUnavailable("drain", err)
	}

	values := make([][]byte, 0, len(items))
	for _, item := range items {
		values = append(values, []byte(item))
	}
	return values, nil
}

// HSet sets one hash field.
func (r *RedisSubstrate) HSet(ctx context.Context, key, field string, value []byte) error {
	if err := r.client.HSet(ctx, key, field, value).Err(); err != nil {
		return wrapUnavailable("hset", err)
	}
	return nil
}

// HGetAll returns every field of the hash at key.
func (r *RedisSubstrate) HGetAll(ctx context.Context, key string) (map[string][]byte, error) {
	fields, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, wrapUnavailable("hgetall", err)
	}

	out := make(map[string][]byte, len(fields))
	for field, value := range fields {
		out[field] = []byte(value)
	}
	return out, nil
}

// HDel removes hash fields.
func (r *RedisSubstrate) HDel(ctx context.Context, key string, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	if err := r.client.HDel(ctx, key, fields...).Err(); err != nil {
		return wrapUnavailable("hdel", err)
	}
	return nil
}

// Ping checks reachability.
func (r *RedisSubstrate) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return wrapUnavailable("ping", err)
	}
	return nil
}

// Close closes the client.
func (r *RedisSubstrate) Close() error {
	return r.client.Close()
}

func wrapUnavailable(op string, err error) error {
	return types.WrapError(types.SUBSTRATE_UNAVAILABLE, "redis "+op, err)
}
