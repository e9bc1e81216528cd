package cooldown

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig defines connection parameters for a shared cooldown table.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	UseTLS   bool
	Prefix   string
}

// Redis keeps cooldowns as expiring keys so several bot processes can share
// one table.
type Redis struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

// acquireScript checks both keys and sets them only when both are clear.
// ARGV: global ms, user ms. Returns remaining ms (0 on success).
var acquireScript = redis.NewScript(`
local g = 0
local u = 0
if KEYS[1] ~= "" then
  local t = redis.call('PTTL', KEYS[1])
  if t > 0 then g = t end
end
if KEYS[2] ~= "" then
  local t = redis.call('PTTL', KEYS[2])
  if t > 0 then u = t end
end
local rem = g
if u > 0 then
  rem = math.max(u, g)
end
if rem > 0 then
  return rem
end
if KEYS[1] ~= "" and tonumber(ARGV[1]) > 0 then
  redis.call('SET', KEYS[1], '1', 'PX', ARGV[1])
end
if KEYS[2] ~= "" and tonumber(ARGV[2]) > 0 then
  redis.call('SET', KEYS[2], '1', 'PX', ARGV[2])
end
return 0
`)

// NewRedis connects a Redis-backed store.
func NewRedis(cfg RedisConfig, logger *slog.Logger) *Redis {
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.UseTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "firebot:cooldown:"
	}
	return &Redis{
		client: redis.NewClient(opts),
		prefix: prefix,
		logger: logger.With("component", "cooldown_redis"),
	}
}

// Ping verifies Redis connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Close releases Redis resources.
func (r *Redis) Close() error { return r.client.Close() }

func (r *Redis) key(k string) string {
	if k == "" {
		return ""
	}
	return r.prefix + k
}

// Acquire implements Store.
func (r *Redis) Acquire(ctx context.Context, req Request) (time.Duration, bool, error) {
	ms, err := acquireScript.Run(ctx, r.client,
		[]string{r.key(req.GlobalKey), r.key(req.UserKey)},
		req.Global.Milliseconds(), req.User.Milliseconds(),
	).Int64()
	if err != nil {
		return 0, false, fmt.Errorf("cooldown acquire: %w", err)
	}
	if ms > 0 {
		return time.Duration(ms) * time.Millisecond, false, nil
	}
	return 0, true, nil
}

// Remaining implements Store.
func (r *Redis) Remaining(ctx context.Context, req Request) (time.Duration, error) {
	ttl := func(k string) (time.Duration, error) {
		if k == "" {
			return 0, nil
		}
		d, err := r.client.PTTL(ctx, r.key(k)).Result()
		if err != nil {
			return 0, fmt.Errorf("cooldown ttl: %w", err)
		}
		if d < 0 {
			return 0, nil
		}
		return d, nil
	}
	g, err := ttl(req.GlobalKey)
	if err != nil {
		return 0, err
	}
	u, err := ttl(req.UserKey)
	if err != nil {
		return 0, err
	}
	return remaining(g, u), nil
}

// Flush implements Store by deleting every prefixed key.
func (r *Redis) Flush(ctx context.Context) error {
	var cursor uint64
	deleted := 0
	for {
		keys, next, err := r.client.Scan(ctx, cursor, r.prefix+"*", 200).Result()
		if err != nil {
			return fmt.Errorf("cooldown flush scan: %w", err)
		}
		if len(keys) > 0 {
			if err := r.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("cooldown flush del: %w", err)
			}
			deleted += len(keys)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	r.logger.Debug("cooldowns flushed", slog.Int("keys", deleted))
	return nil
}
