package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mrblonde/orders/pkg/metrics"
)

// fixedWindowScript performs the whole check atomically on the server.
// KEYS[1] counter key, ARGV[1] window in ms, ARGV[2] max requests.
// Returns {allowed, count, pttl}.
var fixedWindowScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if not current then
  redis.call('SET', KEYS[1], '1', 'PX', ARGV[1])
  return {1, 1, tonumber(ARGV[1])}
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
local count = tonumber(current)
if count >= tonumber(ARGV[2]) then
  return {0, count, ttl}
end
count = redis.call('INCR', KEYS[1])
return {1, count, ttl}
`)

// DefaultRedisPrefix namespaces counter keys.
const DefaultRedisPrefix = "orders:ratelimit:"

// RedisWindow is a fixed-window limiter whose counters live in Redis, so all
// instances behind a load balancer share one ceiling. Expiry is delegated to
// Redis key TTLs, hence Start and Stop have nothing to do.
type RedisWindow struct {
	client redis.Cmdable
	config Config
	prefix string
	log    *zap.SugaredLogger
}

// NewRedisWindow expects a pre-configured redis.Cmdable (Client, ClusterClient, ...).
func NewRedisWindow(client redis.Cmdable, cfg Config, prefix string, log *zap.SugaredLogger) *RedisWindow {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &RedisWindow{client: client, config: cfg, prefix: prefix, log: log}
}

// Check fails open: when Redis is unreachable the request is admitted and the
// failure is logged and counted.
func (rw *RedisWindow) Check(ctx context.Context, identifier string, bucket Bucket) Result {
	key := rw.prefix + Key(identifier, bucket)

	res, err := rw.run(ctx, key)
	if err != nil {
		rw.log.Warnw("Shared rate limit backend failed, allowing request",
			"key", key, "bucket", bucket, "error", err)
		metrics.RateLimitBackendErrors.WithLabelValues(string(bucket)).Inc()
		return Result{
			Allowed:   true,
			Limit:     rw.config.MaxRequests,
			Remaining: rw.config.MaxRequests,
			ResetIn:   rw.config.Window,
		}
	}
	return res
}

func (rw *RedisWindow) run(ctx context.Context, key string) (Result, error) {
	vals, err := fixedWindowScript.Run(ctx, rw.client, []string{key},
		rw.config.Window.Milliseconds(), rw.config.MaxRequests).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("redis fixed window script for key %s: %w", key, err)
	}
	if len(vals) != 3 {
		return Result{}, fmt.Errorf("unexpected redis script result for key %s: %v", key, vals)
	}

	allowed := vals[0] == 1
	res := Result{
		Allowed: allowed,
		Limit:   rw.config.MaxRequests,
		ResetIn: time.Duration(vals[2]) * time.Millisecond,
	}
	if allowed {
		res.Remaining = max(rw.config.MaxRequests-int(vals[1]), 0)
	}
	return res, nil
}

func (rw *RedisWindow) Reset(ctx context.Context, identifier string, bucket Bucket) {
	key := rw.prefix + Key(identifier, bucket)
	if err := rw.client.Del(ctx, key).Err(); err != nil {
		rw.log.Warnw("Failed to reset shared rate limit counter", "key", key, "error", err)
	}
}

func (rw *RedisWindow) Config() Config {
	return rw.config
}

func (rw *RedisWindow) Start() {}

func (rw *RedisWindow) Stop() {}
