package ratelimit

import (
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Bucket is a coarse classification of a request path.
type Bucket string

const (
	BucketAuth    Bucket = "auth"
	BucketOrder   Bucket = "order"
	BucketGeneral Bucket = "general"
)

// Buckets lists every bucket in a stable order.
var Buckets = []Bucket{BucketAuth, BucketOrder, BucketGeneral}

var (
	authRoutes  = []string{"/login", "/signup", "/portal/login", "/api/auth", "/api/portal/login"}
	orderRoutes = []string{"/pedido", "/api/orders", "/api/pedidos"}
)

func under(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

// Classify maps a path to its bucket: login/signup endpoints are auth, public
// order pages and order APIs are order, everything else is general.
func Classify(path string) Bucket {
	for _, p := range authRoutes {
		if under(path, p) {
			return BucketAuth
		}
	}
	for _, p := range orderRoutes {
		if under(path, p) {
			return BucketOrder
		}
	}
	return BucketGeneral
}

// ParseBucket validates a bucket name coming from user input.
func ParseBucket(s string) (Bucket, error) {
	for _, b := range Buckets {
		if string(b) == s {
			return b, nil
		}
	}
	return "", fmt.Errorf("unknown rate limit bucket %q", s)
}

// Set holds one independent limiter per bucket.
type Set struct {
	limiters map[Bucket]Limiter
}

func NewSet(auth, order, general Limiter) *Set {
	return &Set{limiters: map[Bucket]Limiter{
		BucketAuth:    auth,
		BucketOrder:   order,
		BucketGeneral: general,
	}}
}

// For returns the limiter of a bucket, falling back to the general one.
func (s *Set) For(b Bucket) Limiter {
	if l, ok := s.limiters[b]; ok && l != nil {
		return l
	}
	return s.limiters[BucketGeneral]
}

// Start starts every limiter's sweep.
func (s *Set) Start() {
	for _, b := range Buckets {
		if l := s.limiters[b]; l != nil {
			l.Start()
		}
	}
}

// Stop stops every limiter's sweep.
func (s *Set) Stop() {
	for _, b := range Buckets {
		if l := s.limiters[b]; l != nil {
			l.Stop()
		}
	}
}

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"

	StrategyFixedWindow = "fixed-window"
	StrategyTokenBucket = "token-bucket"
)

// SetConfig describes how to build a Set.
type SetConfig struct {
	Backend  string
	Strategy string
	Auth     Config
	Order    Config
	General  Config

	// Redis and RedisPrefix are only used by the redis backend
	Redis       redis.Cmdable
	RedisPrefix string
}

// NewSetFromConfig builds the three bucket limiters for the configured
// backend and strategy. The redis backend only implements the fixed window.
func NewSetFromConfig(cfg SetConfig, log *zap.SugaredLogger, opts ...Option) (*Set, error) {
	for b, c := range map[Bucket]Config{BucketAuth: cfg.Auth, BucketOrder: cfg.Order, BucketGeneral: cfg.General} {
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("bucket %s: %w", b, err)
		}
	}

	strategy := cfg.Strategy
	if strategy == "" {
		strategy = StrategyFixedWindow
	}

	var build func(Config) Limiter
	switch {
	case cfg.Backend == BackendRedis:
		if strategy != StrategyFixedWindow {
			return nil, fmt.Errorf("%w: %s with redis backend", ErrUnsupportedStrategy, strategy)
		}
		if cfg.Redis == nil {
			return nil, fmt.Errorf("redis backend selected but no redis client configured")
		}
		build = func(c Config) Limiter { return NewRedisWindow(cfg.Redis, c, cfg.RedisPrefix, log) }
	case cfg.Backend == "" || cfg.Backend == BackendMemory:
		switch strategy {
		case StrategyFixedWindow:
			build = func(c Config) Limiter { return NewFixedWindow(c, opts...) }
		case StrategyTokenBucket:
			build = func(c Config) Limiter { return NewTokenBucket(c, opts...) }
		default:
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedStrategy, strategy)
		}
	default:
		return nil, fmt.Errorf("unknown rate limit backend %q", cfg.Backend)
	}

	return NewSet(build(cfg.Auth), build(cfg.Order), build(cfg.General)), nil
}
