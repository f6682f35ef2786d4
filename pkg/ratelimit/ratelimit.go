package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"k8s.io/utils/clock"
)

// Config holds the immutable settings of one limiter instance.
type Config struct {
	// Window is the length of a counting window
	Window time.Duration
	// MaxRequests is the number of requests admitted per window
	MaxRequests int
}

// Validate rejects non-positive windows and ceilings.
func (c Config) Validate() error {
	if c.Window <= 0 {
		return fmt.Errorf("rate limit window must be positive, got %s", c.Window)
	}
	if c.MaxRequests <= 0 {
		return fmt.Errorf("rate limit max requests must be positive, got %d", c.MaxRequests)
	}
	return nil
}

// DefaultAuthConfig returns the config for login and signup routes.
// Strict: 10 requests per minute per client.
func DefaultAuthConfig() Config {
	return Config{Window: time.Minute, MaxRequests: 10}
}

// DefaultOrderConfig returns the config for order routes.
// 30 requests per minute per client.
func DefaultOrderConfig() Config {
	return Config{Window: time.Minute, MaxRequests: 30}
}

// DefaultGeneralConfig returns the config for every other route.
// 100 requests per minute per client.
func DefaultGeneralConfig() Config {
	return Config{Window: time.Minute, MaxRequests: 100}
}

// Result is the outcome of a single check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	// ResetIn is the time left until the current window (or bucket) resets
	ResetIn time.Duration
}

// Limiter is implemented by every strategy. Check never fails: backend
// problems are resolved inside the implementation.
type Limiter interface {
	Check(ctx context.Context, identifier string, bucket Bucket) Result
	Reset(ctx context.Context, identifier string, bucket Bucket)
	Config() Config
	Start()
	Stop()
}

var ErrUnsupportedStrategy = errors.New("unsupported rate limit strategy")

// Key builds the storage key "<identifier>:<bucket>".
func Key(identifier string, bucket Bucket) string {
	return identifier + ":" + string(bucket)
}

type options struct {
	clock clock.PassiveClock
}

// Option customizes a limiter.
type Option func(*options)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c clock.PassiveClock) Option {
	return func(o *options) { o.clock = c }
}

func buildOptions(opts []Option) options {
	o := options{clock: clock.RealClock{}}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
