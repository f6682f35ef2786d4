package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"k8s.io/utils/clock"
)

type bucketEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// TokenBucket refills MaxRequests tokens evenly over Window with a burst of
// MaxRequests. It trades the fixed window's boundary bursts for a smooth rate.
type TokenBucket struct {
	mu      sync.Mutex
	entries map[string]*bucketEntry
	config  Config
	clock   clock.PassiveClock
	limit   rate.Limit

	lifecycle sync.Mutex
	started   bool
	done      chan struct{}
	stopped   chan struct{}
	stopOnce  sync.Once
}

func NewTokenBucket(cfg Config, opts ...Option) *TokenBucket {
	o := buildOptions(opts)
	return &TokenBucket{
		entries: make(map[string]*bucketEntry),
		config:  cfg,
		clock:   o.clock,
		limit:   rate.Limit(float64(cfg.MaxRequests) / cfg.Window.Seconds()),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

func (tb *TokenBucket) Check(_ context.Context, identifier string, bucket Bucket) Result {
	key := Key(identifier, bucket)
	now := tb.clock.Now()

	tb.mu.Lock()
	defer tb.mu.Unlock()

	e, exists := tb.entries[key]
	if !exists {
		e = &bucketEntry{limiter: rate.NewLimiter(tb.limit, tb.config.MaxRequests)}
		tb.entries[key] = e
	}
	e.lastAccess = now

	allowed := e.limiter.AllowN(now, 1)
	tokens := e.limiter.TokensAt(now)

	res := Result{
		Allowed:   allowed,
		Limit:     tb.config.MaxRequests,
		Remaining: max(int(math.Floor(tokens)), 0),
	}
	if allowed {
		// time until the bucket is full again
		res.ResetIn = tb.refillTime(float64(tb.config.MaxRequests) - tokens)
	} else {
		// time until the next token
		res.ResetIn = tb.refillTime(1 - tokens)
	}
	return res
}

func (tb *TokenBucket) refillTime(missing float64) time.Duration {
	if missing <= 0 {
		return 0
	}
	return time.Duration(missing / float64(tb.limit) * float64(time.Second))
}

func (tb *TokenBucket) Reset(_ context.Context, identifier string, bucket Bucket) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	delete(tb.entries, Key(identifier, bucket))
}

func (tb *TokenBucket) Config() Config {
	return tb.config
}

func (tb *TokenBucket) Start() {
	tb.lifecycle.Lock()
	defer tb.lifecycle.Unlock()
	if tb.started {
		return
	}
	tb.started = true
	go tb.cleanup()
}

func (tb *TokenBucket) Stop() {
	tb.stopOnce.Do(func() { close(tb.done) })

	tb.lifecycle.Lock()
	started := tb.started
	tb.lifecycle.Unlock()
	if started {
		<-tb.stopped
	}
}

// cleanup periodically removes buckets that have been idle for a full window;
// such buckets are full again and indistinguishable from new ones.
func (tb *TokenBucket) cleanup() {
	defer close(tb.stopped)
	ticker := time.NewTicker(tb.config.Window)
	defer ticker.Stop()

	for {
		select {
		case <-tb.done:
			return
		case <-ticker.C:
			tb.Sweep()
		}
	}
}

func (tb *TokenBucket) Sweep() {
	now := tb.clock.Now()

	tb.mu.Lock()
	defer tb.mu.Unlock()

	for key, e := range tb.entries {
		if now.Sub(e.lastAccess) >= tb.config.Window {
			delete(tb.entries, key)
		}
	}
}

// Len returns the current number of tracked keys (for testing/metrics)
func (tb *TokenBucket) Len() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return len(tb.entries)
}
