package ratelimit

import (
	"context"
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// entry is the counter of one key inside its current window
type entry struct {
	count     int
	resetTime time.Time
}

// FixedWindow is the in-memory fixed-window limiter. Counters live in a
// process-local map, so the limit is enforced per instance.
type FixedWindow struct {
	mu      sync.Mutex
	entries map[string]*entry
	config  Config
	clock   clock.PassiveClock

	lifecycle sync.Mutex
	started   bool
	done      chan struct{}
	stopped   chan struct{}
	stopOnce  sync.Once
}

// NewFixedWindow creates a limiter. The sweep goroutine is not running until
// Start is called.
func NewFixedWindow(cfg Config, opts ...Option) *FixedWindow {
	o := buildOptions(opts)
	return &FixedWindow{
		entries: make(map[string]*entry),
		config:  cfg,
		clock:   o.clock,
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Check counts one request for identifier in bucket.
func (fw *FixedWindow) Check(_ context.Context, identifier string, bucket Bucket) Result {
	key := Key(identifier, bucket)
	now := fw.clock.Now()

	fw.mu.Lock()
	defer fw.mu.Unlock()

	e, exists := fw.entries[key]
	if !exists || !now.Before(e.resetTime) {
		fw.entries[key] = &entry{count: 1, resetTime: now.Add(fw.config.Window)}
		return Result{
			Allowed:   true,
			Limit:     fw.config.MaxRequests,
			Remaining: fw.config.MaxRequests - 1,
			ResetIn:   fw.config.Window,
		}
	}

	resetIn := e.resetTime.Sub(now)
	if e.count >= fw.config.MaxRequests {
		return Result{Allowed: false, Limit: fw.config.MaxRequests, Remaining: 0, ResetIn: resetIn}
	}

	e.count++
	return Result{
		Allowed:   true,
		Limit:     fw.config.MaxRequests,
		Remaining: fw.config.MaxRequests - e.count,
		ResetIn:   resetIn,
	}
}

// Reset drops the counter of one key.
func (fw *FixedWindow) Reset(_ context.Context, identifier string, bucket Bucket) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	delete(fw.entries, Key(identifier, bucket))
}

func (fw *FixedWindow) Config() Config {
	return fw.config
}

// Start launches the sweep at window cadence. Calling it twice is a no-op.
func (fw *FixedWindow) Start() {
	fw.lifecycle.Lock()
	defer fw.lifecycle.Unlock()
	if fw.started {
		return
	}
	fw.started = true
	go fw.sweepLoop()
}

// Stop ends the sweep and waits for it to exit. Safe to call multiple times
// and on a limiter that was never started.
func (fw *FixedWindow) Stop() {
	fw.stopOnce.Do(func() { close(fw.done) })

	fw.lifecycle.Lock()
	started := fw.started
	fw.lifecycle.Unlock()
	if started {
		<-fw.stopped
	}
}

func (fw *FixedWindow) sweepLoop() {
	defer close(fw.stopped)
	ticker := time.NewTicker(fw.config.Window)
	defer ticker.Stop()

	for {
		select {
		case <-fw.done:
			return
		case <-ticker.C:
			fw.Sweep()
		}
	}
}

// Sweep deletes every entry whose window has already ended.
func (fw *FixedWindow) Sweep() {
	now := fw.clock.Now()

	fw.mu.Lock()
	defer fw.mu.Unlock()

	for key, e := range fw.entries {
		if !now.Before(e.resetTime) {
			delete(fw.entries, key)
		}
	}
}

// Len returns the number of tracked keys (for testing/metrics)
func (fw *FixedWindow) Len() int {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return len(fw.entries)
}
