package audit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mrblonde/orders/pkg/metrics"
)

type ManagerConfig struct {
	// QueueSize bounds the events waiting for a worker, default 1000
	QueueSize int
	// WorkerCount is the number of goroutines draining the queue, default 2
	WorkerCount int
	// WriteTimeout bounds one sink write, default 5s
	WriteTimeout time.Duration
	// BatchSize is the most events one worker hands to a BatchSink at once, default 100
	BatchSize int
	// FlushInterval flushes a partial batch, default 100ms
	FlushInterval time.Duration
}

func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		QueueSize:     1000,
		WorkerCount:   2,
		WriteTimeout:  5 * time.Second,
		BatchSize:     100,
		FlushInterval: 100 * time.Millisecond,
	}
}

func (c ManagerConfig) withDefaults() ManagerConfig {
	def := DefaultManagerConfig()
	if c.QueueSize <= 0 {
		c.QueueSize = def.QueueSize
	}
	if c.WorkerCount <= 0 {
		c.WorkerCount = def.WorkerCount
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = def.FlushInterval
	}
	return c
}

// Manager stamps events and hands them to a sink from background workers.
// Emit never blocks a request: when the queue is full the event is dropped
// and counted. When the sink is a BatchSink the workers group up to
// BatchSize events per write and flush partial groups every FlushInterval,
// so a slow round trip is paid once per batch rather than once per event.
// All methods accept a nil *Manager, which discards events.
type Manager struct {
	sink       Sink
	cfg        ManagerConfig
	asyncQueue chan *Event
	log        *zap.SugaredLogger
	workers    sync.WaitGroup

	// mu orders Emit's send against Close's close(asyncQueue)
	mu     sync.RWMutex
	closed atomic.Bool

	queued    atomic.Int64
	processed atomic.Int64
	dropped   atomic.Int64
}

func NewManager(sink Sink, cfg ManagerConfig, logger *zap.Logger) *Manager {
	cfg = cfg.withDefaults()
	m := &Manager{
		sink:       sink,
		cfg:        cfg,
		asyncQueue: make(chan *Event, cfg.QueueSize),
		log:        logger.Named("audit-manager").Sugar(),
	}
	bs, batching := sink.(BatchSink)
	m.workers.Add(cfg.WorkerCount)
	for i := range cfg.WorkerCount {
		if batching {
			go m.batchWork(i, bs)
		} else {
			go m.work(i)
		}
	}
	m.log.Infow("Audit trail started", "sink", sink.Name(), "queue_size", cfg.QueueSize,
		"workers", cfg.WorkerCount, "batching", batching, "batch_size", cfg.BatchSize)
	return m
}

// Emit fills in id, timestamp, severity and actor kind when missing and
// queues the event.
func (m *Manager) Emit(_ context.Context, event *Event) {
	if m == nil {
		return
	}
	stamp(event)

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed.Load() {
		return
	}
	select {
	case m.asyncQueue <- event:
		m.queued.Add(1)
	default:
		m.dropped.Add(1)
		metrics.AuditEventsDropped.Inc()
		m.log.Warnw("Audit queue full, dropping event", "event_type", event.Type, "event_id", event.ID)
	}
}

func stamp(e *Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.Severity == "" {
		e.Severity = SeverityForEventType(e.Type)
	}
	if e.Actor.Kind == "" {
		e.Actor.Kind = KindAnonymous
	}
}

func (m *Manager) work(id int) {
	defer m.workers.Done()
	for event := range m.asyncQueue {
		m.write(id, event)
	}
}

func (m *Manager) write(worker int, event *Event) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.WriteTimeout)
	defer cancel()

	if err := m.sink.Write(ctx, event); err != nil {
		m.failed(worker, 1, err, "event_id", event.ID, "event_type", event.Type)
		return
	}
	m.delivered(1)
}

func (m *Manager) batchWork(id int, sink BatchSink) {
	defer m.workers.Done()
	ticker := time.NewTicker(m.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]*Event, 0, m.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		m.writeBatch(id, sink, batch)
		batch = make([]*Event, 0, m.cfg.BatchSize)
	}

	for {
		select {
		case event, ok := <-m.asyncQueue:
			if !ok {
				flush()
				return
			}
			batch = append(batch, event)
			if len(batch) >= m.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (m *Manager) writeBatch(worker int, sink BatchSink, batch []*Event) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.WriteTimeout)
	defer cancel()

	metrics.AuditBatchSize.Observe(float64(len(batch)))
	if err := sink.WriteBatch(ctx, batch); err != nil {
		m.failed(worker, len(batch), err, "batch_size", len(batch))
		return
	}
	m.delivered(len(batch))
}

func (m *Manager) delivered(n int) {
	m.processed.Add(int64(n))
	metrics.AuditEventsEmitted.WithLabelValues(m.sink.Name()).Add(float64(n))
}

func (m *Manager) failed(worker, n int, err error, keysAndValues ...any) {
	metrics.AuditEventsFailed.WithLabelValues(m.sink.Name()).Add(float64(n))
	kv := append([]any{"worker", worker, "error", err}, keysAndValues...)
	// an open circuit is already reported by the breaker on each state change
	if errors.Is(err, ErrCircuitOpen) {
		m.log.Debugw("Audit sink circuit open, events not delivered", kv...)
		return
	}
	m.log.Errorw("Failed to write audit events", kv...)
}

// Close stops accepting events, waits for the queue to drain and closes the
// sink. Only the first call does anything.
func (m *Manager) Close() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	if m.closed.Swap(true) {
		m.mu.Unlock()
		return nil
	}
	close(m.asyncQueue)
	m.mu.Unlock()

	m.workers.Wait()
	m.log.Infow("Audit trail stopped", "processed", m.processed.Load(), "dropped", m.dropped.Load())
	return m.sink.Close()
}

type ManagerStats struct {
	QueuedEvents    int64
	ProcessedEvents int64
	DroppedEvents   int64
}

func (m *Manager) Stats() ManagerStats {
	if m == nil {
		return ManagerStats{}
	}
	return ManagerStats{
		QueuedEvents:    m.queued.Load(),
		ProcessedEvents: m.processed.Load(),
		DroppedEvents:   m.dropped.Load(),
	}
}

func (m *Manager) record(ctx context.Context, typ EventType, kind string, actor Actor, path string, details map[string]any) {
	if kind != "" {
		actor.Kind = kind
	}
	m.Emit(ctx, &Event{Type: typ, Actor: actor, Path: path, Details: details})
}

func (m *Manager) PortalLoginSucceeded(ctx context.Context, actor Actor, path string) {
	m.record(ctx, EventPortalLoginSucceeded, KindClient, actor, path, nil)
}

// PortalLoginFailed records a rejected login. reason is the result label
// (invalid_input, not_found, incorrect_token, not_allowed), never the input.
func (m *Manager) PortalLoginFailed(ctx context.Context, actor Actor, path, reason string) {
	m.record(ctx, EventPortalLoginFailed, "", actor, path, map[string]any{"reason": reason})
}

func (m *Manager) PortalLogout(ctx context.Context, actor Actor, path string) {
	m.record(ctx, EventPortalLogout, KindClient, actor, path, nil)
}

func (m *Manager) PortalCookiePurged(ctx context.Context, actor Actor, path string) {
	m.record(ctx, EventPortalCookiePurged, "", actor, path, nil)
}

func (m *Manager) RateLimitExceeded(ctx context.Context, actor Actor, path, bucket string, resetIn time.Duration) {
	m.record(ctx, EventRateLimitExceeded, "", actor, path, map[string]any{
		"bucket":    bucket,
		"resetInMs": resetIn.Milliseconds(),
	})
}

func (m *Manager) RateLimitReset(ctx context.Context, actor Actor, identifier, bucket string) {
	m.record(ctx, EventRateLimitReset, KindAdmin, actor, "", map[string]any{
		"identifier": identifier,
		"bucket":     bucket,
	})
}

func (m *Manager) SessionInvalidated(ctx context.Context, actor Actor, path, reason string) {
	m.record(ctx, EventSessionInvalidated, KindAdmin, actor, path, map[string]any{"reason": reason})
}

func (m *Manager) CSRFFlagged(ctx context.Context, actor Actor, method, path string, enforced bool) {
	m.record(ctx, EventCSRFFlagged, "", actor, path, map[string]any{
		"method":   method,
		"enforced": enforced,
	})
}
