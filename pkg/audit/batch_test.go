package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/mrblonde/orders/pkg/metrics"
)

// slowWriter pays a fixed delay per WriteMessages call, like a produce
// round trip to a remote broker.
type slowWriter struct {
	delay time.Duration

	mu    sync.Mutex
	calls int
	msgs  []kafka.Message
}

func (w *slowWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	time.Sleep(w.delay)
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *slowWriter) Close() error { return nil }

func (w *slowWriter) counts() (calls, msgs int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.calls, len(w.msgs)
}

func TestManagerBatchesSlowKafkaWriter(t *testing.T) {
	w := &slowWriter{delay: 50 * time.Millisecond}
	sink := newKafkaSinkWithWriter(w, zaptest.NewLogger(t))
	m := NewManager(sink, ManagerConfig{
		QueueSize:     1000,
		WorkerCount:   2,
		BatchSize:     100,
		FlushInterval: 20 * time.Millisecond,
	}, zaptest.NewLogger(t))

	const total = 500
	start := time.Now()
	for i := range total {
		m.Emit(context.Background(), &Event{
			Type:  EventRateLimitExceeded,
			Actor: Actor{SourceIP: fmt.Sprintf("10.0.%d.%d", i/250, i%250)},
		})
	}
	require.NoError(t, m.Close())
	elapsed := time.Since(start)

	calls, msgs := w.counts()
	assert.Equal(t, total, msgs)
	assert.Equal(t, int64(total), m.Stats().ProcessedEvents)
	assert.Zero(t, m.Stats().DroppedEvents)
	// one write per event would need 500 round trips, about 12s on two workers
	assert.LessOrEqual(t, calls, 20)
	assert.Less(t, elapsed, 3*time.Second)
}

func TestManagerFlushesPartialBatchOnInterval(t *testing.T) {
	w := &slowWriter{}
	sink := newKafkaSinkWithWriter(w, zaptest.NewLogger(t))
	m := NewManager(sink, ManagerConfig{WorkerCount: 1, BatchSize: 100, FlushInterval: 10 * time.Millisecond}, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = m.Close() })

	m.PortalLogout(context.Background(), Actor{User: "c1"}, "/api/portal/logout")
	require.Eventually(t, func() bool {
		_, msgs := w.counts()
		return msgs == 1
	}, time.Second, 5*time.Millisecond)
}

func TestManagerBatchFailureCounted(t *testing.T) {
	sink := newKafkaSinkWithWriter(&fakeWriter{err: errors.New("leader not available")}, zaptest.NewLogger(t))
	m := NewManager(sink, ManagerConfig{WorkerCount: 1, BatchSize: 10}, zaptest.NewLogger(t))
	before := testutil.ToFloat64(metrics.AuditEventsFailed.WithLabelValues("kafka"))

	for range 3 {
		m.Emit(context.Background(), &Event{Type: EventCSRFFlagged})
	}
	require.NoError(t, m.Close())

	assert.Equal(t, before+3, testutil.ToFloat64(metrics.AuditEventsFailed.WithLabelValues("kafka")))
	assert.Zero(t, m.Stats().ProcessedEvents)
}

func TestKafkaSinkWriteBatchSingleRoundTrip(t *testing.T) {
	w := &slowWriter{}
	sink := newKafkaSinkWithWriter(w, zaptest.NewLogger(t))

	events := []*Event{
		{ID: "e1", Actor: Actor{Kind: KindClient, User: "c1"}},
		{ID: "e2", Actor: Actor{SourceIP: "1.2.3.4"}},
		{ID: "e3", Details: map[string]any{"bad": make(chan int)}},
	}
	err := sink.WriteBatch(context.Background(), events)
	assert.ErrorContains(t, err, "encoding audit event e3")

	calls, msgs := w.counts()
	assert.Equal(t, 1, calls)
	assert.Equal(t, 2, msgs)
	assert.Equal(t, []byte("ip:1.2.3.4"), w.msgs[1].Key)
}

func TestMultiSinkWriteBatchFallsBackToWrite(t *testing.T) {
	plain := &recordingSink{}
	w := &slowWriter{}
	multi := NewMultiSink([]Sink{plain, newKafkaSinkWithWriter(w, zaptest.NewLogger(t))}, zaptest.NewLogger(t))

	require.NoError(t, multi.WriteBatch(context.Background(), []*Event{{ID: "e1"}, {ID: "e2"}}))
	assert.Len(t, plain.Events(), 2)
	calls, msgs := w.counts()
	assert.Equal(t, 1, calls)
	assert.Equal(t, 2, msgs)
}

func TestBreakerSink(t *testing.T) {
	clk := clocktesting.NewFakeClock(time.Now())
	inner := &recordingSink{err: errors.New("broker down"), name: "breaker-test"}
	b := NewBreakerSink(inner, BreakerConfig{FailureThreshold: 2, OpenTimeout: 30 * time.Second, Clock: clk}, zaptest.NewLogger(t))
	ctx := context.Background()
	ev := &Event{ID: "e1"}
	rejections := func() float64 {
		return testutil.ToFloat64(metrics.AuditCircuitRejections.WithLabelValues("breaker-test"))
	}

	assert.Error(t, b.Write(ctx, ev))
	assert.Equal(t, CircuitClosed, b.State())
	assert.Error(t, b.Write(ctx, ev))
	assert.Equal(t, CircuitOpen, b.State())
	assert.Equal(t, float64(CircuitOpen), testutil.ToFloat64(metrics.AuditCircuitState.WithLabelValues("breaker-test")))

	before := rejections()
	assert.ErrorIs(t, b.WriteBatch(ctx, []*Event{ev, ev}), ErrCircuitOpen)
	assert.Len(t, inner.Events(), 2, "an open circuit must not reach the sink")
	assert.Equal(t, before+1, rejections())

	t.Run("failed trial reopens", func(t *testing.T) {
		clk.Step(31 * time.Second)
		assert.Error(t, b.Write(ctx, ev))
		assert.Len(t, inner.Events(), 3)
		assert.Equal(t, CircuitOpen, b.State())
		assert.ErrorIs(t, b.Write(ctx, ev), ErrCircuitOpen)
	})

	t.Run("successful trial closes", func(t *testing.T) {
		inner.setErr(nil)
		clk.Step(31 * time.Second)
		require.NoError(t, b.Write(ctx, ev))
		assert.Equal(t, CircuitClosed, b.State())
		assert.Equal(t, float64(CircuitClosed), testutil.ToFloat64(metrics.AuditCircuitState.WithLabelValues("breaker-test")))
		require.NoError(t, b.Write(ctx, ev))
	})
}

func TestBreakerSinkSingleTrialWhileHalfOpen(t *testing.T) {
	clk := clocktesting.NewFakeClock(time.Now())
	inner := &recordingSink{err: errors.New("down"), name: "half-open-test"}
	b := NewBreakerSink(inner, BreakerConfig{FailureThreshold: 1, OpenTimeout: time.Second, Clock: clk}, zaptest.NewLogger(t))

	assert.Error(t, b.Write(context.Background(), &Event{}))
	clk.Step(2 * time.Second)

	assert.True(t, b.allow())
	assert.Equal(t, CircuitHalfOpen, b.State())
	assert.False(t, b.allow(), "only one trial while half-open")
}

func TestManagerWithOpenCircuitCountsFailures(t *testing.T) {
	clk := clocktesting.NewFakeClock(time.Now())
	w := &fakeWriter{err: errors.New("no brokers")}
	b := NewBreakerSink(newKafkaSinkWithWriter(w, zaptest.NewLogger(t)), BreakerConfig{FailureThreshold: 1, Clock: clk}, zaptest.NewLogger(t))
	m := NewManager(b, ManagerConfig{WorkerCount: 1, BatchSize: 1}, zaptest.NewLogger(t))
	before := testutil.ToFloat64(metrics.AuditEventsFailed.WithLabelValues("kafka"))

	for range 4 {
		m.Emit(context.Background(), &Event{Type: EventPortalLogout})
	}
	require.NoError(t, m.Close())

	assert.Equal(t, CircuitOpen, b.State())
	assert.Equal(t, before+4, testutil.ToFloat64(metrics.AuditEventsFailed.WithLabelValues("kafka")))
}
