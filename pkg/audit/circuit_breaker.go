package audit

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/mrblonde/orders/pkg/metrics"
)

// ErrCircuitOpen is returned instead of writing while a sink's circuit is open.
var ErrCircuitOpen = errors.New("audit sink circuit is open")

type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

type BreakerConfig struct {
	// FailureThreshold consecutive failures open the circuit, default 5
	FailureThreshold int
	// OpenTimeout is how long the circuit stays open before one trial write, default 30s
	OpenTimeout time.Duration
	Clock       clock.PassiveClock
}

// BreakerSink stops calling a failing sink for OpenTimeout after
// FailureThreshold consecutive failures, then lets a single trial write
// through. A successful trial closes the circuit, a failed one reopens it.
// While the broker is down, workers fail fast instead of waiting for the
// write timeout on every batch.
type BreakerSink struct {
	sink Sink
	cfg  BreakerConfig
	log  *zap.SugaredLogger

	mu       sync.Mutex
	state    CircuitState
	fails    int
	openedAt time.Time
	trial    bool
}

func NewBreakerSink(sink Sink, cfg BreakerConfig, logger *zap.Logger) *BreakerSink {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}
	metrics.AuditCircuitState.WithLabelValues(sink.Name()).Set(float64(CircuitClosed))
	return &BreakerSink{
		sink: sink,
		cfg:  cfg,
		log:  logger.Named("audit-breaker").Sugar().With("sink", sink.Name()),
	}
}

func (b *BreakerSink) Write(ctx context.Context, event *Event) error {
	return b.do(func() error { return b.sink.Write(ctx, event) })
}

func (b *BreakerSink) WriteBatch(ctx context.Context, events []*Event) error {
	return b.do(func() error { return writeBatch(ctx, b.sink, events) })
}

func (b *BreakerSink) do(write func() error) error {
	if !b.allow() {
		metrics.AuditCircuitRejections.WithLabelValues(b.sink.Name()).Inc()
		return ErrCircuitOpen
	}
	err := write()
	b.record(err)
	return err
}

func (b *BreakerSink) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitOpen:
		if b.cfg.Clock.Since(b.openedAt) < b.cfg.OpenTimeout {
			return false
		}
		b.transition(CircuitHalfOpen)
		b.trial = true
		return true
	case CircuitHalfOpen:
		if b.trial {
			return false
		}
		b.trial = true
		return true
	default:
		return true
	}
}

func (b *BreakerSink) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.fails = 0
		b.trial = false
		if b.state != CircuitClosed {
			b.transition(CircuitClosed)
		}
		return
	}

	b.fails++
	b.trial = false
	if b.state == CircuitHalfOpen || b.fails >= b.cfg.FailureThreshold {
		b.openedAt = b.cfg.Clock.Now()
		b.transition(CircuitOpen)
	}
}

// transition must be called with mu held.
func (b *BreakerSink) transition(to CircuitState) {
	if b.state == to {
		return
	}
	b.log.Infow("Audit sink circuit changed state", "from", b.state.String(), "to", to.String(), "failures", b.fails)
	b.state = to
	metrics.AuditCircuitState.WithLabelValues(b.sink.Name()).Set(float64(to))
}

func (b *BreakerSink) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *BreakerSink) Close() error {
	return b.sink.Close()
}

func (b *BreakerSink) Name() string {
	return b.sink.Name()
}
