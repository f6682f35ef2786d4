package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// ErrSinkClosed is returned by sinks that were written to after Close.
var ErrSinkClosed = errors.New("audit sink is closed")

// Sink is a destination for audit events.
type Sink interface {
	Write(ctx context.Context, event *Event) error
	Close() error
	Name() string
}

// BatchSink is implemented by sinks that deliver several events in one
// round trip. The Manager batches events for them.
type BatchSink interface {
	Sink
	WriteBatch(ctx context.Context, events []*Event) error
}

// writeBatch uses the sink's batch path when it has one and falls back to
// one Write per event, continuing past failures.
func writeBatch(ctx context.Context, sink Sink, events []*Event) error {
	if bs, ok := sink.(BatchSink); ok {
		return bs.WriteBatch(ctx, events)
	}
	var errs []error
	for _, e := range events {
		if err := sink.Write(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink writes every event as one structured "audit_event" log line on a
// logger named "audit", so the trail can be shipped with the regular logs.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("audit")}
}

func (s *LogSink) Write(_ context.Context, event *Event) error {
	s.logger.Info("audit_event", logFields(event)...)
	return nil
}

func logFields(e *Event) []zap.Field {
	fields := make([]zap.Field, 0, 10)
	fields = append(fields,
		zap.String("event_id", e.ID),
		zap.String("event_type", string(e.Type)),
		zap.String("severity", string(e.Severity)),
		zap.Time("timestamp", e.Timestamp),
		zap.String("actor_kind", e.Actor.Kind),
	)
	optional := []struct{ key, val string }{
		{"actor_user", e.Actor.User},
		{"actor_ip", e.Actor.SourceIP},
		{"user_agent", e.Actor.UserAgent},
		{"path", e.Path},
	}
	for _, o := range optional {
		if o.val != "" {
			fields = append(fields, zap.String(o.key, o.val))
		}
	}
	// details stay one JSON string so log pipelines do not explode them into
	// an unbounded set of keys
	if len(e.Details) > 0 {
		if raw, err := json.Marshal(e.Details); err == nil {
			fields = append(fields, zap.String("details", string(raw)))
		}
	}
	return fields
}

func (s *LogSink) Close() error {
	return nil
}

func (s *LogSink) Name() string {
	return "log"
}

// MultiSink fans an event out to several sinks. Every sink is tried; the
// returned error joins the individual failures.
type MultiSink struct {
	sinks []Sink
	log   *zap.SugaredLogger
}

func NewMultiSink(sinks []Sink, logger *zap.Logger) *MultiSink {
	return &MultiSink{sinks: sinks, log: logger.Sugar()}
}

func (s *MultiSink) Write(ctx context.Context, event *Event) error {
	var errs []error
	for _, sink := range s.sinks {
		if err := sink.Write(ctx, event); err != nil {
			s.log.Warnw("Audit sink write failed", "sink", sink.Name(), "event_id", event.ID, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", sink.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (s *MultiSink) WriteBatch(ctx context.Context, events []*Event) error {
	var errs []error
	for _, sink := range s.sinks {
		if err := writeBatch(ctx, sink, events); err != nil {
			if errors.Is(err, ErrCircuitOpen) {
				errs = append(errs, fmt.Errorf("%s: %w", sink.Name(), err))
				continue
			}
			s.log.Warnw("Audit sink batch write failed", "sink", sink.Name(), "events", len(events), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", sink.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (s *MultiSink) Close() error {
	var errs []error
	for _, sink := range s.sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sink.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (s *MultiSink) Name() string {
	return "multi"
}
