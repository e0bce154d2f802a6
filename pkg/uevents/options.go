package uevents

import (
	"log/slog"

	"github.com/traceforge/uevents/pkg/uevents/config"
	"github.com/traceforge/uevents/pkg/uevents/observability"
)

// Option configures a Registry.
type Option func(*Registry) error

// WithLogger sets the structured logger. A nil logger disables logging.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) error {
		r.logger = logger
		return nil
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(r *Registry) error {
		if m == nil {
			m = observability.NoopMetrics{}
		}
		r.metrics = m
		return nil
	}
}

// WithSpanManager sets the span manager for tracing.
func WithSpanManager(sm observability.SpanManager) Option {
	return func(r *Registry) error {
		if sm == nil {
			sm = observability.NoopSpanManager{}
		}
		r.spans = sm
		return nil
	}
}

// WithDeclarer sets the consumer declaration surface. Registrations
// are refused when the declarer rejects the event definition.
func WithDeclarer(d Declarer) Option {
	return func(r *Registry) error {
		r.declarer = d
		return nil
	}
}

// WithMaxEvents caps the number of simultaneously live events.
func WithMaxEvents(n int) Option {
	return func(r *Registry) error {
		if n <= 0 {
			return config.ErrInvalidMaxEvents
		}
		r.maxEvents = n
		return nil
	}
}

// WithFaultWorkers sets the background fault worker count.
func WithFaultWorkers(n int) Option {
	return func(r *Registry) error {
		if n <= 0 {
			return config.ErrInvalidWorkers
		}
		r.faultWorker = n
		return nil
	}
}

// WithFaultQueueDepth sets the pending fault job capacity.
func WithFaultQueueDepth(n int) Option {
	return func(r *Registry) error {
		if n <= 0 {
			return config.ErrInvalidQueueDepth
		}
		r.faultDepth = n
		return nil
	}
}

// WithSettings applies a loaded settings file in one option.
func WithSettings(s config.Settings) Option {
	return func(r *Registry) error {
		if err := s.Validate(); err != nil {
			return err
		}
		r.maxEvents = s.MaxEvents
		r.faultWorker = s.FaultWorkers
		r.faultDepth = s.FaultQueueDepth
		return nil
	}
}
