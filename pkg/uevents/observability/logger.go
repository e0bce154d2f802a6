// Package observability provides structured logging, metrics, and
// tracing for the user event registry.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import "log/slog"

// LogEventRegistered logs creation of a new event.
func LogEventRegistered(logger *slog.Logger, name string, fields int, minSize int) {
	if logger == nil {
		return
	}
	logger.Info("event registered",
		slog.String("event", name),
		slog.Int("fields", fields),
		slog.Int("min_size", minSize),
	)
}

// LogEventDeleted logs deletion of an event.
func LogEventDeleted(logger *slog.Logger, name string) {
	if logger == nil {
		return
	}
	logger.Info("event deleted",
		slog.String("event", name),
	)
}

// LogEnablerFault logs a failed fault-in for an enabler address.
func LogEnablerFault(logger *slog.Logger, event string, addr uint64, err error) {
	if logger == nil {
		return
	}
	logger.Warn("enabler fault-in failed",
		slog.String("event", event),
		slog.Uint64("addr", addr),
		slog.String("error", err.Error()),
	)
}

// LogFaultQueueFull logs that a fault job could not be queued.
// The write will be retried on the next status change.
func LogFaultQueueFull(logger *slog.Logger, event string, addr uint64) {
	if logger == nil {
		return
	}
	logger.Warn("unable to queue fault handler",
		slog.String("event", event),
		slog.Uint64("addr", addr),
	)
}

// LogBitWriteRetryFailed logs a failed post-fault bit write (non-fatal).
func LogBitWriteRetryFailed(logger *slog.Logger, event string, addr uint64, err error) {
	if logger == nil {
		return
	}
	logger.Warn("enablement bit write retry failed",
		slog.String("event", event),
		slog.Uint64("addr", addr),
		slog.String("error", err.Error()),
	)
}

// LogRecordDiscarded logs a record dropped by payload validation.
func LogRecordDiscarded(logger *slog.Logger, event string, err error) {
	if logger == nil {
		return
	}
	logger.Debug("record discarded",
		slog.String("event", event),
		slog.String("error", err.Error()),
	)
}

// LogBackendCommitFailed logs a backend commit failure (non-fatal).
func LogBackendCommitFailed(logger *slog.Logger, event string, kind string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("backend commit failed",
		slog.String("event", event),
		slog.String("backend", kind),
		slog.String("error", err.Error()),
	)
}

// LogCounterUnderflow logs an invariant violation in the live-event
// counter. Deliberately not fatal.
func LogCounterUnderflow(logger *slog.Logger) {
	if logger == nil {
		return
	}
	logger.Error("live event counter underflow")
}
