// Package audit writes the append-only audit trail of sync attempts,
// outcomes and classified errors. Every entry is mirrored to the structured
// log so that a failed audit write never loses the event entirely.
package audit

import (
	"context"
	"log/slog"

	"github.com/tonimelisma/acctsync/internal/store"
	"github.com/tonimelisma/acctsync/internal/syncerr"
)

// Sink persists audit entries. *store.Store satisfies it.
type Sink interface {
	AppendAudit(ctx context.Context, e *store.AuditEntry) error
}

// Logger records audit entries. A nil *Logger is a no-op, which keeps
// optional wiring in tests short.
type Logger struct {
	sink   Sink
	logger *slog.Logger
}

// New creates a Logger writing to sink.
func New(sink Sink, logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}

	return &Logger{sink: sink, logger: logger}
}

// Info records a successful step.
func (l *Logger) Info(ctx context.Context, actorID, function string, payload map[string]any) {
	l.record(ctx, &store.AuditEntry{
		ActorID:  actorID,
		Function: function,
		Payload:  clone(payload),
		Severity: store.SeverityInfo,
	})
}

// Retry records a transient failure that is about to be retried inline.
func (l *Logger) Retry(ctx context.Context, actorID, function string, payload map[string]any, attempt int, err error) {
	p := clone(payload)
	p["attempt"] = attempt

	l.record(ctx, &store.AuditEntry{
		ActorID:   actorID,
		Function:  function,
		Payload:   p,
		Error:     err.Error(),
		ErrorType: syncerr.Category(err),
		Severity:  store.SeverityWarn,
	})
}

// Failure records a classified error before it propagates.
func (l *Logger) Failure(ctx context.Context, actorID, function string, payload map[string]any, err error) {
	p := clone(payload)
	p["kind"] = syncerr.Classify(err).String()

	l.record(ctx, &store.AuditEntry{
		ActorID:   actorID,
		Function:  function,
		Payload:   p,
		Error:     err.Error(),
		ErrorType: syncerr.Category(err),
		Severity:  store.SeverityError,
	})
}

func (l *Logger) record(ctx context.Context, e *store.AuditEntry) {
	if l == nil {
		return
	}

	attrs := []any{
		slog.String("function", e.Function),
		slog.String("actor", e.ActorID),
	}

	if e.Error != "" {
		attrs = append(attrs, slog.String("error", e.Error), slog.String("error_type", e.ErrorType))
	}

	switch e.Severity {
	case store.SeverityError:
		l.logger.Error("audit", attrs...)
	case store.SeverityWarn:
		l.logger.Warn("audit", attrs...)
	default:
		l.logger.Debug("audit", attrs...)
	}

	if l.sink == nil {
		return
	}

	// The trail must survive the caller's cancellation.
	if err := l.sink.AppendAudit(context.WithoutCancel(ctx), e); err != nil {
		l.logger.Error("audit write failed",
			slog.String("function", e.Function),
			slog.String("error", err.Error()),
		)
	}
}

func clone(m map[string]any) map[string]any {
	out := make(map[string]any, len(m)+1)
	for k, v := range m {
		out[k] = v
	}

	return out
}
