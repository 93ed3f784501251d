package logging

import (
	"context"
	"io"
	"log/slog"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldJobID is the standardized structured logging key for recording job identifiers.
	FieldJobID = "job_id"
	// FieldTargetID is the standardized structured logging key for recording targets.
	FieldTargetID = "target_id"
	// FieldTaskID is the standardized structured logging key for background task identifiers.
	FieldTaskID = "task_id"
	// FieldTaskType is the standardized structured logging key for background task types.
	FieldTaskType = "task_type"
	// FieldAttempt is the standardized structured logging key for task attempt numbers.
	FieldAttempt = "attempt"
	// FieldEventType tags log records that mark notable lifecycle events.
	FieldEventType = "event_type"
	// FieldCorrelationID is the standardized structured logging key for request correlation identifiers.
	FieldCorrelationID = "correlation_id"
)

type contextKey string

const (
	ctxKeyJobID         contextKey = "job_id"
	ctxKeyTargetID      contextKey = "target_id"
	ctxKeyCorrelationID contextKey = "correlation_id"
)

// WithJobID stamps a recording job identifier onto the context.
func WithJobID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, ctxKeyJobID, id)
}

// WithTargetID stamps a target identifier onto the context.
func WithTargetID(ctx context.Context, target string) context.Context {
	return context.WithValue(ctx, ctxKeyTargetID, target)
}

// WithCorrelationID stamps a request correlation identifier onto the context.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyCorrelationID, id)
}

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 3)
	if id, ok := ctx.Value(ctxKeyJobID).(int64); ok {
		fields = append(fields, slog.Int64(FieldJobID, id))
	}
	if target, ok := ctx.Value(ctxKeyTargetID).(string); ok && target != "" {
		fields = append(fields, slog.String(FieldTargetID, target))
	}
	if rid, ok := ctx.Value(ctxKeyCorrelationID).(string); ok && rid != "" {
		fields = append(fields, slog.String(FieldCorrelationID, rid))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(attrsToArgs(fields)...)
}

// NewNop returns a logger that discards every record.
func NewNop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}
