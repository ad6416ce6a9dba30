package logging

import (
	"context"
	"log/slog"

	"autosumm/internal/services"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldItemID is the standardized structured logging key for work item identifiers.
	FieldItemID = "item_id"
	// FieldStage is the standardized structured logging key for pipeline stage names.
	FieldStage = "stage"
	// FieldRunID is the standardized structured logging key for pipeline run identifiers.
	FieldRunID = "run_id"
	// FieldCorrelationID is the standardized structured logging key for request correlation identifiers.
	FieldCorrelationID = "correlation_id"
	// FieldEventType classifies a log line for filtering (stage_start, cache_hit, ...).
	FieldEventType = "event_type"
	// FieldErrorHint tells the operator what to do next after a warning or error.
	FieldErrorHint = "error_hint"
	// FieldErrorKind carries the classification of a failure.
	FieldErrorKind = "error_kind"
	// FieldImpact is the standardized key for user-facing consequence of a warning.
	FieldImpact = "impact"
	// FieldAlert flags warnings or anomalies that should stand out in structured logs.
	FieldAlert = "alert"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 4)
	if id, ok := services.ItemIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldItemID, id))
	}
	if stage, ok := services.StageFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldStage, stage))
	}
	if run, ok := services.RunIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldRunID, run))
	}
	if rid, ok := services.RequestIDFromContext(ctx); ok {
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
	return logger.With(toArgs(fields)...)
}
