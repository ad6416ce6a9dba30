package logging

import (
	"context"
	"log/slog"
	"time"

	"autosumm/internal/services"
)

type Attr = slog.Attr

func Bool(key string, value bool) Attr { return slog.Bool(key, value) }

func Duration(key string, value time.Duration) Attr { return slog.Duration(key, value) }

func Float64(key string, value float64) Attr { return slog.Float64(key, value) }

func Int(key string, value int) Attr { return slog.Int(key, value) }

func Int64(key string, value int64) Attr { return slog.Int64(key, value) }

func String(key string, value string) Attr { return slog.String(key, value) }

func Alert(value string) Attr { return slog.String(FieldAlert, value) }

func EventType(value string) Attr { return slog.String(FieldEventType, value) }

func ErrorHint(value string) Attr { return slog.String(FieldErrorHint, value) }

// ErrorKind tags a failure with its classification.
func ErrorKind(err error) Attr { return slog.String(FieldErrorKind, services.KindOf(err)) }

func Error(err error) Attr {
	if err == nil {
		return slog.String("error", "<nil>")
	}
	return slog.Any("error", err)
}

func NewNop() *slog.Logger {
	return slog.New(NoopHandler{})
}

// NewComponentLogger tags logger with a component attribute. A nil logger
// yields a no-op logger.
func NewComponentLogger(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	return logger.With(String(FieldComponent, component))
}

// WarnWithContext logs a warning that always carries event_type, error_hint,
// and impact. Missing fields get generic defaults.
func WarnWithContext(logger *slog.Logger, msg, eventType string, attrs ...Attr) {
	if logger == nil {
		return
	}
	attrs = withDefaults(attrs,
		String(FieldEventType, eventType),
		String(FieldErrorHint, "check logs for details"),
		String(FieldImpact, "run continues with reduced output"),
	)
	logger.Warn(msg, toArgs(attrs)...)
}

// ErrorWithContext logs an error that always carries event_type and
// error_hint.
func ErrorWithContext(logger *slog.Logger, msg, eventType string, attrs ...Attr) {
	if logger == nil {
		return
	}
	attrs = withDefaults(attrs,
		String(FieldEventType, eventType),
		String(FieldErrorHint, "check logs for details"),
	)
	logger.Error(msg, toArgs(attrs)...)
}

func withDefaults(attrs []Attr, defaults ...Attr) []Attr {
	for _, d := range defaults {
		present := false
		for _, a := range attrs {
			if a.Key == d.Key {
				present = true
				break
			}
		}
		if !present {
			attrs = append(attrs, d)
		}
	}
	return attrs
}

func toArgs(attrs []Attr) []any {
	args := make([]any, 0, len(attrs))
	for _, attr := range attrs {
		args = append(args, attr)
	}
	return args
}

// NoopHandler discards all log output.
type NoopHandler struct{}

func (NoopHandler) Enabled(context.Context, slog.Level) bool { return false }

func (NoopHandler) Handle(context.Context, slog.Record) error { return nil }

func (NoopHandler) WithAttrs([]slog.Attr) slog.Handler { return NoopHandler{} }

func (NoopHandler) WithGroup(string) slog.Handler { return NoopHandler{} }
