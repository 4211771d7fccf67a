package monitor

import (
	"context"
	"log/slog"
)

// Severity of an alert.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is a condition an operator should see.
type Alert struct {
	Rule     string         `json:"rule"`
	Severity Severity       `json:"severity"`
	Message  string         `json:"message"`
	Attrs    map[string]any `json:"attrs,omitempty"`
}

// AlertSink interface for pluggable alert delivery.
type AlertSink interface {
	Send(ctx context.Context, a Alert) error
}

// LogSink writes alerts to the structured log. Critical alerts go out at
// ERROR so they stand out in the engine's output.
type LogSink struct {
	Logger *slog.Logger
}

// Send implements AlertSink.
func (s LogSink) Send(ctx context.Context, a Alert) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	level := slog.LevelWarn
	if a.Severity == SeverityCritical {
		level = slog.LevelError
	}
	args := []any{"rule", a.Rule, "severity", string(a.Severity)}
	for k, v := range a.Attrs {
		args = append(args, k, v)
	}
	logger.Log(ctx, level, "ALERT: "+a.Message, args...)
	return nil
}

// SinkFunc adapts a function to AlertSink.
type SinkFunc func(ctx context.Context, a Alert) error

// Send implements AlertSink.
func (f SinkFunc) Send(ctx context.Context, a Alert) error { return f(ctx, a) }
