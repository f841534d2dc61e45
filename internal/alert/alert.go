// Package alert reports operational failures to the log-based alerting sink.
package alert

import (
	"context"
	"log/slog"
)

// Severity is the alert tier. Error is user-correctable or per-case; Critical
// likely affects every user (portal change, deployment misconfiguration).
type Severity string

const (
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
)

// Sink accepts severity-tagged failure reports. Reporting is fire-and-forget:
// implementations must not return or panic on delivery failures.
type Sink interface {
	Report(ctx context.Context, sev Severity, category string, err error, attrs ...any)
}

// SlogSink writes alerts as structured log entries. Log-based alerting
// policies match on the "alert" attribute and the severity.
type SlogSink struct {
	Logger *slog.Logger
}

// NewSlogSink returns a sink writing to logger, or slog.Default() when nil.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{Logger: logger}
}

func (s *SlogSink) Report(ctx context.Context, sev Severity, category string, err error, attrs ...any) {
	level := slog.LevelError
	if sev == SeverityCritical {
		level = LevelCritical
	}
	args := make([]any, 0, len(attrs)+6)
	args = append(args, "alert", true, "category", category)
	if err != nil {
		args = append(args, "error", err.Error())
	}
	args = append(args, attrs...)
	s.Logger.Log(ctx, level, "ALERT: "+category, args...)
}

// LevelCritical sits above slog.LevelError and is rendered as CRITICAL by
// gcp.NewCloudLogger.
const LevelCritical = slog.Level(12)
