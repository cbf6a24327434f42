// Package alarm is the boundary to the external alarm system. Raising an
// alarm is fire-and-forget; this core never depends on delivery.
package alarm

import "log/slog"

// Raiser delivers an alarm to the external notification system.
type Raiser interface {
	Raise(alarmType, severity, message, source string, details map[string]any)
}

// Logger is a Raiser that writes alarms to the structured log. Used when no
// external alarm system is wired in.
type Logger struct {
	logger *slog.Logger
}

// NewLogger creates a log-backed Raiser.
func NewLogger(logger *slog.Logger) *Logger {
	return &Logger{logger: logger}
}

// Raise logs the alarm at warn level.
func (l *Logger) Raise(alarmType, severity, message, source string, details map[string]any) {
	l.logger.Warn("alarm raised",
		"type", alarmType,
		"severity", severity,
		"message", message,
		"source", source,
		"details", details,
	)
}
