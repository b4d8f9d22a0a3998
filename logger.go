package framesocket

import "log/slog"

// Logger is the structured logger used by servers and connections.
// *slog.Logger satisfies it; binaries may plug in any backend through an
// adapter.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

func defaultLogger() Logger {
	return slog.Default()
}
