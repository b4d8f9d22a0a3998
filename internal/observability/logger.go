package observability

import (
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger builds the process logger and installs it as the zerolog
// global. Unknown levels fall back to info.
func InitLogger(app string, level string, noColor bool, out io.Writer) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339,
		NoColor:    noColor,
	}
	logger := zerolog.New(output).
		Level(ParseLevel(level)).
		With().Timestamp().Str("app", app).Logger()
	log.Logger = logger
	return logger
}

// ParseLevel maps a config level name to a zerolog level.
func ParseLevel(raw string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "disabled", "off", "none":
		return zerolog.Disabled
	case "warning":
		return zerolog.WarnLevel
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(raw)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// Logger adapts a zerolog.Logger to the key/value Logger interface used
// by servers and connections.
type Logger struct {
	zl zerolog.Logger
}

// NewLogger wraps zl.
func NewLogger(zl zerolog.Logger) *Logger {
	return &Logger{zl: zl}
}

// Debug logs msg with key/value args at debug level.
func (l *Logger) Debug(msg string, args ...any) { l.zl.Debug().Fields(args).Msg(msg) }

// Info logs msg with key/value args at info level.
func (l *Logger) Info(msg string, args ...any) { l.zl.Info().Fields(args).Msg(msg) }

// Warn logs msg with key/value args at warn level.
func (l *Logger) Warn(msg string, args ...any) { l.zl.Warn().Fields(args).Msg(msg) }

// Error logs msg with key/value args at error level.
func (l *Logger) Error(msg string, args ...any) { l.zl.Error().Fields(args).Msg(msg) }
