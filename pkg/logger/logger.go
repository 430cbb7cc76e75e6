package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	charmlog "github.com/charmbracelet/log"
)

// Logger is a structured logger backed by a charmbracelet handler.
type Logger struct {
	*slog.Logger
}

// NewLogger returns a text logger writing to stdout at the given level.
func NewLogger(level string) *Logger {
	return New(os.Stdout, level, "text")
}

// New builds a logger for w. format is "text" or "json"; anything else
// falls back to text. Unknown levels fall back to info.
func New(w io.Writer, level, format string) *Logger {
	formatter := charmlog.TextFormatter
	if strings.EqualFold(format, "json") {
		formatter = charmlog.JSONFormatter
	}

	handler := charmlog.NewWithOptions(w, charmlog.Options{
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Level:           parseLevel(level),
		Formatter:       formatter,
	})

	return &Logger{Logger: slog.New(handler)}
}

// Discard returns a logger that drops everything. Handy in tests.
func Discard() *Logger {
	return New(io.Discard, "error", "text")
}

func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

func parseLevel(level string) charmlog.Level {
	lvl, err := charmlog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return charmlog.InfoLevel
	}
	return lvl
}
