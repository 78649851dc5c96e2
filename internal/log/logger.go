package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattjoyce/concourse-resource/internal/config"
)

// Logger is a slog.Logger bound to a diagnostic sink. Nothing here ever writes to stdout,
// which is reserved for the protocol response.
type Logger struct {
	*slog.Logger

	// Level can be raised or lowered for the rest of the invocation.
	Level *slog.LevelVar
	// Path is the log file in use, empty when logging only to stderr.
	Path string

	closer io.Closer
}

// New builds a logger from cfg. stderr is used for the debug mirror and for the
// "stderr" destination.
func New(cfg *config.Config, stderr io.Writer) (*Logger, error) {
	level := new(slog.LevelVar)
	level.Set(ParseLevel(cfg.Logging.Level))

	l := &Logger{Level: level}

	var sink io.Writer
	switch dest := strings.TrimSpace(cfg.Logging.File); dest {
	case "-", "stderr":
		sink = stderr
	case "":
		f, err := os.CreateTemp("", "log")
		if err != nil {
			return nil, fmt.Errorf("create temp log file: %w", err)
		}
		sink, l.Path, l.closer = f, f.Name(), f
	default:
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		sink, l.Path, l.closer = f, dest, f
	}

	if cfg.Debug {
		level.Set(slog.LevelDebug)
		if sink != stderr {
			sink = io.MultiWriter(sink, stderr)
		}
	}

	l.Logger = slog.New(NewHandler(sink, cfg.Logging.Format, level))
	return l, nil
}

// Close releases the log file, if any.
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// EnableDebug lowers the level to DEBUG.
func (l *Logger) EnableDebug() {
	l.Level.Set(slog.LevelDebug)
}

// NewHandler returns a JSON or text handler writing to w.
func NewHandler(w io.Writer, format string, level slog.Leveler) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(format, "json") {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// ParseLevel maps a level name to a slog level. Unknown names fall back to INFO.
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// WithComponent returns a logger with the component field set.
func WithComponent(l *slog.Logger, name string) *slog.Logger {
	return l.With(slog.String("component", name))
}

// WithInvocation returns a logger with the invocation_id field set.
func WithInvocation(l *slog.Logger, id string) *slog.Logger {
	return l.With(slog.String("invocation_id", id))
}
