package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/vdba/internal/infrastructure/config"
)

// Logger wraps slog.Logger with vdba-specific defaults. It satisfies
// vdba.Logger, so it can be handed straight to connections and registries.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Logger struct {
	*slog.Logger
}

// New creates a new Logger writing to the output named in cfg.
//
// Parameters:
//   - cfg: Logging configuration from vdba.yaml
//   - version: Application version for default field
func New(cfg config.LoggingConfig, version string) *Logger {
	var output io.Writer
	switch strings.ToLower(cfg.Output) {
	case "stderr":
		output = os.Stderr
	default:
		output = os.Stdout
	}
	return NewWithWriter(cfg, version, output)
}

// NewWithWriter is like New but writes to w regardless of cfg.Output.
func NewWithWriter(cfg config.LoggingConfig, version string, w io.Writer) *Logger {
	opts := &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", "vdba"),
		slog.String("version", version),
	})

	return &Logger{
		Logger: slog.New(handler),
	}
}

// parseLevel converts a string log level to slog.Level.
//
// Supported levels: debug, info, warn, error
// Defaults to info if unrecognised.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With returns a new Logger with additional default attributes.
//
// Example:
//
//	connLogger := logger.With("connection", "state")
//	connLogger.Info("opened") // Includes connection=state
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger: l.Logger.With(args...),
	}
}

// Default creates a default logger for use before configuration is loaded.
//
// This logger outputs to stderr in text format at info level, keeping
// stdout free for command output.
func Default() *Logger {
	return New(config.LoggingConfig{
		Level:  "info",
		Format: "text",
		Output: "stderr",
	}, "dev")
}
