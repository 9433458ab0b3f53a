// Package observability builds the structured logger the packager CLI and
// library packages share, modeled on tvarr's internal/observability package
// but trimmed to what a batch CLI needs: level/format configuration and
// redaction of the raw key material operators pass on the command line.
package observability

import (
	"io"
	"log/slog"
	"os"

	"github.com/m-mizutani/masq"
)

// Config selects the logger's level and output format.
type Config struct {
	Level  string // "debug", "info", "warn", "error"
	Format string // "json" or "text"
}

// GlobalLevel is shared so SetLevel can change verbosity at runtime (e.g.
// from a --verbose flag parsed after the logger is constructed).
var GlobalLevel = &slog.LevelVar{}

// NewLogger builds a *slog.Logger writing to stdout per cfg.
func NewLogger(cfg Config) *slog.Logger {
	return NewLoggerWithWriter(cfg, os.Stdout)
}

// NewLoggerWithWriter is NewLogger with an explicit writer, for tests.
func NewLoggerWithWriter(cfg Config, w io.Writer) *slog.Logger {
	GlobalLevel.Set(parseLevel(cfg.Level))

	redact := masq.New(
		masq.WithFieldName("key"),
		masq.WithFieldName("Key"),
		masq.WithFieldName("key_hex"),
		masq.WithFieldName("pssh"),
		masq.WithFieldName("Pssh"),
	)

	opts := &slog.HandlerOptions{
		Level:       GlobalLevel,
		ReplaceAttr: redact,
	}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetLevel changes the global log level at runtime.
func SetLevel(level string) { GlobalLevel.Set(parseLevel(level)) }

// WithComponent tags logger with a component name, identifying which
// pipeline stage (demux/fragment/segment/mux) emitted a record.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With(slog.String("component", component))
}

// WithError attaches err's message, or returns logger unchanged if err is nil.
func WithError(logger *slog.Logger, err error) *slog.Logger {
	if err == nil {
		return logger
	}
	return logger.With(slog.String("error", err.Error()))
}

// SetDefault installs logger as slog.Default(), matching tvarr's startup
// sequence in cmd/tvarr.
func SetDefault(logger *slog.Logger) { slog.SetDefault(logger) }
