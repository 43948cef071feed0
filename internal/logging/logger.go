// Package logging configures the process-wide slog logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/actiongate/actiongate/internal/config"
)

// Component constants for structured logging.
const (
	CompGateway  = "gateway"
	CompSlack    = "slack"
	CompDispatch = "dispatch"
	CompApproval = "approval"
	CompStore    = "store"
	CompAudit    = "audit"
)

// ParseLevel maps a config level name onto a slog level. Unknown names are info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// Setup builds a logger from cfg, installs it as the slog default and returns
// a closer for the rotating file (a no-op when logging to stderr only).
func Setup(cfg config.LoggingConfig, stderr io.Writer) (*slog.Logger, io.Closer, error) {
	if stderr == nil {
		stderr = os.Stderr
	}
	var (
		out    io.Writer = stderr
		closer io.Closer = nopCloser{}
	)
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, nil, err
		}
		lj := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		out = io.MultiWriter(stderr, lj)
		closer = lj
	}

	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, closer, nil
}

// ForComponent returns the default logger tagged with a component name.
func ForComponent(name string) *slog.Logger {
	return slog.Default().With("component", name)
}

// WithInteraction tags logger with the request correlation ids.
func WithInteraction(logger *slog.Logger, trace, team, user, channel string) *slog.Logger {
	return logger.With("trace_id", trace, "team", team, "user", user, "channel", channel)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
