package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/actiongate/actiongate/internal/config"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSetupJSONToWriter(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	logger, closer, err := Setup(config.LoggingConfig{Level: "info", Format: "json"}, &buf)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	defer closer.Close()

	logger.Debug("hidden")
	ForComponent(CompGateway).Info("visible", "trace_id", "t1")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug line should be filtered: %s", out)
	}
	if !strings.Contains(out, `"component":"gateway"`) || !strings.Contains(out, `"trace_id":"t1"`) {
		t.Fatalf("missing structured attrs: %s", out)
	}
}

func TestSetupWritesRotatingFile(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	path := filepath.Join(t.TempDir(), "logs", "actiongate.log")
	logger, closer, err := Setup(config.LoggingConfig{Level: "debug", File: path, MaxSizeMB: 1}, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	logger.Info("to file")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "to file") {
		t.Fatalf("expected line in file, got %q", data)
	}
}

func TestWithInteraction(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, nil))
	WithInteraction(base, "tr-9", "T1", "U1", "D1").Info("handled")
	out := buf.String()
	for _, want := range []string{"trace_id=tr-9", "team=T1", "user=U1", "channel=D1"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in %s", want, out)
		}
	}
}
