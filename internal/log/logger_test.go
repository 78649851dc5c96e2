package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mattjoyce/concourse-resource/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewWritesToConfiguredFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "resource.log")
	var stderr bytes.Buffer

	l, err := New(&config.Config{Logging: config.LoggingConfig{Level: "info", Format: "json", File: path}}, &stderr)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	l.Debug("hidden")
	l.Info("hello", "k", "v")
	if err := l.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("want 1 log line, got %d: %q", len(lines), data)
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &out); err != nil {
		t.Fatalf("Failed to decode JSON: %v", err)
	}
	if out["msg"] != "hello" || out["k"] != "v" {
		t.Errorf("unexpected record %v", out)
	}
	if stderr.Len() != 0 {
		t.Errorf("stderr should be empty without debug, got %q", stderr.String())
	}
}

func TestNewDefaultsToTempFile(t *testing.T) {
	l, err := New(config.Defaults(), &bytes.Buffer{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer os.Remove(l.Path)
	defer l.Close()

	if l.Path == "" {
		t.Fatal("expected a temp log file")
	}
	if !strings.HasPrefix(filepath.Base(l.Path), "log") {
		t.Errorf("temp log file %q should start with 'log'", l.Path)
	}
}

func TestNewDebugMirrorsToStderr(t *testing.T) {
	var stderr bytes.Buffer
	path := filepath.Join(t.TempDir(), "resource.log")
	cfg := &config.Config{
		Logging: config.LoggingConfig{Level: "error", Format: "text", File: path},
		Debug:   true,
	}

	l, err := New(cfg, &stderr)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer l.Close()

	l.Debug("mirrored")
	if !strings.Contains(stderr.String(), "mirrored") {
		t.Errorf("stderr = %q, want debug record", stderr.String())
	}
}

func TestNewStderrDestination(t *testing.T) {
	var stderr bytes.Buffer
	cfg := &config.Config{Logging: config.LoggingConfig{Level: "info", File: "stderr"}, Debug: true}

	l, err := New(cfg, &stderr)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	l.Debug("once")
	if n := strings.Count(stderr.String(), "once"); n != 1 {
		t.Errorf("want record written once, got %d times: %q", n, stderr.String())
	}
	if l.Path != "" {
		t.Errorf("Path = %q, want empty", l.Path)
	}
}

func TestEnableDebug(t *testing.T) {
	var stderr bytes.Buffer
	l, err := New(&config.Config{Logging: config.LoggingConfig{Level: "info", File: "-"}}, &stderr)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	l.Debug("before")
	l.EnableDebug()
	l.Debug("after")

	if strings.Contains(stderr.String(), "before") {
		t.Error("debug record logged before EnableDebug")
	}
	if !strings.Contains(stderr.String(), "after") {
		t.Error("debug record missing after EnableDebug")
	}
}

func TestContextHelpers(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(slog.NewJSONHandler(&buf, nil))

	WithInvocation(WithComponent(l, "dispatch"), "inv-123").Info("hello")

	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("Failed to decode JSON: %v", err)
	}
	if out["component"] != "dispatch" {
		t.Errorf("Expected component 'dispatch', got %v", out["component"])
	}
	if out["invocation_id"] != "inv-123" {
		t.Errorf("Expected invocation_id 'inv-123', got %v", out["invocation_id"])
	}
}
