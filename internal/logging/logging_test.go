package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"nonsense", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSetupConsoleOnly(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	logger, cleanup, err := Setup(Options{Level: "warn", Console: &buf})
	if err != nil {
		t.Fatal(err)
	}
	defer cleanup()

	logger.Info("hidden")
	logger.Warn("shown", "monitor", 1)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info should be filtered at warn level")
	}
	if !strings.Contains(out, "shown") || !strings.Contains(out, "monitor=1") {
		t.Errorf("console output = %q", out)
	}
}

func TestSetupWithFile(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	path := filepath.Join(t.TempDir(), "logs", "respawnwatch.log")
	var buf bytes.Buffer
	logger, cleanup, err := Setup(Options{Level: "error", File: path, Console: &buf})
	if err != nil {
		t.Fatal(err)
	}

	logger.With("cycle", 7).Debug("debug goes to file only")
	cleanup()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log file not written: %v", err)
	}
	if !strings.Contains(string(data), "debug goes to file only") || !strings.Contains(string(data), `"cycle":7`) {
		t.Errorf("file content = %q", data)
	}
	if buf.Len() != 0 {
		t.Errorf("console should be empty at error level, got %q", buf.String())
	}
}
