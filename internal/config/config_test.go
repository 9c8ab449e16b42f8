package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	apperrors "github.com/GriffinCanCode/respawnwatch/internal/errors"
)

var envVars = []string{
	"CONFIG_FILE", "HTTP_ADDR", "TEMPLATE_DIR", "TEMPLATE_EXTENSIONS", "CONFIDENCE_LEVEL",
	"NEURAL_THRESHOLD", "MATCH_STRATEGY", "MODEL_PATH", "SCORER_ADDR", "TEMPLATE_CHECK_RATE",
	"DISPLAY_RETRY_INTERVAL", "MONITORS", "TILE_ROWS", "TILE_COLS", "TILE_OVERLAP",
	"SCALE_FACTOR", "REPORT_EVERY", "DEBUG_DIR", "LOG_LEVEL", "LOG_FILE",
}

// clearEnv unsets every variable Load reads and runs the test from an empty dir
// so a stray config.yaml is never picked up.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, v := range envVars {
		t.Setenv(v, "")
	}
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestLoad(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}

	if cfg.HTTPAddr != "127.0.0.1:8765" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, "127.0.0.1:8765")
	}
	if cfg.ConfidenceLevel != 0.7 {
		t.Errorf("ConfidenceLevel = %f, want %f", cfg.ConfidenceLevel, 0.7)
	}
	if cfg.NeuralThreshold != 0.9 {
		t.Errorf("NeuralThreshold = %f, want %f", cfg.NeuralThreshold, 0.9)
	}
	if cfg.Strategy != StrategyAuto {
		t.Errorf("Strategy = %q, want %q", cfg.Strategy, StrategyAuto)
	}
	if cfg.Poll() != 0 {
		t.Errorf("Poll() = %v, want 0", cfg.Poll())
	}
	if cfg.DisplayRetry() != 2*time.Second {
		t.Errorf("DisplayRetry() = %v, want 2s", cfg.DisplayRetry())
	}
	if cfg.TileRows != 1 || cfg.TileCols != 1 || cfg.TileOverlap != 100 {
		t.Errorf("tiles = %dx%d overlap %d, want 1x1 overlap 100", cfg.TileRows, cfg.TileCols, cfg.TileOverlap)
	}
	if cfg.ScaleFactor != 1.0 {
		t.Errorf("ScaleFactor = %f, want 1.0", cfg.ScaleFactor)
	}
	if len(cfg.Monitors) != 0 {
		t.Errorf("Monitors = %v, want empty", cfg.Monitors)
	}
	if !reflect.DeepEqual(cfg.TemplateExtensions, []string{".png", ".jpg"}) {
		t.Errorf("TemplateExtensions = %v", cfg.TemplateExtensions)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadWithEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("HTTP_ADDR", ":9000")
	t.Setenv("CONFIDENCE_LEVEL", "0.85")
	t.Setenv("MATCH_STRATEGY", "Neural")
	t.Setenv("TEMPLATE_CHECK_RATE", "0.25")
	t.Setenv("MONITORS", "0, 2")
	t.Setenv("TILE_ROWS", "2")
	t.Setenv("TILE_COLS", "3")
	t.Setenv("TEMPLATE_EXTENSIONS", "PNG, .webp")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}

	if cfg.HTTPAddr != ":9000" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":9000")
	}
	if cfg.ConfidenceLevel != 0.85 {
		t.Errorf("ConfidenceLevel = %f, want 0.85", cfg.ConfidenceLevel)
	}
	if cfg.Strategy != StrategyNeural {
		t.Errorf("Strategy = %q, want %q", cfg.Strategy, StrategyNeural)
	}
	if cfg.Poll() != 250*time.Millisecond {
		t.Errorf("Poll() = %v, want 250ms", cfg.Poll())
	}
	if !reflect.DeepEqual(cfg.Monitors, []int{0, 2}) {
		t.Errorf("Monitors = %v, want [0 2]", cfg.Monitors)
	}
	if cfg.TileRows != 2 || cfg.TileCols != 3 {
		t.Errorf("tiles = %dx%d, want 2x3", cfg.TileRows, cfg.TileCols)
	}
	if !reflect.DeepEqual(cfg.TemplateExtensions, []string{".png", ".webp"}) {
		t.Errorf("TemplateExtensions = %v", cfg.TemplateExtensions)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "watch.yaml")
	data := "confidence_level: 0.8\ntemplate_check_rate: 1.5\nmonitors: [1]\nscale_factor: 0.5\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("SCALE_FACTOR", "0.75")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ConfidenceLevel != 0.8 {
		t.Errorf("ConfidenceLevel = %f, want 0.8 from file", cfg.ConfidenceLevel)
	}
	if cfg.Poll() != 1500*time.Millisecond {
		t.Errorf("Poll() = %v, want 1.5s", cfg.Poll())
	}
	if !reflect.DeepEqual(cfg.Monitors, []int{1}) {
		t.Errorf("Monitors = %v, want [1]", cfg.Monitors)
	}
	if cfg.ScaleFactor != 0.75 {
		t.Errorf("ScaleFactor = %f, env should override file", cfg.ScaleFactor)
	}
	if cfg.TileOverlap != 100 {
		t.Errorf("TileOverlap = %d, unset keys keep defaults", cfg.TileOverlap)
	}
}

func TestLoadDefaultFile(t *testing.T) {
	clearEnv(t)
	if err := os.WriteFile(DefaultFile, []byte("neural_threshold: 0.5\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.NeuralThreshold != 0.5 {
		t.Errorf("NeuralThreshold = %f, want 0.5 from %s", cfg.NeuralThreshold, DefaultFile)
	}
}

func TestLoadBadFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("monitors: [oops"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)

	if _, err := Load(); !apperrors.IsCode(err, apperrors.CodeConfigInvalid) {
		t.Errorf("Load() error = %v, want CONFIG_INVALID", err)
	}

	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); !apperrors.IsCode(err, apperrors.CodeConfigInvalid) {
		t.Errorf("missing file error = %v, want CONFIG_INVALID", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"confidence above 1", func(c *Config) { c.ConfidenceLevel = 1.5 }},
		{"negative threshold", func(c *Config) { c.NeuralThreshold = -0.1 }},
		{"zero scale", func(c *Config) { c.ScaleFactor = 0 }},
		{"zero rows", func(c *Config) { c.TileRows = 0 }},
		{"zero cols", func(c *Config) { c.TileCols = 0 }},
		{"negative overlap", func(c *Config) { c.TileOverlap = -1 }},
		{"negative poll", func(c *Config) { c.PollInterval = -1 }},
		{"unknown strategy", func(c *Config) { c.Strategy = "fuzzy" }},
		{"negative monitor", func(c *Config) { c.Monitors = []int{0, -2} }},
		{"no extensions", func(c *Config) { c.TemplateExtensions = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); !apperrors.IsCode(err, apperrors.CodeConfigInvalid) {
				t.Errorf("Validate() = %v, want CONFIG_INVALID", err)
			}
		})
	}
}

func TestGetEnvIntList(t *testing.T) {
	t.Setenv("TEST_LIST", "3,x")
	if got := getEnvIntList("TEST_LIST", []int{9}); !reflect.DeepEqual(got, []int{9}) {
		t.Errorf("bad element should keep default, got %v", got)
	}
	t.Setenv("TEST_LIST", "")
	if got := getEnvIntList("TEST_LIST", nil); got != nil {
		t.Errorf("unset should return default, got %v", got)
	}
}
