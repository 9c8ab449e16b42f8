// Package config handles watcher configuration.
// Values come from defaults, then an optional YAML file, then environment variables.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	apperrors "github.com/GriffinCanCode/respawnwatch/internal/errors"
)

// DefaultFile is read when CONFIG_FILE is unset and the file exists.
const DefaultFile = "config.yaml"

// Match strategies.
const (
	StrategyAuto      = "auto"
	StrategyClassical = "classical"
	StrategyNeural    = "neural"
)

type Config struct {
	HTTPAddr string `yaml:"http_addr"`

	TemplateDir        string   `yaml:"template_dir"`
	TemplateExtensions []string `yaml:"template_extensions"`

	ConfidenceLevel float64 `yaml:"confidence_level"` // classical threshold, 0..1
	NeuralThreshold float64 `yaml:"neural_threshold"`
	Strategy        string  `yaml:"strategy"`

	ModelPath          string `yaml:"model_path"`
	ModelSceneInput    string `yaml:"model_scene_input"`
	ModelTemplateInput string `yaml:"model_template_input"`
	ScorerAddr         string `yaml:"scorer_addr"`

	PollInterval         float64 `yaml:"template_check_rate"` // seconds
	DisplayRetryInterval float64 `yaml:"display_retry_interval"`

	Monitors    []int   `yaml:"monitors"` // 0-based registry indices, empty = all
	TileRows    int     `yaml:"tile_rows"`
	TileCols    int     `yaml:"tile_cols"`
	TileOverlap int     `yaml:"tile_overlap"` // pixels
	ScaleFactor float64 `yaml:"scale_factor"`

	ReportEvery int    `yaml:"report_every"` // cycles, 0 disables
	DebugDir    string `yaml:"debug_dir"`

	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		HTTPAddr:             "127.0.0.1:8765",
		TemplateDir:          "templates",
		TemplateExtensions:   []string{".png", ".jpg"},
		ConfidenceLevel:      0.7,
		NeuralThreshold:      0.9,
		Strategy:             StrategyAuto,
		ModelPath:            "matcher.onnx",
		ModelSceneInput:      "scene",
		ModelTemplateInput:   "template",
		PollInterval:         0,
		DisplayRetryInterval: 2.0,
		TileRows:             1,
		TileCols:             1,
		TileOverlap:          100,
		ScaleFactor:          1.0,
		ReportEvery:          100,
		LogLevel:             "info",
	}
}

// Load builds the configuration from defaults, the YAML file and the environment.
func Load() (*Config, error) {
	cfg := Default()

	path := getEnv("CONFIG_FILE", "")
	if path == "" {
		if _, err := os.Stat(DefaultFile); err == nil {
			path = DefaultFile
		}
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	cfg.TemplateExtensions = normalizeExtensions(cfg.TemplateExtensions)
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return apperrors.Wrapf(err, apperrors.CodeConfigInvalid, "read config file %s", path)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return apperrors.Wrapf(err, apperrors.CodeConfigInvalid, "parse config file %s", path)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.HTTPAddr = getEnv("HTTP_ADDR", c.HTTPAddr)
	c.TemplateDir = getEnv("TEMPLATE_DIR", c.TemplateDir)
	c.TemplateExtensions = getEnvList("TEMPLATE_EXTENSIONS", c.TemplateExtensions)
	c.ConfidenceLevel = getEnvFloat("CONFIDENCE_LEVEL", c.ConfidenceLevel)
	c.NeuralThreshold = getEnvFloat("NEURAL_THRESHOLD", c.NeuralThreshold)
	c.Strategy = strings.ToLower(getEnv("MATCH_STRATEGY", c.Strategy))
	c.ModelPath = getEnv("MODEL_PATH", c.ModelPath)
	c.ModelSceneInput = getEnv("MODEL_SCENE_INPUT", c.ModelSceneInput)
	c.ModelTemplateInput = getEnv("MODEL_TEMPLATE_INPUT", c.ModelTemplateInput)
	c.ScorerAddr = getEnv("SCORER_ADDR", c.ScorerAddr)
	c.PollInterval = getEnvFloat("TEMPLATE_CHECK_RATE", c.PollInterval)
	c.DisplayRetryInterval = getEnvFloat("DISPLAY_RETRY_INTERVAL", c.DisplayRetryInterval)
	c.Monitors = getEnvIntList("MONITORS", c.Monitors)
	c.TileRows = getEnvInt("TILE_ROWS", c.TileRows)
	c.TileCols = getEnvInt("TILE_COLS", c.TileCols)
	c.TileOverlap = getEnvInt("TILE_OVERLAP", c.TileOverlap)
	c.ScaleFactor = getEnvFloat("SCALE_FACTOR", c.ScaleFactor)
	c.ReportEvery = getEnvInt("REPORT_EVERY", c.ReportEvery)
	c.DebugDir = getEnv("DEBUG_DIR", c.DebugDir)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFile = getEnv("LOG_FILE", c.LogFile)
}

// Validate reports the first out-of-range value as CONFIG_INVALID.
func (c *Config) Validate() error {
	invalid := func(field string, v any) error {
		return apperrors.Newf(apperrors.CodeConfigInvalid, "invalid %s", field).
			WithMetadata("value", toString(v))
	}
	switch {
	case c.ConfidenceLevel < 0 || c.ConfidenceLevel > 1:
		return invalid("confidence_level", c.ConfidenceLevel)
	case c.NeuralThreshold < 0 || c.NeuralThreshold > 1:
		return invalid("neural_threshold", c.NeuralThreshold)
	case c.ScaleFactor <= 0 || c.ScaleFactor > 1:
		return invalid("scale_factor", c.ScaleFactor)
	case c.TileRows < 1:
		return invalid("tile_rows", c.TileRows)
	case c.TileCols < 1:
		return invalid("tile_cols", c.TileCols)
	case c.TileOverlap < 0:
		return invalid("tile_overlap", c.TileOverlap)
	case c.PollInterval < 0:
		return invalid("template_check_rate", c.PollInterval)
	case c.DisplayRetryInterval < 0:
		return invalid("display_retry_interval", c.DisplayRetryInterval)
	case len(c.TemplateExtensions) == 0:
		return invalid("template_extensions", "")
	}
	switch c.Strategy {
	case StrategyAuto, StrategyClassical, StrategyNeural:
	default:
		return invalid("strategy", c.Strategy)
	}
	for _, m := range c.Monitors {
		if m < 0 {
			return invalid("monitors", m)
		}
	}
	return nil
}

// Poll returns the inter-cycle delay.
func (c *Config) Poll() time.Duration {
	return seconds(c.PollInterval)
}

// DisplayRetry returns the minimum delay after a fatal-to-cycle error.
func (c *Config) DisplayRetry() time.Duration {
	return seconds(c.DisplayRetryInterval)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func toString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case int:
		return strconv.Itoa(x)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	default:
		return ""
	}
}

func normalizeExtensions(exts []string) []string {
	out := make([]string, 0, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		out = append(out, e)
	}
	return out
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvList(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if t := strings.TrimSpace(p); t != "" {
				result = append(result, t)
			}
		}
		return result
	}
	return def
}

// getEnvIntList parses a comma-separated list; any bad element keeps the default.
func getEnvIntList(key string, def []int) []int {
	parts := getEnvList(key, nil)
	if parts == nil {
		return def
	}
	result := make([]int, 0, len(parts))
	for _, p := range parts {
		i, err := strconv.Atoi(p)
		if err != nil {
			return def
		}
		result = append(result, i)
	}
	return result
}
