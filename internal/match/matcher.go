// Package match decides whether a template appears in a scene image.
package match

import (
	"context"
	"image"
	"log/slog"
	"time"

	"github.com/GriffinCanCode/respawnwatch/internal/templates"
)

// Strategy names.
const (
	StrategyClassical = "classical"
	StrategyNeural    = "neural"
)

// Result describes one match attempt. Monitor and Tile are filled by the caller;
// Tile is -1 when the whole frame was scored.
type Result struct {
	Matched      bool          `json:"matched"`
	Template     string        `json:"template,omitempty"`
	TemplatePath string        `json:"template_path,omitempty"`
	Monitor      int           `json:"monitor"`
	Score        float64       `json:"score"`
	Tile         int           `json:"tile"`
	Location     image.Point   `json:"location"`
	Strategy     string        `json:"strategy,omitempty"`
	Duration     time.Duration `json:"duration_ns"`
}

// Matcher scores a template against a scene. A failed attempt is a non-match,
// never an error.
type Matcher interface {
	Match(ctx context.Context, scene *image.RGBA, tmpl *templates.Template, threshold float64) Result
	Name() string
	Available() bool
}

// AreaBounded is implemented by matchers whose cost grows with scene area,
// which makes tiling worthwhile.
type AreaBounded interface {
	AreaBounded() bool
}

// IsAreaBounded reports whether m opts into tiling.
func IsAreaBounded(m Matcher) bool {
	ab, ok := m.(AreaBounded)
	return ok && ab.AreaBounded()
}

// Select returns primary when it is available, otherwise fallback.
// Without a fallback the unavailable primary is kept, so every match is false.
func Select(primary, fallback Matcher) Matcher {
	if primary.Available() {
		return primary
	}
	if fallback == nil {
		slog.Warn("matcher unavailable and no fallback configured, nothing will match", "matcher", primary.Name())
		return primary
	}
	slog.Warn("matcher unavailable, falling back", "matcher", primary.Name(), "fallback", fallback.Name())
	return fallback
}

// oversize reports whether the template exceeds the scene in either dimension.
func oversize(scene, tmpl image.Point) bool {
	return tmpl.X > scene.X || tmpl.Y > scene.Y
}

func miss(strategy string, tmpl *templates.Template) Result {
	return Result{Template: tmpl.Name, TemplatePath: tmpl.Path, Tile: -1, Strategy: strategy}
}

// ForStrategy builds the matcher named by strategy. "auto" prefers the neural
// matcher and falls back to classical when the model cannot be loaded.
func ForStrategy(strategy string, openNeural func() *Neural) Matcher {
	switch strategy {
	case StrategyClassical:
		return NewClassical()
	case StrategyNeural:
		return Select(openNeural(), nil)
	default:
		return Select(openNeural(), NewClassical())
	}
}

// Threshold returns the threshold on m's score scale.
func Threshold(m Matcher, classical, neural float64) float64 {
	if m.Name() == StrategyNeural {
		return neural
	}
	return classical
}
