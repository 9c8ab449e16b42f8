// Tilebench captures the primary monitor and compares scan throughput across
// tiling grids and scales, then recommends a setting.
package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"io"
	"os"

	"github.com/GriffinCanCode/respawnwatch/internal/bench"
	"github.com/GriffinCanCode/respawnwatch/internal/config"
	"github.com/GriffinCanCode/respawnwatch/internal/display"
	apperrors "github.com/GriffinCanCode/respawnwatch/internal/errors"
	"github.com/GriffinCanCode/respawnwatch/internal/logging"
	"github.com/GriffinCanCode/respawnwatch/internal/match"
	"github.com/GriffinCanCode/respawnwatch/internal/screen"
	"github.com/GriffinCanCode/respawnwatch/internal/templates"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "tilebench:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	iterations := flag.Int("iterations", bench.DefaultIterations, "passes per grid")
	overlap := flag.Int("overlap", bench.DefaultOverlap, "tile overlap in pixels")
	flag.StringVar(&cfg.Strategy, "strategy", cfg.Strategy, "matcher: auto, classical or neural")
	flag.Parse()

	logger, closeLog, err := logging.Setup(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	if err != nil {
		return err
	}
	defer closeLog()

	ctx := context.Background()
	registry := display.NewRegistry(display.Screenshot{})
	snap, err := registry.Refresh()
	if err != nil {
		return err
	}
	primary := snap.Monitors[0]
	for _, m := range snap.Monitors {
		if m.Primary {
			primary = m
		}
	}
	frames, err := screen.New(screen.Screenshot{}).CaptureAll(ctx, snap, 1, []int{primary.Index})
	if err != nil {
		return err
	}
	if len(frames) == 0 {
		return apperrors.Newf(apperrors.CodeCaptureFailed, "primary monitor %d produced no frame", primary.Index)
	}
	scene := templates.ToRGBA(frames[0].Image)

	tmpl := firstTemplate(cfg)
	matcher := match.ForStrategy(cfg.Strategy, func() *match.Neural {
		return match.OpenNeural(cfg.ModelPath, cfg.ModelSceneInput, cfg.ModelTemplateInput, cfg.ScorerAddr)
	})
	if c, ok := matcher.(io.Closer); ok {
		defer func() { _ = c.Close() }()
	}

	logger.Info("benchmarking", "monitor", primary.String(), "scene", scene.Bounds().Size(),
		"template", tmpl.Name, "matcher", matcher.Name(), "iterations", *iterations, "overlap", *overlap)

	r := bench.Runner{Matcher: matcher, Template: tmpl, Iterations: *iterations, Overlap: *overlap}
	results := make([]bench.Result, 0, len(bench.DefaultGrids))
	for _, g := range bench.DefaultGrids {
		res := r.Run(ctx, scene, g)
		logger.Info("grid done", "grid", g.String(), "tiles", res.Tiles,
			"never_found_fps", res.NeverFound, "best_case_fps", res.BestCase)
		results = append(results, res)
	}
	return bench.Report(os.Stdout, results)
}

// firstTemplate returns the first configured template, or a black 50x50
// placeholder when none load.
func firstTemplate(cfg *config.Config) *templates.Template {
	loaded, err := templates.NewStore().LoadAll(cfg.TemplateDir, cfg.TemplateExtensions)
	if err == nil && len(loaded) > 0 {
		return loaded[0]
	}
	return &templates.Template{Name: "placeholder", Image: image.NewRGBA(image.Rect(0, 0, 50, 50))}
}
