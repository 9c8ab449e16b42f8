// Respawnwatch watches every monitor for trigger screens and publishes matches
// over HTTP and WebSocket.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GriffinCanCode/respawnwatch/internal/config"
	"github.com/GriffinCanCode/respawnwatch/internal/display"
	"github.com/GriffinCanCode/respawnwatch/internal/logging"
	"github.com/GriffinCanCode/respawnwatch/internal/match"
	"github.com/GriffinCanCode/respawnwatch/internal/orchestrator"
	"github.com/GriffinCanCode/respawnwatch/internal/profile"
	"github.com/GriffinCanCode/respawnwatch/internal/scan"
	"github.com/GriffinCanCode/respawnwatch/internal/screen"
	"github.com/GriffinCanCode/respawnwatch/internal/server"
	"github.com/GriffinCanCode/respawnwatch/internal/templates"
)

func main() {
	cfg, err := config.Load()
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	// Setup structured logging
	logger, closeLog, err := logging.Setup(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logging:", err)
		os.Exit(1)
	}
	defer closeLog()

	registry := display.NewRegistry(display.Screenshot{})
	if snap, err := registry.Refresh(); err != nil {
		logger.Warn("no displays yet, will retry", "error", err)
	} else {
		for _, m := range snap.Monitors {
			logger.Info("display found", "monitor", m.String(), "primary", m.Primary)
		}
	}

	store := templates.NewStore()
	if _, err := store.LoadAll(cfg.TemplateDir, cfg.TemplateExtensions); err != nil {
		logger.Warn("templates not loaded, nothing will match until reload", "dir", cfg.TemplateDir, "error", err)
	}

	matcher := match.ForStrategy(cfg.Strategy, func() *match.Neural {
		return match.OpenNeural(cfg.ModelPath, cfg.ModelSceneInput, cfg.ModelTemplateInput, cfg.ScorerAddr)
	})
	if c, ok := matcher.(io.Closer); ok {
		defer func() { _ = c.Close() }()
	}

	recorder := profile.NewRecorder()
	opts := scan.Options{
		Threshold:   match.Threshold(matcher, cfg.ConfidenceLevel, cfg.NeuralThreshold),
		Scale:       cfg.ScaleFactor,
		Include:     cfg.Monitors,
		TileRows:    cfg.TileRows,
		TileCols:    cfg.TileCols,
		TileOverlap: cfg.TileOverlap,
	}
	if cfg.DebugDir != "" {
		dw, err := orchestrator.NewDebugWriter(cfg.DebugDir)
		if err != nil {
			logger.Warn("debug output disabled", "dir", cfg.DebugDir, "error", err)
		} else {
			opts.OnMatch = dw.OnMatch
		}
	}

	sched := scan.New(registry, screen.New(screen.Screenshot{}), store, matcher, recorder, opts)
	mgr := orchestrator.New(cfg, sched, store, recorder)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("respawnwatch starting",
		"strategy", matcher.Name(), "threshold", opts.Threshold, "templates", len(store.Loaded()),
		"tiles", fmt.Sprintf("%dx%d", cfg.TileRows, cfg.TileCols), "scale", cfg.ScaleFactor)
	mgr.Start(ctx)

	// Start HTTP server
	var httpServer *http.Server
	if cfg.HTTPAddr != "" {
		srv := server.New(mgr, registry, store)
		httpServer = &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           srv.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			slog.Info("http server starting", "addr", cfg.HTTPAddr)
			if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				slog.Error("http server error", "error", err)
			}
		}()
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down...")
	cancel()

	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("http shutdown error", "error", err)
		}
	}

	mgr.Stop()
	recorder.Report(logger)
	slog.Info("shutdown complete", "cycles", mgr.Status().Cycles, "matches", mgr.Status().Matches)
}
