// Scorerd serves the similarity model over gRPC so several watchers can share
// one loaded network.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/GriffinCanCode/respawnwatch/internal/config"
	"github.com/GriffinCanCode/respawnwatch/internal/logging"
	"github.com/GriffinCanCode/respawnwatch/internal/scorer"
)

// DefaultListenAddr is used when neither -listen nor SCORER_LISTEN is set.
const DefaultListenAddr = "127.0.0.1:50061"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	listen := os.Getenv("SCORER_LISTEN")
	if listen == "" {
		listen = DefaultListenAddr
	}
	flag.StringVar(&listen, "listen", listen, "gRPC listen address")
	flag.StringVar(&cfg.ModelPath, "model", cfg.ModelPath, "ONNX model path")
	flag.StringVar(&cfg.ModelSceneInput, "scene-input", cfg.ModelSceneInput, "model input name for the scene tensor")
	flag.StringVar(&cfg.ModelTemplateInput, "template-input", cfg.ModelTemplateInput, "model input name for the template tensor")
	flag.Parse()

	logger, closeLog, err := logging.Setup(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logging:", err)
		os.Exit(1)
	}
	defer closeLog()

	model, err := scorer.OpenONNX(cfg.ModelPath, cfg.ModelSceneInput, cfg.ModelTemplateInput)
	if err != nil {
		logger.Error("failed to load model", "model", cfg.ModelPath, "error", err)
		closeLog()
		os.Exit(1)
	}
	defer func() { _ = model.Close() }()

	lis, err := net.Listen("tcp", listen)
	if err != nil {
		logger.Error("failed to listen", "addr", listen, "error", err)
		closeLog()
		os.Exit(1)
	}

	gs := scorer.NewServer(model)
	go func() {
		logger.Info("scorer serving", "addr", lis.Addr().String(), "model", cfg.ModelPath, "service", scorer.ServiceName)
		if err := gs.Serve(lis); err != nil {
			logger.Error("grpc serve error", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down...")
	gs.GracefulStop()
	logger.Info("shutdown complete")
}
