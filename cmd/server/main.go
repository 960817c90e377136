//go:build !js && !wasm

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/himanishpuri/landmarkdna/internal/config"
	"github.com/himanishpuri/landmarkdna/pkg/landmark"
	"github.com/himanishpuri/landmarkdna/pkg/logger"
)

func main() {
	configFile := pflag.StringP("config", "c", "", "Path to config file (default: search for landmark.yaml)")
	port := pflag.IntP("port", "p", 0, "HTTP server port (overrides config)")
	pflag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}

	log := logger.GetLogger()
	log.SetLevel(cfg.Level())

	service, err := landmark.NewService(
		landmark.WithDriver(cfg.Storage.Driver),
		landmark.WithDBPath(cfg.Storage.DSN),
		landmark.WithDatabase(cfg.Storage.Database),
		landmark.WithTempDir(cfg.TempDir),
		landmark.WithWorkers(cfg.Workers),
		landmark.WithFingerprintConfig(cfg.Fingerprint),
		landmark.WithLogger(log.With("service")),
	)
	if err != nil {
		log.Fatalf("Failed to create service: %v", err)
	}
	defer service.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := NewServer(service, cfg, log)
	if err := server.Run(ctx); err != nil {
		log.Errorf("Server failed: %v", err)
		service.Close()
		os.Exit(1)
	}
}
