package main

import (
	"context"
	"errors"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"apiforge/internal/app"
	"apiforge/internal/config"
	"apiforge/internal/logging"
)

func main() {
	// Load environment variables
	if err := config.LoadEnvFile(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("Warning: Could not load .env file: %v", err)
	}

	path := os.Getenv("APIFORGE_CONFIG")
	if path == "" {
		path = config.DefaultPath
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatal("Invalid configuration: ", err)
	}

	logger, err := logging.New(logging.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		Development: !cfg.Hardened(),
	})
	if err != nil {
		log.Fatal("Failed to build logger: ", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, app.WithLogger(logger))
	if err != nil {
		logger.Fatal("Failed to start", zap.Error(err))
	}

	logger.Info("API server starting",
		zap.String("port", cfg.Server.Port),
		zap.String("environment", cfg.Server.Environment))
	if err := a.Run(ctx); err != nil {
		logger.Fatal("Server stopped", zap.Error(err))
	}
}
