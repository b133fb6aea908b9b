package main

import (
	"context"
	"log/slog"
	"os"

	_ "github.com/cleanhome/bookingd/docs"
	"github.com/cleanhome/bookingd/internal/app"
	"github.com/cleanhome/bookingd/internal/config"
)

// @title Cleanhome Booking API
// @version 1.0
// @description Booking lifecycle, staff assignment and payment reconciliation.
// @host localhost:8080
// @BasePath /
func main() {
	cfg, err := config.New()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Log.SlogLevel()}))
	slog.SetDefault(logger)

	application, err := app.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create application", "error", err)
		os.Exit(1)
	}

	if err := application.Run(context.Background()); err != nil {
		logger.Error("application finished with error", "error", err)
		os.Exit(1)
	}
}
