package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/aryan-salemababdi/winbash/internal/config"
	"github.com/aryan-salemababdi/winbash/pkg/app"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return 1
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Log.SlogLevel(),
	}))
	slog.SetDefault(logger)

	rt, err := app.New(cfg, app.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		return 1
	}

	// Capture SIGINT/SIGTERM before starting so an early interrupt still
	// shuts the pool down.
	listener := &app.SignalListener{
		Runtime: rt,
		Timeout: cfg.Server.ShutdownTimeout,
		Logger:  logger,
	}
	listener.Listen()

	ctx := context.Background()
	if err := rt.Start(ctx); err != nil {
		listener.Close()
		logger.Error("failed to start server", slog.String("error", err.Error()))
		return 1
	}

	return listener.Wait(ctx)
}
