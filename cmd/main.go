package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/snapfind/snapfind/internal/config"
	"github.com/snapfind/snapfind/internal/snapfind"
	"github.com/snapfind/snapfind/internal/util"
)

func main() {

	// set logging to json format for application
	jsonHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	slog.SetDefault(slog.New(jsonHandler).
		With(slog.String(util.ServiceKey, util.ServiceIngest)))

	// create a logger for the main package
	logger := slog.Default().
		With(slog.String(util.PackageKey, util.PackageMain)).
		With(slog.String(util.ComponentKey, util.ComponentMain))

	cfg, err := config.Load()
	if err != nil {
		logger.Error(fmt.Sprintf("failed to load %s ingest service config", util.ServiceIngest), "err", err.Error())
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := snapfind.New(ctx, cfg)
	if err != nil {
		logger.Error(fmt.Sprintf("failed to create %s ingest service", util.ServiceIngest), "err", err.Error())
		os.Exit(1)
	}

	if err := svc.Run(ctx); err != nil {
		logger.Error(fmt.Sprintf("failed to run %s ingest service", util.ServiceIngest), "err", err.Error())
		os.Exit(1)
	}
}
