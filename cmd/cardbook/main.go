package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"cardbook/internal/backend"
	"cardbook/internal/cli"
	"cardbook/internal/clock"
	applog "cardbook/internal/log"
	"cardbook/internal/metrics"
)

func main() {
	cli.LoadEnvFile()

	cfg := cli.MustLoadConfig(nil)

	// Command output owns stdout; logs go to stderr.
	logger, err := cli.SetupLogger(cfg, applog.ComponentCLI, os.Stderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	backendConfig, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", "error", err)
		os.Exit(1)
	}

	// Ctrl-C cancels the running command; there is nothing else to drain.
	ctx, _ := cli.GracefulShutdown(context.Background(), logger.Logger, cfg.ShutdownTimeout, nil)

	os.Exit(run(ctx, backendConfig, logger))
}

func run(ctx context.Context, backendConfig backend.Config, logger *applog.Logger) int {
	factory := backend.NewFactory(logger.Logger, clock.Real{}, metrics.New())

	res, err := factory.CreateBackend(ctx, backendConfig)
	if err != nil {
		logger.Error("Failed to initialize backend", "error", err)
		return 1
	}
	defer func() {
		if err := res.Cleanup(); err != nil {
			logger.Error("Failed to release backend", "error", err)
		}
	}()

	exporter, err := factory.CreateExporter(ctx, backendConfig)
	if err != nil {
		logger.Error("Failed to initialize statement export", "error", err)
		return 1
	}

	app := &cli.App{
		Cards:     res.Cards,
		Purchases: res.Purchases,
		Exporter:  exporter,
		Out:       os.Stdout,
		Err:       os.Stderr,
	}
	if err := app.Run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, cli.ErrUsage) {
			fmt.Fprintln(os.Stderr, err)
			return 2
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}
