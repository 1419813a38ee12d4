// Package cli provides the initialization shared by cmd/cardbook and
// cmd/statement-worker.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"cardbook/internal/config"
	applog "cardbook/internal/log"
)

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// SetupLogger builds the logger from LOG_LEVEL and LOG_FORMAT, writes to
// w and makes it the slog default.
func SetupLogger(cfg *config.Config, component string, w io.Writer) (*applog.Logger, error) {
	level, err := applog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	logger := applog.New(applog.Config{
		Level:     level,
		Format:    cfg.LogFormat,
		Component: component,
		Output:    w,
	})
	applog.SetDefault(logger)
	return logger, nil
}

// LoadConfig loads configuration and runs validate on it (cfg.Validate
// when nil).
func LoadConfig(validate func(*config.Config) error) (*config.Config, error) {
	cfg := config.Load()
	if validate == nil {
		validate = (*config.Config).Validate
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MustLoadConfig is LoadConfig that exits the process on failure.
func MustLoadConfig(validate func(*config.Config) error) *config.Config {
	cfg, err := LoadConfig(validate)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return cfg
}

// GracefulShutdown returns a context cancelled on SIGINT, SIGTERM or when
// parent is done. cleanup runs after cancellation and must finish within
// timeout; done is closed once it has.
func GracefulShutdown(parent context.Context, logger *slog.Logger, timeout time.Duration, cleanup func(context.Context)) (ctx context.Context, done <-chan struct{}) {
	ctx, cancel := context.WithCancel(parent)
	closed := make(chan struct{})

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigChan)

		select {
		case sig := <-sigChan:
			logger.Info("Shutdown signal received", "signal", sig.String())
		case <-ctx.Done():
		}
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
		defer shutdownCancel()

		finished := make(chan struct{})
		go func() {
			if cleanup != nil {
				cleanup(shutdownCtx)
			}
			close(finished)
		}()

		select {
		case <-finished:
			logger.Info("Shutdown complete")
		case <-shutdownCtx.Done():
			logger.Warn("Shutdown timeout reached")
		}
		close(closed)
	}()

	return ctx, closed
}
