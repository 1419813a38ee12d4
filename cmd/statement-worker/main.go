package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"cardbook/internal/amqp"
	"cardbook/internal/backend"
	"cardbook/internal/cli"
	"cardbook/internal/clock"
	"cardbook/internal/config"
	applog "cardbook/internal/log"
	"cardbook/internal/metrics"
	"cardbook/internal/worker"
)

func main() {
	cli.LoadEnvFile()

	cfg := cli.MustLoadConfig((*config.Config).ValidateWorker)

	logger, err := cli.SetupLogger(cfg, applog.ComponentWorker, os.Stdout)
	if err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
	logger.Info("Starting statement-worker")

	if err := run(cfg, logger); err != nil {
		logger.Error("Statement worker stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *applog.Logger) error {
	backendConfig, err := backend.FromAppConfig(cfg)
	if err != nil {
		return err
	}
	// The worker only reads the ledger; it must not publish events back.
	backendConfig.AMQPURL = ""

	m := metrics.New()
	factory := backend.NewFactory(logger.Logger, clock.Real{}, m)

	setupCtx := context.Background()
	res, err := factory.CreateBackend(setupCtx, backendConfig)
	if err != nil {
		return err
	}
	defer func() {
		if err := res.Cleanup(); err != nil {
			logger.Error("Failed to release backend", "error", err)
		}
	}()

	writer, err := factory.CreateExporter(setupCtx, backendConfig)
	if err != nil {
		return err
	}

	store, err := worker.OpenIdempotencyStore(cfg.IdempotencyDBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		return err
	}
	defer amqpClient.Close()

	w := worker.NewStatementWorker(res.Cards, writer, store, clock.Real{}, m)

	srv := &http.Server{
		Addr: cfg.MetricsAddr,
		Handler: worker.NewOpsRouter(logger.WithComponent(applog.ComponentHTTP), prometheus.DefaultGatherer, func() error {
			if !amqpClient.Connected() {
				return errors.New("amqp connection is down")
			}
			return nil
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	parent, stop := context.WithCancel(context.Background())
	defer stop()

	ctx, done := cli.GracefulShutdown(parent, logger.Logger, cfg.ShutdownTimeout, func(shutdownCtx context.Context) {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Ops server shutdown failed", "error", err)
		}
	})

	// Catch up on statements closed while the worker was down.
	logger.Info("Performing startup export check...")
	if err := w.ExportMissing(ctx); err != nil {
		logger.Error("Startup export check failed", "error", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Consuming events", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
		err := amqpClient.ConsumeEvents(gctx, w.HandleEvent)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		logger.Info("Serving ops endpoints", "addr", cfg.MetricsAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if cfg.ExportSweepInterval > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(cfg.ExportSweepInterval)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					if err := w.ExportMissing(gctx); err != nil {
						logger.Error("Periodic export sweep failed", "error", err)
					}
				}
			}
		})
	}

	err = g.Wait()
	// A failed goroutine must still bring the ops server down.
	stop()
	<-done
	return err
}
