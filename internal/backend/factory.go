package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cardbook/internal/amqp"
	"cardbook/internal/clock"
	"cardbook/internal/lock"
	"cardbook/internal/metrics"
	"cardbook/internal/seed"
	"cardbook/internal/services"
	"cardbook/internal/sheets"
	gsheet "cardbook/internal/sheets/google"
	"cardbook/internal/sheets/xlsx"
	"cardbook/internal/storage"
	"cardbook/internal/storage/memory"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger  *slog.Logger
	clock   clock.Clock
	metrics *metrics.Collector
}

// NewFactory creates a new backend factory. A nil clock means the real one.
func NewFactory(logger *slog.Logger, c clock.Clock, m *metrics.Collector) *DefaultFactory {
	if logger == nil {
		logger = slog.Default()
	}
	if c == nil {
		c = clock.Real{}
	}
	return &DefaultFactory{
		logger:  logger,
		clock:   c,
		metrics: m,
	}
}

var _ Factory = (*DefaultFactory)(nil)

// CreateBackend opens the store, seeds categories, and wires the lock and
// the event publisher into the engine.
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var closers []func() error
	cleanup := func() error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}

	store, closeStore, err := f.createStore(config)
	if err != nil {
		return nil, err
	}
	if closeStore != nil {
		closers = append(closers, closeStore)
	}

	if config.CategorySeedFile != "" {
		if _, err := seed.LoadAndApply(ctx, store, config.CategorySeedFile); err != nil {
			cleanup()
			return nil, fmt.Errorf("seed categories: %w", err)
		}
	}

	opts := []services.RunnerOption{services.WithMetrics(f.metrics)}

	if config.RedisURL != "" {
		locker, err := lock.NewRedisFromURL(ctx, config.RedisURL, config.LockTTL)
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("connect redis lock: %w", err)
		}
		closers = append(closers, locker.Close)
		opts = append(opts, services.WithLocker(locker))
		f.logger.Info("Using Redis card lock", "ttl", config.LockTTL)
	}

	if config.AMQPURL != "" {
		client, err := amqp.NewClient(config.AMQPURL, config.AMQPExchange, config.AMQPQueue)
		if err != nil {
			f.logger.Warn("Failed to initialize AMQP client, continuing without events", "error", err)
		} else {
			closers = append(closers, client.Close)
			opts = append(opts, services.WithPublisher(client))
			f.logger.Info("Initialized AMQP client",
				"exchange", config.AMQPExchange,
				"queue", config.AMQPQueue)
		}
	}

	engine := services.NewEngine(store, f.clock, config.Anchor, opts...)

	f.logger.Info("Initialized backend",
		"type", config.Type,
		"anchor", config.Anchor,
		"amqp_enabled", config.AMQPURL != "",
		"redis_lock", config.RedisURL != "")

	return &BackendResult{
		Store:     store,
		Engine:    engine,
		Cards:     services.NewCardService(engine),
		Purchases: services.NewPurchaseService(engine),
		Cleanup:   cleanup,
	}, nil
}

func (f *DefaultFactory) createStore(config Config) (storage.Store, func() error, error) {
	switch config.Type {
	case SQLiteBackend:
		repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
		}
		f.logger.Info("Initialized SQLite store", "db_path", config.SQLiteDBPath)
		return repo, repo.Close, nil
	case MemoryBackend:
		f.logger.Info("Initialized memory store")
		return memory.New(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

// CreateExporter implements Factory.CreateExporter
func (f *DefaultFactory) CreateExporter(ctx context.Context, config Config) (sheets.StatementWriter, error) {
	switch config.Export {
	case "", NoExport:
		return nil, nil
	case XLSXExport:
		w, err := xlsx.New(config.XLSXPath, config.GoogleSheetName)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize xlsx writer: %w", err)
		}
		f.logger.Info("Initialized xlsx statement export", "path", config.XLSXPath)
		return w, nil
	case SheetsExport:
		cli, err := gsheet.New(ctx, gsheet.Config{
			SpreadsheetID:      config.GoogleSpreadsheetID,
			SheetName:          config.GoogleSheetName,
			ServiceAccountJSON: config.GoogleServiceAccountJSON,
			ServiceAccountFile: config.GoogleServiceAccountFile,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Google Sheets client: %w", err)
		}
		f.logger.Info("Initialized Google Sheets statement export")
		return cli, nil
	default:
		return nil, fmt.Errorf("unsupported statement export: %s", config.Export)
	}
}
