package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Backends, exporters and anchors accepted by Validate.
var (
	validBackends  = []string{"memory", "sqlite"}
	validExporters = []string{"none", "sheets", "xlsx"}
	validAnchors   = []string{"cycle_end", "cycle_start"}
	validFormats   = []string{"text", "json"}
	validLevels    = []string{"debug", "info", "warn", "warning", "error"}
)

type Config struct {
	// Storage
	DataBackend  string
	SQLiteDBPath string

	// AMQP; publishing is disabled when AMQPURL is empty
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Per-card lock; in-process when RedisURL is empty
	RedisURL string
	LockTTL  time.Duration

	// Billing
	RetroactiveAnchor string

	// Statement export
	StatementExport          string
	XLSXPath                 string
	GoogleSpreadsheetID      string
	GoogleSheetName          string
	GoogleServiceAccountJSON string
	GoogleServiceAccountFile string

	// Worker
	IdempotencyDBPath   string
	MetricsAddr         string
	ExportSweepInterval time.Duration

	CategorySeedFile string

	LogLevel  string
	LogFormat string

	ShutdownTimeout time.Duration
}

func Load() *Config {
	return &Config{
		DataBackend:  getEnv("DATA_BACKEND", "sqlite"),
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/cardbook.db"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "cardbook"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "statements"),

		RedisURL: getEnv("REDIS_URL", ""),
		LockTTL:  getEnvDuration("LOCK_TTL", 10*time.Second),

		RetroactiveAnchor: strings.ToLower(getEnv("RETROACTIVE_ANCHOR", "cycle_end")),

		StatementExport:          strings.ToLower(getEnv("STATEMENT_EXPORT", "none")),
		XLSXPath:                 getEnv("XLSX_PATH", "./data/statements.xlsx"),
		GoogleSpreadsheetID:      getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleSheetName:          getEnv("GOOGLE_SHEET_NAME", "Statements"),
		GoogleServiceAccountJSON: getEnv("GOOGLE_SERVICE_ACCOUNT_JSON", ""),
		GoogleServiceAccountFile: getEnv("GOOGLE_SERVICE_ACCOUNT_FILE", ""),

		IdempotencyDBPath: getEnv("IDEMPOTENCY_DB_PATH", "./data/worker.bolt"),
		MetricsAddr:       getEnv("METRICS_ADDR", ":9090"),

		ExportSweepInterval: getEnvDuration("EXPORT_SWEEP_INTERVAL", time.Hour),

		CategorySeedFile: getEnv("CATEGORY_SEED_FILE", ""),

		LogLevel:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(getEnv("LOG_FORMAT", "text")),

		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
	}
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if !slices.Contains(validBackends, c.DataBackend) {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	if c.DataBackend == "sqlite" {
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else if msg := ensureDir(c.SQLiteDBPath); msg != "" {
			errors = append(errors, msg)
		}
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.RedisURL != "" {
		if parsedURL, err := url.Parse(c.RedisURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid Redis URL '%s': %v", c.RedisURL, err))
		} else if parsedURL.Scheme != "redis" && parsedURL.Scheme != "rediss" {
			errors = append(errors, fmt.Sprintf("invalid Redis URL scheme '%s': must be 'redis' or 'rediss'", parsedURL.Scheme))
		}
		if c.LockTTL < time.Second {
			errors = append(errors, fmt.Sprintf("invalid lock TTL %v: must be at least 1 second", c.LockTTL))
		}
	}

	if !slices.Contains(validAnchors, c.RetroactiveAnchor) {
		errors = append(errors, fmt.Sprintf("invalid retroactive anchor '%s': must be one of %v", c.RetroactiveAnchor, validAnchors))
	}

	switch c.StatementExport {
	case "none":
	case "xlsx":
		if c.XLSXPath == "" {
			errors = append(errors, "XLSX path cannot be empty when exporting to xlsx")
		}
	case "sheets":
		if c.GoogleSpreadsheetID == "" {
			errors = append(errors, "Google Spreadsheet ID is required when exporting to sheets")
		}
		if c.GoogleServiceAccountJSON == "" && c.GoogleServiceAccountFile == "" && os.Getenv("GOOGLE_APPLICATION_CREDENTIALS") == "" {
			errors = append(errors, "either GOOGLE_SERVICE_ACCOUNT_JSON or GOOGLE_SERVICE_ACCOUNT_FILE must be provided when exporting to sheets")
		}
		if c.GoogleServiceAccountFile != "" {
			if _, err := os.Stat(c.GoogleServiceAccountFile); os.IsNotExist(err) {
				errors = append(errors, fmt.Sprintf("Google service account file does not exist: %s", c.GoogleServiceAccountFile))
			}
		}
	default:
		errors = append(errors, fmt.Sprintf("invalid statement export '%s': must be one of %v", c.StatementExport, validExporters))
	}

	if c.CategorySeedFile != "" {
		if _, err := os.Stat(c.CategorySeedFile); os.IsNotExist(err) {
			errors = append(errors, fmt.Sprintf("category seed file does not exist: %s", c.CategorySeedFile))
		}
	}

	if c.MetricsAddr != "" {
		if _, port, err := net.SplitHostPort(c.MetricsAddr); err != nil {
			errors = append(errors, fmt.Sprintf("invalid metrics address '%s': %v", c.MetricsAddr, err))
		} else if p, err := strconv.Atoi(port); err != nil || p < 1 || p > 65535 {
			errors = append(errors, fmt.Sprintf("invalid metrics port '%s': must be between 1 and 65535", port))
		}
	}

	if !slices.Contains(validLevels, c.LogLevel) {
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be one of %v", c.LogLevel, validLevels))
	}
	if !slices.Contains(validFormats, c.LogFormat) {
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be one of %v", c.LogFormat, validFormats))
	}

	if c.ShutdownTimeout < time.Second {
		errors = append(errors, fmt.Sprintf("invalid shutdown timeout %v: must be at least 1 second", c.ShutdownTimeout))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// ValidateWorker adds the checks only the statement worker needs.
func (c *Config) ValidateWorker() error {
	var errors []string
	if err := c.Validate(); err != nil {
		errors = append(errors, strings.TrimPrefix(err.Error(), "configuration validation failed:\n- "))
	}
	if c.AMQPURL == "" {
		errors = append(errors, "AMQP URL is required by the statement worker")
	}
	if c.StatementExport == "none" {
		errors = append(errors, "statement export must be 'sheets' or 'xlsx' for the statement worker")
	}
	if c.IdempotencyDBPath == "" {
		errors = append(errors, "idempotency database path cannot be empty")
	} else if msg := ensureDir(c.IdempotencyDBPath); msg != "" {
		errors = append(errors, msg)
	}
	if c.ExportSweepInterval < 0 {
		errors = append(errors, fmt.Sprintf("invalid export sweep interval %v: must not be negative", c.ExportSweepInterval))
	}
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}
	return nil
}

func ensureDir(path string) string {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return ""
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Sprintf("cannot create directory '%s': %v", dir, err)
		}
	}
	return ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
