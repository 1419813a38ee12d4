package backend

import (
	"context"
	"time"

	"cardbook/internal/billing"
	"cardbook/internal/services"
	"cardbook/internal/sheets"
	"cardbook/internal/storage"
)

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// BackendResult is a wired engine plus what it was built from.
type BackendResult struct {
	Store     storage.Store
	Engine    *services.Engine
	Cards     *services.CardService
	Purchases *services.PurchaseService
	Cleanup   CleanupFunc
}

// Factory creates backends based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
	// CreateExporter returns nil when export is disabled.
	CreateExporter(ctx context.Context, config Config) (sheets.StatementWriter, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	// SQLite specific
	SQLiteDBPath string

	// Event publishing, disabled when AMQPURL is empty
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Redis lock, in-process when RedisURL is empty
	RedisURL string
	LockTTL  time.Duration

	Anchor billing.RetroactiveAnchor

	// Statement export
	Export                   ExportType
	XLSXPath                 string
	GoogleSpreadsheetID      string
	GoogleSheetName          string
	GoogleServiceAccountJSON string
	GoogleServiceAccountFile string

	CategorySeedFile string
}

// BackendType represents the type of backend
type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	MemoryBackend BackendType = "memory"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, MemoryBackend:
		return true
	default:
		return false
	}
}

// ExportType selects the statement writer.
type ExportType string

const (
	NoExport     ExportType = "none"
	SheetsExport ExportType = "sheets"
	XLSXExport   ExportType = "xlsx"
)

func (et ExportType) IsValid() bool {
	switch et {
	case NoExport, SheetsExport, XLSXExport:
		return true
	default:
		return false
	}
}
