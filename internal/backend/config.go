package backend

import (
	"fmt"

	"cardbook/internal/billing"
	"cardbook/internal/config"
)

// FromAppConfig converts the application config to backend config
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}

	cfg := Config{
		Type: BackendType(appConfig.DataBackend),

		SQLiteDBPath: appConfig.SQLiteDBPath,
		AMQPURL:      appConfig.AMQPURL,
		AMQPExchange: appConfig.AMQPExchange,
		AMQPQueue:    appConfig.AMQPQueue,

		RedisURL: appConfig.RedisURL,
		LockTTL:  appConfig.LockTTL,

		Anchor: billing.RetroactiveAnchor(appConfig.RetroactiveAnchor),

		Export:                   ExportType(appConfig.StatementExport),
		XLSXPath:                 appConfig.XLSXPath,
		GoogleSpreadsheetID:      appConfig.GoogleSpreadsheetID,
		GoogleSheetName:          appConfig.GoogleSheetName,
		GoogleServiceAccountJSON: appConfig.GoogleServiceAccountJSON,
		GoogleServiceAccountFile: appConfig.GoogleServiceAccountFile,

		CategorySeedFile: appConfig.CategorySeedFile,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate validates the backend configuration
func (c Config) Validate() error {
	if !c.Type.IsValid() {
		return fmt.Errorf("invalid backend type: %s", c.Type)
	}
	if c.Type == SQLiteBackend && c.SQLiteDBPath == "" {
		return fmt.Errorf("SQLite database path is required for sqlite backend")
	}
	if c.Anchor != "" && !c.Anchor.IsValid() {
		return fmt.Errorf("invalid retroactive anchor: %s", c.Anchor)
	}
	if c.Export != "" && !c.Export.IsValid() {
		return fmt.Errorf("invalid statement export: %s", c.Export)
	}
	if c.Export == SheetsExport && c.GoogleSpreadsheetID == "" {
		return fmt.Errorf("Google Spreadsheet ID is required for sheets export")
	}
	if c.Export == XLSXExport && c.XLSXPath == "" {
		return fmt.Errorf("XLSX path is required for xlsx export")
	}
	return nil
}

// GetBackendTypeStrings returns all valid backend type strings
func GetBackendTypeStrings() []string {
	return []string{SQLiteBackend.String(), MemoryBackend.String()}
}
