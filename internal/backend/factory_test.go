package backend

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"cardbook/internal/clock"
	"cardbook/internal/config"
	"cardbook/internal/core"
	"cardbook/internal/metrics"
	"cardbook/internal/sheets/xlsx"
)

func newTestFactory() *DefaultFactory {
	return NewFactory(nil, clock.NewFakeDate(2024, 3, 15), metrics.NewWithRegistry(prometheus.NewRegistry()))
}

func TestCreateBackend(t *testing.T) {
	dir := t.TempDir()
	seedFile := filepath.Join(dir, "categories.yaml")
	if err := os.WriteFile(seedFile, []byte("categories:\n  - name: Streaming\n    repeat: true\n"), 0o644); err != nil {
		t.Fatalf("write seed: %v", err)
	}

	tests := []struct {
		name   string
		config Config
	}{
		{
			name:   "memory",
			config: Config{Type: MemoryBackend, CategorySeedFile: seedFile},
		},
		{
			name:   "sqlite",
			config: Config{Type: SQLiteBackend, SQLiteDBPath: filepath.Join(dir, "db", "cardbook.db"), CategorySeedFile: seedFile},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			res, err := newTestFactory().CreateBackend(ctx, tt.config)
			if err != nil {
				t.Fatalf("CreateBackend: %v", err)
			}
			defer func() {
				if err := res.Cleanup(); err != nil {
					t.Errorf("Cleanup: %v", err)
				}
			}()

			c, err := res.Store.FindCategoryByName(ctx, "Streaming")
			if err != nil || !c.Repeat {
				t.Fatalf("seeded category = %+v err=%v", c, err)
			}

			card, err := res.Cards.RegisterCard(ctx, core.CardForm{
				Bank: "Nubank", LastDigits: "1234",
				Billing:    core.BillingConfig{CycleStartDay: 5, CycleEndDay: 4, DueDay: 10},
				TotalLimit: core.Money{Cents: 100000},
			})
			if err != nil {
				t.Fatalf("RegisterCard: %v", err)
			}
			if _, err := res.Purchases.CreatePurchase(ctx, core.PurchaseForm{
				CardID: card.ID, Value: core.Money{Cents: 3000}, TotalInstallments: 1, CategoryName: "Streaming",
			}); err != nil {
				t.Fatalf("CreatePurchase: %v", err)
			}
			inv, err := res.Cards.CurrentInvoice(ctx, card.ID)
			if err != nil {
				t.Fatalf("CurrentInvoice: %v", err)
			}
			if inv.Total.Cents != 3000 || inv.StartDate.String() != "2024-03-05" {
				t.Fatalf("unexpected invoice %+v", inv)
			}
		})
	}
}

func TestCreateBackend_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		config Config
		want   string
	}{
		{name: "unknown type", config: Config{Type: "sheets"}, want: "invalid backend type"},
		{name: "sqlite without path", config: Config{Type: SQLiteBackend}, want: "SQLite database path is required"},
		{name: "bad anchor", config: Config{Type: MemoryBackend, Anchor: "due"}, want: "invalid retroactive anchor"},
		{name: "missing seed", config: Config{Type: MemoryBackend, CategorySeedFile: "/nonexistent.yaml"}, want: "seed categories"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestFactory().CreateBackend(context.Background(), tt.config)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestCreateExporter(t *testing.T) {
	f := newTestFactory()
	ctx := context.Background()

	w, err := f.CreateExporter(ctx, Config{Export: NoExport})
	if err != nil || w != nil {
		t.Fatalf("none: writer=%v err=%v", w, err)
	}

	w, err = f.CreateExporter(ctx, Config{Export: XLSXExport, XLSXPath: filepath.Join(t.TempDir(), "s.xlsx")})
	if err != nil {
		t.Fatalf("xlsx: %v", err)
	}
	if _, ok := w.(*xlsx.Writer); !ok {
		t.Fatalf("expected *xlsx.Writer, got %T", w)
	}

	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "")
	if _, err := f.CreateExporter(ctx, Config{Export: SheetsExport, GoogleSpreadsheetID: "id"}); err == nil {
		t.Fatal("sheets export without credentials should fail")
	}
}

func TestFromAppConfig(t *testing.T) {
	if _, err := FromAppConfig(nil); err == nil {
		t.Fatal("expected error for nil config")
	}

	cfg, err := FromAppConfig(&config.Config{
		DataBackend:       "memory",
		RetroactiveAnchor: "cycle_start",
		StatementExport:   "none",
		LockTTL:           5 * time.Second,
		RedisURL:          "redis://localhost:6379",
	})
	if err != nil {
		t.Fatalf("FromAppConfig: %v", err)
	}
	if cfg.Type != MemoryBackend || cfg.Anchor != "cycle_start" || cfg.Export != NoExport || cfg.LockTTL != 5*time.Second {
		t.Fatalf("unexpected config %+v", cfg)
	}

	if _, err := FromAppConfig(&config.Config{DataBackend: "postgres"}); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}
