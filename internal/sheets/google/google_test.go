package google

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cardbook/internal/core"
	ports "cardbook/internal/sheets"
)

func TestNew_MissingSpreadsheetID(t *testing.T) {
	_, err := New(context.Background(), Config{ServiceAccountJSON: "{}"})
	if err == nil {
		t.Fatal("expected error for missing spreadsheet id")
	}
	if err.Error() != "missing GOOGLE_SPREADSHEET_ID" {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestNew_MissingCredentials(t *testing.T) {
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "")

	_, err := New(context.Background(), Config{SpreadsheetID: "test-id"})
	if err == nil {
		t.Fatal("expected error without credentials")
	}
	if !strings.Contains(err.Error(), "missing service account credentials") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestCredentials(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "sa.json")
	if err := os.WriteFile(file, []byte(`{"from":"file"}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "")

	tests := []struct {
		name    string
		cfg     Config
		want    string
		wantErr bool
	}{
		{name: "inline wins", cfg: Config{ServiceAccountJSON: `{"from":"inline"}`, ServiceAccountFile: file}, want: `{"from":"inline"}`},
		{name: "file", cfg: Config{ServiceAccountFile: file}, want: `{"from":"file"}`},
		{name: "unreadable file", cfg: Config{ServiceAccountFile: filepath.Join(dir, "missing.json")}, wantErr: true},
		{name: "nothing", cfg: Config{}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := credentials(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("credentials: %v", err)
			}
			if string(got) != tt.want {
				t.Fatalf("credentials = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestClient_WriteStatementWithoutService(t *testing.T) {
	c := &Client{spreadsheetID: "test", sheetBase: "Statements"}

	_, err := c.WriteStatement(context.Background(), core.InvoiceDetail{})
	if err == nil || !strings.Contains(err.Error(), "not initialized") {
		t.Fatalf("expected not initialized error, got %v", err)
	}
}

func TestYearPrefixedName(t *testing.T) {
	tests := []struct {
		base string
		year int
		want string
	}{
		{"Statements", 2024, "2024 Statements"},
		{"  Statements  ", 2025, "2025 Statements"},
		{"2023 Statements", 2024, "2023 Statements"},
		{"", 2024, ""},
		{"12345", 2024, "2024 12345"},
	}

	for _, tt := range tests {
		t.Run(tt.base, func(t *testing.T) {
			if got := yearPrefixedName(tt.base, tt.year); got != tt.want {
				t.Errorf("yearPrefixedName(%q, %d) = %q, want %q", tt.base, tt.year, got, tt.want)
			}
		})
	}
}

func TestValues(t *testing.T) {
	rows := []ports.Row{
		{Card: "Nubank ****1234", Description: "Lunch", Amount: core.Money{Cents: 4550}},
		{Card: "Nubank ****1234", Description: "TOTAL", Amount: core.Money{Cents: 4550}},
	}

	got := values(rows)
	if len(got) != 2 || len(got[0]) != len(ports.Header) {
		t.Fatalf("unexpected shape %v", got)
	}
	if amount, ok := got[0][len(ports.Header)-1].(float64); !ok || amount != 45.5 {
		t.Fatalf("amount cell = %v, want 45.5", got[0][len(ports.Header)-1])
	}
	if h := header(); h[0] != "Card" || len(h) != len(ports.Header) {
		t.Fatalf("unexpected header %v", h)
	}
}
