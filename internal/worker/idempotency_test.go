package worker

import (
	"path/filepath"
	"testing"
	"time"
)

func TestIdempotencyStore_MessagesSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "worker.bolt")
	store, err := OpenIdempotencyStore(path)
	if err != nil {
		t.Fatalf("OpenIdempotencyStore: %v", err)
	}

	at := time.Date(2024, 4, 5, 8, 0, 0, 0, time.UTC)
	if err := store.MarkProcessed("abc", at); err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}
	if err := store.MarkProcessed("abc", at.Add(time.Hour)); err != nil {
		t.Fatalf("MarkProcessed twice: %v", err)
	}
	if err := store.RecordExport(ExportRecord{InvoiceID: 7, Ref: "mem:7", ExportedAt: at}); err != nil {
		t.Fatalf("RecordExport: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	store, err = OpenIdempotencyStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer store.Close()

	tests := []struct {
		id   string
		want bool
	}{
		{"abc", true},
		{"xyz", false},
	}
	for _, tt := range tests {
		seen, err := store.Seen(tt.id)
		if err != nil {
			t.Fatalf("Seen(%s): %v", tt.id, err)
		}
		if seen != tt.want {
			t.Errorf("Seen(%s) = %v, want %v", tt.id, seen, tt.want)
		}
	}

	rec, ok, err := store.Exported(7)
	if err != nil || !ok {
		t.Fatalf("Exported(7) ok=%v err=%v", ok, err)
	}
	if rec.Ref != "mem:7" || !rec.ExportedAt.Equal(at) {
		t.Fatalf("unexpected record %+v", rec)
	}
	if _, ok, _ := store.Exported(8); ok {
		t.Fatal("invoice 8 was never exported")
	}
}
