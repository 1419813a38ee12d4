package seed

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cardbook/internal/core"
	"cardbook/internal/storage/memory"
)

func writeSeed(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "categories.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write seed: %v", err)
	}
	return path
}

func TestLoadCategories(t *testing.T) {
	t.Setenv("STREAMING_NAME", "Streaming")

	tests := []struct {
		name    string
		content string
		want    []Category
		wantErr string
	}{
		{
			name: "valid",
			content: `categories:
  - name: ${STREAMING_NAME}
    repeat: true
  - name: "  Groceries "
    editable: true
`,
			want: []Category{
				{Name: "Streaming", Repeat: true},
				{Name: "Groceries", Editable: true},
			},
		},
		{
			name:    "empty name",
			content: "categories:\n  - name: ''\n",
			wantErr: "name is required",
		},
		{
			name:    "duplicate",
			content: "categories:\n  - name: Food\n  - name: Food\n",
			wantErr: "duplicate name",
		},
		{
			name:    "malformed yaml",
			content: "categories: [",
			wantErr: "parse seed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := LoadCategories(writeSeed(t, tt.content))
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("LoadCategories: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("category %d = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestLoadCategoriesValidationIsInvalidArgument(t *testing.T) {
	_, err := LoadCategories(writeSeed(t, "categories:\n  - name: ' '\n"))
	if !errors.Is(err, core.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestApplyUpsertsByName(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	if _, err := store.CreateCategory(ctx, core.Category{Name: "Streaming"}); err != nil {
		t.Fatalf("CreateCategory: %v", err)
	}

	seeds := []Category{
		{Name: "Streaming", Repeat: true},
		{Name: "Groceries", Editable: true},
	}
	res, err := Apply(ctx, store, seeds)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res != (Result{Created: 1, Updated: 1}) {
		t.Fatalf("unexpected result %+v", res)
	}

	streaming, err := store.FindCategoryByName(ctx, "Streaming")
	if err != nil || !streaming.Repeat {
		t.Fatalf("Streaming should now repeat: %+v err=%v", streaming, err)
	}

	res, err = Apply(ctx, store, seeds)
	if err != nil {
		t.Fatalf("Apply again: %v", err)
	}
	if res != (Result{Unchanged: 2}) {
		t.Fatalf("second apply should change nothing, got %+v", res)
	}
}
