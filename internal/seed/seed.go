// Package seed loads the initial category list from a YAML file.
//
//	categories:
//	  - name: Streaming
//	    repeat: true
//	  - name: Groceries
//	    editable: true
package seed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"cardbook/internal/core"
	applog "cardbook/internal/log"
	"cardbook/internal/storage"
)

type File struct {
	Categories []Category `yaml:"categories"`
}

type Category struct {
	Name     string `yaml:"name"`
	Repeat   bool   `yaml:"repeat"`
	Editable bool   `yaml:"editable"`
}

// Result counts what Apply changed.
type Result struct {
	Created   int
	Updated   int
	Unchanged int
}

// LoadCategories reads and validates a seed file. Environment variables in
// the file are expanded.
func LoadCategories(path string) ([]Category, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed: %w", err)
	}
	data = []byte(os.ExpandEnv(string(data)))

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}

	seen := make(map[string]bool, len(f.Categories))
	var errs []string
	for i := range f.Categories {
		c := &f.Categories[i]
		c.Name = strings.TrimSpace(c.Name)
		switch {
		case c.Name == "":
			errs = append(errs, fmt.Sprintf("categories[%d]: name is required", i))
		case seen[c.Name]:
			errs = append(errs, fmt.Sprintf("categories[%d]: duplicate name %q", i, c.Name))
		}
		seen[c.Name] = true
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: invalid seed %s:\n- %s", core.ErrInvalidArgument, path, strings.Join(errs, "\n- "))
	}
	return f.Categories, nil
}

// Apply upserts the categories by exact name in one transaction.
func Apply(ctx context.Context, store storage.Store, categories []Category) (Result, error) {
	var res Result
	err := store.WithinTx(ctx, func(tx storage.Store) error {
		res = Result{}
		for _, c := range categories {
			existing, err := tx.FindCategoryByName(ctx, c.Name)
			switch {
			case errors.Is(err, core.ErrNotFound):
				if _, err := tx.CreateCategory(ctx, core.Category{Name: c.Name, Repeat: c.Repeat, Editable: c.Editable}); err != nil {
					return fmt.Errorf("create category %q: %w", c.Name, err)
				}
				res.Created++
			case err != nil:
				return fmt.Errorf("find category %q: %w", c.Name, err)
			case existing.Repeat == c.Repeat && existing.Editable == c.Editable:
				res.Unchanged++
			default:
				existing.Repeat = c.Repeat
				existing.Editable = c.Editable
				if err := tx.SaveCategory(ctx, existing); err != nil {
					return fmt.Errorf("update category %q: %w", c.Name, err)
				}
				res.Updated++
			}
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	slog.InfoContext(ctx, "Categories seeded",
		applog.FieldOperation, applog.OpSeed,
		"created", res.Created,
		"updated", res.Updated,
		"unchanged", res.Unchanged)
	return res, nil
}

// LoadAndApply is LoadCategories followed by Apply.
func LoadAndApply(ctx context.Context, store storage.Store, path string) (Result, error) {
	categories, err := LoadCategories(path)
	if err != nil {
		return Result{}, err
	}
	return Apply(ctx, store, categories)
}
