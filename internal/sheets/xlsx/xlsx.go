package xlsx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/xuri/excelize/v2"

	"cardbook/internal/core"
	ports "cardbook/internal/sheets"
)

const defaultSheetName = "Statements"

var _ ports.StatementWriter = (*Writer)(nil)

// Writer appends statements to a local workbook, one sheet per year.
type Writer struct {
	mu        sync.Mutex
	path      string
	sheetBase string
}

func New(path, sheetName string) (*Writer, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("missing XLSX_PATH")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	if strings.TrimSpace(sheetName) == "" {
		sheetName = defaultSheetName
	}
	return &Writer{path: path, sheetBase: strings.TrimSpace(sheetName)}, nil
}

// WriteStatement appends the statement rows and returns "<path>#<sheet>!A<first>".
func (w *Writer) WriteStatement(ctx context.Context, d core.InvoiceDetail) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := w.open()
	if err != nil {
		return "", err
	}
	defer f.Close()

	sheet := fmt.Sprintf("%d %s", d.Invoice.EndDate.Year(), w.sheetBase)
	next, err := prepareSheet(f, sheet)
	if err != nil {
		return "", err
	}

	first := next
	for _, r := range ports.Rows(d) {
		if err := setRow(f, sheet, next, r.Values()); err != nil {
			return "", err
		}
		next++
	}

	if err := f.SaveAs(w.path); err != nil {
		return "", fmt.Errorf("save %s: %w", w.path, err)
	}

	ref := fmt.Sprintf("%s#%s!A%d", w.path, sheet, first)
	slog.InfoContext(ctx, "Statement written to workbook",
		"invoice_id", d.Invoice.ID,
		"rows", next-first,
		"ref", ref)
	return ref, nil
}

func (w *Writer) open() (*excelize.File, error) {
	if _, err := os.Stat(w.path); errors.Is(err, os.ErrNotExist) {
		return excelize.NewFile(), nil
	}
	f, err := excelize.OpenFile(w.path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", w.path, err)
	}
	return f, nil
}

// prepareSheet creates the sheet with its header when missing and returns
// the first empty row.
func prepareSheet(f *excelize.File, sheet string) (int, error) {
	idx, err := f.GetSheetIndex(sheet)
	if err != nil {
		return 0, fmt.Errorf("lookup sheet %s: %w", sheet, err)
	}
	if idx == -1 {
		if err := addSheet(f, sheet); err != nil {
			return 0, err
		}
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return 0, fmt.Errorf("read sheet %s: %w", sheet, err)
	}
	if len(rows) == 0 {
		header := make([]any, len(ports.Header))
		for i, h := range ports.Header {
			header[i] = h
		}
		if err := setRow(f, sheet, 1, header); err != nil {
			return 0, err
		}
		return 2, nil
	}
	return len(rows) + 1, nil
}

// addSheet renames the default sheet of a fresh workbook instead of
// leaving an empty "Sheet1" behind.
func addSheet(f *excelize.File, sheet string) error {
	if list := f.GetSheetList(); len(list) == 1 && list[0] == "Sheet1" {
		if rows, _ := f.GetRows("Sheet1"); len(rows) == 0 {
			if err := f.SetSheetName("Sheet1", sheet); err != nil {
				return fmt.Errorf("rename sheet: %w", err)
			}
			return nil
		}
	}
	if _, err := f.NewSheet(sheet); err != nil {
		return fmt.Errorf("create sheet %s: %w", sheet, err)
	}
	return nil
}

func setRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("write row %d: %w", row, err)
	}
	return nil
}
