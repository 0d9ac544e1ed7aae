package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ginjaninja78/loyalty-kpi/pkg/utils"
	"github.com/xuri/excelize/v2"
)

// XLSXSink writes each table to its own workbook in Dir.
type XLSXSink struct {
	Dir string

	// NameFormat is the file name template, see utils.GenerateOutputFileName.
	NameFormat string

	mu      sync.Mutex
	written []string
}

// NewXLSXSink creates a workbook sink.
func NewXLSXSink(dir, nameFormat string) *XLSXSink {
	return &XLSXSink{Dir: dir, NameFormat: nameFormat}
}

func (s *XLSXSink) Name() string { return "xlsx" }

// Publish writes table to a new workbook with one sheet named after it.
// Undefined values are left as empty cells.
func (s *XLSXSink) Publish(ctx context.Context, table *Table) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f := excelize.NewFile()
	defer f.Close()

	sheet := sheetName(table.Name)
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return fmt.Errorf("naming sheet: %w", err)
	}

	for col, name := range table.Header() {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, name); err != nil {
			return fmt.Errorf("writing header: %w", err)
		}
	}

	for i, row := range table.Rows {
		for col, column := range table.Columns {
			if col >= len(row) {
				break
			}
			value := nativeCell(column, row[col])
			if value == nil {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(col+1, i+2)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheet, cell, value); err != nil {
				return fmt.Errorf("writing row %d: %w", i+1, err)
			}
		}
	}

	if err := os.MkdirAll(s.Dir, 0755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	path := filepath.Join(s.Dir, utils.GenerateOutputFileName(s.NameFormat, ".xlsx", map[string]string{"table": table.Name}))
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("saving workbook: %w", err)
	}

	s.mu.Lock()
	s.written = append(s.written, path)
	s.mu.Unlock()
	return nil
}

// Written lists the workbooks written so far.
func (s *XLSXSink) Written() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.written...)
}

// sheetName trims a table name to the 31 characters a sheet name allows.
func sheetName(name string) string {
	if name == "" {
		return "Sheet1"
	}
	if r := []rune(name); len(r) > 31 {
		return string(r[:31])
	}
	return name
}
