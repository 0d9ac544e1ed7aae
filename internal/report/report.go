// =============================================================================
// Loyalty KPI Engine - Report Module
// =============================================================================
//
// This module turns computed results into typed tables and publishes them to
// the configured sinks (workbook, CSV file, Google Sheets, BigQuery).
//
// PUBLISH POLICY:
//   - Every configured sink is attempted, even after one fails.
//   - Failures are combined into one error. The caller reports the publish
//     step as failed but keeps the store commit and the computed table.
//   - Every sink replaces its previous copy of the table: results are
//     recomputed from the full history on each run.
//
// =============================================================================

package report

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
)

// =============================================================================
// TABLE MODEL
// =============================================================================

// Kind is the type of a column.
type Kind int

const (
	KindString Kind = iota
	KindInteger
	KindDecimal
	KindRatio
	KindDate
	KindBool
)

// DefaultDateLayout renders dates day-first.
const DefaultDateLayout = "02/01/2006"

// Column describes one table column.
type Column struct {
	Name string
	Kind Kind

	// Layout renders KindDate cells in text sinks. Default: DefaultDateLayout.
	Layout string
}

// Table is a typed table ready for publishing. Cell values match their
// column kind: string, int, decimal.Decimal, decimal.NullDecimal (an invalid
// value is undefined), time.Time or bool.
type Table struct {
	Name    string
	Columns []Column
	Rows    [][]any

	// Keys is the number of leading columns that identify a row.
	Keys int
}

// Header returns the column names.
func (t *Table) Header() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// FormatCell renders a cell as text. Undefined ratios render as "".
func FormatCell(col Column, value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case decimal.Decimal:
		return v.String()
	case decimal.NullDecimal:
		if !v.Valid {
			return ""
		}
		return v.Decimal.String()
	case time.Time:
		layout := col.Layout
		if layout == "" {
			layout = DefaultDateLayout
		}
		return v.Format(layout)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprint(v)
	}
}

// FormatRow renders a whole row as text.
func (t *Table) FormatRow(row []any) []string {
	out := make([]string, len(t.Columns))
	for i, col := range t.Columns {
		if i < len(row) {
			out[i] = FormatCell(col, row[i])
		}
	}
	return out
}

// nativeCell converts a cell to the scalar spreadsheets store: numbers as
// float64, undefined ratios as nil, dates as text.
func nativeCell(col Column, value any) any {
	switch v := value.(type) {
	case decimal.Decimal:
		return v.InexactFloat64()
	case decimal.NullDecimal:
		if !v.Valid {
			return nil
		}
		return v.Decimal.InexactFloat64()
	case time.Time:
		return FormatCell(col, v)
	default:
		return v
	}
}

// =============================================================================
// SINKS
// =============================================================================

// Sink publishes a table to one destination.
type Sink interface {
	Name() string
	Publish(ctx context.Context, table *Table) error
}

// FileSink is a Sink that writes local files.
type FileSink interface {
	Sink

	// Written lists the files written so far.
	Written() []string
}

// PublishAll publishes table to every sink and combines the failures.
func PublishAll(ctx context.Context, sinks []Sink, table *Table) error {
	var errs error
	for _, sink := range sinks {
		if err := sink.Publish(ctx, table); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s sink: %w", sink.Name(), err))
		}
	}
	return errs
}

// WrittenFiles collects the files written by the file sinks.
func WrittenFiles(sinks []Sink) []string {
	var files []string
	for _, sink := range sinks {
		if fs, ok := sink.(FileSink); ok {
			files = append(files, fs.Written()...)
		}
	}
	return files
}
