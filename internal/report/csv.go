package report

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ginjaninja78/loyalty-kpi/pkg/utils"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// CSVSink writes each table to a ";" separated file in Dir. Files start
// with a UTF-8 byte order mark so spreadsheet tools pick the right encoding.
type CSVSink struct {
	Dir        string
	NameFormat string
	Delimiter  rune

	mu      sync.Mutex
	written []string
}

// NewCSVSink creates a CSV file sink.
func NewCSVSink(dir, nameFormat string) *CSVSink {
	return &CSVSink{Dir: dir, NameFormat: nameFormat, Delimiter: ';'}
}

func (s *CSVSink) Name() string { return "csv" }

// Publish writes table to a new file. Undefined values are empty fields.
func (s *CSVSink) Publish(ctx context.Context, table *Table) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(s.Dir, 0755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	path := filepath.Join(s.Dir, utils.GenerateOutputFileName(s.NameFormat, ".csv", map[string]string{"table": table.Name}))
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}

	encoded := transform.NewWriter(file, unicode.UTF8BOM.NewEncoder())
	w := csv.NewWriter(encoded)
	w.Comma = s.Delimiter

	records := make([][]string, 0, len(table.Rows)+1)
	records = append(records, table.Header())
	for _, row := range table.Rows {
		records = append(records, table.FormatRow(row))
	}

	if err := w.WriteAll(records); err != nil {
		file.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := encoded.Close(); err != nil {
		file.Close()
		return fmt.Errorf("flushing %s: %w", path, err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", path, err)
	}

	s.mu.Lock()
	s.written = append(s.written, path)
	s.mu.Unlock()
	return nil
}

// Written lists the files written so far.
func (s *CSVSink) Written() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.written...)
}
