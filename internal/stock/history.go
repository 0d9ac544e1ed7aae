package stock

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/ginjaninja78/loyalty-kpi/internal/config"
	"github.com/ginjaninja78/loyalty-kpi/internal/csvparser"
	"github.com/ginjaninja78/loyalty-kpi/internal/normalizer"
)

// History file columns. The names are those the stock dashboards read.
const (
	colDate   = "date"
	colOrg    = "organisationId"
	colBrand  = "brand"
	colValue  = "valorisation"
	colLatest = "est_derniere_date"
)

var historyHeader = []string{colDate, colOrg, colBrand, colValue, colLatest}

// historySettings reads the comma separated history file.
var historySettings = config.CSVSettings{
	Delimiter:    ",",
	HeaderRows:   1,
	DataStartRow: 2,
	Encoding:     "UTF-8",
}

// LoadHistory reads the valuation history. A missing file is an empty history.
// Rows with an unreadable date or value are skipped and counted.
func LoadHistory(path string) ([]Valuation, int, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, 0, nil
	}

	table, err := csvparser.Parse(path, historySettings)
	if err != nil {
		return nil, 0, fmt.Errorf("reading stock history: %w", err)
	}

	skipped := 0
	rows := make([]Valuation, 0, len(table.Rows))
	for _, row := range table.Rows {
		date, err := time.Parse(DateLayout, row[colDate])
		if err != nil {
			skipped++
			continue
		}
		value, ok := normalizer.ParseNumber(row[colValue])
		if !ok {
			skipped++
			continue
		}
		rows = append(rows, Valuation{
			Date:           date,
			OrganizationID: row[colOrg],
			Brand:          row[colBrand],
			Value:          value.Round(2),
		})
	}
	return rows, skipped, nil
}

// SaveHistory writes rows to path through a temporary file.
func SaveHistory(path string, rows []Valuation) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating history directory: %w", err)
	}

	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("creating stock history: %w", err)
	}

	w := csv.NewWriter(file)
	records := make([][]string, 0, len(rows)+1)
	records = append(records, historyHeader)
	for _, v := range rows {
		records = append(records, []string{
			v.Date.Format(DateLayout),
			v.OrganizationID,
			v.Brand,
			v.Value.StringFixed(2),
			strconv.FormatBool(v.IsLatestDate),
		})
	}
	if err := w.WriteAll(records); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("writing stock history: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("closing stock history: %w", err)
	}
	return os.Rename(tmp, path)
}

// Update merges fresh valuations into the history file and returns the full
// history.
func Update(path string, fresh []Valuation) ([]Valuation, error) {
	history, _, err := LoadHistory(path)
	if err != nil {
		return nil, err
	}
	merged := Merge(history, fresh)
	if err := SaveHistory(path, merged); err != nil {
		return nil, err
	}
	return merged, nil
}
