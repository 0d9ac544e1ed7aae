// =============================================================================
// Loyalty KPI Engine - CSV Parser Module
// =============================================================================
//
// This module parses the delimited exports produced by the point-of-sale
// system (transaction lines, coupons, stock levels). It handles:
//   - Different delimiters (";" by default, comma, pipe, tab)
//   - Multi-line headers
//   - Custom data start rows
//   - UTF-8 with or without BOM, ISO-8859-1 and Windows-1252
//
// Malformed lines never abort a file: the reader accepts a variable number
// of fields and lazy quotes, and short rows are padded with empty values.
//
// =============================================================================

package csvparser

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ginjaninja78/loyalty-kpi/internal/config"
	"github.com/ginjaninja78/loyalty-kpi/internal/types"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// =============================================================================
// PARSER FUNCTIONS
// =============================================================================

// Parse reads a delimited file and returns the parsed table.
//
// PARAMETERS:
//   - filePath: The path to the file.
//   - settings: The CSV parsing settings from the main configuration.
//
// RETURNS:
//   - A pointer to the parsed table.
//   - An error if the file cannot be read or has no header.
func Parse(filePath string, settings config.CSVSettings) (*types.Table, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	return ParseReader(file, filePath, settings)
}

// ParseReader parses delimited content from r. source is recorded on the
// returned table for error messages.
//
// PARSING PROCESS:
//   1. Decode the input to UTF-8 (dropping any BOM)
//   2. Configure the CSV reader with the delimiter
//   3. Read and merge header rows
//   4. Read data rows starting from the configured data start row
//   5. Convert each row to a map of header -> value
func ParseReader(r io.Reader, source string, settings config.CSVSettings) (*types.Table, error) {
	decoded, err := decodingReader(bufio.NewReader(r), settings.Encoding)
	if err != nil {
		return nil, err
	}

	csvReader := csv.NewReader(decoded)
	configureReader(csvReader, settings)

	allRows, err := csvReader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV: %w", err)
	}

	if len(allRows) == 0 {
		return nil, fmt.Errorf("CSV file is empty")
	}

	headers, err := extractHeaders(allRows, settings)
	if err != nil {
		return nil, fmt.Errorf("failed to extract headers: %w", err)
	}

	rows, rowNumbers := extractDataRows(allRows, headers, settings)

	return &types.Table{
		Headers:    headers,
		Rows:       rows,
		RowNumbers: rowNumbers,
		Source:     source,
	}, nil
}

// decodingReader wraps r so the CSV reader always sees UTF-8.
//
// CUSTOMIZATION:
//   Add further charmap entries here if an upstream system changes encoding.
func decodingReader(r io.Reader, encodingName string) (io.Reader, error) {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(encodingName), "_", "-")) {
	case "", "utf-8", "utf8":
		// BOMOverride drops a UTF-8 BOM and honours a UTF-16 one.
		return transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder())), nil
	case "iso-8859-1", "latin1":
		return transform.NewReader(r, charmap.ISO8859_1.NewDecoder()), nil
	case "windows-1252", "cp1252":
		return transform.NewReader(r, charmap.Windows1252.NewDecoder()), nil
	default:
		return nil, fmt.Errorf("unsupported encoding %q", encodingName)
	}
}

// configureReader configures the CSV reader based on the settings.
func configureReader(reader *csv.Reader, settings config.CSVSettings) {
	switch settings.Delimiter {
	case "\\t", "\t", "tab", "TAB":
		reader.Comma = '\t'
	case "|", "pipe", "PIPE":
		reader.Comma = '|'
	case ",", "comma":
		reader.Comma = ','
	case ";", "semicolon", "":
		reader.Comma = ';'
	default:
		reader.Comma = []rune(settings.Delimiter)[0]
	}

	// Exports are not strict RFC 4180: rows may be short or carry stray quotes.
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
}

// extractHeaders extracts and merges headers from the file.
//
// MULTI-LINE HEADER HANDLING:
//   Non-empty parts of each column are joined with a space.
//
//   Row 1: "Line", "", "Total"
//   Row 2: "Gross Amount", "Quantity", "TTC"
//   Result: "Line Gross Amount", "Quantity", "Total TTC"
func extractHeaders(allRows [][]string, settings config.CSVSettings) ([]string, error) {
	headerRows := settings.HeaderRows
	if headerRows <= 0 {
		headerRows = 1
	}

	if len(allRows) < headerRows {
		return nil, fmt.Errorf("file has fewer rows than header_rows setting")
	}

	if headerRows == 1 {
		return cleanHeaders(allRows[0]), nil
	}

	maxCols := 0
	for i := 0; i < headerRows; i++ {
		if len(allRows[i]) > maxCols {
			maxCols = len(allRows[i])
		}
	}

	headers := make([]string, maxCols)
	for col := 0; col < maxCols; col++ {
		var parts []string
		for row := 0; row < headerRows; row++ {
			if col < len(allRows[row]) {
				if value := strings.TrimSpace(allRows[row][col]); value != "" {
					parts = append(parts, value)
				}
			}
		}
		headers[col] = strings.Join(parts, " ")
	}

	return cleanHeaders(headers), nil
}

// cleanHeaders trims headers, names empty ones Column_N, and suffixes
// duplicates with _2, _3, ... so every column stays addressable.
func cleanHeaders(headers []string) []string {
	cleaned := make([]string, len(headers))
	seen := make(map[string]int, len(headers))

	for i, header := range headers {
		header = strings.TrimSpace(header)
		if header == "" {
			header = fmt.Sprintf("Column_%d", i+1)
		}

		seen[header]++
		if n := seen[header]; n > 1 {
			header = fmt.Sprintf("%s_%d", header, n)
		}

		cleaned[i] = header
	}

	return cleaned
}

// extractDataRows converts data rows to maps and records each row's 1-based
// line number in the file.
func extractDataRows(allRows [][]string, headers []string, settings config.CSVSettings) ([]map[string]string, []int) {
	// DataStartRow is 1-indexed.
	startIndex := settings.DataStartRow - 1
	if startIndex < settings.HeaderRows {
		startIndex = settings.HeaderRows
	}
	if startIndex < 1 {
		startIndex = 1
	}

	if startIndex >= len(allRows) {
		return []map[string]string{}, []int{}
	}

	dataRows := make([]map[string]string, 0, len(allRows)-startIndex)
	rowNumbers := make([]int, 0, len(allRows)-startIndex)

	for rowIndex := startIndex; rowIndex < len(allRows); rowIndex++ {
		row := allRows[rowIndex]

		if isRowEmpty(row) {
			continue
		}

		rowMap := make(map[string]string, len(headers))
		for colIndex, header := range headers {
			if colIndex < len(row) {
				rowMap[header] = strings.TrimSpace(row[colIndex])
			} else {
				rowMap[header] = ""
			}
		}

		dataRows = append(dataRows, rowMap)
		rowNumbers = append(rowNumbers, rowIndex+1)
	}

	return dataRows, rowNumbers
}

// isRowEmpty checks if a row contains only empty values.
func isRowEmpty(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
