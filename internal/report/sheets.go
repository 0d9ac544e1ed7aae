package report

import (
	"context"
	"fmt"
	"slices"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// sheetsAPI is the part of the Sheets API the sink needs.
type sheetsAPI interface {
	Titles(ctx context.Context, spreadsheetID string) ([]string, error)
	AddTab(ctx context.Context, spreadsheetID, title string) error
	Clear(ctx context.Context, spreadsheetID, rng string) error
	Update(ctx context.Context, spreadsheetID, rng string, values [][]any) error
}

// SheetsSink rewrites a tab of a Google spreadsheet with the table.
type SheetsSink struct {
	spreadsheetID string
	api           sheetsAPI
}

// NewSheetsSink connects to the Sheets API with a service account given as
// a file path or inline JSON.
func NewSheetsSink(ctx context.Context, spreadsheetID, credentialsFile, credentialsJSON string) (*SheetsSink, error) {
	svc, err := sheets.NewService(ctx, clientOptions(credentialsFile, credentialsJSON)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}
	return &SheetsSink{spreadsheetID: spreadsheetID, api: googleSheets{svc: svc}}, nil
}

func (s *SheetsSink) Name() string { return "sheets" }

// Publish creates the tab if missing, clears it, then writes the header and
// rows from A1.
func (s *SheetsSink) Publish(ctx context.Context, table *Table) error {
	tab := sheetName(table.Name)

	titles, err := s.api.Titles(ctx, s.spreadsheetID)
	if err != nil {
		return fmt.Errorf("reading spreadsheet: %w", err)
	}
	if !slices.Contains(titles, tab) {
		if err := s.api.AddTab(ctx, s.spreadsheetID, tab); err != nil {
			return fmt.Errorf("adding tab %s: %w", tab, err)
		}
	}

	quoted := "'" + tab + "'"
	if err := s.api.Clear(ctx, s.spreadsheetID, quoted); err != nil {
		return fmt.Errorf("clearing tab %s: %w", tab, err)
	}

	values := make([][]any, 0, len(table.Rows)+1)
	header := make([]any, len(table.Columns))
	for i, name := range table.Header() {
		header[i] = name
	}
	values = append(values, header)

	for _, row := range table.Rows {
		out := make([]any, len(table.Columns))
		for i, col := range table.Columns {
			if i >= len(row) {
				break
			}
			v := nativeCell(col, row[i])
			if v == nil {
				v = ""
			}
			out[i] = v
		}
		values = append(values, out)
	}

	if err := s.api.Update(ctx, s.spreadsheetID, quoted+"!A1", values); err != nil {
		return fmt.Errorf("writing tab %s: %w", tab, err)
	}
	return nil
}

// googleSheets implements sheetsAPI with the generated client.
type googleSheets struct {
	svc *sheets.Service
}

func (g googleSheets) Titles(ctx context.Context, spreadsheetID string) ([]string, error) {
	doc, err := g.svc.Spreadsheets.Get(spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	titles := make([]string, 0, len(doc.Sheets))
	for _, sh := range doc.Sheets {
		if sh.Properties != nil {
			titles = append(titles, sh.Properties.Title)
		}
	}
	return titles, nil
}

func (g googleSheets) AddTab(ctx context.Context, spreadsheetID, title string) error {
	req := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			AddSheet: &sheets.AddSheetRequest{Properties: &sheets.SheetProperties{Title: title}},
		}},
	}
	_, err := g.svc.Spreadsheets.BatchUpdate(spreadsheetID, req).Context(ctx).Do()
	return err
}

func (g googleSheets) Clear(ctx context.Context, spreadsheetID, rng string) error {
	_, err := g.svc.Spreadsheets.Values.Clear(spreadsheetID, rng, &sheets.ClearValuesRequest{}).Context(ctx).Do()
	return err
}

func (g googleSheets) Update(ctx context.Context, spreadsheetID, rng string, values [][]any) error {
	body := &sheets.ValueRange{Values: values}
	_, err := g.svc.Spreadsheets.Values.Update(spreadsheetID, rng, body).ValueInputOption("RAW").Context(ctx).Do()
	return err
}

// clientOptions picks inline JSON credentials over a credentials file. With
// neither, application default credentials apply.
func clientOptions(credentialsFile, credentialsJSON string) []option.ClientOption {
	switch {
	case credentialsJSON != "":
		return []option.ClientOption{option.WithCredentialsJSON([]byte(credentialsJSON))}
	case credentialsFile != "":
		return []option.ClientOption{option.WithCredentialsFile(credentialsFile)}
	}
	return nil
}
