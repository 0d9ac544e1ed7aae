package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
)

// bigQueryDateLayout is the DATE literal format BigQuery loads from CSV.
const bigQueryDateLayout = "2006-01-02"

// tableLoader replaces the content of one BigQuery table.
type tableLoader interface {
	Load(ctx context.Context, table string, schema bigquery.Schema, data []byte) error
	Close() error
}

// BigQuerySink replaces a BigQuery table with the published table on every
// run, so the dataset mirrors the latest full recomputation.
type BigQuerySink struct {
	loader tableLoader
}

// NewBigQuerySink connects to BigQuery.
func NewBigQuerySink(ctx context.Context, projectID, dataset, credentialsFile, credentialsJSON string) (*BigQuerySink, error) {
	projectID = strings.TrimSpace(projectID)
	dataset = strings.TrimSpace(dataset)
	if projectID == "" || dataset == "" {
		return nil, fmt.Errorf("bigquery project id and dataset are required")
	}

	client, err := bigquery.NewClient(ctx, projectID, clientOptions(credentialsFile, credentialsJSON)...)
	if err != nil {
		return nil, fmt.Errorf("creating bigquery client: %w", err)
	}
	return &BigQuerySink{loader: &bigQueryLoader{client: client, dataset: client.Dataset(dataset)}}, nil
}

func (s *BigQuerySink) Name() string { return "bigquery" }

// Publish loads the table with a truncating load job. Undefined values
// load as NULL.
func (s *BigQuerySink) Publish(ctx context.Context, table *Table) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(table.Header()); err != nil {
		return err
	}
	for _, row := range table.Rows {
		if err := w.Write(bigQueryRow(table, row)); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("encoding rows: %w", err)
	}

	return s.loader.Load(ctx, table.Name, bigQuerySchema(table), buf.Bytes())
}

// Close releases the client.
func (s *BigQuerySink) Close() error {
	return s.loader.Close()
}

// bigQuerySchema maps column kinds to BigQuery types. Keys are required.
func bigQuerySchema(table *Table) bigquery.Schema {
	schema := make(bigquery.Schema, len(table.Columns))
	for i, col := range table.Columns {
		field := &bigquery.FieldSchema{Name: col.Name, Required: i < table.Keys}
		switch col.Kind {
		case KindInteger:
			field.Type = bigquery.IntegerFieldType
		case KindDecimal, KindRatio:
			field.Type = bigquery.NumericFieldType
		case KindDate:
			field.Type = bigquery.DateFieldType
		case KindBool:
			field.Type = bigquery.BooleanFieldType
		default:
			field.Type = bigquery.StringFieldType
		}
		schema[i] = field
	}
	return schema
}

// bigQueryRow renders a row for a CSV load. Dates use the DATE literal
// format; empty fields load as NULL.
func bigQueryRow(table *Table, row []any) []string {
	out := table.FormatRow(row)
	for i, col := range table.Columns {
		if i >= len(row) {
			break
		}
		if t, ok := row[i].(time.Time); ok && col.Kind == KindDate {
			out[i] = t.Format(bigQueryDateLayout)
		}
	}
	return out
}

// bigQueryLoader runs load jobs against one dataset.
type bigQueryLoader struct {
	client  *bigquery.Client
	dataset *bigquery.Dataset
}

func (l *bigQueryLoader) Load(ctx context.Context, table string, schema bigquery.Schema, data []byte) error {
	src := bigquery.NewReaderSource(bytes.NewReader(data))
	src.SourceFormat = bigquery.CSV
	src.SkipLeadingRows = 1
	src.Schema = schema

	loader := l.dataset.Table(table).LoaderFrom(src)
	loader.CreateDisposition = bigquery.CreateIfNeeded
	loader.WriteDisposition = bigquery.WriteTruncate

	job, err := loader.Run(ctx)
	if err != nil {
		return fmt.Errorf("starting load job: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for load job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("load job failed: %w", err)
	}
	return nil
}

func (l *bigQueryLoader) Close() error {
	return l.client.Close()
}
