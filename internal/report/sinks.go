package report

import (
	"context"
	"fmt"
	"io"

	"github.com/ginjaninja78/loyalty-kpi/internal/config"
	"go.uber.org/multierr"
)

// NewSinks builds the sinks listed in cfg.Report.Sinks, in order. File sinks
// write to cfg.OutputDir. The caller must call CloseSinks.
func NewSinks(ctx context.Context, cfg *config.MainConfig) ([]Sink, error) {
	sinks := make([]Sink, 0, len(cfg.Report.Sinks))
	for _, name := range cfg.Report.Sinks {
		switch name {
		case config.SinkXLSX:
			sinks = append(sinks, NewXLSXSink(cfg.OutputDir, cfg.OutputNameFormat))
		case config.SinkCSV:
			sinks = append(sinks, NewCSVSink(cfg.OutputDir, cfg.OutputNameFormat))
		case config.SinkSheets:
			sc := cfg.Report.Sheets
			sink, err := NewSheetsSink(ctx, sc.SpreadsheetID, sc.CredentialsFile, sc.CredentialsJSON)
			if err != nil {
				CloseSinks(sinks)
				return nil, err
			}
			sinks = append(sinks, sink)
		case config.SinkBigQuery:
			bc := cfg.Report.BigQuery
			sink, err := NewBigQuerySink(ctx, bc.ProjectID, bc.Dataset, bc.CredentialsFile, bc.CredentialsJSON)
			if err != nil {
				CloseSinks(sinks)
				return nil, err
			}
			sinks = append(sinks, sink)
		default:
			CloseSinks(sinks)
			return nil, fmt.Errorf("unknown report sink %q", name)
		}
	}
	return sinks, nil
}

// CloseSinks closes the sinks that hold connections.
func CloseSinks(sinks []Sink) error {
	var errs error
	for _, sink := range sinks {
		if c, ok := sink.(io.Closer); ok {
			errs = multierr.Append(errs, c.Close())
		}
	}
	return errs
}
