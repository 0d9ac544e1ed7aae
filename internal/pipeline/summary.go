package pipeline

import (
	"time"

	"github.com/ginjaninja78/loyalty-kpi/pkg/utils"
)

// Summary converts the result into the run summary written next to the
// reports.
func (r Result) Summary(command string, in Inputs, end time.Time) utils.RunSummary {
	s := utils.RunSummary{
		RunID:            r.RunID,
		Command:          command,
		StartTime:        end.Add(-r.Stats.ProcessingTime),
		EndTime:          end,
		Success:          r.Success && r.Error == nil,
		TransactionsFile: in.TransactionsFile,
		CouponsFile:      in.CouponsFile,
		LineItems:        r.Stats.LineItems,
		Coupons:          r.Stats.Coupons,
		TicketsAdded:     r.Stats.Merge.Added,
		TicketsSkipped:   r.Stats.Merge.Skipped,
		CouponsUpserted:  r.Stats.Merge.CouponsUpserted,
		KpiRows:          r.Stats.KpiRows,
		Warnings:         r.Warnings,
		Outputs:          append(append([]string(nil), r.Outputs...), r.Archived...),
	}
	if r.Error != nil {
		s.Stage = string(r.Stage)
		s.Error = r.Error.Error()
	}
	if r.PublishError != nil {
		s.PublishError = r.PublishError.Error()
	}
	return s
}
