package cmd

import (
	"fmt"
	"time"

	"github.com/ginjaninja78/loyalty-kpi/internal/metrics"
	"github.com/ginjaninja78/loyalty-kpi/internal/pipeline"
	"github.com/ginjaninja78/loyalty-kpi/internal/report"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// kpiCmd recomputes the KPI table from the stored history and publishes it.
var kpiCmd = &cobra.Command{
	Use:   "kpi",
	Short: "Recompute and publish the KPI table from the history",
	Long: `The kpi command recomputes the monthly KPI table from the history store
without ingesting anything, then publishes it to every configured sink.

Use it after changing the sinks, or to republish after a failed publish.`,

	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		startTime := time.Now()
		runID := uuid.NewString()
		log := appLog.WithField("run_id", runID).WithField("command", "kpi")

		fmt.Println("=== Loyalty KPI - Recompute ===")

		handle, warnings, err := openStore(ctx, log, false)
		if err != nil {
			return err
		}
		defer handle.Close()

		sinks, err := report.NewSinks(ctx, mainConfig)
		if err != nil {
			return fmt.Errorf("failed to set up report sinks: %w", err)
		}
		defer report.CloseSinks(sinks)

		m := metrics.New()
		result := pipeline.New(mainConfig, pipeline.Deps{
			Store:   handle,
			Sinks:   sinks,
			Metrics: m,
			Logger:  log,
		}, pipeline.Options{RunID: runID}).Recompute(ctx)
		result.Warnings = append(warnings, result.Warnings...)

		pushMetrics(ctx, m, log)

		printStatus("Recompute Complete", startTime,
			fmt.Sprintf("Tickets in history: %d", result.Stats.HistoryTickets),
			fmt.Sprintf("Coupons in history: %d", result.Stats.HistoryCoupons),
			fmt.Sprintf("KPI rows:           %d", result.Stats.KpiRows),
		)
		for _, out := range result.Outputs {
			fmt.Printf("  ✓ %s\n", out)
		}
		for _, w := range result.Warnings {
			fmt.Printf("  ! %s\n", w)
		}

		writeSummary(result.Summary("kpi", pipeline.Inputs{}, time.Now()), log)

		if result.Error != nil {
			return result.Error
		}
		if result.PublishError != nil {
			return fmt.Errorf("publishing failed: %w", result.PublishError)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(kpiCmd)
}
