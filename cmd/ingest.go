// =============================================================================
// Loyalty KPI Engine - Ingest Command
// =============================================================================
//
// This file defines the 'ingest' command, the main command of the engine. It
// takes one transactions export and one coupons export into the history and
// publishes the recomputed KPI table.
//
// COMMAND USAGE:
//   loyaltykpi ingest [flags]
//
// FLAGS:
//   --transactions : Transactions export (default: newest match in input_dir)
//   --coupons      : Coupons export (default: newest match in input_dir)
//   --dry-run      : Compute everything without writing to the store or sinks
//   --no-archive   : Leave the inputs in place after a successful ingest
//
// =============================================================================

package cmd

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/ginjaninja78/loyalty-kpi/internal/lock"
	"github.com/ginjaninja78/loyalty-kpi/internal/metrics"
	"github.com/ginjaninja78/loyalty-kpi/internal/pipeline"
	"github.com/ginjaninja78/loyalty-kpi/internal/report"
	"github.com/ginjaninja78/loyalty-kpi/pkg/utils"
	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	transactionsFile string
	couponsFile      string
	dryRun           bool
	noArchive        bool
)

// =============================================================================
// INGEST COMMAND DEFINITION
// =============================================================================

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest a transactions and a coupons export and publish the KPIs",
	Long: `The ingest command reads a transactions export and a coupons export,
aggregates the line items into tickets, merges them into the history store
and publishes the monthly KPI table recomputed from the whole history.

Re-ingesting an export is safe: tickets already stored are skipped, coupons
are updated in place.

On success:
  - The KPI table is published to every configured sink
  - The inputs are moved to the input archive
  - A run summary is written to the output directory

On error:
  - The history store is left unchanged
  - The inputs remain in the input directory`,

	RunE: func(cmd *cobra.Command, args []string) error {
		return runIngest(cmd)
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd)

	ingestCmd.Flags().StringVar(&transactionsFile, "transactions", "", "Transactions export (default: newest match of transactions_pattern)")
	ingestCmd.Flags().StringVar(&couponsFile, "coupons", "", "Coupons export (default: newest match of coupons_pattern)")
	ingestCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Compute without writing to the store or the sinks")
	ingestCmd.Flags().BoolVar(&noArchive, "no-archive", false, "Leave the inputs in place after ingesting")
}

// =============================================================================
// MAIN PROCESSING FUNCTION
// =============================================================================

func runIngest(cmd *cobra.Command) error {
	ctx := cmd.Context()
	startTime := time.Now()
	cfg := mainConfig

	runID := uuid.NewString()
	log := appLog.WithField("run_id", runID).WithField("command", "ingest")

	fmt.Println("=== Loyalty KPI - Ingest ===")

	// =========================================================================
	// STEP 1: RESOLVE INPUTS
	// =========================================================================

	fm := utils.NewFileManager(cfg.InputDir, cfg.OutputDir, cfg.InputArchiveDir)
	fm.ArchiveOnSuccess = cfg.ShouldArchive() && !noArchive
	if err := fm.EnsureDirectories(); err != nil {
		return err
	}

	in := pipeline.Inputs{TransactionsFile: transactionsFile, CouponsFile: couponsFile}
	if in.TransactionsFile == "" {
		path, err := fm.LatestInput(cfg.TransactionsPattern)
		if err != nil {
			return fmt.Errorf("failed to find a transactions export: %w", err)
		}
		in.TransactionsFile = path
	}
	if in.CouponsFile == "" {
		path, err := fm.LatestInput(cfg.CouponsPattern)
		switch {
		case errors.Is(err, utils.ErrNoInput):
			log.Warn("No coupons export matches %s; ingesting transactions only", cfg.CouponsPattern)
		case err != nil:
			return fmt.Errorf("failed to find a coupons export: %w", err)
		default:
			in.CouponsFile = path
		}
	}

	fmt.Printf("Transactions:    %s\n", filepath.Base(in.TransactionsFile))
	if in.CouponsFile != "" {
		fmt.Printf("Coupons:         %s\n", filepath.Base(in.CouponsFile))
	}

	// =========================================================================
	// STEP 2: OPEN STORE, SINKS AND LOCK
	// =========================================================================

	handle, warnings, err := openStore(ctx, log, dryRun)
	if err != nil {
		return err
	}
	defer handle.Close()

	var sinks []report.Sink
	if !dryRun {
		sinks, err = report.NewSinks(ctx, cfg)
		if err != nil {
			return fmt.Errorf("failed to set up report sinks: %w", err)
		}
		defer report.CloseSinks(sinks)
	}

	locker, err := lock.New(cfg.Lock)
	if err != nil {
		return err
	}
	defer locker.Close()

	m := metrics.New()

	// =========================================================================
	// STEP 3: RUN THE PIPELINE
	// =========================================================================

	bar := progressbar.Default(int64(len(pipeline.IngestStages)), "ingest")
	p := pipeline.New(cfg, pipeline.Deps{
		Store:   handle,
		Sinks:   sinks,
		Locker:  locker,
		Metrics: m,
		Files:   fm,
		Logger:  log,
	}, pipeline.Options{
		RunID:     runID,
		DryRun:    dryRun,
		NoArchive: noArchive,
		OnStage: func(s pipeline.Stage) {
			bar.Describe(string(s))
			_ = bar.Add(1)
		},
	})

	result := p.Run(ctx, in)
	_ = bar.Finish()
	result.Warnings = append(warnings, result.Warnings...)

	// =========================================================================
	// STEP 4: REPORT
	// =========================================================================

	pushMetrics(ctx, m, log)

	status := "Ingest Complete"
	if dryRun {
		status = "Dry Run Complete"
	}
	if result.Error != nil {
		status = "Ingest Failed"
	}
	printStatus(status, startTime,
		fmt.Sprintf("Run ID:          %s", result.RunID),
		fmt.Sprintf("Line items:      %d", result.Stats.LineItems),
		fmt.Sprintf("Tickets:         %d (%d undated)", result.Stats.Tickets, result.Stats.UndatedCount),
		fmt.Sprintf("Tickets added:   %d", result.Stats.Merge.Added),
		fmt.Sprintf("Already stored:  %d", result.Stats.Merge.Skipped),
		fmt.Sprintf("Coupons:         %d", result.Stats.Merge.CouponsUpserted),
		fmt.Sprintf("KPI rows:        %d", result.Stats.KpiRows),
	)
	for _, out := range result.Outputs {
		fmt.Printf("  ✓ %s\n", out)
	}
	for _, w := range result.Warnings {
		fmt.Printf("  ! %s\n", w)
	}

	writeSummary(result.Summary("ingest", in, time.Now()), log)

	if result.Error != nil {
		return fmt.Errorf("ingest failed at %s: %w", result.Stage, result.Error)
	}
	if result.PublishError != nil {
		return fmt.Errorf("history committed but publishing failed: %w", result.PublishError)
	}
	return nil
}
