// =============================================================================
// Loyalty KPI Engine - Root Command
// =============================================================================
//
// This file defines the root command for the Cobra CLI. Every other command
// is attached to it.
//
// COBRA CLI STRUCTURE:
//   rootCmd (loyaltykpi)
//   ├── ingestCmd  (loyaltykpi ingest)
//   ├── kpiCmd     (loyaltykpi kpi)
//   ├── stockCmd   (loyaltykpi stock)
//   ├── exportCmd  (loyaltykpi export)
//   └── versionCmd (loyaltykpi version)
//
// CONFIGURATION:
//   The root command is responsible for:
//   1. Setting up global flags (--config, --verbose)
//   2. Loading .env, then the configuration
//   3. Setting up logging
//
// =============================================================================

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/ginjaninja78/loyalty-kpi/internal/config"
	"github.com/ginjaninja78/loyalty-kpi/internal/metrics"
	"github.com/ginjaninja78/loyalty-kpi/internal/store"
	"github.com/ginjaninja78/loyalty-kpi/pkg/logger"
	"github.com/ginjaninja78/loyalty-kpi/pkg/utils"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// =============================================================================
// GLOBAL VARIABLES
// =============================================================================

// cfgFile holds the path to the main configuration file.
var cfgFile string

// verbose enables debug logging.
var verbose bool

// mainConfig and appLog are set by loadRuntime before a command runs.
var (
	mainConfig *config.MainConfig
	appLog     *logger.Logger
)

// =============================================================================
// ROOT COMMAND DEFINITION
// =============================================================================

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "loyaltykpi",
	Short: "Loyalty KPI Engine - monthly loyalty KPIs from POS exports",
	Long: `Loyalty KPI Engine ingests point-of-sale transaction and coupon exports
into a persistent history and computes monthly loyalty KPIs per store.

Key Features:
  - Column alias matching for POS exports (";" separated, BOM and latin1 aware)
  - Idempotent history: re-ingesting an export never double counts
  - Retention, recurrence, basket and coupon KPIs per store and month
  - Publishing to xlsx, csv, Google Sheets and BigQuery
  - Stock valuation per store and brand

Example Usage:
  loyaltykpi ingest                         # Ingest the newest exports in the input directory
  loyaltykpi ingest --dry-run               # Compute without writing anything
  loyaltykpi kpi                            # Recompute and publish from the history
  loyaltykpi stock --stock-dir ./stock      # Value store stock and publish it
  loyaltykpi export --drive                 # Snapshot the history to parquet and Drive`,

	SilenceUsage: true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == versionCmd.Name() {
			return nil
		}
		return loadRuntime()
	},

	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// =============================================================================
// EXECUTE FUNCTION
// =============================================================================

// Execute runs the root command. It is called by main.main().
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// =============================================================================
// INITIALIZATION
// =============================================================================

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile,
		"config",
		config.DefaultConfigFile,
		"Path to the main configuration file",
	)

	rootCmd.PersistentFlags().BoolVarP(
		&verbose,
		"verbose",
		"v",
		false,
		"Enable debug logging",
	)
}

// loadRuntime loads .env, the configuration and the logger.
func loadRuntime() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	cfg, err := config.LoadMainConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load main config: %w", err)
	}

	level := logger.ParseLevel(cfg.LogLevel)
	if verbose {
		level = zerolog.DebugLevel
	}

	mainConfig = cfg
	appLog = logger.New(logger.Options{
		ServiceName: "loyaltykpi",
		Level:       level,
		Format:      cfg.LogFormat,
	})
	return nil
}

// =============================================================================
// SHARED HELPERS
// =============================================================================

// openStore opens the configured history store and returns the warnings
// raised while opening it. A read-only store is never created or reset.
func openStore(ctx context.Context, log *logger.Logger, readOnly bool) (*store.Handle, []string, error) {
	cfg := mainConfig.Store
	cfg.ReadOnly = readOnly

	handle, err := store.Open(ctx, cfg, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open history store: %w", err)
	}

	var warnings []string
	if handle.Recovered {
		warnings = append(warnings, fmt.Sprintf("history store was unreadable and has been reset; previous files moved to %v", handle.BackupPaths))
	}
	return handle, warnings, nil
}

// pushMetrics sends the run metrics when a Pushgateway is configured.
func pushMetrics(ctx context.Context, m *metrics.RunMetrics, log *logger.Logger) {
	if err := m.Push(ctx, mainConfig.Metrics.PushgatewayURL, mainConfig.Metrics.Job); err != nil {
		log.Warn("%v", err)
	}
}

// writeSummary writes the run summary file and prints where it went.
func writeSummary(summary utils.RunSummary, log *logger.Logger) {
	path, err := utils.WriteSummaryLog(summary, mainConfig.OutputDir)
	if err != nil {
		log.Warn("Failed to write run summary: %v", err)
		return
	}
	fmt.Printf("Summary:         %s\n", path)
}

// printStatus prints the closing block shared by the commands.
func printStatus(title string, start time.Time, lines ...string) {
	fmt.Printf("\n=== %s ===\n", title)
	for _, line := range lines {
		fmt.Println(line)
	}
	fmt.Printf("Time elapsed:    %s\n", time.Since(start).Round(time.Millisecond))
}
