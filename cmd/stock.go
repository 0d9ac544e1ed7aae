// =============================================================================
// Loyalty KPI Engine - Stock Command
// =============================================================================
//
// This file defines the 'stock' command. It values the current stock of
// every store at purchasing price, per brand, and appends the result to the
// stock history.
//
// COMMAND USAGE:
//   loyaltykpi stock [--stock-dir DIR] [--products FILE]
//
// PROCESSING STEPS:
//   1. Read every stock file in the stock directory
//   2. Read the product base workbook
//   3. Value the stock per store and brand
//   4. Merge today's valuation into the history file
//   5. Publish the full history as the stock table
//
// =============================================================================

package cmd

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/ginjaninja78/loyalty-kpi/internal/csvparser"
	"github.com/ginjaninja78/loyalty-kpi/internal/normalizer"
	"github.com/ginjaninja78/loyalty-kpi/internal/report"
	"github.com/ginjaninja78/loyalty-kpi/internal/stock"
	"github.com/ginjaninja78/loyalty-kpi/internal/types"
	"github.com/ginjaninja78/loyalty-kpi/internal/xlsxparser"
	"github.com/ginjaninja78/loyalty-kpi/pkg/utils"
	"github.com/spf13/cobra"
)

var (
	stockDir     string
	productsFile string
)

var stockCmd = &cobra.Command{
	Use:   "stock",
	Short: "Value store stock per brand and publish the stock history",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStock(cmd)
	},
}

func init() {
	rootCmd.AddCommand(stockCmd)

	stockCmd.Flags().StringVar(&stockDir, "stock-dir", "", "Directory of store stock files (default: stock.stock_dir)")
	stockCmd.Flags().StringVar(&productsFile, "products", "", "Product base workbook (default: stock.product_file)")
}

func runStock(cmd *cobra.Command) error {
	ctx := cmd.Context()
	startTime := time.Now()
	cfg := mainConfig
	log := appLog.WithField("command", "stock")

	if stockDir == "" {
		stockDir = cfg.Stock.StockDir
	}
	if productsFile == "" {
		productsFile = cfg.Stock.ProductFile
	}
	if stockDir == "" || productsFile == "" {
		return fmt.Errorf("a stock directory and a product file are required (--stock-dir, --products)")
	}

	fmt.Println("=== Loyalty KPI - Stock Valuation ===")

	// =========================================================================
	// STEP 1: READ STOCK FILES
	// =========================================================================

	files, err := utils.DiscoverFiles(stockDir, cfg.Stock.StockPattern)
	if err != nil {
		return fmt.Errorf("failed to list stock files: %w", err)
	}
	if len(files) == 0 {
		return fmt.Errorf("%w: %s in %s", utils.ErrNoInput, cfg.Stock.StockPattern, stockDir)
	}

	var lines []types.StockLine
	for _, file := range files {
		table, err := csvparser.Parse(file, cfg.CSVSettings)
		if err != nil {
			return fmt.Errorf("failed to parse %s: %w", filepath.Base(file), err)
		}
		fileLines, stats, err := normalizer.NormalizeStockLines(table, normalizer.Options{Aliases: cfg.Columns})
		if err != nil {
			return err
		}
		if n := stats.TotalCoerced(); n > 0 {
			log.Warn("%s: %d unparseable cells (%s)", filepath.Base(file), n, normalizer.CoercedSummary(stats))
		}
		lines = append(lines, fileLines...)
	}
	fmt.Printf("Stock files:     %d (%d lines)\n", len(files), len(lines))

	// =========================================================================
	// STEP 2-3: VALUE AGAINST THE PRODUCT BASE
	// =========================================================================

	products, err := xlsxparser.ParseProducts(productsFile, xlsxparser.DefaultProductColumns())
	if err != nil {
		return fmt.Errorf("failed to read product base: %w", err)
	}

	valuations, stats := stock.Value(lines, products, time.Now())
	if dropped := stats.UnknownSKU + stats.MissingPrice + stats.InvalidQuantity; dropped > 0 {
		log.Warn("%d stock lines not valued: %d unknown sku, %d missing price, %d invalid quantity",
			dropped, stats.UnknownSKU, stats.MissingPrice, stats.InvalidQuantity)
	}

	// =========================================================================
	// STEP 4-5: UPDATE HISTORY AND PUBLISH
	// =========================================================================

	history, err := stock.Update(cfg.Stock.HistoryFile, valuations)
	if err != nil {
		return fmt.Errorf("failed to update stock history: %w", err)
	}

	sinks, err := report.NewSinks(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to set up report sinks: %w", err)
	}
	defer report.CloseSinks(sinks)

	publishErr := report.PublishAll(ctx, sinks, report.StockTable(cfg.Report.StockTable, history))

	printStatus("Stock Valuation Complete", startTime,
		fmt.Sprintf("Valued lines:    %d of %d", stats.Valued, stats.Lines),
		fmt.Sprintf("Store/brands:    %d", len(valuations)),
		fmt.Sprintf("History rows:    %d", len(history)),
		fmt.Sprintf("History file:    %s", cfg.Stock.HistoryFile),
	)
	for _, out := range report.WrittenFiles(sinks) {
		fmt.Printf("  ✓ %s\n", out)
	}

	if publishErr != nil {
		return fmt.Errorf("stock history saved but publishing failed: %w", publishErr)
	}
	return nil
}
