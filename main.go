// =============================================================================
// Loyalty KPI Engine - Main Entry Point
// =============================================================================
//
// USAGE:
//   loyaltykpi ingest   - Ingest exports and publish the KPI table
//   loyaltykpi kpi      - Recompute and publish from the history
//   loyaltykpi stock    - Value store stock per brand
//   loyaltykpi export   - Snapshot the history to parquet
//   loyaltykpi version  - Display the application version
//
// ARCHITECTURE:
//   - cmd/       : CLI command definitions (Cobra)
//   - internal/  : Readers, normalizer, aggregator, store, KPI engine, sinks
//   - pkg/       : Logger and file utilities
//
// =============================================================================

package main

import (
	"github.com/ginjaninja78/loyalty-kpi/cmd"
)

func main() {
	cmd.Execute()
}
