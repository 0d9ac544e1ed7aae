// =============================================================================
// Loyalty KPI Engine - Pipeline Module
// =============================================================================
//
// This module contains the core run logic. It takes one transactions export
// and one coupons export through to the published KPI table.
//
// INGEST PIPELINE:
//   1. Parse the transactions and coupons exports
//   2. Normalize them to line items and coupons
//   3. Aggregate line items into tickets
//   4. Acquire the run lock
//   5. Commit tickets and coupons to the history store
//   6. Load the full history
//   7. Compute the monthly KPIs
//   8. Publish the KPI table to every sink
//   9. Archive the input files
//
// FAILURE POLICY:
//   - Steps 1 to 5 are fatal. A failed commit leaves the store unchanged.
//   - A publish failure is reported in Result.PublishError. The commit stands
//     and the run still counts as ingested.
//   - Archive failures are warnings. The inputs stay where they were.
//
// =============================================================================

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/ginjaninja78/loyalty-kpi/internal/aggregator"
	"github.com/ginjaninja78/loyalty-kpi/internal/config"
	"github.com/ginjaninja78/loyalty-kpi/internal/csvparser"
	"github.com/ginjaninja78/loyalty-kpi/internal/kpi"
	"github.com/ginjaninja78/loyalty-kpi/internal/lock"
	"github.com/ginjaninja78/loyalty-kpi/internal/metrics"
	"github.com/ginjaninja78/loyalty-kpi/internal/normalizer"
	"github.com/ginjaninja78/loyalty-kpi/internal/report"
	"github.com/ginjaninja78/loyalty-kpi/internal/store"
	"github.com/ginjaninja78/loyalty-kpi/internal/types"
	"github.com/ginjaninja78/loyalty-kpi/pkg/utils"
	"github.com/google/uuid"
)

// =============================================================================
// STAGES
// =============================================================================

// Stage names one step of a run.
type Stage string

const (
	StageParse     Stage = "parse"
	StageNormalize Stage = "normalize"
	StageAggregate Stage = "aggregate"
	StageLock      Stage = "lock"
	StageCommit    Stage = "commit"
	StageLoad      Stage = "load"
	StageCompute   Stage = "compute"
	StagePublish   Stage = "publish"
	StageArchive   Stage = "archive"
)

// IngestStages lists the stages of Run in order.
var IngestStages = []Stage{
	StageParse, StageNormalize, StageAggregate, StageLock, StageCommit,
	StageLoad, StageCompute, StagePublish, StageArchive,
}

// RecomputeStages lists the stages of Recompute in order.
var RecomputeStages = []Stage{StageLoad, StageCompute, StagePublish}

// =============================================================================
// RESULT STRUCTURE
// =============================================================================

// Result represents the outcome of one run.
type Result struct {
	// RunID identifies the run in logs and the summary file.
	RunID string

	// Success is true when the input was committed (or, for Recompute, the
	// KPIs were computed). A publish failure does not clear it.
	Success bool

	// Error is the fatal error. Stage tells where it happened.
	Error error
	Stage Stage

	// PublishError combines the errors of every sink that failed.
	PublishError error

	Stats Stats

	// Kpis is the computed KPI table.
	Kpis []kpi.MonthlyKpi

	// Outputs lists files written by file sinks and logs.
	Outputs []string

	// Archived lists where the inputs were moved.
	Archived []string

	Warnings    []string
	DataQuality []utils.DataQualityEntry
}

// Stats contains statistics about the run.
type Stats struct {
	LineItems     int
	Coupons       int
	Tickets       int
	UndatedCount  int
	ConflictCount int
	SkippedRows   int
	CoercedCells  int

	Merge store.MergeResult

	HistoryTickets int
	HistoryCoupons int
	KpiRows        int

	ProcessingTime time.Duration
}

// =============================================================================
// PIPELINE STRUCTURE
// =============================================================================

// Logger is an interface for logging. *logger.Logger implements it.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// Inputs names the exports of one ingest run.
type Inputs struct {
	TransactionsFile string

	// CouponsFile may be empty when only transactions are ingested.
	CouponsFile string
}

// Deps are the collaborators a pipeline runs against. Store is required.
type Deps struct {
	Store   store.HistoricalStore
	Sinks   []report.Sink
	Locker  lock.Locker
	Metrics *metrics.RunMetrics
	Files   *utils.FileManager
	Logger  Logger
}

// Options tunes one pipeline.
type Options struct {
	// RunID is generated when empty.
	RunID string

	// DryRun computes everything against an in-memory merge of the history
	// and writes nothing to the store or the sinks.
	DryRun bool

	// NoArchive leaves the inputs in place after a successful ingest.
	NoArchive bool

	// OnStage is called when a stage starts.
	OnStage func(Stage)
}

// Pipeline runs ingests and recomputes against one store.
type Pipeline struct {
	cfg  *config.MainConfig
	deps Deps
	opts Options
}

// New creates a pipeline.
//
// PARAMETERS:
//   - cfg: The main configuration.
//   - deps: The store, sinks and optional locker, metrics, file manager and logger.
//   - opts: Run ID, dry run and archive switches, stage callback.
//
// RETURNS:
//   - A new Pipeline.
func New(cfg *config.MainConfig, deps Deps, opts Options) *Pipeline {
	if deps.Locker == nil {
		deps.Locker = lock.Noop{}
	}
	if deps.Logger == nil {
		deps.Logger = nopLogger{}
	}
	if deps.Files == nil {
		deps.Files = utils.NewFileManager(cfg.InputDir, cfg.OutputDir, cfg.InputArchiveDir)
		deps.Files.ArchiveOnSuccess = cfg.ShouldArchive()
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	return &Pipeline{cfg: cfg, deps: deps, opts: opts}
}

// RunID returns the run identifier.
func (p *Pipeline) RunID() string {
	return p.opts.RunID
}

// =============================================================================
// INGEST
// =============================================================================

// Run executes the ingest pipeline for one pair of exports.
//
// RETURNS:
//   - A Result struct containing the outcome of the run.
func (p *Pipeline) Run(ctx context.Context, in Inputs) Result {
	t := p.track()
	log := p.deps.Logger

	// =========================================================================
	// STEP 1: PARSE INPUTS
	// =========================================================================

	t.enter(StageParse)
	log.Info("Ingesting %s", in.TransactionsFile)

	lineTable, err := csvparser.Parse(in.TransactionsFile, p.cfg.CSVSettings)
	if err != nil {
		return t.fail(fmt.Errorf("failed to parse transactions: %w", err))
	}

	var couponTable *types.Table
	if in.CouponsFile != "" {
		couponTable, err = csvparser.Parse(in.CouponsFile, p.cfg.CSVSettings)
		if err != nil {
			return t.fail(fmt.Errorf("failed to parse coupons: %w", err))
		}
	} else {
		t.warn("no coupons file given; coupon history is unchanged")
	}

	log.Debug("Parsed %d transaction rows and %d coupon rows", lineTable.Len(), couponTable.Len())

	// =========================================================================
	// STEP 2: NORMALIZE
	// =========================================================================
	// A missing required column is fatal. Unparseable cells are coerced and
	// reported in the data quality log.

	t.enter(StageNormalize)
	opts := normalizer.Options{Aliases: p.cfg.Columns}

	lines, lineStats, err := normalizer.NormalizeLineItems(lineTable, opts)
	if err != nil {
		return t.fail(err)
	}
	t.noteNormalization(lineTable.Source, lineStats)
	t.result.Stats.LineItems = len(lines)

	var coupons []types.Coupon
	if couponTable != nil {
		var couponStats normalizer.Stats
		coupons, couponStats, err = normalizer.NormalizeCoupons(couponTable, opts)
		if err != nil {
			return t.fail(err)
		}
		t.noteNormalization(couponTable.Source, couponStats)
		if couponStats.DuplicateRows > 0 {
			t.quality("duplicate_coupon_rows", couponTable.Source, "",
				fmt.Sprintf("%d rows repeated an earlier coupon id; the last row was kept", couponStats.DuplicateRows))
		}
	}
	t.result.Stats.Coupons = len(coupons)

	// =========================================================================
	// STEP 3: AGGREGATE TICKETS
	// =========================================================================

	t.enter(StageAggregate)
	agg := aggregator.Aggregate(lines, aggregator.OptionsFromConfig(p.cfg.KPI))
	t.result.Stats.Tickets = len(agg.Tickets)
	t.result.Stats.UndatedCount = len(agg.Undated)
	t.result.Stats.ConflictCount = agg.ConflictCount()
	t.noteAggregation(lineTable.Source, agg)

	log.Info("Aggregated %d line items into %d tickets", len(lines), len(agg.Tickets))

	// =========================================================================
	// STEP 4-6: LOCK, COMMIT, LOAD HISTORY
	// =========================================================================

	var history []types.Ticket
	var storedCoupons []types.Coupon

	if p.opts.DryRun {
		t.enter(StageLoad)
		history, storedCoupons, err = p.loadHistory(ctx)
		if err != nil {
			return t.fail(err)
		}
		var merge store.MergeResult
		history, storedCoupons, merge = previewMerge(history, storedCoupons, agg.Tickets, coupons)
		t.result.Stats.Merge = merge
		log.Info("Dry run: %d tickets would be added, %d already stored", merge.Added, merge.Skipped)
	} else {
		t.enter(StageLock)
		lease, err := p.deps.Locker.Acquire(ctx)
		if err != nil {
			return t.fail(err)
		}
		defer func() {
			if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
				log.Warn("Failed to release run lock: %v", err)
			}
		}()

		t.enter(StageCommit)
		merge, err := p.deps.Store.Commit(ctx, agg.Tickets, coupons)
		if err != nil {
			return t.fail(fmt.Errorf("failed to commit history: %w", err))
		}
		t.result.Stats.Merge = merge
		p.deps.Metrics.AddMerge(merge.Added, merge.Skipped, merge.CouponsUpserted)
		log.Info("Committed %d new tickets (%d already stored), %d coupons upserted",
			merge.Added, merge.Skipped, merge.CouponsUpserted)

		// The input is safely stored from here on.
		t.result.Success = true

		t.enter(StageLoad)
		history, storedCoupons, err = p.loadHistory(ctx)
		if err != nil {
			return t.fail(err)
		}
	}
	t.result.Stats.HistoryTickets = len(history)
	t.result.Stats.HistoryCoupons = len(storedCoupons)

	// =========================================================================
	// STEP 7-8: COMPUTE AND PUBLISH
	// =========================================================================

	t.enter(StageCompute)
	t.result.Kpis = kpi.Compute(history, storedCoupons)
	t.result.Stats.KpiRows = len(t.result.Kpis)

	if p.opts.DryRun {
		t.result.Success = true
		t.writeQualityLog()
		return t.done()
	}

	t.enter(StagePublish)
	p.publish(ctx, t)

	// =========================================================================
	// STEP 9: ARCHIVE INPUTS
	// =========================================================================

	t.enter(StageArchive)
	if p.opts.NoArchive || !p.deps.Files.ArchiveOnSuccess {
		log.Debug("Archiving disabled; inputs left in place")
	} else {
		for _, path := range []string{in.TransactionsFile, in.CouponsFile} {
			if path == "" {
				continue
			}
			archived, err := p.deps.Files.ArchiveInputFile(path)
			if err != nil {
				t.warn(fmt.Sprintf("failed to archive %s: %v", filepath.Base(path), err))
				continue
			}
			t.result.Archived = append(t.result.Archived, archived)
		}
	}

	t.writeQualityLog()
	return t.done()
}

// =============================================================================
// RECOMPUTE
// =============================================================================

// Recompute recomputes and publishes the KPIs from the stored history only.
func (p *Pipeline) Recompute(ctx context.Context) Result {
	t := p.track()

	t.enter(StageLoad)
	history, coupons, err := p.loadHistory(ctx)
	if err != nil {
		return t.fail(err)
	}
	t.result.Stats.HistoryTickets = len(history)
	t.result.Stats.HistoryCoupons = len(coupons)

	t.enter(StageCompute)
	t.result.Kpis = kpi.Compute(history, coupons)
	t.result.Stats.KpiRows = len(t.result.Kpis)
	t.result.Success = true

	if p.opts.DryRun {
		return t.done()
	}

	t.enter(StagePublish)
	p.publish(ctx, t)
	return t.done()
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func (p *Pipeline) loadHistory(ctx context.Context) ([]types.Ticket, []types.Coupon, error) {
	tickets, err := p.deps.Store.Tickets(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load ticket history: %w", err)
	}
	coupons, err := p.deps.Store.Coupons(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load coupon history: %w", err)
	}
	p.deps.Logger.Debug("Loaded %d tickets and %d coupons from history", len(tickets), len(coupons))
	return tickets, coupons, nil
}

// publish sends the KPI table to every sink. Failures are kept apart from
// the fatal error.
func (p *Pipeline) publish(ctx context.Context, t *tracker) {
	table := report.KpiTable(p.cfg.Report.KpiTable, t.result.Kpis)
	if err := report.PublishAll(ctx, p.deps.Sinks, table); err != nil {
		t.result.PublishError = err
		p.deps.Metrics.IncFailure(string(StagePublish))
		p.deps.Logger.Error("Publishing %s failed: %v", table.Name, err)
	}
	t.result.Outputs = append(t.result.Outputs, report.WrittenFiles(p.deps.Sinks)...)
	p.deps.Logger.Info("Published %d KPI rows to %d sink(s)", len(table.Rows), len(p.deps.Sinks))
}

// previewMerge applies tickets and coupons to a copy of the history the way
// Commit would.
func previewMerge(history []types.Ticket, stored []types.Coupon, tickets []types.Ticket, coupons []types.Coupon) ([]types.Ticket, []types.Coupon, store.MergeResult) {
	var res store.MergeResult

	seen := make(map[string]struct{}, len(history)+len(tickets))
	merged := make([]types.Ticket, 0, len(history)+len(tickets))
	for _, t := range history {
		seen[t.TransactionID] = struct{}{}
		merged = append(merged, t)
	}
	for _, t := range tickets {
		if _, ok := seen[t.TransactionID]; ok {
			res.Skipped++
			continue
		}
		seen[t.TransactionID] = struct{}{}
		merged = append(merged, t)
		res.Added++
	}

	index := make(map[string]int, len(stored)+len(coupons))
	mergedCoupons := make([]types.Coupon, 0, len(stored)+len(coupons))
	for _, c := range stored {
		index[c.CouponID] = len(mergedCoupons)
		mergedCoupons = append(mergedCoupons, c)
	}
	for _, c := range coupons {
		res.CouponsUpserted++
		if pos, ok := index[c.CouponID]; ok {
			mergedCoupons[pos] = c
			continue
		}
		index[c.CouponID] = len(mergedCoupons)
		mergedCoupons = append(mergedCoupons, c)
	}

	return merged, mergedCoupons, res
}

// =============================================================================
// RUN TRACKING
// =============================================================================

// tracker follows the current stage of one run and feeds the stage
// callback, the metrics and the result.
type tracker struct {
	p       *Pipeline
	result  Result
	start   time.Time
	stage   Stage
	entered time.Time
}

func (p *Pipeline) track() *tracker {
	return &tracker{p: p, result: Result{RunID: p.opts.RunID}, start: time.Now()}
}

func (t *tracker) enter(stage Stage) {
	t.closeStage()
	t.stage = stage
	t.entered = time.Now()
	t.result.Stage = stage
	if t.p.opts.OnStage != nil {
		t.p.opts.OnStage(stage)
	}
}

func (t *tracker) closeStage() {
	if t.stage != "" {
		t.p.deps.Metrics.ObserveStage(string(t.stage), time.Since(t.entered))
	}
}

func (t *tracker) warn(msg string) {
	t.result.Warnings = append(t.result.Warnings, msg)
	t.p.deps.Logger.Warn("%s", msg)
}

func (t *tracker) quality(kind, source, key, msg string) {
	t.result.DataQuality = append(t.result.DataQuality, utils.DataQualityEntry{
		Kind: kind, Source: source, Key: key, Message: msg,
	})
}

func (t *tracker) noteNormalization(source string, stats normalizer.Stats) {
	t.result.Stats.SkippedRows += stats.SkippedRows
	t.result.Stats.CoercedCells += stats.TotalCoerced()

	if stats.SkippedRows > 0 {
		t.quality("skipped_rows", source, "",
			fmt.Sprintf("%d rows had no identifier and were skipped", stats.SkippedRows))
	}
	if n := stats.TotalCoerced(); n > 0 {
		summary := normalizer.CoercedSummary(stats)
		t.quality("coerced_cells", source, "", fmt.Sprintf("%d unparseable cells replaced by neutral values: %s", n, summary))
		t.p.deps.Logger.Warn("%s: %d unparseable cells coerced (%s)", filepath.Base(source), n, summary)
	}
}

func (t *tracker) noteAggregation(source string, agg aggregator.Result) {
	for _, id := range agg.Undated {
		t.quality("undated_ticket", source, id, "no parseable validation date; excluded from the KPIs")
	}
	if len(agg.Undated) > 0 {
		t.p.deps.Logger.Warn("%d tickets have no validation date and were left out", len(agg.Undated))
	}

	ids := make([]string, 0, len(agg.Conflicts))
	for id := range agg.Conflicts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		t.quality("context_conflict", source, id,
			fmt.Sprintf("%d line values disagreed with the first organization, customer or date; the first was kept", agg.Conflicts[id]))
	}
}

func (t *tracker) writeQualityLog() {
	path, err := utils.WriteDataQualityLog(t.result.DataQuality, t.p.cfg.OutputDir)
	if err != nil {
		t.warn(fmt.Sprintf("failed to write data quality log: %v", err))
		return
	}
	if path != "" {
		t.result.Outputs = append(t.result.Outputs, path)
	}
}

func (t *tracker) fail(err error) Result {
	t.closeStage()
	t.result.Error = err
	t.result.Stats.ProcessingTime = time.Since(t.start)
	t.p.deps.Metrics.IncFailure(string(t.stage))

	var schemaErr *normalizer.SchemaError
	switch {
	case errors.As(err, &schemaErr):
		t.p.deps.Logger.Error("Schema error: %v", err)
	case errors.Is(err, lock.ErrNotObtained):
		t.p.deps.Logger.Error("Another run is in progress: %v", err)
	default:
		t.p.deps.Logger.Error("Run failed at %s: %v", t.stage, err)
	}

	t.writeQualityLog()
	return t.result
}

func (t *tracker) done() Result {
	t.closeStage()
	t.result.Stats.ProcessingTime = time.Since(t.start)
	if t.result.Success {
		t.p.deps.Metrics.IncSuccess()
	}
	return t.result
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
