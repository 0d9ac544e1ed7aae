package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ginjaninja78/loyalty-kpi/internal/config"
	"github.com/ginjaninja78/loyalty-kpi/internal/types"
	"github.com/ginjaninja78/loyalty-kpi/pkg/logger"
	"github.com/shopspring/decimal"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"
)

// Snapshot file names.
const (
	TicketsFile = "tickets.parquet"
	CouponsFile = "coupons.parquet"
)

// ticketRow is the parquet layout of a ticket. Amounts are decimal strings
// and timestamps RFC 3339 strings, so no precision is lost.
type ticketRow struct {
	TransactionID         string `parquet:"name=transaction_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	OrganizationID        string `parquet:"name=organization_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	CustomerID            string `parquet:"name=customer_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	ValidationDate        string `parquet:"name=validation_date, type=BYTE_ARRAY, convertedtype=UTF8"`
	Month                 string `parquet:"name=month, type=BYTE_ARRAY, convertedtype=UTF8"`
	TotalInclTax          string `parquet:"name=total_incl_tax, type=BYTE_ARRAY, convertedtype=UTF8"`
	TotalExclTax          string `parquet:"name=total_excl_tax, type=BYTE_ARRAY, convertedtype=UTF8"`
	PurchasingCostExclTax string `parquet:"name=purchasing_cost_excl_tax, type=BYTE_ARRAY, convertedtype=UTF8"`
	QuantityTotal         string `parquet:"name=quantity_total, type=BYTE_ARRAY, convertedtype=UTF8"`
	HasCoupon             bool   `parquet:"name=has_coupon, type=BOOLEAN"`
	AmountPaidByCoupon    string `parquet:"name=amount_paid_by_coupon, type=BYTE_ARRAY, convertedtype=UTF8"`
	NetMarginExclTax      string `parquet:"name=net_margin_excl_tax, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// couponRow is the parquet layout of a coupon. Empty dates mean "not set".
type couponRow struct {
	CouponID        string `parquet:"name=coupon_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	OrganizationID  string `parquet:"name=organization_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	EmissionDate    string `parquet:"name=emission_date, type=BYTE_ARRAY, convertedtype=UTF8"`
	UseDate         string `parquet:"name=use_date, type=BYTE_ARRAY, convertedtype=UTF8"`
	AmountInitial   string `parquet:"name=amount_initial, type=BYTE_ARRAY, convertedtype=UTF8"`
	AmountRemaining string `parquet:"name=amount_remaining, type=BYTE_ARRAY, convertedtype=UTF8"`
	ValueUsed       string `parquet:"name=value_used, type=BYTE_ARRAY, convertedtype=UTF8"`
	IsUsed          bool   `parquet:"name=is_used, type=BOOLEAN"`
}

// =============================================================================
// PARQUET STORE
// =============================================================================

// ParquetStore keeps the history as two parquet files in a directory. The
// whole history is held in memory; every write rewrites both files through
// temporary files renamed into place.
type ParquetStore struct {
	mu  sync.Mutex
	dir string

	tickets     []types.Ticket
	ticketIndex map[string]struct{}
	coupons     []types.Coupon
	couponIndex map[string]int
}

var _ HistoricalStore = (*ParquetStore)(nil)

// openParquet loads the parquet history, moving corrupt files aside.
func openParquet(cfg config.StoreConfig, logg *logger.Logger) (*Handle, error) {
	if !cfg.ReadOnly {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
	}

	handle := &Handle{Driver: DriverParquet}
	s := &ParquetStore{dir: cfg.Dir}

	ticketsPath := filepath.Join(cfg.Dir, TicketsFile)
	tickets, err := readTickets(ticketsPath)
	if err != nil && cfg.ReadOnly {
		return nil, fmt.Errorf("%s: %w", ticketsPath, err)
	}
	if err != nil {
		logg.Warn("parquet tickets %s are unreadable: %v", ticketsPath, err)
		backup, moveErr := moveAside(ticketsPath, time.Now())
		if moveErr != nil {
			return nil, moveErr
		}
		handle.Recovered = true
		handle.BackupPaths = append(handle.BackupPaths, backup)
		tickets = nil
	}

	couponsPath := filepath.Join(cfg.Dir, CouponsFile)
	coupons, err := readCoupons(couponsPath)
	if err != nil && cfg.ReadOnly {
		return nil, fmt.Errorf("%s: %w", couponsPath, err)
	}
	if err != nil {
		logg.Warn("parquet coupons %s are unreadable: %v", couponsPath, err)
		backup, moveErr := moveAside(couponsPath, time.Now())
		if moveErr != nil {
			return nil, moveErr
		}
		handle.Recovered = true
		handle.BackupPaths = append(handle.BackupPaths, backup)
		coupons = nil
	}

	s.load(tickets, coupons)
	handle.HistoricalStore = s
	return handle, nil
}

// load replaces the in-memory state and rebuilds the indexes.
func (s *ParquetStore) load(tickets []types.Ticket, coupons []types.Coupon) {
	s.tickets = tickets
	s.ticketIndex = make(map[string]struct{}, len(tickets))
	for _, t := range tickets {
		s.ticketIndex[t.TransactionID] = struct{}{}
	}

	s.coupons = coupons
	s.couponIndex = make(map[string]int, len(coupons))
	for i, c := range coupons {
		s.couponIndex[c.CouponID] = i
	}
}

// MergeTickets appends tickets whose transaction id is not stored yet.
func (s *ParquetStore) MergeTickets(ctx context.Context, tickets []types.Ticket) (MergeResult, error) {
	return s.Commit(ctx, tickets, nil)
}

// ReplaceCoupons upserts coupons by coupon id.
func (s *ParquetStore) ReplaceCoupons(ctx context.Context, coupons []types.Coupon) (int, error) {
	res, err := s.Commit(ctx, nil, coupons)
	return res.CouponsUpserted, err
}

// Commit computes the new history and writes both files. The in-memory state
// only changes once the files are in place.
func (s *ParquetStore) Commit(ctx context.Context, tickets []types.Ticket, coupons []types.Coupon) (MergeResult, error) {
	if err := ctx.Err(); err != nil {
		return MergeResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res := MergeResult{}
	nextTickets := slices.Clone(s.tickets)
	for _, t := range dedupTickets(tickets) {
		if _, exists := s.ticketIndex[t.TransactionID]; exists {
			continue
		}
		nextTickets = append(nextTickets, t)
		res.Added++
	}
	res.Skipped = len(tickets) - res.Added

	nextCoupons := slices.Clone(s.coupons)
	pending := make(map[string]int)
	for _, c := range dedupCoupons(coupons) {
		if pos, exists := s.couponIndex[c.CouponID]; exists {
			nextCoupons[pos] = c
		} else if pos, exists := pending[c.CouponID]; exists {
			nextCoupons[pos] = c
		} else {
			pending[c.CouponID] = len(nextCoupons)
			nextCoupons = append(nextCoupons, c)
		}
		res.CouponsUpserted++
	}

	if res.Added == 0 && res.CouponsUpserted == 0 {
		return res, nil
	}

	if err := writeSnapshotFiles(s.dir, nextTickets, nextCoupons); err != nil {
		return MergeResult{}, err
	}

	s.load(nextTickets, nextCoupons)
	return res, nil
}

// Tickets returns a copy of the ticket history.
func (s *ParquetStore) Tickets(ctx context.Context) ([]types.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.tickets), nil
}

// Coupons returns a copy of the stored coupons.
func (s *ParquetStore) Coupons(ctx context.Context) ([]types.Coupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.coupons), nil
}

// Close releases the in-memory history.
func (s *ParquetStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.load(nil, nil)
	return nil
}

// =============================================================================
// FILE I/O
// =============================================================================

// renameFile is os.Rename; tests replace it to simulate a failed swap.
var renameFile = os.Rename

// writeSnapshotFiles writes both files to temporaries first and renames them
// into place only when both were written. If the coupons file cannot be
// swapped in, the previous tickets file is put back so the directory never
// mixes two versions.
func writeSnapshotFiles(dir string, tickets []types.Ticket, coupons []types.Coupon) error {
	ticketsPath := filepath.Join(dir, TicketsFile)
	couponsPath := filepath.Join(dir, CouponsFile)
	ticketsTmp := ticketsPath + ".tmp"
	couponsTmp := couponsPath + ".tmp"
	ticketsPrev := ticketsPath + ".prev"

	rows := make([]ticketRow, len(tickets))
	for i, t := range tickets {
		rows[i] = toTicketRow(t)
	}
	if err := writeParquet(ticketsTmp, rows); err != nil {
		os.Remove(ticketsTmp)
		return err
	}

	crows := make([]couponRow, len(coupons))
	for i, c := range coupons {
		crows[i] = toCouponRow(c)
	}
	if err := writeParquet(couponsTmp, crows); err != nil {
		os.Remove(ticketsTmp)
		os.Remove(couponsTmp)
		return err
	}

	hadTickets := fileExists(ticketsPath)
	if hadTickets {
		if err := renameFile(ticketsPath, ticketsPrev); err != nil {
			os.Remove(ticketsTmp)
			os.Remove(couponsTmp)
			return fmt.Errorf("keeping %s: %w", ticketsPath, err)
		}
	}

	// restore puts the previous tickets file back, or removes the new one
	// when there was none.
	restore := func() {
		if hadTickets {
			renameFile(ticketsPrev, ticketsPath)
			return
		}
		os.Remove(ticketsPath)
	}

	if err := renameFile(ticketsTmp, ticketsPath); err != nil {
		restore()
		os.Remove(ticketsTmp)
		os.Remove(couponsTmp)
		return fmt.Errorf("replacing %s: %w", ticketsPath, err)
	}
	if err := renameFile(couponsTmp, couponsPath); err != nil {
		restore()
		os.Remove(couponsTmp)
		return fmt.Errorf("replacing %s: %w", couponsPath, err)
	}

	if hadTickets {
		os.Remove(ticketsPrev)
	}
	return nil
}

// writeParquet writes rows to path. The schema comes from the tags of T.
func writeParquet[T any](path string, rows []T) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(T), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, row := range rows {
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close parquet file: %w", err)
	}
	return nil
}

// readParquet reads every row of path. A missing file yields no rows. A file
// that cannot be decoded, or lacks keyColumn, yields ErrCorrupt.
func readParquet[T any](path string, keyColumn string) (rows []T, err error) {
	if !fileExists(path) {
		return nil, nil
	}

	defer func() {
		// parquet-go panics on some malformed footers.
		if r := recover(); r != nil {
			rows, err = nil, fmt.Errorf("%w: %v", ErrCorrupt, r)
		}
	}()

	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, fmt.Errorf("open parquet: %w", err)
	}
	defer fr.Close()

	pr, err := reader.NewParquetReader(fr, new(T), 1)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	defer pr.ReadStop()

	if !hasColumn(pr.Footer.GetSchema(), keyColumn) {
		return nil, fmt.Errorf("%w: column %s missing", ErrCorrupt, keyColumn)
	}

	rows = make([]T, int(pr.GetNumRows()))
	if len(rows) == 0 {
		return rows, nil
	}
	if err := pr.Read(&rows); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return rows, nil
}

// hasColumn matches name against the footer schema, ignoring case and
// underscores.
func hasColumn(schema []*parquet.SchemaElement, name string) bool {
	want := columnKey(name)
	for _, el := range schema {
		if columnKey(el.GetName()) == want {
			return true
		}
	}
	return false
}

func columnKey(name string) string {
	return strings.ToLower(strings.ReplaceAll(name, "_", ""))
}

func readTickets(path string) ([]types.Ticket, error) {
	rows, err := readParquet[ticketRow](path, "transaction_id")
	if err != nil {
		return nil, err
	}
	tickets := make([]types.Ticket, 0, len(rows))
	for _, r := range rows {
		t, err := r.ticket()
		if err != nil {
			return nil, fmt.Errorf("%w: ticket %s: %v", ErrCorrupt, r.TransactionID, err)
		}
		tickets = append(tickets, t)
	}
	return tickets, nil
}

func readCoupons(path string) ([]types.Coupon, error) {
	rows, err := readParquet[couponRow](path, "coupon_id")
	if err != nil {
		return nil, err
	}
	coupons := make([]types.Coupon, 0, len(rows))
	for _, r := range rows {
		c, err := r.coupon()
		if err != nil {
			return nil, fmt.Errorf("%w: coupon %s: %v", ErrCorrupt, r.CouponID, err)
		}
		coupons = append(coupons, c)
	}
	return coupons, nil
}

// =============================================================================
// ROW CONVERSION
// =============================================================================

func toTicketRow(t types.Ticket) ticketRow {
	return ticketRow{
		TransactionID:         t.TransactionID,
		OrganizationID:        t.OrganizationID,
		CustomerID:            t.CustomerID,
		ValidationDate:        t.ValidationDate.UTC().Format(time.RFC3339Nano),
		Month:                 t.Month,
		TotalInclTax:          t.TotalInclTax.String(),
		TotalExclTax:          t.TotalExclTax.String(),
		PurchasingCostExclTax: t.PurchasingCostExclTax.String(),
		QuantityTotal:         t.QuantityTotal.String(),
		HasCoupon:             t.HasCoupon,
		AmountPaidByCoupon:    t.AmountPaidByCoupon.String(),
		NetMarginExclTax:      t.NetMarginExclTax.String(),
	}
}

func (r ticketRow) ticket() (types.Ticket, error) {
	date, err := time.Parse(time.RFC3339Nano, r.ValidationDate)
	if err != nil {
		return types.Ticket{}, err
	}
	var d decimalReader
	t := types.Ticket{
		TransactionID:         r.TransactionID,
		OrganizationID:        r.OrganizationID,
		CustomerID:            r.CustomerID,
		ValidationDate:        date.UTC(),
		Month:                 r.Month,
		TotalInclTax:          d.read(r.TotalInclTax),
		TotalExclTax:          d.read(r.TotalExclTax),
		PurchasingCostExclTax: d.read(r.PurchasingCostExclTax),
		QuantityTotal:         d.read(r.QuantityTotal),
		HasCoupon:             r.HasCoupon,
		AmountPaidByCoupon:    d.read(r.AmountPaidByCoupon),
		NetMarginExclTax:      d.read(r.NetMarginExclTax),
	}
	return t, d.err
}

func toCouponRow(c types.Coupon) couponRow {
	return couponRow{
		CouponID:        c.CouponID,
		OrganizationID:  c.OrganizationID,
		EmissionDate:    formatOptionalTime(c.EmissionDate),
		UseDate:         formatOptionalTime(c.UseDate),
		AmountInitial:   c.AmountInitial.String(),
		AmountRemaining: c.AmountRemaining.String(),
		ValueUsed:       c.ValueUsed.String(),
		IsUsed:          c.IsUsed,
	}
}

func (r couponRow) coupon() (types.Coupon, error) {
	emission, err := parseOptionalTime(r.EmissionDate)
	if err != nil {
		return types.Coupon{}, err
	}
	use, err := parseOptionalTime(r.UseDate)
	if err != nil {
		return types.Coupon{}, err
	}
	var d decimalReader
	c := types.Coupon{
		CouponID:        r.CouponID,
		OrganizationID:  r.OrganizationID,
		EmissionDate:    emission,
		UseDate:         use,
		AmountInitial:   d.read(r.AmountInitial),
		AmountRemaining: d.read(r.AmountRemaining),
		ValueUsed:       d.read(r.ValueUsed),
		IsUsed:          r.IsUsed,
	}
	return c, d.err
}

// decimalReader parses decimal strings and keeps the first error.
type decimalReader struct {
	err error
}

func (d *decimalReader) read(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	v, err := decimal.NewFromString(s)
	if err != nil && d.err == nil {
		d.err = err
	}
	return v
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseOptionalTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil, err
	}
	t = t.UTC()
	return &t, nil
}
