// Package store persists the ticket and coupon history across runs.
//
// Tickets are append-only: a transaction id already stored is never inserted
// again nor updated. Coupons are upserted by coupon id, since their balance
// changes over time. Both writes of a run go through Commit, which applies
// them together or not at all.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ginjaninja78/loyalty-kpi/internal/config"
	"github.com/ginjaninja78/loyalty-kpi/internal/types"
	"github.com/ginjaninja78/loyalty-kpi/pkg/logger"
)

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverParquet  = "parquet"
)

// ErrCorrupt marks a history that cannot be read or has an incompatible schema.
var ErrCorrupt = errors.New("history store is corrupt")

// HistoricalStore is the persistent ticket and coupon history.
type HistoricalStore interface {
	// MergeTickets appends tickets whose transaction id is not stored yet.
	MergeTickets(ctx context.Context, tickets []types.Ticket) (MergeResult, error)

	// ReplaceCoupons upserts coupons by coupon id and returns how many
	// records were written.
	ReplaceCoupons(ctx context.Context, coupons []types.Coupon) (int, error)

	// Commit merges tickets and upserts coupons atomically.
	Commit(ctx context.Context, tickets []types.Ticket, coupons []types.Coupon) (MergeResult, error)

	// Tickets returns the full ticket history.
	Tickets(ctx context.Context) ([]types.Ticket, error)

	// Coupons returns every stored coupon.
	Coupons(ctx context.Context) ([]types.Coupon, error)

	Close() error
}

// MergeResult counts what a merge did. Added+Skipped equals the number of
// tickets submitted.
type MergeResult struct {
	Added           int
	Skipped         int
	CouponsUpserted int
}

// Handle is an open store plus what happened while opening it.
type Handle struct {
	HistoricalStore

	Driver string

	// Recovered is set when a corrupt local store was moved aside and
	// replaced by an empty one. BackupPaths lists where the old files went.
	Recovered   bool
	BackupPaths []string
}

// Open opens the store selected by cfg.Driver. The caller must Close it.
//
// Local stores (sqlite, parquet) that turn out to be corrupt are moved aside
// and recreated empty; the returned handle then has Recovered set. Remote
// stores are never reset and return an error wrapping ErrCorrupt instead.
func Open(ctx context.Context, cfg config.StoreConfig, log *logger.Logger) (*Handle, error) {
	if log == nil {
		log = logger.Nop()
	}

	var (
		handle *Handle
		err    error
	)

	switch cfg.Driver {
	case "", DriverSQLite:
		handle, err = openSQLite(ctx, cfg, log)
	case DriverMySQL, DriverPostgres:
		var s *SQLStore
		s, err = openRemote(ctx, cfg, log)
		if err == nil {
			handle = &Handle{HistoricalStore: s, Driver: cfg.Driver}
		}
	case DriverParquet:
		handle, err = openParquet(cfg, log)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	if handle.Recovered {
		log.Warn("history store was unreadable and has been reset; prior history moved to %v", handle.BackupPaths)
	}

	return handle, nil
}

// =============================================================================
// HELPERS SHARED BY THE BACKENDS
// =============================================================================

// dedupTickets keeps the first ticket of each transaction id.
func dedupTickets(tickets []types.Ticket) []types.Ticket {
	seen := make(map[string]struct{}, len(tickets))
	out := make([]types.Ticket, 0, len(tickets))
	for _, t := range tickets {
		if _, ok := seen[t.TransactionID]; ok {
			continue
		}
		seen[t.TransactionID] = struct{}{}
		out = append(out, t)
	}
	return out
}

// dedupCoupons keeps the last coupon of each coupon id, at the position of
// its first occurrence.
func dedupCoupons(coupons []types.Coupon) []types.Coupon {
	index := make(map[string]int, len(coupons))
	out := make([]types.Coupon, 0, len(coupons))
	for _, c := range coupons {
		if pos, ok := index[c.CouponID]; ok {
			out[pos] = c
			continue
		}
		index[c.CouponID] = len(out)
		out = append(out, c)
	}
	return out
}

// moveAside renames a corrupt file to <path>.corrupt-<timestamp>.
func moveAside(path string, now time.Time) (string, error) {
	backup := fmt.Sprintf("%s.corrupt-%s", path, now.UTC().Format("20060102T150405Z"))
	if err := os.Rename(path, backup); err != nil {
		return "", fmt.Errorf("moving corrupt store aside: %w", err)
	}
	return backup, nil
}

// fileExists reports whether path exists as a regular file.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
