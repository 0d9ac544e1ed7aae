package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// SnapshotFiles lists the files written by WriteSnapshot.
type SnapshotFiles struct {
	Tickets string
	Coupons string
	Rows    int
}

// Paths returns the snapshot file paths.
func (f SnapshotFiles) Paths() []string {
	return []string{f.Tickets, f.Coupons}
}

// WriteSnapshot exports the full history of s as tickets.parquet and
// coupons.parquet in dir, whatever backend s uses.
func WriteSnapshot(ctx context.Context, s HistoricalStore, dir string) (SnapshotFiles, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return SnapshotFiles{}, fmt.Errorf("creating snapshot directory: %w", err)
	}

	tickets, err := s.Tickets(ctx)
	if err != nil {
		return SnapshotFiles{}, err
	}
	coupons, err := s.Coupons(ctx)
	if err != nil {
		return SnapshotFiles{}, err
	}

	if err := writeSnapshotFiles(dir, tickets, coupons); err != nil {
		return SnapshotFiles{}, err
	}

	return SnapshotFiles{
		Tickets: filepath.Join(dir, TicketsFile),
		Coupons: filepath.Join(dir, CouponsFile),
		Rows:    len(tickets) + len(coupons),
	}, nil
}
