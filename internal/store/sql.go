package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/ginjaninja78/loyalty-kpi/internal/config"
	"github.com/ginjaninja78/loyalty-kpi/internal/types"
	"github.com/ginjaninja78/loyalty-kpi/pkg/logger"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

const defaultBatchSize = 500

// Client wraps a GORM connection.
type Client struct {
	conn *gorm.DB
}

// newClient opens a GORM connection with a silent logger.
func newClient(dialector gorm.Dialector) (*Client, error) {
	gormLogger := gormlogger.New(
		log.New(io.Discard, "", log.LstdFlags),
		gormlogger.Config{LogLevel: gormlogger.Silent},
	)

	conn, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 gormLogger,
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening db connection: %w", err)
	}

	return &Client{conn: conn}, nil
}

// DB returns the underlying GORM connection.
func (c *Client) DB() *gorm.DB {
	return c.conn
}

// Ping verifies the datasource is reachable.
func (c *Client) Ping(ctx context.Context) error {
	sqlDB, err := c.conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close shuts down the pooled connections.
func (c *Client) Close() error {
	sqlDB, err := c.conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// WithTx executes fn inside a transaction, rolling back on error/panic.
func (c *Client) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	tx := c.conn.WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}

	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	return tx.Commit().Error
}

// =============================================================================
// SQL STORE
// =============================================================================

// SQLStore keeps the history in a SQL database through GORM.
type SQLStore struct {
	client    *Client
	batchSize int
}

var _ HistoricalStore = (*SQLStore)(nil)

// openSQLite opens the local sqlite history, recreating it when corrupt.
func openSQLite(ctx context.Context, cfg config.StoreConfig, logg *logger.Logger) (*Handle, error) {
	path := cfg.Path
	if cfg.ReadOnly && path != ":memory:" && !fileExists(path) {
		logg.Debug("sqlite history %s does not exist; reading an empty history", path)
		path = ":memory:"
	}
	if path != ":memory:" && !cfg.ReadOnly {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
	}

	s, err := openSQL(ctx, sqliteDialector(path), DriverSQLite, cfg.BatchSize)
	if err == nil {
		return &Handle{HistoricalStore: s, Driver: DriverSQLite}, nil
	}
	if !errors.Is(err, ErrCorrupt) || !fileExists(path) {
		return nil, err
	}
	if cfg.ReadOnly {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	logg.Warn("sqlite history %s is unreadable: %v", path, err)
	backup, moveErr := moveAside(path, time.Now())
	if moveErr != nil {
		return nil, errors.Join(err, moveErr)
	}

	s, err = openSQL(ctx, sqliteDialector(path), DriverSQLite, cfg.BatchSize)
	if err != nil {
		return nil, err
	}
	return &Handle{HistoricalStore: s, Driver: DriverSQLite, Recovered: true, BackupPaths: []string{backup}}, nil
}

// sqliteDialector opens path with a busy timeout so a second reader waits
// instead of failing.
func sqliteDialector(path string) gorm.Dialector {
	if path == ":memory:" {
		return sqlite.Open(path)
	}
	return sqlite.Open(path + "?_busy_timeout=5000")
}

// openRemote opens a mysql or postgres history. Remote stores are never reset.
func openRemote(ctx context.Context, cfg config.StoreConfig, logg *logger.Logger) (*SQLStore, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case DriverMySQL:
		dsn, err := toMySQLDSN(cfg.DSN)
		if err != nil {
			return nil, err
		}
		dialector = mysql.Open(dsn)
	case DriverPostgres:
		dialector = postgres.New(postgres.Config{
			DSN:                  cfg.DSN,
			PreferSimpleProtocol: true,
		})
	default:
		return nil, fmt.Errorf("unsupported remote driver %q", cfg.Driver)
	}

	s, err := openSQL(ctx, dialector, cfg.Driver, cfg.BatchSize)
	if err != nil {
		return nil, err
	}
	logg.Info("connected to %s history store", cfg.Driver)
	return s, nil
}

// openSQL connects, checks the existing schema, and migrates it.
func openSQL(ctx context.Context, dialector gorm.Dialector, driver string, batchSize int) (*SQLStore, error) {
	client, err := newClient(dialector)
	if err != nil {
		if driver == DriverSQLite {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		return nil, err
	}

	if driver == DriverSQLite {
		// One connection, so an in-memory database is shared and writes
		// never contend for the file lock.
		if sqlDB, err := client.conn.DB(); err == nil {
			sqlDB.SetMaxOpenConns(1)
		}
	}

	if err := client.Ping(ctx); err != nil {
		client.Close()
		if driver == DriverSQLite {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		return nil, fmt.Errorf("connecting to %s: %w", driver, err)
	}

	if err := checkSchema(ctx, client.conn); err != nil {
		client.Close()
		return nil, err
	}

	if err := client.conn.WithContext(ctx).AutoMigrate(&TicketRecord{}, &CouponRecord{}); err != nil {
		client.Close()
		return nil, fmt.Errorf("migrating history schema: %w", err)
	}

	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &SQLStore{client: client, batchSize: batchSize}, nil
}

// checkSchema fails with ErrCorrupt when the database cannot be listed or a
// tickets table exists without its primary key column.
func checkSchema(ctx context.Context, conn *gorm.DB) error {
	migrator := conn.WithContext(ctx).Migrator()

	tables, err := migrator.GetTables()
	if err != nil {
		return fmt.Errorf("%w: listing tables: %v", ErrCorrupt, err)
	}

	if slices.Contains(tables, TicketRecord{}.TableName()) && !migrator.HasColumn(&TicketRecord{}, "transaction_id") {
		return fmt.Errorf("%w: tickets table has no transaction_id column", ErrCorrupt)
	}
	return nil
}

// MergeTickets appends tickets whose transaction id is not stored yet.
func (s *SQLStore) MergeTickets(ctx context.Context, tickets []types.Ticket) (MergeResult, error) {
	var res MergeResult
	err := s.client.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		res, err = s.mergeTickets(tx, tickets)
		return err
	})
	return res, err
}

// ReplaceCoupons upserts coupons by coupon id.
func (s *SQLStore) ReplaceCoupons(ctx context.Context, coupons []types.Coupon) (int, error) {
	var n int
	err := s.client.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		n, err = s.upsertCoupons(tx, coupons)
		return err
	})
	return n, err
}

// Commit merges tickets and upserts coupons in one transaction.
func (s *SQLStore) Commit(ctx context.Context, tickets []types.Ticket, coupons []types.Coupon) (MergeResult, error) {
	var res MergeResult
	err := s.client.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		if res, err = s.mergeTickets(tx, tickets); err != nil {
			return err
		}
		res.CouponsUpserted, err = s.upsertCoupons(tx, coupons)
		return err
	})
	if err != nil {
		return MergeResult{}, err
	}
	return res, nil
}

func (s *SQLStore) mergeTickets(tx *gorm.DB, tickets []types.Ticket) (MergeResult, error) {
	unique := dedupTickets(tickets)
	res := MergeResult{}

	if len(unique) > 0 {
		records := make([]TicketRecord, len(unique))
		for i, t := range unique {
			records[i] = ticketRecord(t)
		}

		out := tx.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(&records, s.batchSize)
		if out.Error != nil {
			return MergeResult{}, fmt.Errorf("inserting tickets: %w", out.Error)
		}
		res.Added = int(out.RowsAffected)
	}

	res.Skipped = len(tickets) - res.Added
	return res, nil
}

func (s *SQLStore) upsertCoupons(tx *gorm.DB, coupons []types.Coupon) (int, error) {
	unique := dedupCoupons(coupons)
	if len(unique) == 0 {
		return 0, nil
	}

	records := make([]CouponRecord, len(unique))
	for i, c := range unique {
		records[i] = couponRecord(c)
	}

	out := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "coupon_id"}},
		UpdateAll: true,
	}).CreateInBatches(&records, s.batchSize)
	if out.Error != nil {
		return 0, fmt.Errorf("upserting coupons: %w", out.Error)
	}
	return len(records), nil
}

// Tickets returns the full ticket history ordered by date.
func (s *SQLStore) Tickets(ctx context.Context) ([]types.Ticket, error) {
	var records []TicketRecord
	if err := s.client.conn.WithContext(ctx).Order("validation_date, transaction_id").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("loading tickets: %w", err)
	}

	tickets := make([]types.Ticket, len(records))
	for i, r := range records {
		tickets[i] = r.ticket()
	}
	return tickets, nil
}

// Coupons returns every stored coupon ordered by id.
func (s *SQLStore) Coupons(ctx context.Context) ([]types.Coupon, error) {
	var records []CouponRecord
	if err := s.client.conn.WithContext(ctx).Order("coupon_id").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("loading coupons: %w", err)
	}

	coupons := make([]types.Coupon, len(records))
	for i, r := range records {
		coupons[i] = r.coupon()
	}
	return coupons, nil
}

// Close closes the connection pool.
func (s *SQLStore) Close() error {
	return s.client.Close()
}

// toMySQLDSN converts mysql:// and mariadb:// URLs to the driver's DSN
// format. Other values are returned unchanged.
func toMySQLDSN(dsn string) (string, error) {
	if !strings.HasPrefix(dsn, "mariadb://") && !strings.HasPrefix(dsn, "mysql://") {
		return dsn, nil
	}

	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("parse dsn: %w", err)
	}

	user, pass := "", ""
	if u.User != nil {
		user = u.User.Username()
		pass, _ = u.User.Password()
	}
	host := u.Host
	db := strings.TrimPrefix(u.Path, "/")
	if user == "" || host == "" || db == "" {
		return "", fmt.Errorf("incomplete mysql dsn: user, host and database are required")
	}

	return fmt.Sprintf("%s:%s@tcp(%s)/%s?parseTime=true&loc=UTC&charset=utf8mb4", user, pass, host, db), nil
}
