// =============================================================================
// Loyalty KPI Engine - Configuration Module
// =============================================================================
//
// This module is responsible for loading and validating the application
// configuration.
//
// LOADING ORDER:
//   1. config.yaml (or the file passed with --config)
//   2. Built-in defaults for anything left unset
//   3. Environment overrides (LOYALTY_* variables, .env supported)
//   4. Validation (struct tags, then cross-field rules)
//
// =============================================================================

package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "LOYALTY"

// DefaultConfigFile is used when --config is not given.
const DefaultConfigFile = "config.yaml"

// =============================================================================
// MAIN CONFIGURATION STRUCTURE
// =============================================================================

// MainConfig holds the global application configuration.
type MainConfig struct {
	// =========================================================================
	// DIRECTORY SETTINGS
	// =========================================================================

	// InputDir is scanned for transaction and coupon exports.
	// Default: "./input"
	InputDir string `yaml:"input_dir" envconfig:"INPUT_DIR" validate:"required"`

	// OutputDir receives KPI reports, snapshots and run summaries.
	// Default: "./output"
	OutputDir string `yaml:"output_dir" envconfig:"OUTPUT_DIR" validate:"required"`

	// InputArchiveDir receives input files after a successful ingest.
	// Default: "./input_archive"
	InputArchiveDir string `yaml:"input_archive_dir" envconfig:"INPUT_ARCHIVE_DIR"`

	// ArchiveInputs moves ingested files to InputArchiveDir.
	// Default: true
	ArchiveInputs *bool `yaml:"archive_inputs" envconfig:"ARCHIVE_INPUTS"`

	// TransactionsPattern and CouponsPattern are glob patterns matched
	// against file names in InputDir. The newest match wins.
	TransactionsPattern string `yaml:"transactions_pattern" envconfig:"TRANSACTIONS_PATTERN"`
	CouponsPattern      string `yaml:"coupons_pattern" envconfig:"COUPONS_PATTERN"`

	// =========================================================================
	// LOGGING SETTINGS
	// =========================================================================

	// LogLevel controls the verbosity of logging.
	// Valid values: "debug", "info", "warn", "error"
	LogLevel string `yaml:"log_level" envconfig:"LOG_LEVEL" validate:"oneof=trace debug info warn error"`

	// LogFormat selects "json" (default) or "console" output.
	LogFormat string `yaml:"log_format" envconfig:"LOG_FORMAT" validate:"oneof=json console"`

	// =========================================================================
	// OUTPUT SETTINGS
	// =========================================================================

	// OutputNameFormat defines report file names (without extension).
	// Placeholders: {uuid}, {timestamp}, {date}, {table}
	// Default: "{table}_{timestamp}"
	OutputNameFormat string `yaml:"output_name_format" envconfig:"OUTPUT_NAME_FORMAT"`

	// =========================================================================
	// SUB-SECTIONS
	// =========================================================================

	CSVSettings CSVSettings   `yaml:"csv_settings" envconfig:"CSV"`
	Store       StoreConfig   `yaml:"store" envconfig:"STORE"`
	KPI         KPIConfig     `yaml:"kpi" envconfig:"KPI"`
	Report      ReportConfig  `yaml:"report" envconfig:"REPORT"`
	Stock       StockConfig   `yaml:"stock" envconfig:"STOCK"`
	Drive       DriveConfig   `yaml:"drive" envconfig:"DRIVE"`
	Lock        LockConfig    `yaml:"lock" envconfig:"LOCK"`
	Metrics     MetricsConfig `yaml:"metrics" envconfig:"METRICS"`

	// Columns adds source aliases per canonical field. Entries are tried
	// before the built-in aliases.
	//
	// Example:
	//   columns:
	//     transaction_id: ["n_ticket"]
	Columns map[string][]string `yaml:"columns" ignored:"true"`
}

// =============================================================================
// CSV SETTINGS STRUCTURE
// =============================================================================

// CSVSettings contains settings for parsing POS exports.
type CSVSettings struct {
	// Delimiter separates fields. POS exports use ";".
	// Default: ";"
	Delimiter string `yaml:"delimiter" envconfig:"DELIMITER"`

	// HeaderRows is the number of header rows.
	// Default: 1
	HeaderRows int `yaml:"header_rows" envconfig:"HEADER_ROWS" validate:"gte=1"`

	// DataStartRow is the 1-based row where data begins.
	// Default: HeaderRows + 1
	DataStartRow int `yaml:"data_start_row" envconfig:"DATA_START_ROW"`

	// Encoding is the character encoding of the file.
	// Valid values: "UTF-8", "ISO-8859-1", "Windows-1252", "latin1"
	// Default: "UTF-8" (a leading BOM is stripped)
	Encoding string `yaml:"encoding" envconfig:"ENCODING"`
}

// =============================================================================
// STORE CONFIGURATION
// =============================================================================

// StoreConfig selects and configures the historical store backend.
type StoreConfig struct {
	// Driver is one of "sqlite", "mysql", "postgres", "parquet".
	// Default: "sqlite"
	Driver string `yaml:"driver" envconfig:"DRIVER" validate:"oneof=sqlite mysql postgres parquet"`

	// Path is the sqlite database file.
	// Default: "./data/history.db"
	Path string `yaml:"path" envconfig:"PATH"`

	// Dir holds tickets.parquet and coupons.parquet for the parquet driver.
	// Default: "./data"
	Dir string `yaml:"dir" envconfig:"DIR"`

	// DSN is the connection string for mysql/postgres. mysql:// and
	// mariadb:// URLs are converted to the driver format.
	DSN string `yaml:"dsn" envconfig:"DSN"`

	// BatchSize is the insert batch size.
	// Default: 500
	BatchSize int `yaml:"batch_size" envconfig:"BATCH_SIZE" validate:"gte=0"`

	// ReadOnly opens a local store without touching the disk: a missing
	// store reads as empty and a corrupt one is an error instead of being
	// moved aside. Set by dry runs, never read from the file.
	ReadOnly bool `yaml:"-" ignored:"true"`
}

// =============================================================================
// KPI CONFIGURATION
// =============================================================================

// CouponShare values.
const (
	CouponShareFull         = "full"
	CouponShareProportional = "proportional"
)

// KPIConfig tunes ticket aggregation.
type KPIConfig struct {
	// CouponTenderLabels are tender labels that mark a coupon-funded payment.
	// Default: ["COUPON"]
	CouponTenderLabels []string `yaml:"coupon_tender_labels" envconfig:"COUPON_TENDER_LABELS"`

	// CouponShare selects how amount_paid_by_coupon is derived.
	//   "full"         : the whole ticket total when any coupon tender exists
	//   "proportional" : the coupon tender amounts, capped at the ticket total
	// Default: "full"
	CouponShare string `yaml:"coupon_share" envconfig:"COUPON_SHARE" validate:"oneof=full proportional"`
}

// =============================================================================
// REPORT CONFIGURATION
// =============================================================================

// Sink names accepted in report.sinks.
const (
	SinkXLSX     = "xlsx"
	SinkCSV      = "csv"
	SinkSheets   = "sheets"
	SinkBigQuery = "bigquery"
)

// ReportConfig lists the sinks the KPI table is published to.
type ReportConfig struct {
	// Sinks is the list of enabled sinks.
	// Default: ["xlsx"]
	Sinks []string `yaml:"sinks" envconfig:"SINKS" validate:"dive,oneof=xlsx csv sheets bigquery"`

	// KpiTable and StockTable name the published tables (sheet tab,
	// BigQuery table, file prefix).
	KpiTable   string `yaml:"kpi_table" envconfig:"KPI_TABLE"`
	StockTable string `yaml:"stock_table" envconfig:"STOCK_TABLE"`

	Sheets   SheetsConfig   `yaml:"sheets" envconfig:"SHEETS"`
	BigQuery BigQueryConfig `yaml:"bigquery" envconfig:"BIGQUERY"`
}

// SheetsConfig configures the Google Sheets sink.
type SheetsConfig struct {
	SpreadsheetID   string `yaml:"spreadsheet_id" envconfig:"SPREADSHEET_ID"`
	CredentialsFile string `yaml:"credentials_file" envconfig:"CREDENTIALS_FILE"`
	CredentialsJSON string `yaml:"credentials_json" envconfig:"CREDENTIALS_JSON"`
}

// BigQueryConfig configures the BigQuery sink.
type BigQueryConfig struct {
	ProjectID       string `yaml:"project_id" envconfig:"PROJECT_ID"`
	Dataset         string `yaml:"dataset" envconfig:"DATASET"`
	CredentialsFile string `yaml:"credentials_file" envconfig:"CREDENTIALS_FILE"`
	CredentialsJSON string `yaml:"credentials_json" envconfig:"CREDENTIALS_JSON"`
}

// =============================================================================
// STOCK / DRIVE / LOCK / METRICS
// =============================================================================

// StockConfig configures the stock valuation command.
type StockConfig struct {
	// StockDir holds one stock CSV per store.
	StockDir string `yaml:"stock_dir" envconfig:"DIR"`

	// StockPattern is matched against file names in StockDir.
	// Default: "*.csv"
	StockPattern string `yaml:"stock_pattern" envconfig:"PATTERN"`

	// ProductFile is the product base workbook (SKU, PurchasingPrice, Brand).
	ProductFile string `yaml:"product_file" envconfig:"PRODUCT_FILE"`

	// HistoryFile accumulates valuations across runs.
	// Default: "./data/stock_history.csv"
	HistoryFile string `yaml:"history_file" envconfig:"HISTORY_FILE"`
}

// DriveConfig configures the snapshot upload to Google Drive.
type DriveConfig struct {
	FolderID        string `yaml:"folder_id" envconfig:"FOLDER_ID"`
	CredentialsFile string `yaml:"credentials_file" envconfig:"CREDENTIALS_FILE"`
	CredentialsJSON string `yaml:"credentials_json" envconfig:"CREDENTIALS_JSON"`
}

// LockConfig configures the run lock. An empty RedisURL disables it.
type LockConfig struct {
	RedisURL string        `yaml:"redis_url" envconfig:"REDIS_URL"`
	Key      string        `yaml:"key" envconfig:"KEY"`
	TTL      time.Duration `yaml:"ttl" envconfig:"TTL"`
}

// MetricsConfig configures the Pushgateway export. An empty URL disables it.
type MetricsConfig struct {
	PushgatewayURL string `yaml:"pushgateway_url" envconfig:"PUSHGATEWAY_URL"`
	Job            string `yaml:"job" envconfig:"JOB"`
}

// =============================================================================
// CONFIGURATION LOADING FUNCTIONS
// =============================================================================

// LoadMainConfig loads the main configuration from a YAML file.
//
// PARAMETERS:
//   - configPath: The path to the main configuration file. A missing file is
//     only tolerated for DefaultConfigFile; defaults and environment then apply.
//
// RETURNS:
//   - A pointer to the MainConfig struct.
//   - An error if the file cannot be read, parsed, or validated.
func LoadMainConfig(configPath string) (*MainConfig, error) {
	var config MainConfig

	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case errors.Is(err, os.ErrNotExist) && configPath == DefaultConfigFile:
		// Run on defaults and environment only.
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	applyMainConfigDefaults(&config)

	if err := envconfig.Process(EnvPrefix, &config); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := validateMainConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// applyMainConfigDefaults sets default values for any unset configuration options.
func applyMainConfigDefaults(config *MainConfig) {
	if config.InputDir == "" {
		config.InputDir = "./input"
	}
	if config.OutputDir == "" {
		config.OutputDir = "./output"
	}
	if config.InputArchiveDir == "" {
		config.InputArchiveDir = "./input_archive"
	}
	if config.ArchiveInputs == nil {
		archive := true
		config.ArchiveInputs = &archive
	}
	if config.TransactionsPattern == "" {
		config.TransactionsPattern = "*transaction*.csv"
	}
	if config.CouponsPattern == "" {
		config.CouponsPattern = "*coupon*.csv"
	}
	if config.LogLevel == "" {
		config.LogLevel = "info"
	}
	if config.LogFormat == "" {
		config.LogFormat = "json"
	}
	if config.OutputNameFormat == "" {
		config.OutputNameFormat = "{table}_{timestamp}"
	}

	// CSV settings defaults.
	if config.CSVSettings.Delimiter == "" {
		config.CSVSettings.Delimiter = ";"
	}
	if config.CSVSettings.HeaderRows == 0 {
		config.CSVSettings.HeaderRows = 1
	}
	if config.CSVSettings.DataStartRow == 0 {
		config.CSVSettings.DataStartRow = config.CSVSettings.HeaderRows + 1
	}
	if config.CSVSettings.Encoding == "" {
		config.CSVSettings.Encoding = "UTF-8"
	}

	// Store defaults.
	if config.Store.Driver == "" {
		config.Store.Driver = "sqlite"
	}
	if config.Store.Path == "" {
		config.Store.Path = "./data/history.db"
	}
	if config.Store.Dir == "" {
		config.Store.Dir = "./data"
	}
	if config.Store.BatchSize == 0 {
		config.Store.BatchSize = 500
	}

	// KPI defaults.
	if len(config.KPI.CouponTenderLabels) == 0 {
		config.KPI.CouponTenderLabels = []string{"COUPON"}
	}
	if config.KPI.CouponShare == "" {
		config.KPI.CouponShare = CouponShareFull
	}

	// Report defaults.
	if len(config.Report.Sinks) == 0 {
		config.Report.Sinks = []string{SinkXLSX}
	}
	if config.Report.KpiTable == "" {
		config.Report.KpiTable = "KPI_Fidelite"
	}
	if config.Report.StockTable == "" {
		config.Report.StockTable = "KPI_Stock"
	}

	// Stock defaults.
	if config.Stock.StockPattern == "" {
		config.Stock.StockPattern = "*.csv"
	}
	if config.Stock.HistoryFile == "" {
		config.Stock.HistoryFile = "./data/stock_history.csv"
	}

	// Lock defaults.
	if config.Lock.Key == "" {
		config.Lock.Key = "loyaltykpi:ingest"
	}
	if config.Lock.TTL == 0 {
		config.Lock.TTL = 10 * time.Minute
	}

	if config.Metrics.Job == "" {
		config.Metrics.Job = "loyaltykpi"
	}
}

// validateMainConfig validates the main configuration.
func validateMainConfig(config *MainConfig) error {
	if err := validator.New().Struct(config); err != nil {
		return err
	}

	switch strings.ToLower(strings.ReplaceAll(config.CSVSettings.Encoding, "_", "-")) {
	case "utf-8", "utf8", "iso-8859-1", "latin1", "windows-1252", "cp1252":
	default:
		return fmt.Errorf("unsupported csv encoding %q", config.CSVSettings.Encoding)
	}

	if config.CSVSettings.DataStartRow <= config.CSVSettings.HeaderRows {
		return fmt.Errorf("data_start_row (%d) must come after the header rows (%d)",
			config.CSVSettings.DataStartRow, config.CSVSettings.HeaderRows)
	}

	switch config.Store.Driver {
	case "mysql", "postgres":
		if strings.TrimSpace(config.Store.DSN) == "" {
			return fmt.Errorf("store.dsn is required for the %s driver", config.Store.Driver)
		}
	}

	for _, sink := range config.Report.Sinks {
		switch sink {
		case SinkSheets:
			if config.Report.Sheets.SpreadsheetID == "" {
				return fmt.Errorf("report.sheets.spreadsheet_id is required for the sheets sink")
			}
		case SinkBigQuery:
			if config.Report.BigQuery.ProjectID == "" || config.Report.BigQuery.Dataset == "" {
				return fmt.Errorf("report.bigquery.project_id and dataset are required for the bigquery sink")
			}
		}
	}

	// Create local directories if they don't exist.
	dirs := []string{config.InputDir, config.OutputDir}
	if config.ArchiveInputs != nil && *config.ArchiveInputs {
		dirs = append(dirs, config.InputArchiveDir)
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// ShouldArchive reports whether ingested inputs are moved to the archive.
func (c *MainConfig) ShouldArchive() bool {
	return c.ArchiveInputs == nil || *c.ArchiveInputs
}
