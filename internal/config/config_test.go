package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return dir, path
}

func TestLoadMainConfig_AppliesDefaults(t *testing.T) {
	dir, path := writeConfig(t, "")
	t.Chdir(dir)

	cfg, err := LoadMainConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ";", cfg.CSVSettings.Delimiter)
	assert.Equal(t, 1, cfg.CSVSettings.HeaderRows)
	assert.Equal(t, 2, cfg.CSVSettings.DataStartRow)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, []string{"COUPON"}, cfg.KPI.CouponTenderLabels)
	assert.Equal(t, CouponShareFull, cfg.KPI.CouponShare)
	assert.Equal(t, []string{SinkXLSX}, cfg.Report.Sinks)
	assert.Equal(t, 10*time.Minute, cfg.Lock.TTL)
	assert.True(t, cfg.ShouldArchive())
	assert.DirExists(t, filepath.Join(dir, "input"))
	assert.DirExists(t, filepath.Join(dir, "output"))
}

func TestLoadMainConfig_ReadsYAML(t *testing.T) {
	dir, path := writeConfig(t, `
input_dir: in
output_dir: out
archive_inputs: false
store:
  driver: parquet
  dir: hist
kpi:
  coupon_share: proportional
  coupon_tender_labels: [COUPON, BON]
report:
  sinks: [csv, xlsx]
lock:
  ttl: 90s
columns:
  transaction_id: [n_ticket]
`)
	t.Chdir(dir)

	cfg, err := LoadMainConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "parquet", cfg.Store.Driver)
	assert.Equal(t, "hist", cfg.Store.Dir)
	assert.Equal(t, CouponShareProportional, cfg.KPI.CouponShare)
	assert.Equal(t, []string{"COUPON", "BON"}, cfg.KPI.CouponTenderLabels)
	assert.Equal(t, []string{"csv", "xlsx"}, cfg.Report.Sinks)
	assert.Equal(t, 90*time.Second, cfg.Lock.TTL)
	assert.Equal(t, []string{"n_ticket"}, cfg.Columns["transaction_id"])
	assert.False(t, cfg.ShouldArchive())
}

func TestLoadMainConfig_EnvironmentOverridesYAML(t *testing.T) {
	dir, path := writeConfig(t, "log_level: info\nstore:\n  driver: sqlite\n")
	t.Chdir(dir)
	t.Setenv("LOYALTY_LOG_LEVEL", "debug")
	t.Setenv("LOYALTY_STORE_DRIVER", "postgres")
	t.Setenv("LOYALTY_STORE_DSN", "postgres://kpi@localhost/kpi")

	cfg, err := LoadMainConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://kpi@localhost/kpi", cfg.Store.DSN)
}

func TestLoadMainConfig_Validation(t *testing.T) {
	cases := map[string]string{
		"unknown driver":    "store:\n  driver: duckdb\n",
		"mysql without dsn": "store:\n  driver: mysql\n",
		"unknown sink":      "report:\n  sinks: [pdf]\n",
		"sheets without id": "report:\n  sinks: [sheets]\n",
		"bad encoding":      "csv_settings:\n  encoding: EBCDIC\n",
		"bad coupon share":  "kpi:\n  coupon_share: half\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			dir, path := writeConfig(t, body)
			t.Chdir(dir)
			_, err := LoadMainConfig(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadMainConfig_MissingFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	_, err := LoadMainConfig(DefaultConfigFile)
	require.NoError(t, err)

	_, err = LoadMainConfig(filepath.Join(dir, "elsewhere.yaml"))
	assert.Error(t, err)
}
