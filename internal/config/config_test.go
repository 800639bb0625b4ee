package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stock-trend-lab/internal/domain"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "1y", c.Fetch.DefaultLookback)
	assert.Equal(t, 400*time.Millisecond, c.Fetch.Pacing())
	assert.Equal(t, 100, c.Fetch.CheckpointSize)
	assert.Equal(t, 1, c.Fetch.Workers)
	assert.Equal(t, 21, c.Aggregate.TrendWindow)
	assert.Equal(t, "1", c.Aggregate.MinPriceDecimal().String())
	assert.Equal(t, []int{20, 50, 200}, c.Aggregate.MAWindows)
	assert.Equal(t, "badger", c.Storage.Backend)
	assert.Equal(t, 168*time.Hour, c.Quarantine.TTL)
	assert.True(t, c.Universe.AllowSuffixes)
	assert.Equal(t, "eodhd", c.Source.Name)

	lb, err := c.Fetch.Lookback()
	require.NoError(t, err)
	assert.Equal(t, domain.MustLookback("1y"), lb)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
fetch:
  default_lookback: 90d
  pacing_delay: 0
  checkpoint_size: 25
aggregate:
  trend_window: 5
  min_price: 0
  ma_windows: [10]
universe:
  allow_suffixes: false
storage:
  backend: csv
  csv_path: /tmp/prices.csv
quarantine:
  ttl: 1h
`)

	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "90d", c.Fetch.DefaultLookback)
	assert.Equal(t, time.Duration(0), c.Fetch.Pacing())
	assert.Equal(t, 25, c.Fetch.CheckpointSize)
	assert.Equal(t, 5, c.Aggregate.TrendWindow)
	assert.True(t, c.Aggregate.MinPriceDecimal().IsZero(), "explicit zero must survive defaults")
	assert.Equal(t, []int{10}, c.Aggregate.MAWindows)
	assert.False(t, c.Universe.AllowSuffixes)
	assert.Equal(t, "/tmp/prices.csv", c.Storage.CSVPath)
	assert.Equal(t, time.Hour, c.Quarantine.TTL)
	assert.Equal(t, 21, c.Aggregate.MATrendWindow, "untouched fields keep defaults")
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"trend window below 2", "aggregate:\n  trend_window: 1\n"},
		{"bad lookback", "fetch:\n  default_lookback: 3w\n"},
		{"negative pacing", "fetch:\n  pacing_delay: -1\n"},
		{"zero checkpoint", "fetch:\n  checkpoint_size: 0\n"},
		{"unknown backend", "storage:\n  backend: sqlite\n"},
		{"postgres without dsn", "storage:\n  backend: postgres\n"},
		{"unknown source", "source:\n  name: yahoo\n"},
		{"bad timezone", "fetch:\n  timezone: Mars/Olympus\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadWithEnv_Overrides(t *testing.T) {
	t.Setenv("EODHD_API_KEY", "secret")
	t.Setenv("STORAGE_BACKEND", "postgres")
	t.Setenv("POSTGRES_DSN", "postgres://u:p@localhost:5432/db")
	t.Setenv("KAFKA_BROKERS", "a:9092,b:9092")
	t.Setenv("LOG_LEVEL", "DEBUG")

	c, err := LoadWithEnv("")
	require.NoError(t, err)

	assert.Equal(t, "secret", c.Source.EODHD.APIKey)
	assert.Equal(t, "postgres", c.Storage.Backend)
	assert.Equal(t, "postgres://u:p@localhost:5432/db", c.Storage.PostgresDSN)
	assert.Equal(t, []string{"a:9092", "b:9092"}, c.Kafka.Brokers)
	assert.Equal(t, "debug", c.Logging.Level)
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("STOCKTREND_TEST_KEY=from-file\n"), 0o644))
	t.Setenv("STOCKTREND_TEST_KEY", "")
	os.Unsetenv("STOCKTREND_TEST_KEY")

	require.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "missing.env"), path))
	assert.Equal(t, "from-file", os.Getenv("STOCKTREND_TEST_KEY"))
}

func TestScheduleLocation_FallsBackToFetch(t *testing.T) {
	c := Default()
	loc, err := c.ScheduleLocation()
	require.NoError(t, err)
	assert.Equal(t, "America/New_York", loc.String())

	c.Schedule.Timezone = "UTC"
	loc, err = c.ScheduleLocation()
	require.NoError(t, err)
	assert.Equal(t, "UTC", loc.String())
}
