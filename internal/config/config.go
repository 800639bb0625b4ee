// Package config loads the YAML configuration of the screener.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"stock-trend-lab/internal/domain"
)

var validate = validator.New()

// Config is the full configuration.
type Config struct {
	Fetch      FetchConfig      `yaml:"fetch"`
	Source     SourceConfig     `yaml:"source"`
	Aggregate  AggregateConfig  `yaml:"aggregate"`
	Storage    StorageConfig    `yaml:"storage"`
	Quarantine QuarantineConfig `yaml:"quarantine"`
	Universe   UniverseConfig   `yaml:"universe"`
	Schedule   ScheduleConfig   `yaml:"schedule"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Output     OutputConfig     `yaml:"output"`
}

// FetchConfig controls planning and fetching.
type FetchConfig struct {
	DefaultLookback string  `yaml:"default_lookback" default:"1y" validate:"required"`
	PacingDelay     float64 `yaml:"pacing_delay" default:"0.4" validate:"gte=0"` // seconds between call starts
	CheckpointSize  int     `yaml:"checkpoint_size" default:"100" validate:"gte=1"`
	Workers         int     `yaml:"workers" default:"1" validate:"gte=1,lte=32"`
	InactivityDays  int     `yaml:"inactivity_days" validate:"gte=0"` // 0 disables
	Timezone        string  `yaml:"timezone" default:"America/New_York" validate:"required"`
}

// SourceConfig selects and configures the upstream price source.
type SourceConfig struct {
	Name   string       `yaml:"name" default:"eodhd" validate:"oneof=eodhd alpaca stub"`
	EODHD  EODHDConfig  `yaml:"eodhd"`
	Alpaca AlpacaConfig `yaml:"alpaca"`
}

// EODHDConfig configures the EODHD end-of-day client.
type EODHDConfig struct {
	APIKey    string        `yaml:"api_key"`
	BaseURL   string        `yaml:"base_url"`
	Exchange  string        `yaml:"exchange" default:"US"`
	RateLimit float64       `yaml:"rate_limit" validate:"gte=0"` // requests per second, 0 = pacing only
	Timeout   time.Duration `yaml:"timeout" default:"30s"`
}

// AlpacaConfig configures the Alpaca market data client.
type AlpacaConfig struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
	Feed      string `yaml:"feed" default:"iex" validate:"oneof=iex sip"`
}

// AggregateConfig controls the aggregation engine.
type AggregateConfig struct {
	TrendWindow     int     `yaml:"trend_window" default:"21" validate:"gte=2"`
	MinPrice        float64 `yaml:"min_price" default:"1.0" validate:"gte=0"`
	MinGroupTickers int     `yaml:"min_group_tickers" default:"1" validate:"gte=1"`
	PeriodDays      int     `yaml:"period_days" validate:"gte=0"` // 0 = full history
	MAWindows       []int   `yaml:"ma_windows" default:"[20,50,200]" validate:"dive,gte=1"`
	MATrendWindow   int     `yaml:"ma_trend_window" default:"21" validate:"gte=2"`
	GroupMAWindow   int     `yaml:"group_ma_window" default:"50" validate:"gte=0"`
	GroupMATop      int     `yaml:"group_ma_top" default:"5" validate:"gte=0"`
	ReportTop       int     `yaml:"report_top" default:"10" validate:"gte=1"`
}

// StorageConfig selects the price history backend.
type StorageConfig struct {
	Backend       string `yaml:"backend" default:"badger" validate:"oneof=memory badger csv postgres clickhouse"`
	BadgerDir     string `yaml:"badger_dir" default:"data/badger" validate:"required_if=Backend badger"`
	CSVPath       string `yaml:"csv_path" default:"data/price_history.csv" validate:"required_if=Backend csv"`
	PostgresDSN   string `yaml:"postgres_dsn" validate:"required_if=Backend postgres"`
	ClickHouseDSN string `yaml:"clickhouse_dsn" validate:"required_if=Backend clickhouse"`
}

// QuarantineConfig controls quarantine of repeatedly failing tickers.
type QuarantineConfig struct {
	After   int           `yaml:"after" default:"3" validate:"gte=0"` // consecutive failures, 0 disables
	Backend string        `yaml:"backend" default:"memory" validate:"oneof=memory redis postgres"`
	TTL     time.Duration `yaml:"ttl" default:"168h"`
	Redis   RedisConfig   `yaml:"redis"`
}

// RedisConfig configures the Redis quarantine store.
type RedisConfig struct {
	Addr     string `yaml:"addr" default:"localhost:6379"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix" default:"stocktrend"`
}

// UniverseConfig locates and filters the ticker universe file.
type UniverseConfig struct {
	File          string  `yaml:"file" default:"data/universe.csv" validate:"required"`
	MinMarketCap  float64 `yaml:"min_market_cap" validate:"gte=0"`
	MinAvgVolume  int64   `yaml:"min_avg_volume" validate:"gte=0"`
	AllowSuffixes bool    `yaml:"allow_suffixes" default:"true"`
}

// ScheduleConfig drives scheduled runs.
type ScheduleConfig struct {
	Cron     string `yaml:"cron" default:"30 18 * * 1-5"`
	Timezone string `yaml:"timezone"` // defaults to fetch.timezone
}

// KafkaConfig enables slope publication when Brokers is set.
type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic" default:"stock-trend-slopes"`
	WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
}

// LoggingConfig configures zerolog output.
type LoggingConfig struct {
	Level  string        `yaml:"level" default:"info" validate:"oneof=trace debug info warn error"`
	Format string        `yaml:"format" default:"console" validate:"oneof=console json"`
	Output string        `yaml:"output" default:"stderr" validate:"oneof=stdout stderr file"`
	File   LogFileConfig `yaml:"file"`
}

// LogFileConfig configures rotating file output.
type LogFileConfig struct {
	Path       string `yaml:"path" default:"logs/screener.log"`
	MaxSizeMB  int    `yaml:"max_size_mb" default:"100"`
	MaxBackups int    `yaml:"max_backups" default:"5"`
	MaxAgeDays int    `yaml:"max_age_days" default:"30"`
	Compress   bool   `yaml:"compress"`
}

// MetricsConfig exposes Prometheus metrics when Addr is set.
type MetricsConfig struct {
	Addr      string `yaml:"addr"`
	Namespace string `yaml:"namespace" default:"stock_trend_lab"`
}

// OutputConfig locates derived files.
type OutputConfig struct {
	Dir string `yaml:"dir" default:"output" validate:"required"`
}

// Default returns a config with every default applied.
func Default() *Config {
	var c Config
	if err := defaults.Set(&c); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return &c
}

// Load reads and parses a YAML configuration file over the defaults.
// An empty path yields the defaults.
func Load(path string) (*Config, error) {
	c, err := read(path)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// LoadWithEnv loads .env if present, then the YAML config, and overrides
// it with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	if err := LoadDotEnv(".env"); err != nil {
		return nil, err
	}

	c, err := read(path)
	if err != nil {
		return nil, err
	}
	applyEnv(c)

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func read(path string) (*Config, error) {
	c := Default()
	if path == "" {
		return c, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return c, nil
}

// LoadDotEnv loads variables from the given files. Missing files are
// skipped; variables already set are not overwritten.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

func applyEnv(c *Config) {
	if v := os.Getenv("EODHD_API_KEY"); v != "" {
		c.Source.EODHD.APIKey = v
	}
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		c.Source.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		c.Source.Alpaca.APISecret = v
	}
	if v := os.Getenv("PRICE_SOURCE"); v != "" {
		c.Source.Name = v
	}
	if v := os.Getenv("STORAGE_BACKEND"); v != "" {
		c.Storage.Backend = v
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		c.Storage.PostgresDSN = v
	}
	if v := os.Getenv("CLICKHOUSE_DSN"); v != "" {
		c.Storage.ClickHouseDSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Quarantine.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Quarantine.Redis.Password = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
}

// Validate checks struct tags and the values tags cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if _, err := c.Fetch.Lookback(); err != nil {
		return fmt.Errorf("fetch.default_lookback: %w", err)
	}
	if _, err := c.Fetch.Location(); err != nil {
		return fmt.Errorf("fetch.timezone: %w", err)
	}
	if c.Schedule.Timezone != "" {
		if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
			return fmt.Errorf("schedule.timezone: %w", err)
		}
	}
	return nil
}

// Lookback parses DefaultLookback.
func (f FetchConfig) Lookback() (domain.Lookback, error) {
	return domain.ParseLookback(f.DefaultLookback)
}

// Pacing returns PacingDelay as a duration.
func (f FetchConfig) Pacing() time.Duration {
	return time.Duration(f.PacingDelay * float64(time.Second))
}

// Location loads the exchange timezone used to assign trading dates.
func (f FetchConfig) Location() (*time.Location, error) {
	return time.LoadLocation(f.Timezone)
}

// MinPriceDecimal returns MinPrice as a decimal.
func (a AggregateConfig) MinPriceDecimal() decimal.Decimal {
	return decimal.NewFromFloat(a.MinPrice)
}

// ScheduleLocation returns the schedule timezone, falling back to the fetch timezone.
func (c *Config) ScheduleLocation() (*time.Location, error) {
	if c.Schedule.Timezone != "" {
		return time.LoadLocation(c.Schedule.Timezone)
	}
	return c.Fetch.Location()
}
