package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"stock-trend-lab/internal/config"
	"stock-trend-lab/internal/domain"
	"stock-trend-lab/internal/ingestion"
	"stock-trend-lab/internal/metrics"
	"stock-trend-lab/internal/observability"
	"stock-trend-lab/internal/pricesource"
	"stock-trend-lab/internal/publish"
	"stock-trend-lab/internal/reporting"
	"stock-trend-lab/internal/storage"
	badgerstore "stock-trend-lab/internal/storage/badger"
	chstore "stock-trend-lab/internal/storage/clickhouse"
	"stock-trend-lab/internal/storage/csvfile"
	"stock-trend-lab/internal/storage/memory"
	"stock-trend-lab/internal/storage/migrations"
	"stock-trend-lab/internal/storage/postgres"
	redisstore "stock-trend-lab/internal/storage/redis"
	"stock-trend-lab/internal/universe"
)

// ErrRunScopedQuarantine is returned when the quarantine backend keeps no
// state between runs.
var ErrRunScopedQuarantine = errors.New("quarantine backend memory keeps no state between runs")

// Resources holds the backends opened from configuration.
type Resources struct {
	Store      storage.PriceStore
	Quarantine storage.QuarantineStore // nil for the run-scoped memory backend
	MetaStore  storage.TickerMetaStore // postgres backend only, may be nil
	Source     pricesource.Source
	Publisher  publish.SlopePublisher

	pool    *postgres.Pool
	closers []func() error
}

// Close releases every backend in reverse opening order.
func (r *Resources) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

// postgresPool opens the shared pool once and applies the migrations.
func (r *Resources) postgresPool(ctx context.Context, dsn string) (*postgres.Pool, error) {
	if r.pool != nil {
		return r.pool, nil
	}
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	pool, err := postgres.NewPool(ctx, dsn)
	if err != nil {
		return nil, err
	}
	r.pool = pool
	r.closers = append(r.closers, func() error { pool.Close(); return nil })

	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		return nil, err
	}
	return pool, nil
}

// Open opens the price store, quarantine store, price source and slope
// publisher described by cfg. The store is instrumented with m.
func Open(ctx context.Context, cfg *config.Config, m *observability.Metrics, logger *zerolog.Logger) (*Resources, error) {
	r := &Resources{}
	if err := r.open(ctx, cfg, m, logger); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

func (r *Resources) open(ctx context.Context, cfg *config.Config, m *observability.Metrics, logger *zerolog.Logger) error {
	store, err := r.openPriceStore(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Storage.Backend, err)
	}
	r.Store = observability.InstrumentPriceStore(store, cfg.Storage.Backend, m)

	if cfg.Storage.Backend == "postgres" {
		pool, err := r.postgresPool(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return err
		}
		r.MetaStore = postgres.NewTickerMetaStore(pool)
	}

	if err := r.openQuarantine(ctx, cfg); err != nil {
		return err
	}

	r.Source, err = NewSource(cfg.Source, logger)
	if err != nil {
		return err
	}

	r.Publisher, err = NewPublisher(cfg.Kafka, logger)
	if err != nil {
		return err
	}
	r.closers = append(r.closers, r.Publisher.Close)
	return nil
}

// openQuarantine opens the persisted quarantine store. The memory backend
// leaves r.Quarantine nil and each update run gets its own store.
func (r *Resources) openQuarantine(ctx context.Context, cfg *config.Config) error {
	switch cfg.Quarantine.Backend {
	case "redis":
		qs, err := redisstore.NewQuarantineStore(ctx, redisstore.Options{
			Addr:     cfg.Quarantine.Redis.Addr,
			Password: cfg.Quarantine.Redis.Password,
			DB:       cfg.Quarantine.Redis.DB,
			Prefix:   cfg.Quarantine.Redis.Prefix,
			TTL:      cfg.Quarantine.TTL,
		})
		if err != nil {
			return fmt.Errorf("open redis quarantine: %w", err)
		}
		r.Quarantine = qs
		r.closers = append(r.closers, qs.Close)
	case "postgres":
		pool, err := r.postgresPool(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return fmt.Errorf("open postgres quarantine: %w", err)
		}
		r.Quarantine = postgres.NewQuarantineStore(pool, cfg.Quarantine.TTL)
	}
	return nil
}

// OpenQuarantineStore opens only the configured quarantine store.
// It returns ErrRunScopedQuarantine for the memory backend.
func OpenQuarantineStore(ctx context.Context, cfg *config.Config) (storage.QuarantineStore, func() error, error) {
	r := &Resources{}
	if err := r.openQuarantine(ctx, cfg); err != nil {
		r.Close()
		return nil, nil, err
	}
	if r.Quarantine == nil {
		return nil, nil, ErrRunScopedQuarantine
	}
	return r.Quarantine, r.Close, nil
}

// OpenPriceStore opens only the configured price store.
func OpenPriceStore(ctx context.Context, cfg config.StorageConfig) (storage.PriceStore, func() error, error) {
	r := &Resources{}
	store, err := r.openPriceStore(ctx, cfg)
	if err != nil {
		r.Close()
		return nil, nil, err
	}
	return store, r.Close, nil
}

func (r *Resources) openPriceStore(ctx context.Context, cfg config.StorageConfig) (storage.PriceStore, error) {
	switch cfg.Backend {
	case "memory":
		return memory.NewPriceStore(), nil
	case "badger":
		db, err := badgerstore.Open(cfg.BadgerDir)
		if err != nil {
			return nil, err
		}
		r.closers = append(r.closers, db.Close)
		return badgerstore.NewPriceStore(db), nil
	case "csv":
		return csvfile.NewPriceStore(cfg.CSVPath), nil
	case "postgres":
		pool, err := r.postgresPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return postgres.NewPriceStore(pool), nil
	case "clickhouse":
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickHouseDSN)
		if err != nil {
			return nil, err
		}
		r.closers = append(r.closers, conn.Close)
		return chstore.NewPriceStore(conn), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// NewSource creates the configured upstream price source.
func NewSource(cfg config.SourceConfig, logger *zerolog.Logger) (pricesource.Source, error) {
	switch cfg.Name {
	case "eodhd":
		if cfg.EODHD.APIKey == "" {
			return nil, errors.New("source.eodhd.api_key is required (or EODHD_API_KEY)")
		}
		opts := []pricesource.EODHDOption{
			pricesource.WithExchange(cfg.EODHD.Exchange),
			pricesource.WithHTTPClient(&http.Client{Timeout: cfg.EODHD.Timeout}),
		}
		if cfg.EODHD.BaseURL != "" {
			opts = append(opts, pricesource.WithBaseURL(cfg.EODHD.BaseURL))
		}
		if cfg.EODHD.RateLimit > 0 {
			opts = append(opts, pricesource.WithRateLimit(cfg.EODHD.RateLimit))
		}
		if logger != nil {
			opts = append(opts, pricesource.WithLogger(*logger))
		}
		return pricesource.NewEODHD(cfg.EODHD.APIKey, opts...), nil
	case "alpaca":
		if cfg.Alpaca.APIKey == "" || cfg.Alpaca.APISecret == "" {
			return nil, errors.New("source.alpaca api_key and api_secret are required")
		}
		return pricesource.NewAlpaca(pricesource.AlpacaConfig{
			APIKey:    cfg.Alpaca.APIKey,
			APISecret: cfg.Alpaca.APISecret,
			BaseURL:   cfg.Alpaca.BaseURL,
			Feed:      cfg.Alpaca.Feed,
		}), nil
	case "stub":
		s := pricesource.NewStub(nil)
		s.Generate = true
		return s, nil
	default:
		return nil, fmt.Errorf("unknown price source %q", cfg.Name)
	}
}

// NewPublisher creates a Kafka slope publisher, or a no-op one when no
// broker is configured.
func NewPublisher(cfg config.KafkaConfig, logger *zerolog.Logger) (publish.SlopePublisher, error) {
	if len(cfg.Brokers) == 0 {
		return publish.Nop{}, nil
	}
	return publish.NewKafkaPublisher(publish.KafkaOptions{
		Brokers:      cfg.Brokers,
		Topic:        cfg.Topic,
		WriteTimeout: cfg.WriteTimeout,
		Logger:       logger,
	})
}

// NewFromConfig builds a pipeline over opened resources.
func NewFromConfig(cfg *config.Config, res *Resources, m *observability.Metrics, logger *zerolog.Logger) (*Pipeline, error) {
	lookback, err := cfg.Fetch.Lookback()
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Fetch.Location()
	if err != nil {
		return nil, err
	}

	engine, err := metrics.NewEngine(metrics.EngineOptions{
		Config:  EngineConfig(cfg.Aggregate),
		Metrics: m,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}

	return New(Options{
		Store:      res.Store,
		Quarantine: res.Quarantine,
		MetaStore:  res.MetaStore,
		Source:     res.Source,
		Publisher:  res.Publisher,
		Reports:    reporting.NewGenerator(cfg.Output.Dir).WithTop(cfg.Aggregate.ReportTop),
		Engine:     engine,
		Fetch: FetchSettings{
			Plan: ingestion.PlanConfig{
				DefaultLookback: lookback,
				InactivityDays:  cfg.Fetch.InactivityDays,
			},
			PacingDelay:     cfg.Fetch.Pacing(),
			CheckpointSize:  cfg.Fetch.CheckpointSize,
			Workers:         cfg.Fetch.Workers,
			QuarantineAfter: cfg.Quarantine.After,
			QuarantineTTL:   cfg.Quarantine.TTL,
		},
		Location:      loc,
		UniverseFile:  cfg.Universe.File,
		UniverseRules: UniverseRules(cfg.Universe),
		Metrics:       m,
		Logger:        logger,
	}), nil
}

// EngineConfig converts the aggregate section into engine settings.
func EngineConfig(c config.AggregateConfig) metrics.Config {
	return metrics.Config{
		TrendWindow:     c.TrendWindow,
		MinPrice:        c.MinPriceDecimal(),
		MinGroupTickers: c.MinGroupTickers,
		PeriodDays:      c.PeriodDays,
		MAWindows:       c.MAWindows,
		MATrendWindow:   c.MATrendWindow,
		GroupMAWindow:   c.GroupMAWindow,
		GroupMATop:      c.GroupMATop,
		Kinds:           domain.GroupKinds,
	}
}

// UniverseRules converts the universe section into loader rules.
func UniverseRules(c config.UniverseConfig) universe.Rules {
	return universe.Rules{
		MinMarketCap:  decimal.NewFromFloat(c.MinMarketCap),
		MinAvgVolume:  c.MinAvgVolume,
		AllowSuffixes: c.AllowSuffixes,
	}
}
