// Command screener keeps a local daily price history up to date and ranks
// sectors and industries by the trend of their mean daily returns.
package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"stock-trend-lab/internal/config"
	"stock-trend-lab/internal/logging"
	"stock-trend-lab/internal/observability"
	"stock-trend-lab/internal/pipeline"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	a := &app{}
	err := newRootCmd(a).ExecuteContext(ctx)
	stop()
	a.close()

	if err != nil {
		os.Exit(1)
	}
}

// app holds the state shared by every subcommand.
type app struct {
	configPath string

	cfg       *config.Config
	logger    zerolog.Logger
	logCloser io.Closer
	registry  *prometheus.Registry
	metrics   *observability.Metrics
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:          "screener",
		Short:        "Incremental price history and sector/industry trend rankings",
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return a.setup()
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "YAML config file (defaults apply when empty)")

	root.AddCommand(
		newPlanCmd(a),
		newUpdateCmd(a),
		newAggregateCmd(a),
		newRunCmd(a),
		newScheduleCmd(a),
		newExportCmd(a),
		newImportCmd(a),
		newMigrateCmd(a),
		newQuarantineCmd(a),
		newMetaCmd(a),
	)
	return root
}

func (a *app) setup() error {
	cfg, err := config.LoadWithEnv(a.configPath)
	if err != nil {
		return err
	}
	logger, closer, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = logger
	a.logCloser = closer

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = observability.NewMetrics(cfg.Metrics.Namespace, a.registry)
	return nil
}

func (a *app) close() {
	if a.logCloser != nil {
		a.logCloser.Close()
	}
}

// openPipeline opens the configured backends and builds a pipeline over them.
// The caller closes the returned resources.
func (a *app) openPipeline(ctx context.Context) (*pipeline.Pipeline, *pipeline.Resources, error) {
	res, err := pipeline.Open(ctx, a.cfg, a.metrics, &a.logger)
	if err != nil {
		return nil, nil, err
	}
	p, err := pipeline.NewFromConfig(a.cfg, res, a.metrics, &a.logger)
	if err != nil {
		res.Close()
		return nil, nil, err
	}
	return p, res, nil
}

// serveMetrics exposes /metrics and /health until ctx is done.
// It does nothing when no address is configured.
func (a *app) serveMetrics(ctx context.Context) {
	addr := a.cfg.Metrics.Addr
	if addr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler(a.registry))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		a.logger.Info().Str("addr", addr).Msg("metrics server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error().Err(err).Msg("metrics server failed")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
}
