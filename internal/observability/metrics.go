// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stock-trend-lab/internal/domain"
)

// Metrics holds all Prometheus metrics for the application.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Fetch metrics
	FetchesTotal  *prometheus.CounterVec
	FetchLatency  *prometheus.HistogramVec
	RowsFetched   prometheus.Counter
	PacingWait    prometheus.Histogram
	TickersByPlan *prometheus.GaugeVec

	// Commit metrics
	CheckpointsTotal   prometheus.Counter
	RowsCommitted      prometheus.Counter
	CommitDuration     prometheus.Histogram
	TickersQuarantined prometheus.Counter

	// Aggregation metrics
	AggregateDuration prometheus.Histogram
	GroupSlopes       *prometheus.GaugeVec

	// Pipeline metrics
	PipelineRunsTotal *prometheus.CounterVec
	PipelineDuration  *prometheus.HistogramVec
	LastSuccessfulRun *prometheus.GaugeVec

	// Store metrics
	StoreOpDuration *prometheus.HistogramVec
	StoreOpErrors   *prometheus.CounterVec
}

// NewMetrics creates a Metrics instance registered on reg.
// A nil reg uses the default registerer.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "stock_trend_lab"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		// Fetch metrics
		FetchesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "requests_total",
			Help:      "Total number of ticker fetches by status and failure kind",
		}, []string{"status", "kind"}),
		FetchLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "latency_seconds",
			Help:      "Upstream fetch latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"source"}),
		RowsFetched: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "rows_total",
			Help:      "Total number of normalized rows fetched",
		}),
		PacingWait: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "pacing_wait_seconds",
			Help:      "Time spent waiting on the pacing limiter",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}),
		TickersByPlan: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "plan",
			Name:      "tickers",
			Help:      "Tickers in the latest plan by state",
		}, []string{"state"}),

		// Commit metrics
		CheckpointsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "commit",
			Name:      "checkpoints_total",
			Help:      "Total number of checkpoint flushes",
		}),
		RowsCommitted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "commit",
			Name:      "rows_total",
			Help:      "Total number of rows written to the price store",
		}),
		CommitDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "commit",
			Name:      "flush_duration_seconds",
			Help:      "Checkpoint flush duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		TickersQuarantined: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "commit",
			Name:      "tickers_quarantined_total",
			Help:      "Total number of tickers moved to quarantine",
		}),

		// Aggregation metrics
		AggregateDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "aggregate",
			Name:      "duration_seconds",
			Help:      "Aggregation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		GroupSlopes: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "aggregate",
			Name:      "group_slopes",
			Help:      "Groups in the latest aggregation by kind and slope state",
		}, []string{"kind", "state"}),

		// Pipeline metrics
		PipelineRunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Total number of pipeline runs by status",
		}, []string{"phase", "status"}),
		PipelineDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "duration_seconds",
			Help:      "Pipeline execution duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
		}, []string{"phase"}),
		LastSuccessfulRun: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_run_timestamp",
			Help:      "Unix timestamp of last successful run by phase",
		}, []string{"phase"}),

		// Store metrics
		StoreOpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "operation_duration_seconds",
			Help:      "Price store operation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"backend", "operation"}),
		StoreOpErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "operation_errors_total",
			Help:      "Total number of price store errors",
		}, []string{"backend", "operation"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// RecordFetch records the outcome of one ticker fetch.
func (m *Metrics) RecordFetch(source string, res *domain.FetchResult) {
	if m == nil {
		return
	}
	kind := ""
	if res.Failure != nil {
		kind = string(res.Failure.Kind)
	}
	m.FetchesTotal.WithLabelValues(string(res.Status), kind).Inc()
	m.FetchLatency.WithLabelValues(source).Observe(res.Duration.Seconds())
	m.RowsFetched.Add(float64(len(res.Records)))
}

// RecordPacingWait records time spent on the pacing limiter.
func (m *Metrics) RecordPacingWait(d time.Duration) {
	if m == nil {
		return
	}
	m.PacingWait.Observe(d.Seconds())
}

// RecordPlan updates the plan gauges.
func (m *Metrics) RecordPlan(planned, current, inactive, quarantined int) {
	if m == nil {
		return
	}
	m.TickersByPlan.WithLabelValues("planned").Set(float64(planned))
	m.TickersByPlan.WithLabelValues("current").Set(float64(current))
	m.TickersByPlan.WithLabelValues("inactive").Set(float64(inactive))
	m.TickersByPlan.WithLabelValues("quarantined").Set(float64(quarantined))
}

// RecordCheckpoint records one checkpoint flush.
func (m *Metrics) RecordCheckpoint(rows int, d time.Duration) {
	if m == nil {
		return
	}
	m.CheckpointsTotal.Inc()
	m.RowsCommitted.Add(float64(rows))
	m.CommitDuration.Observe(d.Seconds())
}

// RecordQuarantine records a ticker moved to quarantine.
func (m *Metrics) RecordQuarantine() {
	if m == nil {
		return
	}
	m.TickersQuarantined.Inc()
}

// RecordAggregate records an aggregation pass.
func (m *Metrics) RecordAggregate(d time.Duration, slopes []domain.TrendSlope) {
	if m == nil {
		return
	}
	m.AggregateDuration.Observe(d.Seconds())

	counts := make(map[domain.GroupKind][2]int)
	for _, s := range slopes {
		c := counts[s.Kind]
		if s.HasSlope() {
			c[0]++
		} else {
			c[1]++
		}
		counts[s.Kind] = c
	}
	for kind, c := range counts {
		m.GroupSlopes.WithLabelValues(kind.String(), "present").Set(float64(c[0]))
		m.GroupSlopes.WithLabelValues(kind.String(), "absent").Set(float64(c[1]))
	}
}

// RecordPipelineRun records a pipeline run.
func (m *Metrics) RecordPipelineRun(phase string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.PipelineRunsTotal.WithLabelValues(phase, status).Inc()
	m.PipelineDuration.WithLabelValues(phase).Observe(d.Seconds())
	if err == nil {
		m.LastSuccessfulRun.WithLabelValues(phase).SetToCurrentTime()
	}
}

// RecordStoreOp records a price store operation.
func (m *Metrics) RecordStoreOp(backend, op string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.StoreOpDuration.WithLabelValues(backend, op).Observe(d.Seconds())
	if err != nil {
		m.StoreOpErrors.WithLabelValues(backend, op).Inc()
	}
}
