// Package metrics holds the Prometheus instrumentation for queries, scans and
// the download cache.
package metrics

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"faultscope/src/contracts"
	"faultscope/src/logger"
)

const namespace = "faultscope"

// maxLabelLen caps label values.
const maxLabelLen = 64

// Cache events.
const (
	CacheHit        = "hit"
	CacheMiss       = "miss"
	CacheInvalidate = "invalidate"
)

// Metrics records pipeline activity. All methods are safe on a nil receiver so
// components can run without instrumentation.
type Metrics struct {
	registry *prometheus.Registry

	queries       *prometheus.CounterVec
	queryDuration *prometheus.HistogramVec
	degraded      *prometheus.CounterVec
	linesRead     prometheus.Counter
	bytesRead     prometheus.Counter
	matched       *prometheus.CounterVec
	cacheEvents   *prometheus.CounterVec
	downloads     prometheus.Counter
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		queries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queries_total",
				Help:      "Queries by kind, mode and outcome",
			},
			[]string{"kind", "mode", "outcome"},
		),
		queryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "query_duration_seconds",
				Help:      "End to end query latency",
				Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300},
			},
			[]string{"kind", "mode"},
		),
		degraded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "degraded_results_total",
				Help:      "Results returned partial, by reason",
			},
			[]string{"reason"},
		),
		linesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "lines_read_total",
			Help:      "Lines read by the scanner",
		}),
		bytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "bytes_read_total",
			Help:      "Bytes read by the scanner",
		}),
		matched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scan",
				Name:      "matched_lines_total",
				Help:      "Lines that passed every filter stage, by strategy",
			},
			[]string{"strategy"},
		),
		cacheEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "events_total",
				Help:      "Download cache hits, misses and invalidations",
			},
			[]string{"event"},
		),
		downloads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "downloads_total",
			Help:      "Artifacts downloaded into the cache",
		}),
	}

	m.registry.MustRegister(
		m.queries, m.queryDuration, m.degraded,
		m.linesRead, m.bytesRead, m.matched,
		m.cacheEvents, m.downloads,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the registry for tests and custom handlers.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveQuery records one finished query.
func (m *Metrics) ObserveQuery(kind string, mode contracts.Mode, err error, degradedReason string, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
	case degradedReason != "":
		outcome = "degraded"
		m.degraded.WithLabelValues(sanitizeLabel(degradedReason)).Inc()
	}
	modeLabel := sanitizeLabel(string(mode))
	m.queries.WithLabelValues(sanitizeLabel(kind), modeLabel, outcome).Inc()
	m.queryDuration.WithLabelValues(sanitizeLabel(kind), modeLabel).Observe(d.Seconds())
}

// ObserveScan adds a scan's filter statistics.
func (m *Metrics) ObserveScan(stats contracts.FilterStatistics) {
	if m == nil {
		return
	}
	m.linesRead.Add(float64(stats.LinesRead))
	m.bytesRead.Add(float64(stats.BytesRead))
	m.matched.WithLabelValues(sanitizeLabel(stats.Strategy)).Add(float64(stats.Matched))
}

// CacheEvent counts a cache hit, miss or invalidation.
func (m *Metrics) CacheEvent(event string) {
	if m == nil {
		return
	}
	m.cacheEvents.WithLabelValues(event).Inc()
}

// Download counts an artifact fetched into the cache.
func (m *Metrics) Download() {
	if m == nil {
		return
	}
	m.downloads.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, log logger.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			log.Warn("failed to shut down metrics server cleanly: %v", err)
		}
	}()

	go func() {
		log.Info("metrics endpoint listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn("metrics server stopped unexpectedly: %v", err)
		}
	}()
}

// sanitizeLabel keeps label values short and free of spaces.
func sanitizeLabel(s string) string {
	if s == "" {
		return "unknown"
	}
	s = strings.ReplaceAll(s, " ", "_")
	if len(s) > maxLabelLen {
		s = s[:maxLabelLen]
	}
	return s
}
