// Package metrics exposes prometheus metrics for HTTP traffic, rendering,
// batch generation and the database pool.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/yourorg/config-generator/pkg/batch"
)

// Metrics holds the collectors on a private registry
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	rendersTotal        *prometheus.CounterVec
	renderDuration      prometheus.Histogram
	batchesTotal        prometheus.Counter
	batchRowsTotal      *prometheus.CounterVec
	batchGroupsTotal    *prometheus.CounterVec
	batchDuration       prometheus.Histogram
	storeOpsTotal       *prometheus.CounterVec

	dbConnectionsOpen prometheus.Gauge
	dbConnectionsIdle prometheus.Gauge
	dbConnectionsMax  prometheus.Gauge
}

// New creates and registers all collectors under namespace
func New(namespace string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		rendersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "renders_total",
			Help:      "Total number of template renders by outcome and error kind",
		}, []string{"outcome", "kind"}),
		renderDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "render_duration_seconds",
			Help:      "Template render duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}),
		batchesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Total number of batch generations",
		}),
		batchRowsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_rows_total",
			Help:      "Batch rows by outcome (rendered, failed, skipped)",
		}, []string{"outcome"}),
		batchGroupsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_groups_total",
			Help:      "Batch template groups by outcome",
		}, []string{"outcome"}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Batch generation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		storeOpsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_operations_total",
			Help:      "Template store mutations by resource, action and outcome",
		}, []string{"resource", "action", "outcome"}),
		dbConnectionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "database_connections_open",
			Help:      "Number of open database connections",
		}),
		dbConnectionsIdle: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "database_connections_idle",
			Help:      "Number of idle database connections",
		}),
		dbConnectionsMax: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "database_connections_max",
			Help:      "Maximum number of open database connections",
		}),
	}

	m.registry.MustRegister(
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.rendersTotal,
		m.renderDuration,
		m.batchesTotal,
		m.batchRowsTotal,
		m.batchGroupsTotal,
		m.batchDuration,
		m.storeOpsTotal,
		m.dbConnectionsOpen,
		m.dbConnectionsIdle,
		m.dbConnectionsMax,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the collectors are registered on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry. When db is set the pool gauges are
// refreshed on every scrape.
func (m *Metrics) Handler(db *gorm.DB) http.Handler {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			_ = m.UpdateDatabaseConnections(db)
		}
		h.ServeHTTP(w, r)
	})
}

// RecordHTTPRequest records one served request. route is the matched
// route pattern, not the raw path.
func (m *Metrics) RecordHTTPRequest(method, route string, status int, seconds float64) {
	if route == "" {
		route = "unmatched"
	}
	m.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(method, route).Observe(seconds)
}

// RecordRender records a single render. kind is empty on success.
func (m *Metrics) RecordRender(kind string, seconds float64) {
	outcome := "success"
	if kind != "" {
		outcome = "failure"
	}
	m.rendersTotal.WithLabelValues(outcome, kind).Inc()
	m.renderDuration.Observe(seconds)
}

// RecordStoreOperation counts a store mutation
func (m *Metrics) RecordStoreOperation(resource, action string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.storeOpsTotal.WithLabelValues(resource, action, outcome).Inc()
}

// UpdateDatabaseConnections copies the pool statistics into the gauges
func (m *Metrics) UpdateDatabaseConnections(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("database connection is nil")
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}

	stats := sqlDB.Stats()
	m.dbConnectionsOpen.Set(float64(stats.OpenConnections))
	m.dbConnectionsIdle.Set(float64(stats.Idle))
	m.dbConnectionsMax.Set(float64(stats.MaxOpenConnections))
	return nil
}

// BatchStarted implements batch.Observer
func (m *Metrics) BatchStarted(context.Context, batch.BatchInfo) {
	m.batchesTotal.Inc()
}

// RowSkipped implements batch.Observer
func (m *Metrics) RowSkipped(context.Context, batch.BatchInfo, int, string) {
	m.batchRowsTotal.WithLabelValues("skipped").Inc()
}

// GroupFinished implements batch.Observer
func (m *Metrics) GroupFinished(_ context.Context, _ batch.BatchInfo, group batch.GroupInfo) {
	outcome := "rendered"
	if group.Error != "" {
		outcome = "failed"
	}
	m.batchGroupsTotal.WithLabelValues(outcome).Inc()
	m.batchRowsTotal.WithLabelValues(outcome).Add(float64(group.Rows))
}

// BatchFinished implements batch.Observer
func (m *Metrics) BatchFinished(_ context.Context, info batch.BatchInfo, _ *batch.Result) {
	m.batchDuration.Observe(info.Duration.Seconds())
}

var _ batch.Observer = (*Metrics)(nil)
