package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's Prometheus metric families.
type Metrics struct {
	// Configuration watcher
	ConfigReloadsTotal    *prometheus.CounterVec // document, result
	ConfigDocumentsCached *prometheus.GaugeVec   // document
	ConfigPushesTotal     *prometheus.CounterVec // document, result

	// Reconciliation
	ReconcileOpsTotal      *prometheus.CounterVec // entity, op
	ReconcileDuration      *prometheus.HistogramVec
	ReconcileFailuresTotal *prometheus.CounterVec // entity, source

	// Source operations
	SourceOpsTotal   *prometheus.CounterVec // source, op, result
	SourceOpDuration *prometheus.HistogramVec

	// Migration
	MigrationsTotal *prometheus.CounterVec // result

	registry *prometheus.Registry
}

// NewMetrics builds and registers the metric families on a private
// registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		ConfigReloadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_config_reloads_total",
				Help: "Configuration document reloads processed by the watcher",
			},
			[]string{"document", "result"},
		),
		ConfigDocumentsCached: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gatehouse_config_documents_cached",
				Help: "Tenant documents currently held in the watcher cache",
			},
			[]string{"document"},
		),
		ConfigPushesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_config_pushes_total",
				Help: "Documents pushed to the configuration distribution backend",
			},
			[]string{"document", "result"},
		),
		ReconcileOpsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_reconcile_operations_total",
				Help: "Rows created, updated and deleted by reconciliation",
			},
			[]string{"entity", "op"},
		),
		ReconcileDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatehouse_reconcile_duration_seconds",
				Help:    "Wall time of one reconciliation call",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"entity"},
		),
		ReconcileFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_reconcile_failures_total",
				Help: "Reconciliation calls rolled back with an error",
			},
			[]string{"entity", "source"},
		),
		SourceOpsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_source_operations_total",
				Help: "Operations served by configuration sources",
			},
			[]string{"source", "op", "result"},
		),
		SourceOpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatehouse_source_operation_duration_seconds",
				Help:    "Duration of configuration source operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"source", "op"},
		),
		MigrationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_migrations_total",
				Help: "Tenant state migrations fanned out across sources",
			},
			[]string{"result"},
		),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.ConfigReloadsTotal,
		m.ConfigDocumentsCached,
		m.ConfigPushesTotal,
		m.ReconcileOpsTotal,
		m.ReconcileDuration,
		m.ReconcileFailuresTotal,
		m.SourceOpsTotal,
		m.SourceOpDuration,
		m.MigrationsTotal,
	)

	return m
}

// Handler serves the registry over HTTP for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
