// Package metrics exports import activity as Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JonMunkholm/tabimport/internal/core"
)

const namespace = "tabimport"

var _ core.Observer = (*Metrics)(nil)

// Metrics holds the import collectors. It implements core.Observer.
type Metrics struct {
	gatherer prometheus.Gatherer

	rows          *prometheus.CounterVec
	batches       *prometheus.CounterVec
	batchDuration *prometheus.HistogramVec
	accessDenied  *prometheus.CounterVec
	activeImports prometheus.GaugeFunc
}

// New registers the collectors with reg. A nil reg uses a fresh registry.
// activeImports, if non-nil, is sampled on every scrape.
func New(reg *prometheus.Registry, activeImports func() float64) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		gatherer: reg,
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_total",
			Help:      "Rows committed by imports, by entity and outcome.",
		}, []string{"entity", "action"}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Import batches finished, by entity and status.",
		}, []string{"entity", "status"}),
		batchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Wall time of import batches.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"entity"}),
		accessDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "access_denied_batches_total",
			Help:      "Batches where every row failed with a permission error.",
		}, []string{"entity"}),
	}

	collectors := []prometheus.Collector{m.rows, m.batches, m.batchDuration, m.accessDenied}
	if activeImports != nil {
		m.activeImports = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_imports",
			Help:      "Import sessions holding a concurrency slot.",
		}, activeImports)
		collectors = append(collectors, m.activeImports)
	}

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RowCommitted counts one attempted row.
func (m *Metrics) RowCommitted(entity string, action core.Action) {
	m.rows.WithLabelValues(entity, string(action)).Inc()
}

// BatchFinished records a finished batch.
func (m *Metrics) BatchFinished(entity string, result core.ImportBatchResult) {
	m.batches.WithLabelValues(entity, batchStatus(result)).Inc()
	m.batchDuration.WithLabelValues(entity).Observe(result.Duration.Seconds())
	if result.Diagnostic != "" {
		m.accessDenied.WithLabelValues(entity).Inc()
	}
}

func batchStatus(r core.ImportBatchResult) string {
	switch {
	case r.Cancelled:
		return "cancelled"
	case r.Failed > 0 && r.Failed == r.Total:
		return "failed"
	case r.Failed > 0:
		return "partial"
	default:
		return "ok"
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
