// Package metrics exposes pipeline counters on the resident daemons.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the pipeline instrumentation. A nil *Metrics is valid and
// turns every method into a no-op, so callers without a metrics listener
// pass nil instead of branching.
type Metrics struct {
	registry *prometheus.Registry

	BatchesStaged      prometheus.Counter
	BatchesTransferred prometheus.Counter
	BatchesImported    prometheus.Counter
	BatchesFailed      prometheus.Counter
	FilesTransferred   prometheus.Counter
	TransferBytes      prometheus.Counter
	ReconcileWarnings  prometheus.Counter
	BatchesPending     prometheus.Gauge
}

// New builds a Metrics set on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		BatchesStaged: factory.NewCounter(prometheus.CounterOpts{
			Name: "photopipe_batches_staged_total",
			Help: "Batches staged for transfer.",
		}),
		BatchesTransferred: factory.NewCounter(prometheus.CounterOpts{
			Name: "photopipe_batches_transferred_total",
			Help: "Batches fully transferred and marked ready.",
		}),
		BatchesImported: factory.NewCounter(prometheus.CounterOpts{
			Name: "photopipe_batches_imported_total",
			Help: "Batches confirmed imported via completion manifest.",
		}),
		BatchesFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "photopipe_batches_failed_total",
			Help: "Batches that failed transfer or import.",
		}),
		FilesTransferred: factory.NewCounter(prometheus.CounterOpts{
			Name: "photopipe_files_transferred_total",
			Help: "Files successfully uploaded to the destination.",
		}),
		TransferBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "photopipe_transfer_bytes_total",
			Help: "Bytes uploaded to the destination.",
		}),
		ReconcileWarnings: factory.NewCounter(prometheus.CounterOpts{
			Name: "photopipe_reconcile_warnings_total",
			Help: "Reconciliation records that required a fallback mapping.",
		}),
		BatchesPending: factory.NewGauge(prometheus.GaugeOpts{
			Name: "photopipe_batches_pending",
			Help: "Batches awaiting import on the destination.",
		}),
	}
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) IncStaged() {
	if m != nil {
		m.BatchesStaged.Inc()
	}
}

func (m *Metrics) IncTransferred() {
	if m != nil {
		m.BatchesTransferred.Inc()
	}
}

func (m *Metrics) IncImported() {
	if m != nil {
		m.BatchesImported.Inc()
	}
}

func (m *Metrics) IncFailed() {
	if m != nil {
		m.BatchesFailed.Inc()
	}
}

func (m *Metrics) AddFiles(n int) {
	if m != nil {
		m.FilesTransferred.Add(float64(n))
	}
}

func (m *Metrics) AddBytes(n int64) {
	if m != nil {
		m.TransferBytes.Add(float64(n))
	}
}

func (m *Metrics) AddWarnings(n int) {
	if m != nil {
		m.ReconcileWarnings.Add(float64(n))
	}
}

func (m *Metrics) SetPending(n int) {
	if m != nil {
		m.BatchesPending.Set(float64(n))
	}
}
