// Package metrics счётчики леджера и сверки для Prometheus.
// Все методы безопасны для nil-получателя.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "marketplace"

type Metrics struct {
	registry *prometheus.Registry

	transitionsTotal   *prometheus.CounterVec
	gatewayCallsTotal  *prometheus.CounterVec
	gatewayLatency     *prometheus.HistogramVec
	sweepRunsTotal     *prometheus.CounterVec
	sweepRecordsTotal  *prometheus.CounterVec
	sweepLastRunUnix   prometheus.Gauge
	sweepDuration      prometheus.Histogram
	reviewFlaggedTotal *prometheus.CounterVec
	invariantViolation *prometheus.CounterVec
	notifyFailures     *prometheus.CounterVec
}

// New регистрирует метрики в собственном реестре, чтобы тесты могли
// создавать несколько экземпляров.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		transitionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "transitions_total",
				Help:      "Ledger record transitions by kind and resulting status.",
			},
			[]string{"kind", "status"},
		),
		gatewayCallsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "calls_total",
				Help:      "Gateway calls by operation and result.",
			},
			[]string{"operation", "result"},
		),
		gatewayLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "call_duration_seconds",
				Help:      "Gateway call latency by operation.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		sweepRunsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "reconcile",
				Name:      "runs_total",
				Help:      "Reconciliation sweeps by result.",
			},
			[]string{"result"},
		),
		sweepRecordsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "reconcile",
				Name:      "records_total",
				Help:      "Records handled by the sweep by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		),
		sweepLastRunUnix: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "reconcile",
				Name:      "last_run_unix",
				Help:      "Unix time of the most recent sweep.",
			},
		),
		sweepDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "reconcile",
				Name:      "run_duration_seconds",
				Help:      "Duration of reconciliation sweeps.",
				Buckets:   prometheus.DefBuckets,
			},
		),
		reviewFlaggedTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "reconcile",
				Name:      "review_flagged_total",
				Help:      "Records flagged for manual review by kind.",
			},
			[]string{"kind"},
		),
		invariantViolation: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "invariant_violations_total",
				Help:      "Detected ledger invariant violations by check.",
			},
			[]string{"check"},
		),
		notifyFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "notify",
				Name:      "failures_total",
				Help:      "Failed notification deliveries by sink.",
			},
			[]string{"sink"},
		),
	}
}

// Registry реестр для promhttp.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler http.Handler для /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveTransition(kind, status string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(kind, status).Inc()
}

func (m *Metrics) ObserveGatewayCall(operation string, started time.Time, err error) {
	if m == nil {
		return
	}
	m.gatewayLatency.WithLabelValues(operation).Observe(time.Since(started).Seconds())
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.gatewayCallsTotal.WithLabelValues(operation, result).Inc()
}

func (m *Metrics) ObserveSweep(started time.Time, err error) {
	if m == nil {
		return
	}
	m.sweepLastRunUnix.Set(float64(time.Now().UTC().Unix()))
	m.sweepDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		m.sweepRunsTotal.WithLabelValues("error").Inc()
		return
	}
	m.sweepRunsTotal.WithLabelValues("success").Inc()
}

func (m *Metrics) ObserveSweepRecord(kind, outcome string) {
	if m == nil {
		return
	}
	m.sweepRecordsTotal.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) ObserveReviewFlagged(kind string) {
	if m == nil {
		return
	}
	m.reviewFlaggedTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveInvariantViolation(check string) {
	if m == nil {
		return
	}
	m.invariantViolation.WithLabelValues(check).Inc()
}

func (m *Metrics) ObserveNotifyFailure(sink string) {
	if m == nil {
		return
	}
	m.notifyFailures.WithLabelValues(sink).Inc()
}
