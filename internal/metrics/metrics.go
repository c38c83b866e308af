// Package metrics exposes poller counters in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "quakebot"

// Metrics owns a private registry. All methods are safe on a nil receiver.
type Metrics struct {
	reg *prometheus.Registry

	cycles        *prometheus.CounterVec
	cycleDur      prometheus.Histogram
	decisions     *prometheus.CounterVec
	publishes     *prometheus.CounterVec
	rejected      prometheus.Counter
	storageErrors prometheus.Counter
	lastSuccessTS prometheus.Gauge
}

// New registers collectors. dedupSize, when non-nil, backs the dedup_ids gauge.
func New(dedupSize func() int) *Metrics {
	m := &Metrics{reg: prometheus.NewRegistry()}

	m.cycles = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cycles_total",
		Help:      "Poll cycles by outcome",
	}, []string{"result"})
	m.cycleDur = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "cycle_duration_seconds",
		Help:      "Wall time of one poll cycle",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
	})
	m.decisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_total",
		Help:      "Feed events by filter decision",
	}, []string{"decision"})
	m.publishes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "publish_total",
		Help:      "Publish attempts by result",
	}, []string{"result"})
	m.rejected = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "feed_rejected_features_total",
		Help:      "Feed features that failed validation",
	})
	m.storageErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "storage_errors_total",
		Help:      "Failed dedup store writes",
	})
	m.lastSuccessTS = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix timestamp of the last cycle whose fetch succeeded",
	})

	m.reg.MustRegister(
		m.cycles, m.cycleDur, m.decisions, m.publishes,
		m.rejected, m.storageErrors, m.lastSuccessTS,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if dedupSize != nil {
		m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dedup_ids",
			Help:      "Event ids in the dedup store",
		}, func() float64 { return float64(dedupSize()) }))
	}
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// ObserveCycle records one finished cycle; fetchErr marks a failed fetch.
func (m *Metrics) ObserveCycle(took time.Duration, fetchErr bool) {
	if m == nil {
		return
	}
	m.cycleDur.Observe(took.Seconds())
	if fetchErr {
		m.cycles.WithLabelValues("fetch_error").Inc()
		return
	}
	m.cycles.WithLabelValues("ok").Inc()
	m.lastSuccessTS.SetToCurrentTime()
}

func (m *Metrics) Decision(decision string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(decision).Inc()
}

// Publish counts a publish attempt; result is "ok" or the failure kind.
func (m *Metrics) Publish(result string) {
	if m == nil {
		return
	}
	m.publishes.WithLabelValues(result).Inc()
}

func (m *Metrics) RejectedFeatures(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.rejected.Add(float64(n))
}

func (m *Metrics) StorageError() {
	if m == nil {
		return
	}
	m.storageErrors.Inc()
}
