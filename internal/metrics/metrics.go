// Package metrics holds the Prometheus collectors for ingestion, broadcast,
// risk scoring and settlement. All recording methods are safe on a nil
// *Metrics so components can run without a registry in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "swapguard"

// Metrics is the process-wide collector set.
type Metrics struct {
	reg *prometheus.Registry

	IngestCycles     *prometheus.CounterVec
	PriceChanges     prometheus.Counter
	UpstreamRequests *prometheus.CounterVec
	BroadcastClients prometheus.Gauge
	BroadcastDropped prometheus.Counter
	RiskScores       prometheus.Histogram
	SwapSubmissions  *prometheus.CounterVec
	Settlements      *prometheus.CounterVec
	SettlementDelay  prometheus.Histogram
}

// New creates a Metrics with every collector registered on a private
// registry together with the Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		IngestCycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ingest_cycles_total",
				Help:      "Price ingestion cycles by result",
			},
			[]string{"result"},
		),
		PriceChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "price_changes_total",
			Help:      "Cache upserts that changed a price entry",
		}),
		UpstreamRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upstream_requests_total",
				Help:      "Requests to external data providers by source and result",
			},
			[]string{"source", "result"},
		),
		BroadcastClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "broadcast_clients",
			Help:      "Connected live price clients",
		}),
		BroadcastDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_dropped_total",
			Help:      "Messages dropped for slow clients",
		}),
		RiskScores: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "risk_score",
			Help:      "Distribution of computed risk scores",
			Buckets:   []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		}),
		SwapSubmissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "swap_submissions_total",
				Help:      "Swap submissions by outcome",
			},
			[]string{"outcome"},
		),
		Settlements: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "settlements_total",
				Help:      "Settlement terminal transitions by status",
			},
			[]string{"status"},
		),
		SettlementDelay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "settlement_duration_seconds",
			Help:      "Time from submission to terminal status",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60},
		}),
	}

	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.IngestCycles,
		m.PriceChanges,
		m.UpstreamRequests,
		m.BroadcastClients,
		m.BroadcastDropped,
		m.RiskScores,
		m.SwapSubmissions,
		m.Settlements,
		m.SettlementDelay,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// RegisterCacheDrops exposes a counter read from fn, used for the price
// cache's dropped-event total.
func (m *Metrics) RegisterCacheDrops(fn func() float64) {
	if m == nil {
		return
	}
	m.reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "price_events_dropped_total",
		Help:      "Price change events dropped for full subscribers",
	}, fn))
}

func (m *Metrics) IngestResult(result string) {
	if m == nil {
		return
	}
	m.IngestCycles.WithLabelValues(result).Inc()
}

func (m *Metrics) PriceChanged(n int) {
	if m == nil {
		return
	}
	m.PriceChanges.Add(float64(n))
}

func (m *Metrics) Upstream(source, result string) {
	if m == nil {
		return
	}
	m.UpstreamRequests.WithLabelValues(source, result).Inc()
}

func (m *Metrics) ClientsConnected(n int) {
	if m == nil {
		return
	}
	m.BroadcastClients.Set(float64(n))
}

func (m *Metrics) BroadcastDrop() {
	if m == nil {
		return
	}
	m.BroadcastDropped.Inc()
}

func (m *Metrics) RiskScored(score int) {
	if m == nil {
		return
	}
	m.RiskScores.Observe(float64(score))
}

func (m *Metrics) SwapSubmitted(outcome string) {
	if m == nil {
		return
	}
	m.SwapSubmissions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SwapSettled(status string, seconds float64) {
	if m == nil {
		return
	}
	m.Settlements.WithLabelValues(status).Inc()
	m.SettlementDelay.Observe(seconds)
}
