// Package metrics exposes Prometheus counters and histograms for entry
// operations, analysis calls and the HTTP layer.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mealmood_operations_total",
		Help: "Entry operations by name and outcome",
	}, []string{"op", "outcome"})

	operationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mealmood_operation_duration_seconds",
		Help:    "Entry operation latency including any analysis call",
		Buckets: []float64{0.005, 0.025, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"op"})

	conflictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mealmood_conflicts_total",
		Help: "Operations rejected because another mutation was in flight",
	}, []string{"op"})

	providerCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mealmood_provider_calls_total",
		Help: "Analysis provider calls by operation and outcome",
	}, []string{"op", "outcome"})

	providerLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mealmood_provider_latency_seconds",
		Help:    "Analysis provider call latency",
		Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 45, 60},
	}, []string{"op"})

	staleRecovered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mealmood_stale_reanalyses_recovered_total",
		Help: "Entries returned to idle after an abandoned reanalysis",
	})

	websocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mealmood_websocket_clients",
		Help: "Connected websocket clients",
	})
)

// Recorder feeds the reconciler's observations into the Prometheus metrics.
type Recorder struct{}

func (Recorder) OperationDone(op, outcome string, d time.Duration) {
	operationsTotal.WithLabelValues(op, outcome).Inc()
	operationDuration.WithLabelValues(op).Observe(d.Seconds())
	if outcome == "conflict" {
		conflictsTotal.WithLabelValues(op).Inc()
	}
}

func (Recorder) ProviderDone(op, outcome string, d time.Duration) {
	providerCalls.WithLabelValues(op, outcome).Inc()
	providerLatency.WithLabelValues(op).Observe(d.Seconds())
}

// StaleRecovered counts entries reset by the maintenance loop.
func StaleRecovered(n int64) {
	staleRecovered.Add(float64(n))
}

// SetWebsocketClients records the current websocket client count.
func SetWebsocketClients(n int) {
	websocketClients.Set(float64(n))
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
