// Package metrics exposes Prometheus collectors for live voice sessions.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "facechat"

// Turn outcomes.
const (
	TurnSuccess  = "success"
	TurnError    = "error"
	TurnRejected = "rejected"
)

// Face tick outcomes.
const (
	TickSkipped = "skipped"
	TickPresent = "present"
	TickAbsent  = "absent"
	TickError   = "error"
)

var (
	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently mounted voice sessions",
		},
	)

	turnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversation_turns_total",
			Help:      "Total conversation turns by outcome",
		},
		[]string{"status"},
	)

	turnDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "conversation_turn_duration_seconds",
			Help:      "Duration of a conversation turn including the remote generation call",
			Buckets:   []float64{.25, .5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	faceTicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "face_ticks_total",
			Help:      "Face presence polling ticks by outcome",
		},
		[]string{"result"},
	)

	utterancesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_finalized_total",
			Help:      "Transcripts submitted after the debounce window elapsed",
		},
	)
)

var allMetrics = []prometheus.Collector{
	sessionsActive,
	turnsTotal,
	turnDuration,
	faceTicksTotal,
	utterancesTotal,
}

// NewRegistry returns a registry with the session collectors and the Go
// runtime collectors registered.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	for _, collector := range allMetrics {
		reg.MustRegister(collector)
	}
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// SessionOpened records a mounted session.
func SessionOpened() { sessionsActive.Inc() }

// SessionClosed records a torn-down session.
func SessionClosed() { sessionsActive.Dec() }

// RecordTurn records the outcome of one conversation turn.
func RecordTurn(status string, elapsed time.Duration) {
	turnsTotal.WithLabelValues(status).Inc()
	if status != TurnRejected {
		turnDuration.Observe(elapsed.Seconds())
	}
}

// RecordFaceTick records one presence polling tick.
func RecordFaceTick(result string) {
	faceTicksTotal.WithLabelValues(result).Inc()
}

// RecordUtterance records a finalized transcript.
func RecordUtterance() { utterancesTotal.Inc() }
