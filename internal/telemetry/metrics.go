// Package telemetry provides the thin Prometheus recorder the ingestion and
// dispatch cores update as they run. Dashboards and alerting are somebody
// else's concern; this package only exports counters, a histogram and a
// gauge for whatever scrapes the process.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Recorder is the small set of metrics the ingestion and dispatch cores
// update as they run.
type Recorder struct {
	TradesIngested     prometheus.Counter
	TradesQuarantined  prometheus.Counter
	OutboxEntriesSent  prometheus.Counter
	DispatcherBackoff  prometheus.Histogram
	BreakerState       *prometheus.GaugeVec
}

// NewRecorder builds a Recorder and registers its metrics with reg. Passing
// a fresh prometheus.NewRegistry() (rather than the global default
// registry) keeps repeated construction in tests side-effect free.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		TradesIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trades_ingested_total",
			Help: "Total trade messages successfully persisted to the audit log.",
		}),
		TradesQuarantined: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trades_quarantined_total",
			Help: "Total messages routed to quarantine, across ingestion and dispatch.",
		}),
		OutboxEntriesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "outbox_entries_sent_total",
			Help: "Total outbox entries marked SENT by a DispatchWorker.",
		}),
		DispatcherBackoff: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dispatcher_backoff_seconds",
			Help:    "Observed DispatchWorker backoff sleep duration per iteration.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Current persistence circuit breaker state (0=closed, 1=half-open, 2=open).",
		}, []string{"breaker"}),
	}
	reg.MustRegister(r.TradesIngested, r.TradesQuarantined, r.OutboxEntriesSent, r.DispatcherBackoff, r.BreakerState)
	return r
}
