package telemetry_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradecapture/ingress/internal/telemetry"
)

func TestNewRecorder_RegistersAllMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := telemetry.NewRecorder(reg)

	rec.TradesIngested.Inc()
	rec.TradesQuarantined.Inc()
	rec.OutboxEntriesSent.Inc()
	rec.DispatcherBackoff.Observe(0.5)
	rec.BreakerState.WithLabelValues("ingest").Set(2)

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]*dto.MetricFamily)
	for _, f := range families {
		names[f.GetName()] = f
	}

	for _, name := range []string{
		"trades_ingested_total",
		"trades_quarantined_total",
		"outbox_entries_sent_total",
		"dispatcher_backoff_seconds",
		"circuit_breaker_state",
	} {
		assert.Contains(t, names, name)
	}

	gauge := names["circuit_breaker_state"]
	require.Len(t, gauge.Metric, 1)
	assert.Equal(t, float64(2), gauge.Metric[0].GetGauge().GetValue())
}

func TestNewRecorder_DoubleRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	telemetry.NewRecorder(reg)

	assert.Panics(t, func() {
		telemetry.NewRecorder(reg)
	})
}
