package metrics_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/atlas-desktop/signal-pipeline/internal/metrics"
)

func TestNewRegistryRegistersEveryCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := metrics.NewRegistry(reg)
	require.NotNil(t, r)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, mfs)
}

func TestObserveLatencyRecordsElapsed(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := metrics.NewRegistry(reg)

	r.ObserveLatency(time.Now().Add(-50 * time.Millisecond))

	mfs, err := reg.Gather()
	require.NoError(t, err)

	var found *dto.MetricFamily
	for _, mf := range mfs {
		if mf.GetName() == "signalpipeline_end_to_end_latency_seconds" {
			found = mf
		}
	}
	require.NotNil(t, found)
	require.EqualValues(t, 1, found.Metric[0].GetHistogram().GetSampleCount())
}

func TestObserveLatencyNilRegistryIsNoOp(t *testing.T) {
	var r *metrics.Registry
	require.NotPanics(t, func() { r.ObserveLatency(time.Now()) })
}
