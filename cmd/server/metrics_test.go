package main

import (
	"context"
	"testing"
	"time"

	"github.com/nadmax/nexrun/internal/metrics"
	"github.com/nadmax/nexrun/internal/resource"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func poolGauge(t *testing.T, state string) float64 {
	metric := &dto.Metric{}
	g, err := metrics.PoolResources.GetMetricWithLabelValues(state)
	require.NoError(t, err)

	require.NoError(t, g.Write(metric))
	return metric.Gauge.GetValue()
}

type fakePool struct {
	stats resource.Stats
}

func (f fakePool) Stats() resource.Stats {
	return f.stats
}

func TestUpdatePoolMetrics(t *testing.T) {
	updatePoolMetrics(fakePool{stats: resource.Stats{Candidates: 120, Working: 37, Evicted: 4}})

	assert.Equal(t, 120.0, poolGauge(t, "candidate"))
	assert.Equal(t, 37.0, poolGauge(t, "working"))
	assert.Equal(t, 4.0, poolGauge(t, "evicted"))
}

func TestStartMetricsCollector_StopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		startMetricsCollector(ctx, fakePool{stats: resource.Stats{Candidates: 1}})
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("collector did not stop")
	}
}
