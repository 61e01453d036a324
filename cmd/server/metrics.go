package main

import (
	"context"
	"time"

	"github.com/nadmax/nexrun/internal/metrics"
	"github.com/nadmax/nexrun/internal/resource"
)

const metricsInterval = 10 * time.Second

type poolStats interface {
	Stats() resource.Stats
}

func startMetricsCollector(ctx context.Context, pool poolStats) {
	ticker := time.NewTicker(metricsInterval)
	defer ticker.Stop()

	for {
		updatePoolMetrics(pool)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func updatePoolMetrics(pool poolStats) {
	s := pool.Stats()
	metrics.UpdatePoolResources(s.Candidates, s.Working, s.Evicted)
}
