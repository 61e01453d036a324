// Package metrics tracks campaign outcomes: Prometheus collectors for
// scraping, and a per-campaign Tracker persisted as a JSON snapshot.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexrun_attempts_total",
			Help: "Total number of task instances finished, by outcome",
		},
		[]string{"campaign", "outcome"},
	)
	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexrun_retries_total",
			Help: "Total number of task retries",
		},
		[]string{"campaign"},
	)
	ResourceUnavailableTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexrun_resource_unavailable_total",
			Help: "Total number of calls that found no working resource",
		},
		[]string{"campaign"},
	)
	AttemptDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nexrun_attempt_duration_seconds",
			Help:    "Task instance duration including retries and pacing",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"campaign", "outcome"},
	)
	BatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nexrun_batch_duration_seconds",
			Help:    "Batch duration in seconds",
			Buckets: []float64{.1, .5, 1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"campaign"},
	)
	BatchSuccessRatio = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nexrun_batch_success_ratio",
			Help: "Success ratio of the most recent batch",
		},
		[]string{"campaign"},
	)
	LowYieldBatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexrun_low_yield_batches_total",
			Help: "Total number of batches below half success",
		},
		[]string{"campaign"},
	)
	CampaignDelay = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nexrun_campaign_delay_seconds",
			Help: "Current base pacing delay of a campaign",
		},
		[]string{"campaign"},
	)
	CampaignsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nexrun_campaigns_active",
			Help: "Number of campaigns currently running",
		},
	)
	PoolResources = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nexrun_pool_resources",
			Help: "Resources in the pool by state",
		},
		[]string{"state"},
	)
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexrun_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nexrun_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)
)

func RecordAttempt(campaign string, ok bool, duration time.Duration) {
	outcome := "failure"
	if ok {
		outcome = "success"
	}
	AttemptsTotal.WithLabelValues(campaign, outcome).Inc()
	AttemptDuration.WithLabelValues(campaign, outcome).Observe(duration.Seconds())
}

func RecordRetry(campaign string) {
	RetriesTotal.WithLabelValues(campaign).Inc()
}

func RecordUnavailable(campaign string) {
	ResourceUnavailableTotal.WithLabelValues(campaign).Inc()
}

func RecordBatch(campaign string, duration time.Duration, successRatio float64, lowYield bool) {
	BatchDuration.WithLabelValues(campaign).Observe(duration.Seconds())
	BatchSuccessRatio.WithLabelValues(campaign).Set(successRatio)
	if lowYield {
		LowYieldBatches.WithLabelValues(campaign).Inc()
	}
}

func UpdateCampaignDelay(campaign string, delay time.Duration) {
	CampaignDelay.WithLabelValues(campaign).Set(delay.Seconds())
}

func UpdateActiveCampaigns(count int) {
	CampaignsActive.Set(float64(count))
}

func UpdatePoolResources(candidates, working, evicted int) {
	PoolResources.WithLabelValues("candidate").Set(float64(candidates))
	PoolResources.WithLabelValues("working").Set(float64(working))
	PoolResources.WithLabelValues("evicted").Set(float64(evicted))
}

func RecordHTTPRequest(method, endpoint, status string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}
