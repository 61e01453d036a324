// Package models contains data structures used by the campaign repository layer.
package models

import "time"

type CampaignRun struct {
	CampaignID     string     `json:"campaign_id"`
	Target         string     `json:"target"`
	State          string     `json:"state"`
	TargetCount    int        `json:"target_count"`
	BatchSize      int        `json:"batch_size"`
	Successes      int        `json:"successes"`
	Failures       int        `json:"failures"`
	Batches        int        `json:"batches"`
	SuccessRate    float64    `json:"success_rate"`
	DelaySeconds   float64    `json:"delay_seconds"`
	RuntimeSeconds float64    `json:"runtime_seconds"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

type BatchHistory struct {
	CampaignID   string    `json:"campaign_id"`
	BatchNumber  int       `json:"batch_number"`
	Size         int       `json:"size"`
	Successes    int       `json:"successes"`
	DurationMs   int64     `json:"duration_ms"`
	Throughput   float64   `json:"throughput"`
	LowYield     bool      `json:"low_yield"`
	DelaySeconds float64   `json:"delay_seconds"`
	CreatedAt    time.Time `json:"created_at"`
}

type CampaignStats struct {
	Target         string  `json:"target"`
	State          string  `json:"state"`
	Count          int     `json:"count"`
	TotalSuccesses int     `json:"total_successes"`
	TotalFailures  int     `json:"total_failures"`
	AvgSuccessRate float64 `json:"avg_success_rate"`
	AvgRuntimeSecs float64 `json:"avg_runtime_seconds"`
}
