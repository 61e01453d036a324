// Package dashboard serves aggregate campaign statistics and run history.
package dashboard

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nadmax/nexrun/internal/campaign"
	"github.com/nadmax/nexrun/internal/httputil"
	"github.com/nadmax/nexrun/internal/metrics"
	"github.com/nadmax/nexrun/internal/repository"
	"github.com/nadmax/nexrun/internal/repository/models"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
	statsWindowHours    = 24
)

type Dashboard struct {
	campaigns *campaign.Registry
	history   repository.CampaignRepository
}

type Stats struct {
	TotalCampaigns     int                    `json:"total_campaigns"`
	ActiveCampaigns    int                    `json:"active_campaigns"`
	CompletedCampaigns int                    `json:"completed_campaigns"`
	StoppedCampaigns   int                    `json:"stopped_campaigns"`
	FailedCampaigns    int                    `json:"failed_campaigns"`
	TotalSuccesses     int                    `json:"total_successes"`
	TotalFailures      int                    `json:"total_failures"`
	SuccessRate        float64                `json:"success_rate"`
	SpeedPerMinute     float64                `json:"speed_per_min"`
	CampaignsByTarget  map[string]int         `json:"campaigns_by_target"`
	History            []models.CampaignStats `json:"history,omitempty"`
	LastUpdated        time.Time              `json:"last_updated"`
}

type RunDetail struct {
	Run     *models.CampaignRun   `json:"run"`
	Batches []models.BatchHistory `json:"batches"`
}

// NewDashboard takes an optional history repository; without one the
// history endpoints answer 503.
func NewDashboard(reg *campaign.Registry, history repository.CampaignRepository) *Dashboard {
	return &Dashboard{campaigns: reg, history: history}
}

func (d *Dashboard) GetStats(w http.ResponseWriter, r *http.Request) {
	statuses := d.campaigns.List()

	stats := Stats{
		TotalCampaigns:    len(statuses),
		CampaignsByTarget: make(map[string]int),
		LastUpdated:       time.Now(),
	}

	for _, s := range statuses {
		switch {
		case s.State == campaign.StateCompleted:
			stats.CompletedCampaigns++
		case s.State == campaign.StateStopped:
			stats.StoppedCampaigns++
		case s.State == campaign.StateFailed:
			stats.FailedCampaigns++
		default:
			stats.ActiveCampaigns++
			stats.SpeedPerMinute += s.Speed
		}

		stats.CampaignsByTarget[s.Target]++
		stats.TotalSuccesses += s.Successes
		stats.TotalFailures += s.Failures
	}
	stats.SuccessRate = metrics.SuccessRate(stats.TotalSuccesses, stats.TotalFailures)

	if d.history != nil {
		hist, err := d.history.GetCampaignStats(r.Context(), statsWindowHours)
		if err != nil {
			httputil.WriteJSONError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		stats.History = hist
	}

	httputil.WriteJSON(w, http.StatusOK, stats)
}

func (d *Dashboard) GetHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if d.history == nil {
		httputil.WriteJSONError(w, "History not available", http.StatusServiceUnavailable)
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httputil.WriteJSONError(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	var (
		runs []models.CampaignRun
		err  error
	)
	if target := r.URL.Query().Get("target"); target != "" {
		runs, err = d.history.GetRunsByTarget(r.Context(), target, limit)
	} else {
		runs, err = d.history.GetRecentRuns(r.Context(), limit)
	}
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []models.CampaignRun{}
	}

	httputil.WriteJSON(w, http.StatusOK, runs)
}

func (d *Dashboard) GetRunBatches(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if d.history == nil {
		httputil.WriteJSONError(w, "History not available", http.StatusServiceUnavailable)
		return
	}

	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/history/"), "/")
	if id == "" {
		httputil.WriteJSONError(w, "Campaign ID is required", http.StatusBadRequest)
		return
	}

	run, err := d.history.GetRun(r.Context(), id)
	if errors.Is(err, campaign.ErrNotFound) {
		httputil.WriteJSONError(w, "Campaign not found", http.StatusNotFound)
		return
	}
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	batches, err := d.history.GetBatches(r.Context(), id)
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if batches == nil {
		batches = []models.BatchHistory{}
	}

	httputil.WriteJSON(w, http.StatusOK, RunDetail{Run: run, Batches: batches})
}
