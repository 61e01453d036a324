package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nadmax/nexrun/internal/campaign"
	"github.com/nadmax/nexrun/internal/repository"
	"github.com/nadmax/nexrun/internal/repository/models"
	"github.com/nadmax/nexrun/internal/resource"
	"github.com/nadmax/nexrun/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPool struct{}

func (stubPool) Acquire(context.Context, ...string) (resource.Resource, error) {
	return resource.Resource{URI: "http://10.0.0.1:8080", Scheme: resource.SchemeHTTP}, nil
}

func (stubPool) ReportFailure(resource.Resource) {}
func (stubPool) ReportSuccess(resource.Resource) {}

func newRegistry(exec task.Executor) *campaign.Registry {
	return campaign.NewRegistry(campaign.Deps{
		Pool:       stubPool{},
		Executor:   exec,
		Floor:      time.Millisecond,
		Step:       time.Millisecond,
		Ceiling:    time.Second,
		MaxBatches: 2,
	})
}

func launch(t *testing.T, reg *campaign.Registry, target string, count int) {
	t.Helper()
	_, err := reg.Launch(context.Background(), campaign.Config{
		Target:      target,
		TargetCount: count,
		BatchSize:   count,
		BaseDelay:   time.Millisecond,
	})
	require.NoError(t, err)
}

func setupTestDashboard(t *testing.T) (*Dashboard, *campaign.Registry, *repository.MockCampaignRepository) {
	reg := newRegistry(task.ExecutorFunc(func(context.Context, *task.Task, resource.Resource) error { return nil }))
	repo := repository.NewMockCampaignRepository()
	return NewDashboard(reg, repo), reg, repo
}

func TestGetStats_Empty(t *testing.T) {
	dash, _, _ := setupTestDashboard(t)

	req := httptest.NewRequest(http.MethodGet, "/api/dashboard/stats", nil)
	w := httptest.NewRecorder()

	dash.GetStats(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var stats Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 0, stats.TotalCampaigns)
	assert.Equal(t, 0, stats.ActiveCampaigns)
	assert.Zero(t, stats.SuccessRate)
	assert.NotZero(t, stats.LastUpdated)
}

func TestGetStats_WithCampaigns(t *testing.T) {
	dash, reg, repo := setupTestDashboard(t)
	repo.Stats = []models.CampaignStats{{Target: "orders", State: "completed", Count: 2, TotalSuccesses: 8}}

	launch(t, reg, "orders", 4)
	launch(t, reg, "invoices", 3)
	reg.Wait()

	req := httptest.NewRequest(http.MethodGet, "/api/dashboard/stats", nil)
	w := httptest.NewRecorder()

	dash.GetStats(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var stats Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 2, stats.TotalCampaigns)
	assert.Equal(t, 2, stats.CompletedCampaigns)
	assert.Equal(t, 0, stats.ActiveCampaigns)
	assert.Equal(t, 7, stats.TotalSuccesses)
	assert.Equal(t, 100.0, stats.SuccessRate)
	assert.Equal(t, map[string]int{"orders": 1, "invoices": 1}, stats.CampaignsByTarget)
	require.Len(t, stats.History, 1)
	assert.Equal(t, 8, stats.History[0].TotalSuccesses)
}

func TestGetStats_FailedCampaign(t *testing.T) {
	reg := newRegistry(task.ExecutorFunc(func(context.Context, *task.Task, resource.Resource) error {
		return errors.New("endpoint returned status 503")
	}))
	dash := NewDashboard(reg, nil)

	launch(t, reg, "orders", 2)
	reg.Wait()

	w := httptest.NewRecorder()
	dash.GetStats(w, httptest.NewRequest(http.MethodGet, "/api/dashboard/stats", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var stats Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.FailedCampaigns)
	assert.Equal(t, 0, stats.TotalSuccesses)
	assert.Positive(t, stats.TotalFailures)
	assert.Nil(t, stats.History)
}

func TestGetStats_HistoryError(t *testing.T) {
	dash, _, repo := setupTestDashboard(t)
	repo.GetStatsError = errors.New("database unavailable")

	w := httptest.NewRecorder()
	dash.GetStats(w, httptest.NewRequest(http.MethodGet, "/api/dashboard/stats", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestGetHistory(t *testing.T) {
	dash, _, repo := setupTestDashboard(t)
	ctx := context.Background()
	now := time.Now()

	for i, target := range []string{"orders", "invoices", "orders"} {
		require.NoError(t, repo.SaveRun(ctx, campaign.Status{
			ID:        target + "-" + string(rune('a'+i)),
			Target:    target,
			State:     campaign.StateCompleted,
			StartedAt: now.Add(time.Duration(i) * time.Minute),
		}))
	}

	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantLen    int
	}{
		{"all runs", "", http.StatusOK, 3},
		{"limited", "?limit=1", http.StatusOK, 1},
		{"by target", "?target=orders", http.StatusOK, 2},
		{"unknown target", "?target=shipments", http.StatusOK, 0},
		{"bad limit", "?limit=abc", http.StatusBadRequest, 0},
		{"negative limit", "?limit=-4", http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			dash.GetHistory(w, httptest.NewRequest(http.MethodGet, "/api/history"+tt.query, nil))

			require.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus != http.StatusOK {
				return
			}

			var runs []models.CampaignRun
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &runs))
			assert.Len(t, runs, tt.wantLen)
		})
	}
}

func TestGetHistory_Unavailable(t *testing.T) {
	dash := NewDashboard(newRegistry(nil), nil)

	w := httptest.NewRecorder()
	dash.GetHistory(w, httptest.NewRequest(http.MethodGet, "/api/history", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = httptest.NewRecorder()
	dash.GetRunBatches(w, httptest.NewRequest(http.MethodGet, "/api/history/abc", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestGetHistory_MethodNotAllowed(t *testing.T) {
	dash, _, _ := setupTestDashboard(t)

	w := httptest.NewRecorder()
	dash.GetHistory(w, httptest.NewRequest(http.MethodPost, "/api/history", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestGetRunBatches(t *testing.T) {
	dash, _, repo := setupTestDashboard(t)
	ctx := context.Background()

	require.NoError(t, repo.SaveRun(ctx, campaign.Status{ID: "camp-1", Target: "orders", State: campaign.StateCompleted}))
	require.NoError(t, repo.RecordBatch(ctx, campaign.BatchRecord{CampaignID: "camp-1", Number: 1, Size: 5, Successes: 5}))
	require.NoError(t, repo.RecordBatch(ctx, campaign.BatchRecord{CampaignID: "camp-1", Number: 2, Size: 5, Successes: 1, LowYield: true}))

	t.Run("found", func(t *testing.T) {
		w := httptest.NewRecorder()
		dash.GetRunBatches(w, httptest.NewRequest(http.MethodGet, "/api/history/camp-1", nil))
		require.Equal(t, http.StatusOK, w.Code)

		var detail RunDetail
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &detail))
		require.NotNil(t, detail.Run)
		assert.Equal(t, "orders", detail.Run.Target)
		require.Len(t, detail.Batches, 2)
		assert.True(t, detail.Batches[1].LowYield)
	})

	t.Run("not found", func(t *testing.T) {
		w := httptest.NewRecorder()
		dash.GetRunBatches(w, httptest.NewRequest(http.MethodGet, "/api/history/missing", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("missing id", func(t *testing.T) {
		w := httptest.NewRecorder()
		dash.GetRunBatches(w, httptest.NewRequest(http.MethodGet, "/api/history/", nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("batches error", func(t *testing.T) {
		repo.GetBatchesError = errors.New("timeout")
		defer func() { repo.GetBatchesError = nil }()

		w := httptest.NewRecorder()
		dash.GetRunBatches(w, httptest.NewRequest(http.MethodGet, "/api/history/camp-1", nil))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}
