package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nadmax/nexrun/internal/campaign"
	"github.com/nadmax/nexrun/internal/repository/models"
)

// MockCampaignRepository is an in-memory CampaignRepository for tests.
type MockCampaignRepository struct {
	mu               sync.Mutex
	SaveRunCalls     []campaign.Status
	RecordBatchCalls []campaign.BatchRecord
	Runs             map[string]models.CampaignRun
	Batches          map[string][]models.BatchHistory
	Stats            []models.CampaignStats
	SaveRunError     error
	RecordBatchError error
	GetRunError      error
	GetRecentError   error
	GetBatchesError  error
	GetStatsError    error
}

var _ CampaignRepository = (*MockCampaignRepository)(nil)

func NewMockCampaignRepository() *MockCampaignRepository {
	return &MockCampaignRepository{
		Runs:    make(map[string]models.CampaignRun),
		Batches: make(map[string][]models.BatchHistory),
		Stats:   make([]models.CampaignStats, 0),
	}
}

func (m *MockCampaignRepository) SaveRun(ctx context.Context, s campaign.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SaveRunCalls = append(m.SaveRunCalls, s)

	if m.SaveRunError != nil {
		return m.SaveRunError
	}

	m.Runs[s.ID] = RunFromStatus(s)
	return nil
}

func (m *MockCampaignRepository) RecordBatch(ctx context.Context, b campaign.BatchRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.RecordBatchCalls = append(m.RecordBatchCalls, b)

	if m.RecordBatchError != nil {
		return m.RecordBatchError
	}

	m.Batches[b.CampaignID] = append(m.Batches[b.CampaignID], models.BatchHistory{
		CampaignID:   b.CampaignID,
		BatchNumber:  b.Number,
		Size:         b.Size,
		Successes:    b.Successes,
		DurationMs:   b.Duration.Milliseconds(),
		Throughput:   b.Throughput,
		LowYield:     b.LowYield,
		DelaySeconds: b.DelaySeconds,
		CreatedAt:    b.CreatedAt,
	})
	return nil
}

func (m *MockCampaignRepository) GetRun(ctx context.Context, campaignID string) (*models.CampaignRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.GetRunError != nil {
		return nil, m.GetRunError
	}

	run, exists := m.Runs[campaignID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", campaign.ErrNotFound, campaignID)
	}
	return &run, nil
}

func (m *MockCampaignRepository) GetRecentRuns(ctx context.Context, limit int) ([]models.CampaignRun, error) {
	return m.filterRuns("", limit)
}

func (m *MockCampaignRepository) GetRunsByTarget(ctx context.Context, target string, limit int) ([]models.CampaignRun, error) {
	return m.filterRuns(target, limit)
}

func (m *MockCampaignRepository) filterRuns(target string, limit int) ([]models.CampaignRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.GetRecentError != nil {
		return nil, m.GetRecentError
	}

	runs := make([]models.CampaignRun, 0, len(m.Runs))
	for _, run := range m.Runs {
		if target == "" || run.Target == target {
			runs = append(runs, run)
		}
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}

	return runs, nil
}

func (m *MockCampaignRepository) GetBatches(ctx context.Context, campaignID string) ([]models.BatchHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.GetBatchesError != nil {
		return nil, m.GetBatchesError
	}

	return append([]models.BatchHistory(nil), m.Batches[campaignID]...), nil
}

func (m *MockCampaignRepository) GetCampaignStats(ctx context.Context, hours int) ([]models.CampaignStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.GetStatsError != nil {
		return nil, m.GetStatsError
	}

	return m.Stats, nil
}

func (m *MockCampaignRepository) Close() error {
	return nil
}

func (m *MockCampaignRepository) GetSaveRunCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.SaveRunCalls)
}

func (m *MockCampaignRepository) GetRecordBatchCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.RecordBatchCalls)
}

func (m *MockCampaignRepository) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SaveRunCalls = nil
	m.RecordBatchCalls = nil
	m.Runs = make(map[string]models.CampaignRun)
	m.Batches = make(map[string][]models.BatchHistory)
}

func RunFromStatus(s campaign.Status) models.CampaignRun {
	var finishedAt *time.Time
	if s.FinishedAt != nil {
		t := *s.FinishedAt
		finishedAt = &t
	}

	return models.CampaignRun{
		CampaignID:     s.ID,
		Target:         s.Target,
		State:          string(s.State),
		TargetCount:    s.TargetCount,
		BatchSize:      s.BatchSize,
		Successes:      s.Successes,
		Failures:       s.Failures,
		Batches:        s.Batches,
		SuccessRate:    s.SuccessRate,
		DelaySeconds:   s.DelaySeconds,
		RuntimeSeconds: s.RuntimeSeconds,
		ErrorMessage:   s.Error,
		StartedAt:      s.StartedAt,
		FinishedAt:     finishedAt,
	}
}
