package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/nadmax/nexrun/internal/campaign"
	"github.com/nadmax/nexrun/internal/metrics"
	"github.com/nadmax/nexrun/internal/resource"
	"github.com/nadmax/nexrun/internal/store"
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

func setupTestStore(t *testing.T) *store.Store {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	s, err := store.NewStore(context.Background(), mr.Addr())
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = s.Close()
		mr.Close()
	})
	return s
}

func testRegistry() *campaign.Registry {
	return campaign.NewRegistry(campaign.Deps{
		Pool:     stubPool{},
		Executor: task.ExecutorFunc(func(context.Context, *task.Task, resource.Resource) error { return nil }),
		Floor:    time.Millisecond,
		Step:     time.Millisecond,
		Ceiling:  time.Second,
	})
}

func TestRunCampaigns(t *testing.T) {
	reg := testRegistry()
	var out bytes.Buffer

	err := runCampaigns(context.Background(), reg, []campaign.Config{
		{Target: "orders", TargetCount: 4, BatchSize: 2, BaseDelay: time.Millisecond},
		{Target: "invoices", TargetCount: 1, BatchSize: 1, BaseDelay: time.Millisecond},
	}, &out)
	require.NoError(t, err)

	for _, st := range reg.List() {
		assert.Equal(t, campaign.StateCompleted, st.State)
	}
	assert.Contains(t, out.String(), "=== orders (")
	assert.Contains(t, out.String(), "successes:        4/4")
	assert.Contains(t, out.String(), "=== invoices (")
}

func TestRunCampaigns_LaunchErrorsAreReturned(t *testing.T) {
	reg := testRegistry()
	var out bytes.Buffer

	err := runCampaigns(context.Background(), reg, []campaign.Config{
		{Target: "orders", TargetCount: 1, BatchSize: 1, BaseDelay: time.Millisecond},
		{Target: ""},
	}, &out)

	require.Error(t, err)
	assert.ErrorIs(t, err, campaign.ErrInvalidConfig)
	assert.Len(t, reg.List(), 1)
	assert.Contains(t, out.String(), "=== orders (")
}

func TestRunCampaigns_CancelledContextStops(t *testing.T) {
	reg := testRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	err := runCampaigns(ctx, reg, []campaign.Config{
		{Target: "orders", TargetCount: 100, BatchSize: 1, BaseDelay: time.Millisecond},
	}, &out)
	require.NoError(t, err)

	statuses := reg.List()
	require.Len(t, statuses, 1)
	assert.Equal(t, campaign.StateStopped, statuses[0].State)
}

func TestSubmitCampaigns(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	var out bytes.Buffer

	err := submitCampaigns(ctx, s, []campaign.Config{
		{Target: "orders", TargetCount: 10, BatchSize: 5},
		{Target: "invoices", TargetCount: 3, BatchSize: 1},
	}, &out)
	require.NoError(t, err)

	pending, err := s.PendingSubmissions(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), pending)
	assert.Contains(t, out.String(), "submitted orders (target 10, batch 5)")

	err = submitCampaigns(ctx, s, []campaign.Config{{}}, &out)
	assert.ErrorIs(t, err, campaign.ErrInvalidConfig)
}

func TestStopCampaign(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	var out bytes.Buffer
	err := stopCampaign(ctx, s, "missing", &out)
	assert.ErrorIs(t, err, campaign.ErrNotFound)

	require.NoError(t, s.SaveStatus(ctx, campaign.Status{ID: "c-1", Target: "orders", State: campaign.StateRunning}))
	require.NoError(t, stopCampaign(ctx, s, "c-1", &out))

	requested, err := s.StopRequested(ctx, "c-1")
	require.NoError(t, err)
	assert.True(t, requested)
	assert.Contains(t, out.String(), "stop requested for c-1")
}

func TestShowStatus(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	var out bytes.Buffer
	require.NoError(t, showStatus(ctx, s, "", &out))
	assert.Equal(t, "no campaigns\n", out.String())

	now := time.Now()
	require.NoError(t, s.SaveStatus(ctx, campaign.Status{
		ID: "c-1", Target: "orders", State: campaign.StateRunning,
		TargetCount: 100, Successes: 40, Batches: 2, SuccessRate: 80, StartedAt: now,
	}))
	require.NoError(t, s.SaveStatus(ctx, campaign.Status{
		ID: "c-2", Target: "invoices", State: campaign.StateCompleted,
		TargetCount: 5, Successes: 5, Batches: 1, StartedAt: now.Add(time.Second),
	}))

	out.Reset()
	require.NoError(t, showStatus(ctx, s, "", &out))
	assert.Contains(t, out.String(), "ID")
	assert.Contains(t, out.String(), "40/100")
	assert.Contains(t, out.String(), "80.0%")
	assert.Contains(t, out.String(), "invoices")

	out.Reset()
	require.NoError(t, showStatus(ctx, s, "c-2", &out))
	assert.Contains(t, out.String(), "5/5")
	assert.NotContains(t, out.String(), "orders")

	err := showStatus(ctx, s, "missing", &out)
	assert.ErrorIs(t, err, campaign.ErrNotFound)
}

func TestShowStatus_PendingSubmissions(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Submit(ctx, campaign.Config{Target: "orders", TargetCount: 10, BatchSize: 5}))
	require.NoError(t, s.Submit(ctx, campaign.Config{Target: "invoices", TargetCount: 3, BatchSize: 1}))

	var out bytes.Buffer
	require.NoError(t, showStatus(ctx, s, "", &out))
	assert.Equal(t, "no campaigns\npending submissions: 2\n", out.String())

	require.NoError(t, s.SaveStatus(ctx, campaign.Status{ID: "c-1", Target: "orders", State: campaign.StateRunning}))
	out.Reset()
	require.NoError(t, showStatus(ctx, s, "", &out))
	assert.Contains(t, out.String(), "orders")
	assert.Contains(t, out.String(), "pending submissions: 2")

	out.Reset()
	require.NoError(t, showStatus(ctx, s, "c-1", &out))
	assert.NotContains(t, out.String(), "pending submissions")
}

func TestShowSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c-1.json")
	tr := metrics.NewTracker(path)
	require.NoError(t, tr.LogSuccess())
	require.NoError(t, tr.LogSuccess())
	require.NoError(t, tr.LogFailure())

	var out bytes.Buffer
	require.NoError(t, showSnapshot(path, &out))
	assert.Contains(t, out.String(), "successes:     2")
	assert.Contains(t, out.String(), "failures:      1")
	assert.Contains(t, out.String(), "success rate:  66.67%")
	assert.Contains(t, out.String(), "hourly:")

	err := showSnapshot(filepath.Join(t.TempDir(), "missing.json"), &out)
	assert.Error(t, err)
}
