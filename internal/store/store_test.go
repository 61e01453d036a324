package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/nadmax/nexrun/internal/campaign"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	s, err := NewStore(context.Background(), mr.Addr())
	require.NoError(t, err)

	return s, mr
}

func testStatus(id string, startedAt time.Time) campaign.Status {
	return campaign.Status{
		ID:          id,
		Target:      "orders",
		State:       campaign.StateRunning,
		TargetCount: 100,
		BatchSize:   10,
		Successes:   42,
		StartedAt:   startedAt,
	}
}

func TestNewStore(t *testing.T) {
	s, mr := setupTestStore(t)
	defer mr.Close()
	defer func() { _ = s.Close() }()

	assert.NotNil(t, s.client)
	assert.NoError(t, s.Ping(context.Background()))
}

func TestNewStore_InvalidAddress(t *testing.T) {
	_, err := NewStore(context.Background(), "invalid:99999")
	assert.Error(t, err)
}

func TestSaveAndGetStatus(t *testing.T) {
	s, mr := setupTestStore(t)
	defer mr.Close()
	defer func() { _ = s.Close() }()

	ctx := context.Background()
	want := testStatus("camp-1", time.Now().UTC().Truncate(time.Second))
	require.NoError(t, s.SaveStatus(ctx, want))

	got, err := s.GetStatus(ctx, "camp-1")
	require.NoError(t, err)
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.State, got.State)
	assert.Equal(t, 42, got.Successes)
	assert.True(t, want.StartedAt.Equal(got.StartedAt))

	want.State = campaign.StateCompleted
	require.NoError(t, s.SaveStatus(ctx, want))
	got, err = s.GetStatus(ctx, "camp-1")
	require.NoError(t, err)
	assert.Equal(t, campaign.StateCompleted, got.State)
}

func TestGetStatus_NotFound(t *testing.T) {
	s, mr := setupTestStore(t)
	defer mr.Close()
	defer func() { _ = s.Close() }()

	_, err := s.GetStatus(context.Background(), "missing")
	assert.ErrorIs(t, err, campaign.ErrNotFound)
}

func TestListStatuses(t *testing.T) {
	s, mr := setupTestStore(t)
	defer mr.Close()
	defer func() { _ = s.Close() }()

	ctx := context.Background()
	now := time.Now()
	require.NoError(t, s.SaveStatus(ctx, testStatus("late", now)))
	require.NoError(t, s.SaveStatus(ctx, testStatus("early", now.Add(-time.Hour))))
	mr.HSet(statusKey, "broken", "{not json")

	statuses, err := s.ListStatuses(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	assert.Equal(t, "early", statuses[0].ID)
	assert.Equal(t, "late", statuses[1].ID)
}

func TestStopRequests(t *testing.T) {
	s, mr := setupTestStore(t)
	defer mr.Close()
	defer func() { _ = s.Close() }()

	ctx := context.Background()
	require.NoError(t, s.SaveStatus(ctx, testStatus("camp-1", time.Now())))

	requested, err := s.StopRequested(ctx, "camp-1")
	require.NoError(t, err)
	assert.False(t, requested)

	require.NoError(t, s.RequestStop(ctx, "camp-1"))
	requested, err = s.StopRequested(ctx, "camp-1")
	require.NoError(t, err)
	assert.True(t, requested)

	require.NoError(t, s.ClearStop(ctx, "camp-1"))
	requested, err = s.StopRequested(ctx, "camp-1")
	require.NoError(t, err)
	assert.False(t, requested)
}

func TestRequestStop_UnknownCampaign(t *testing.T) {
	s, mr := setupTestStore(t)
	defer mr.Close()
	defer func() { _ = s.Close() }()

	err := s.RequestStop(context.Background(), "missing")
	assert.ErrorIs(t, err, campaign.ErrNotFound)
}

func TestRequestStop_FinishedCampaign(t *testing.T) {
	s, mr := setupTestStore(t)
	defer mr.Close()
	defer func() { _ = s.Close() }()

	ctx := context.Background()
	for _, state := range []campaign.State{campaign.StateCompleted, campaign.StateStopped, campaign.StateFailed} {
		st := testStatus("camp-"+string(state), time.Now())
		st.State = state
		require.NoError(t, s.SaveStatus(ctx, st))

		err := s.RequestStop(ctx, st.ID)
		assert.ErrorIs(t, err, campaign.ErrFinished)

		requested, err := s.StopRequested(ctx, st.ID)
		require.NoError(t, err)
		assert.False(t, requested)
	}
}

func TestDeleteStatus(t *testing.T) {
	s, mr := setupTestStore(t)
	defer mr.Close()
	defer func() { _ = s.Close() }()

	ctx := context.Background()
	require.NoError(t, s.SaveStatus(ctx, testStatus("camp-1", time.Now())))
	require.NoError(t, s.RequestStop(ctx, "camp-1"))

	require.NoError(t, s.DeleteStatus(ctx, "camp-1"))

	_, err := s.GetStatus(ctx, "camp-1")
	assert.ErrorIs(t, err, campaign.ErrNotFound)
	requested, err := s.StopRequested(ctx, "camp-1")
	require.NoError(t, err)
	assert.False(t, requested)
}

func TestSubmissions(t *testing.T) {
	s, mr := setupTestStore(t)
	defer mr.Close()
	defer func() { _ = s.Close() }()

	ctx := context.Background()
	next, err := s.NextSubmission(ctx)
	require.NoError(t, err)
	assert.Nil(t, next)

	first := campaign.Config{Target: "orders", TargetCount: 10, BatchSize: 5, BaseDelay: time.Second}
	second := campaign.Config{Target: "invoices"}
	require.NoError(t, s.Submit(ctx, first))
	require.NoError(t, s.Submit(ctx, second))

	pending, err := s.PendingSubmissions(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), pending)

	next, err = s.NextSubmission(ctx)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, first, *next)

	next, err = s.NextSubmission(ctx)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "invoices", next.Target)
}

func TestSubmit_InvalidConfig(t *testing.T) {
	s, mr := setupTestStore(t)
	defer mr.Close()
	defer func() { _ = s.Close() }()

	err := s.Submit(context.Background(), campaign.Config{TargetCount: 5})
	assert.ErrorIs(t, err, campaign.ErrInvalidConfig)
}

func TestNextSubmission_Malformed(t *testing.T) {
	s, mr := setupTestStore(t)
	defer mr.Close()
	defer func() { _ = s.Close() }()

	_, err := mr.Lpush(queueKey, "{oops")
	require.NoError(t, err)

	_, err = s.NextSubmission(context.Background())
	assert.Error(t, err)
}
