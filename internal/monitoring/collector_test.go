package monitoring

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-qualifier/internal/model"
	"github.com/sells-group/lead-qualifier/internal/store"
)

// mockStore returns a fixed job list, newest first.
type mockStore struct {
	jobs    []model.BatchJob
	listErr error
}

func (m *mockStore) ListJobs(_ context.Context, _ store.JobFilter) ([]model.BatchJob, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.jobs, nil
}

func strPtr(s string) *string { return &s }

func TestCollector_Collect(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	st := &mockStore{jobs: []model.BatchJob{
		{ID: "1", Status: model.JobStatusRunning, CreatedAt: now.Add(-time.Minute)},
		{ID: "2", Status: model.JobStatusCompleted, RecordsFetched: 40, RecordsProcessed: 10, CreatedAt: now.Add(-time.Hour)},
		{ID: "3", Status: model.JobStatusFailed, ErrorMessage: strPtr("Job timed out: no progress for more than 5m0s"), CreatedAt: now.Add(-2 * time.Hour)},
		{ID: "4", Status: model.JobStatusFailed, ErrorMessage: strPtr("transient: workflow returned 503"), CreatedAt: now.Add(-3 * time.Hour)},
		{ID: "5", Status: model.JobStatusCompleted, RecordsFetched: 10, RecordsProcessed: 10, CreatedAt: now.Add(-5 * time.Hour)},
		// Outside the window.
		{ID: "6", Status: model.JobStatusFailed, CreatedAt: now.Add(-48 * time.Hour)},
	}}

	c := NewCollector(st)
	c.now = func() time.Time { return now }

	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 5, snap.JobsTotal)
	assert.Equal(t, 2, snap.JobsCompleted)
	assert.Equal(t, 2, snap.JobsFailed)
	assert.Equal(t, 1, snap.JobsTimedOut)
	assert.Equal(t, 1, snap.JobsInFlight)
	assert.InDelta(t, 0.5, snap.FailRate, 0.001)
	assert.Equal(t, 50, snap.RecordsFetched)
	assert.Equal(t, 20, snap.RecordsProcessed)
	assert.InDelta(t, 0.4, snap.YieldRate, 0.001)
	assert.Equal(t, 24, snap.LookbackHours)
	assert.Equal(t, now, snap.CollectedAt)
}

func TestCollector_Empty(t *testing.T) {
	snap, err := NewCollector(&mockStore{}).Collect(context.Background(), 24)
	require.NoError(t, err)
	assert.Zero(t, snap.JobsTotal)
	assert.Zero(t, snap.FailRate)
	assert.Zero(t, snap.YieldRate)
}

func TestCollector_ListError(t *testing.T) {
	_, err := NewCollector(&mockStore{listErr: errors.New("db down")}).Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring: list jobs")
}

// countingStore counts ListJobs calls and returns no jobs.
type countingStore struct {
	calls *atomic.Int32
}

func (c *countingStore) ListJobs(_ context.Context, _ store.JobFilter) ([]model.BatchJob, error) {
	c.calls.Add(1)
	return nil, nil
}
