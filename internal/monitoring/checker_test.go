package monitoring

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-qualifier/internal/config"
	"github.com/sells-group/lead-qualifier/internal/model"
)

func TestNewChecker_DefaultInterval(t *testing.T) {
	c := NewChecker(NewCollector(&mockStore{}), NewAlerter(config.MonitoringConfig{}), config.MonitoringConfig{})
	assert.Equal(t, defaultCheckInterval, c.interval)

	c = NewChecker(NewCollector(&mockStore{}), NewAlerter(config.MonitoringConfig{}), config.MonitoringConfig{CheckIntervalSecs: 30})
	assert.Equal(t, 30*time.Second, c.interval)
}

func TestChecker_Run(t *testing.T) {
	var calls atomic.Int32
	st := &countingStore{calls: &calls}
	cfg := config.MonitoringConfig{CheckIntervalSecs: 1, LookbackWindowHours: 24}
	c := NewChecker(NewCollector(st), NewAlerter(cfg), cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	// The first check runs without waiting for a tick.
	require.Eventually(t, func() bool { return calls.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestChecker_Run_CancelledContext(t *testing.T) {
	var calls atomic.Int32
	c := NewChecker(NewCollector(&countingStore{calls: &calls}), NewAlerter(config.MonitoringConfig{}), config.MonitoringConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c.Run(ctx)
	assert.Zero(t, calls.Load())
}

func TestChecker_Check_DeliversAlerts(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	msg := "Job timed out: no progress for more than 5m0s"
	st := &mockStore{jobs: []model.BatchJob{
		{Status: model.JobStatusFailed, ErrorMessage: &msg, CreatedAt: time.Now()},
	}}
	cfg := config.MonitoringConfig{WebhookURL: ts.URL, LookbackWindowHours: 24, TimeoutThreshold: 1}
	c := NewChecker(NewCollector(st), NewAlerter(cfg), cfg)

	snap, err := c.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, snap.JobsTimedOut)
	assert.Equal(t, int32(1), received.Load())
}

func TestChecker_Check_CollectError(t *testing.T) {
	cfg := config.MonitoringConfig{LookbackWindowHours: 24}
	c := NewChecker(NewCollector(&mockStore{listErr: errors.New("db down")}), NewAlerter(cfg), cfg)

	_, err := c.Check(context.Background())
	assert.Error(t, err)
}
