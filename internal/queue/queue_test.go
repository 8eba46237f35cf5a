package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisNotifier_NotifyThenWait(t *testing.T) {
	mr, client := newRedis(t)
	n := NewRedisNotifier(client, "", time.Second)

	require.NoError(t, n.Notify(context.Background(), "batch-1"))
	list, err := mr.List(DefaultKey)
	require.NoError(t, err)
	assert.Equal(t, []string{"batch-1"}, list)

	start := time.Now()
	require.NoError(t, n.Wait(context.Background()))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.False(t, mr.Exists(DefaultKey))
}

func TestRedisNotifier_WaitTimesOut(t *testing.T) {
	_, client := newRedis(t)
	n := NewRedisNotifier(client, "test:wake", time.Second)

	start := time.Now()
	require.NoError(t, n.Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 900*time.Millisecond)
}

func TestRedisNotifier_ContextCanceled(t *testing.T) {
	_, client := newRedis(t)
	n := NewRedisNotifier(client, "test:wake", 5*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := n.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRedisNotifier_Ping(t *testing.T) {
	mr, client := newRedis(t)
	n := NewRedisNotifier(client, "", time.Second)
	require.NoError(t, n.Ping(context.Background()))

	mr.Close()
	assert.Error(t, n.Ping(context.Background()))
}

func TestPollNotifier(t *testing.T) {
	p := NewPollNotifier(time.Hour)

	require.NoError(t, p.Notify(context.Background(), "a"))
	require.NoError(t, p.Notify(context.Background(), "b"), "notify must not block when a wake-up is pending")
	require.NoError(t, p.Wait(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.Wait(ctx), context.Canceled)
}

func TestPollNotifier_Interval(t *testing.T) {
	p := NewPollNotifier(20 * time.Millisecond)
	start := time.Now()
	require.NoError(t, p.Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
}
