// Package queue wakes the batch processor when inbound batches arrive. The
// batches themselves live in the store; notifiers only carry wake-ups.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// DefaultKey is the Redis list holding batch wake-ups.
const DefaultKey = "qualify:inbound_batches"

// Notifier signals and waits for new inbound batches.
type Notifier interface {
	// Notify records that batchID is ready.
	Notify(ctx context.Context, batchID string) error
	// Wait blocks until a batch is announced or the poll interval elapses.
	// It returns ctx.Err() only when ctx is done.
	Wait(ctx context.Context) error
}

// RedisNotifier uses a Redis list: Notify pushes, Wait pops with BLPOP.
type RedisNotifier struct {
	client *redis.Client
	key    string
	poll   time.Duration
}

// NewRedisNotifier creates a notifier on key. poll bounds each Wait so
// batches enqueued without a notification are still picked up.
func NewRedisNotifier(client *redis.Client, key string, poll time.Duration) *RedisNotifier {
	if key == "" {
		key = DefaultKey
	}
	if poll < time.Second {
		poll = time.Second
	}
	return &RedisNotifier{client: client, key: key, poll: poll}
}

// Notify implements Notifier.
func (n *RedisNotifier) Notify(ctx context.Context, batchID string) error {
	if err := n.client.RPush(ctx, n.key, batchID).Err(); err != nil {
		return eris.Wrap(err, "queue: redis rpush")
	}
	return nil
}

// Wait implements Notifier.
func (n *RedisNotifier) Wait(ctx context.Context) error {
	err := n.client.BLPop(ctx, n.poll, n.key).Err()
	switch {
	case err == nil, errors.Is(err, redis.Nil):
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	}
	// Redis is down: degrade to a plain poll interval.
	return sleep(ctx, n.poll)
}

// Ping checks the Redis connection.
func (n *RedisNotifier) Ping(ctx context.Context) error {
	if err := n.client.Ping(ctx).Err(); err != nil {
		return eris.Wrap(err, "queue: redis ping")
	}
	return nil
}

// PollNotifier is an in-process notifier that also wakes on a fixed interval.
type PollNotifier struct {
	interval time.Duration
	ch       chan struct{}
}

// NewPollNotifier creates a poll notifier.
func NewPollNotifier(interval time.Duration) *PollNotifier {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &PollNotifier{interval: interval, ch: make(chan struct{}, 1)}
}

// Notify implements Notifier. It never blocks.
func (p *PollNotifier) Notify(_ context.Context, _ string) error {
	select {
	case p.ch <- struct{}{}:
	default:
	}
	return nil
}

// Wait implements Notifier.
func (p *PollNotifier) Wait(ctx context.Context) error {
	timer := time.NewTimer(p.interval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ch:
		return nil
	case <-timer.C:
		return nil
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
