package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/lead-qualifier/internal/config"
)

const defaultCheckInterval = 5 * time.Minute

// Checker evaluates job health on an interval.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	interval  time.Duration
	lookback  int
}

// NewChecker creates a Checker. A non-positive check interval means five
// minutes.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	interval := time.Duration(cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = defaultCheckInterval
	}
	return &Checker{
		collector: collector,
		alerter:   alerter,
		interval:  interval,
		lookback:  cfg.LookbackWindowHours,
	}
}

// Run checks once immediately and then on every tick until ctx is done.
func (c *Checker) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "monitoring"))
	log.Info("job health checker started",
		zap.Duration("interval", c.interval),
		zap.Int("lookback_hours", c.lookback),
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			log.Info("job health checker stopped")
			return
		}
		if _, err := c.Check(ctx); err != nil {
			log.Error("monitoring: health check failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			log.Info("job health checker stopped")
			return
		case <-ticker.C:
		}
	}
}

// Check collects a snapshot, evaluates it and delivers any alerts.
func (c *Checker) Check(ctx context.Context) (*MetricsSnapshot, error) {
	snap, err := c.collector.Collect(ctx, c.lookback)
	if err != nil {
		return nil, err
	}

	alerts := c.alerter.Evaluate(snap)
	if len(alerts) == 0 {
		return snap, nil
	}

	delivered := c.alerter.SendAlerts(ctx, alerts)
	zap.L().Info("monitoring: alerts raised",
		zap.Int("raised", len(alerts)),
		zap.Int("delivered", delivered),
		zap.Float64("fail_rate", snap.FailRate),
		zap.Int("timed_out", snap.JobsTimedOut),
	)
	return snap, nil
}
