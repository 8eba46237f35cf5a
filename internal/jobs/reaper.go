package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-qualifier/internal/metrics"
	"github.com/sells-group/lead-qualifier/internal/model"
	"github.com/sells-group/lead-qualifier/internal/store"
)

// DefaultStaleThreshold is how long a pending or running job may go without
// progress before it is failed.
const DefaultStaleThreshold = 5 * time.Minute

// TimeoutPrefix starts the error message of every reaped job.
const TimeoutPrefix = "Job timed out"

// CleanupResult reports one reaper pass.
type CleanupResult struct {
	Cleaned int              `json:"cleaned"`
	Jobs    []model.BatchJob `json:"jobs"`
}

// ReaperConfig configures the reaper.
type ReaperConfig struct {
	Threshold time.Duration
	Interval  time.Duration
}

// Reaper fails jobs stuck in pending or running.
type Reaper struct {
	store store.JobStore
	cfg   ReaperConfig
	now   func() time.Time
}

// NewReaper creates a reaper.
func NewReaper(st store.JobStore, cfg ReaperConfig) *Reaper {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultStaleThreshold
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	return &Reaper{store: st, cfg: cfg, now: time.Now}
}

// TimeoutMessage is the error message written on reaped jobs.
func (r *Reaper) TimeoutMessage() string {
	return fmt.Sprintf("%s: no progress for more than %s", TimeoutPrefix, r.cfg.Threshold)
}

// Cleanup fails every stale job once. Running it again with nothing stale
// reports zero cleaned.
func (r *Reaper) Cleanup(ctx context.Context) (*CleanupResult, error) {
	cutoff := r.now().Add(-r.cfg.Threshold)
	jobs, err := r.store.FailStaleJobs(ctx, cutoff, r.TimeoutMessage())
	if err != nil {
		return nil, eris.Wrap(err, "jobs: fail stale jobs")
	}
	if jobs == nil {
		jobs = []model.BatchJob{}
	}

	metrics.JobsReaped.Add(float64(len(jobs)))
	if len(jobs) > 0 {
		ids := make([]string, len(jobs))
		for i := range jobs {
			ids[i] = jobs[i].ID
		}
		zap.L().Warn("reaped stale jobs",
			zap.String("component", "reaper"),
			zap.Int("cleaned", len(jobs)),
			zap.Strings("job_ids", ids),
		)
	}
	return &CleanupResult{Cleaned: len(jobs), Jobs: jobs}, nil
}

// Run calls Cleanup every interval until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "reaper"))
	log.Info("starting stale job reaper",
		zap.Duration("interval", r.cfg.Interval),
		zap.Duration("threshold", r.cfg.Threshold),
	)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("stale job reaper stopped")
			return
		case <-ticker.C:
			if _, err := r.Cleanup(ctx); err != nil {
				log.Error("reaper: cleanup failed", zap.Error(err))
			}
		}
	}
}
