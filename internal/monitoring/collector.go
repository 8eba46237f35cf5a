package monitoring

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-qualifier/internal/jobs"
	"github.com/sells-group/lead-qualifier/internal/model"
	"github.com/sells-group/lead-qualifier/internal/store"
)

// MetricsSnapshot holds a point-in-time view of job health.
type MetricsSnapshot struct {
	// Job metrics (within lookback window).
	JobsTotal     int     `json:"jobs_total"`
	JobsCompleted int     `json:"jobs_completed"`
	JobsFailed    int     `json:"jobs_failed"`
	JobsTimedOut  int     `json:"jobs_timed_out"`
	JobsInFlight  int     `json:"jobs_in_flight"`
	FailRate      float64 `json:"fail_rate"`

	// Candidate yield of completed jobs.
	RecordsFetched   int     `json:"records_fetched"`
	RecordsProcessed int     `json:"records_processed"`
	YieldRate        float64 `json:"yield_rate"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// JobLister is the part of the store the collector reads.
type JobLister interface {
	ListJobs(ctx context.Context, filter store.JobFilter) ([]model.BatchJob, error)
}

// collectLimit caps how many recent jobs one snapshot scans.
const collectLimit = 1000

// Collector gathers job metrics from the store.
type Collector struct {
	store JobLister
	now   func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(st JobLister) *Collector {
	return &Collector{store: st, now: time.Now}
}

// Collect gathers a snapshot of job metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	// Jobs come back newest first.
	list, err := c.store.ListJobs(ctx, store.JobFilter{Limit: collectLimit})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list jobs")
	}

	for _, j := range list {
		if j.CreatedAt.Before(cutoff) {
			break
		}
		snap.JobsTotal++
		switch j.Status {
		case model.JobStatusCompleted:
			snap.JobsCompleted++
			snap.RecordsFetched += j.RecordsFetched
			snap.RecordsProcessed += j.RecordsProcessed
		case model.JobStatusFailed:
			snap.JobsFailed++
			if j.ErrorMessage != nil && strings.HasPrefix(*j.ErrorMessage, jobs.TimeoutPrefix) {
				snap.JobsTimedOut++
			}
		default:
			snap.JobsInFlight++
		}
	}

	if finished := snap.JobsCompleted + snap.JobsFailed; finished > 0 {
		snap.FailRate = float64(snap.JobsFailed) / float64(finished)
	}
	if snap.RecordsFetched > 0 {
		snap.YieldRate = float64(snap.RecordsProcessed) / float64(snap.RecordsFetched)
	}

	return snap, nil
}
