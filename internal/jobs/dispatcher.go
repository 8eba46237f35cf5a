// Package jobs manages the BatchJob lifecycle: dispatching scrape workflows,
// ingesting their callbacks and reaping jobs that stopped making progress.
package jobs

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-qualifier/internal/metrics"
	"github.com/sells-group/lead-qualifier/internal/model"
	"github.com/sells-group/lead-qualifier/internal/resilience"
	"github.com/sells-group/lead-qualifier/internal/store"
	"github.com/sells-group/lead-qualifier/internal/workflow"
)

// DefaultDispatchTimeout bounds one Dispatch call including retries.
const DefaultDispatchTimeout = 30 * time.Minute

// Request asks for a new scrape-and-qualify job.
type Request struct {
	Source     model.Source   `json:"source"`
	SearchTerm string         `json:"search_term,omitempty"`
	Filters    map[string]any `json:"filters,omitempty"`
}

// DispatcherConfig configures the dispatcher.
type DispatcherConfig struct {
	// CallbackURL is where the workflow posts its results.
	CallbackURL string
	Timeout     time.Duration
	Retry       resilience.RetryConfig
	// Sources narrows the built-in source whitelist. Empty allows every
	// known source.
	Sources []model.Source
}

// Dispatcher creates jobs and triggers the workflow that fills them.
type Dispatcher struct {
	store   store.JobStore
	trigger workflow.Trigger
	cfg     DispatcherConfig
}

// NewDispatcher creates a dispatcher. A zero Retry uses
// resilience.DefaultRetryConfig.
func NewDispatcher(st store.JobStore, tr workflow.Trigger, cfg DispatcherConfig) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultDispatchTimeout
	}
	if cfg.Retry.MaxAttempts <= 0 {
		retry := resilience.DefaultRetryConfig()
		retry.Sleep = cfg.Retry.Sleep
		cfg.Retry = retry
	}
	return &Dispatcher{store: st, trigger: tr, cfg: cfg}
}

// Dispatch validates req, creates a pending job and triggers the workflow.
// A trigger that fails after all retries leaves the job failed with the last
// error; the job is still returned with a nil error. A job the reaper or an
// early callback moved on while the trigger ran is returned as it stands.
// Errors are only returned for invalid requests and storage failures.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*model.BatchJob, error) {
	if !d.allowed(req.Source) {
		return nil, resilience.NewValidationError("source", "unsupported source %q", req.Source)
	}

	job := &model.BatchJob{
		Source:     req.Source,
		SearchTerm: strings.TrimSpace(req.SearchTerm),
		Filters:    req.Filters,
		Status:     model.JobStatusPending,
	}
	if err := d.store.CreateJob(ctx, job); err != nil {
		return nil, eris.Wrap(err, "jobs: create job")
	}

	log := zap.L().With(
		zap.String("component", "dispatcher"),
		zap.String("job_id", job.ID),
		zap.String("source", string(job.Source)),
	)

	treq := workflow.Request{
		JobID:          job.ID,
		Source:         job.Source,
		RegistrySource: job.Source.RegistrySource(),
		SearchTerm:     job.SearchTerm,
		Filters:        job.Filters,
		CallbackURL:    d.cfg.CallbackURL,
	}

	retry := d.cfg.Retry
	source := string(job.Source)
	retry.OnRetry = func(attempt int, err error, delay time.Duration) {
		metrics.DispatchAttempts.WithLabelValues(source, "retry").Inc()
		log.Warn("dispatch attempt failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
	}

	tctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	attempts := 0
	err := resilience.Do(tctx, retry, func(ctx context.Context) error {
		attempts++
		return d.trigger.Trigger(ctx, treq)
	})

	// Record the outcome even when the caller has gone away.
	sctx := context.WithoutCancel(ctx)
	if err != nil {
		metrics.DispatchAttempts.WithLabelValues(source, "error").Inc()
		msg := resilience.Summary(err)
		log.Error("dispatch failed", zap.Int("attempts", attempts), zap.Error(err))
		if ferr := d.store.FailJob(sctx, job.ID, msg); ferr != nil {
			if !errors.Is(ferr, store.ErrNotFound) {
				return nil, eris.Wrap(ferr, "jobs: fail job")
			}
			log.Warn("job finished before dispatch failed", zap.Error(ferr))
		}
		metrics.JobsDispatched.WithLabelValues(source, string(model.JobStatusFailed)).Inc()
		return d.reload(sctx, job)
	}

	metrics.DispatchAttempts.WithLabelValues(source, "success").Inc()
	err = d.store.TransitionJob(sctx, job.ID, model.JobStatusRunning)
	switch {
	case errors.Is(err, store.ErrNotFound):
		// The reaper or an early callback moved the job on while the
		// trigger ran; report it as it stands.
		log.Warn("job left pending before dispatch returned", zap.Int("attempts", attempts))
		return d.reload(sctx, job)
	case err != nil:
		return nil, eris.Wrap(err, "jobs: mark job running")
	}
	metrics.JobsDispatched.WithLabelValues(source, string(model.JobStatusRunning)).Inc()
	log.Info("job dispatched", zap.Int("attempts", attempts))
	return d.reload(sctx, job)
}

func (d *Dispatcher) reload(ctx context.Context, job *model.BatchJob) (*model.BatchJob, error) {
	got, err := d.store.GetJob(ctx, job.ID)
	if err != nil {
		return nil, eris.Wrapf(err, "jobs: reload job %s", job.ID)
	}
	return got, nil
}

func (d *Dispatcher) allowed(src model.Source) bool {
	if !src.Valid() {
		return false
	}
	if len(d.cfg.Sources) == 0 {
		return true
	}
	for _, s := range d.cfg.Sources {
		if s == src {
			return true
		}
	}
	return false
}
