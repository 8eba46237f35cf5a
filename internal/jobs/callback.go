package jobs

import (
	"context"
	"errors"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-qualifier/internal/model"
	"github.com/sells-group/lead-qualifier/internal/queue"
	"github.com/sells-group/lead-qualifier/internal/resilience"
	"github.com/sells-group/lead-qualifier/internal/store"
)

// CallbackStore is the persistence callback ingestion needs.
type CallbackStore interface {
	store.JobStore
	store.BatchStore
}

// IngestResult reports what a callback produced.
type IngestResult struct {
	JobID      string          `json:"job_id"`
	BatchID    string          `json:"batch_id,omitempty"`
	Candidates int             `json:"candidates"`
	JobStatus  model.JobStatus `json:"job_status"`
}

// Ingester turns workflow callbacks into inbound batches.
type Ingester struct {
	store    CallbackStore
	notifier queue.Notifier
}

// NewIngester creates an ingester. notifier may be nil when the processor
// polls.
func NewIngester(st CallbackStore, notifier queue.Notifier) *Ingester {
	return &Ingester{store: st, notifier: notifier}
}

func callbackFailed(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "failed", "error", "failure":
		return true
	}
	return false
}

// IngestCallback records a workflow delivery. A failed callback fails the
// job. Otherwise the job moves to processing and its candidates are queued;
// an empty delivery completes the job with nothing processed. A job accepts
// one delivery: redelivery to a processing or finished job is rejected.
func (in *Ingester) IngestCallback(ctx context.Context, cb model.Callback) (*IngestResult, error) {
	if strings.TrimSpace(cb.JobID) == "" {
		return nil, resilience.NewValidationError("job_id", "required")
	}

	job, err := in.store.GetJob(ctx, cb.JobID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, resilience.NewValidationError("job_id", "unknown job %s", cb.JobID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "jobs: get job")
	}
	if job.Status.IsTerminal() || job.Status == model.JobStatusProcessing {
		return nil, resilience.NewValidationError("job_id", "job %s is already %s", job.ID, job.Status)
	}

	log := zap.L().With(zap.String("component", "callback"), zap.String("job_id", job.ID))
	res := &IngestResult{JobID: job.ID, Candidates: len(cb.Entities)}

	if callbackFailed(cb.Status) {
		msg := "workflow reported failure"
		if cb.ErrorMessage != nil && *cb.ErrorMessage != "" {
			msg = *cb.ErrorMessage
		}
		if err := in.store.FailJob(ctx, job.ID, msg); err != nil {
			return nil, eris.Wrap(err, "jobs: fail job")
		}
		log.Warn("workflow reported failure", zap.String("error_message", msg))
		res.JobStatus = model.JobStatusFailed
		return res, nil
	}

	// Processing first: the transition claims the delivery, and a fast
	// processor may complete the job as soon as the batch is visible.
	if len(cb.Entities) > 0 {
		err := in.store.TransitionJob(ctx, job.ID, model.JobStatusProcessing)
		if errors.Is(err, store.ErrNotFound) {
			return nil, resilience.NewValidationError("job_id", "job %s no longer accepts deliveries", job.ID)
		}
		if err != nil {
			return nil, eris.Wrap(err, "jobs: mark job processing")
		}
	}

	fetched := cb.TotalCount
	if fetched < len(cb.Entities) {
		fetched = len(cb.Entities)
	}
	if err := in.store.SetJobFetched(ctx, job.ID, fetched); err != nil {
		return nil, eris.Wrap(err, "jobs: set fetched")
	}

	if len(cb.Entities) == 0 {
		if err := in.store.CompleteJob(ctx, job.ID, 0); err != nil {
			return nil, eris.Wrap(err, "jobs: complete empty job")
		}
		log.Info("workflow delivered no candidates")
		res.JobStatus = model.JobStatusCompleted
		return res, nil
	}

	batch := &model.InboundBatch{JobID: job.ID, Candidates: cb.Entities}
	if err := in.store.EnqueueBatch(ctx, batch); err != nil {
		if ferr := in.store.FailJob(context.WithoutCancel(ctx), job.ID, resilience.Summary(err)); ferr != nil {
			log.Error("failed to fail job after enqueue error", zap.Error(ferr))
		}
		return nil, eris.Wrap(err, "jobs: enqueue batch")
	}
	res.BatchID = batch.ID
	res.JobStatus = model.JobStatusProcessing

	if in.notifier != nil {
		if err := in.notifier.Notify(ctx, batch.ID); err != nil {
			log.Warn("batch notify failed, processor will poll", zap.String("batch_id", batch.ID), zap.Error(err))
		}
	}
	log.Info("callback ingested",
		zap.String("batch_id", batch.ID),
		zap.Int("candidates", len(cb.Entities)),
		zap.Int("total_count", cb.TotalCount),
	)
	return res, nil
}
