package filter

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/lead-qualifier/internal/metrics"
	"github.com/sells-group/lead-qualifier/internal/model"
	"github.com/sells-group/lead-qualifier/internal/queue"
	"github.com/sells-group/lead-qualifier/internal/resilience"
	"github.com/sells-group/lead-qualifier/internal/score"
	"github.com/sells-group/lead-qualifier/internal/store"
)

var errCheckNotRecorded = eris.New("check result was not recorded")

// DefaultConcurrency is the number of inbound batches processed at once.
const DefaultConcurrency = 10

// Report summarizes one processed batch.
type Report struct {
	BatchID    string   `json:"batch_id"`
	JobID      string   `json:"job_id"`
	Candidates int      `json:"candidates"`
	Passed     int      `json:"passed"`
	Duplicates int      `json:"duplicates"`
	Persisted  int      `json:"persisted"`
	EntityIDs  []string `json:"entity_ids"`
}

// Processor consumes inbound batches.
type Processor struct {
	store       store.Store
	chain       *Chain
	notifier    queue.Notifier
	concurrency int
	now         func() time.Time
}

// ProcessorConfig configures a Processor.
type ProcessorConfig struct {
	Concurrency int
}

// NewProcessor creates a batch processor. notifier may be nil when only
// ProcessNext is used.
func NewProcessor(st store.Store, chain *Chain, notifier queue.Notifier, cfg ProcessorConfig) *Processor {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	return &Processor{
		store:       st,
		chain:       chain,
		notifier:    notifier,
		concurrency: cfg.Concurrency,
		now:         time.Now,
	}
}

// ProcessNext claims and processes one pending batch. It returns nil, nil
// when the queue is empty.
func (p *Processor) ProcessNext(ctx context.Context) (*Report, error) {
	batch, err := p.store.ClaimBatch(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "filter: claim batch")
	}
	if batch == nil {
		return nil, nil
	}
	return p.Process(ctx, batch)
}

// Process runs one claimed batch to completion. Candidates are evaluated
// sequentially so audit records keep candidate order. A storage failure
// fails both the batch and its job.
func (p *Processor) Process(ctx context.Context, batch *model.InboundBatch) (*Report, error) {
	start := time.Now()
	log := zap.L().With(
		zap.String("component", "processor"),
		zap.String("batch_id", batch.ID),
		zap.String("job_id", batch.JobID),
	)
	metrics.BatchesInFlight.Inc()
	defer metrics.BatchesInFlight.Dec()

	report, err := p.process(ctx, batch, log)
	if err != nil {
		msg := resilience.Summary(err)
		log.Error("batch failed", zap.Error(err))
		if ferr := p.store.FinishBatch(ctx, batch.ID, model.BatchStatusFailed, msg); ferr != nil {
			log.Error("mark batch failed", zap.Error(ferr))
		}
		if ferr := p.store.FailJob(ctx, batch.JobID, msg); ferr != nil && !errors.Is(ferr, store.ErrNotFound) {
			log.Error("mark job failed", zap.Error(ferr))
		}
		metrics.BatchDuration.WithLabelValues(string(model.BatchStatusFailed)).Observe(time.Since(start).Seconds())
		return report, err
	}

	if err := p.store.CompleteJob(ctx, batch.JobID, report.Persisted); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return report, eris.Wrap(err, "filter: complete job")
		}
		log.Warn("job already terminal, counts not recorded", zap.Int("persisted", report.Persisted))
	}
	if err := p.store.FinishBatch(ctx, batch.ID, model.BatchStatusCompleted, ""); err != nil {
		return report, eris.Wrap(err, "filter: finish batch")
	}

	metrics.BatchDuration.WithLabelValues(string(model.BatchStatusCompleted)).Observe(time.Since(start).Seconds())
	log.Info("batch processed",
		zap.Int("candidates", report.Candidates),
		zap.Int("passed", report.Passed),
		zap.Int("duplicates", report.Duplicates),
		zap.Int("persisted", report.Persisted),
		zap.Duration("elapsed", time.Since(start)),
	)
	return report, nil
}

func (p *Processor) process(ctx context.Context, batch *model.InboundBatch, log *zap.Logger) (*Report, error) {
	report := &Report{BatchID: batch.ID, JobID: batch.JobID, Candidates: len(batch.Candidates)}

	// One suppression snapshot per batch.
	suppressed, err := p.store.SuppressionKeys(ctx)
	if err != nil {
		return report, eris.Wrap(err, "filter: load suppression keys")
	}

	var passed []*State
	for i := range batch.Candidates {
		st := &State{
			JobID:      batch.JobID,
			Candidate:  batch.Candidates[i],
			Suppressed: suppressed,
		}
		ok, err := p.chain.Run(ctx, st)
		if len(st.Audit) > 0 {
			if aerr := p.store.AppendAudit(ctx, st.Audit); aerr != nil {
				return report, eris.Wrap(aerr, "filter: append audit")
			}
		}
		if err != nil {
			return report, err
		}
		if ok {
			passed = append(passed, st)
		}
	}
	report.Passed = len(passed)

	dedup, err := NewDeduplicator(ctx, p.store)
	if err != nil {
		return report, eris.Wrap(err, "filter: load entity keys")
	}

	now := p.now()
	for _, st := range passed {
		c := st.Candidate
		if !dedup.Keep(st.Key, c.RegistryID) {
			report.Duplicates++
			log.Debug("duplicate candidate dropped", zap.String("name", c.LegalName), zap.String("key", st.Key))
			continue
		}

		if c.Website() == "" && st.Website != "" {
			c.WebsiteURL = st.Website
		}
		e := &model.Entity{
			CandidateEntity:     c,
			JobID:               batch.JobID,
			CanonicalKey:        st.Key,
			PresenceScore:       st.PresenceScore,
			QualificationStatus: model.QualificationPending,
			FilterNotes:         []string{},
		}
		e.SetScore(score.Score(e, now))

		if err := p.store.UpsertEntity(ctx, e); err != nil {
			return report, eris.Wrap(err, "filter: upsert entity")
		}
		if len(st.CheckIDs) > 0 {
			if err := p.store.LinkChecks(ctx, e.ID, st.CheckIDs); err != nil {
				return report, eris.Wrap(err, "filter: link checks")
			}
		}
		report.Persisted++
		report.EntityIDs = append(report.EntityIDs, e.ID)
		metrics.EntitiesUpserted.Inc()
	}
	return report, nil
}

// Run processes batches until ctx is done, with at most the configured
// number of batches in flight. In-flight batches are not canceled when ctx
// ends; Run waits for them.
func (p *Processor) Run(ctx context.Context) error {
	if p.notifier == nil {
		return eris.New("filter: processor has no notifier")
	}
	log := zap.L().With(zap.String("component", "processor"))
	log.Info("processor started", zap.Int("concurrency", p.concurrency))

	var g errgroup.Group
	g.SetLimit(p.concurrency)
	work := context.WithoutCancel(ctx)

	for {
		for ctx.Err() == nil {
			batch, err := p.store.ClaimBatch(ctx)
			if err != nil {
				log.Error("claim batch", zap.Error(err))
				break
			}
			if batch == nil {
				break
			}
			g.Go(func() error {
				if _, err := p.Process(work, batch); err != nil {
					log.Warn("batch not completed", zap.String("batch_id", batch.ID), zap.Error(err))
				}
				return nil
			})
		}

		if err := p.notifier.Wait(ctx); err != nil {
			log.Info("processor stopping, waiting for in-flight batches")
			_ = g.Wait()
			return nil
		}
	}
}
