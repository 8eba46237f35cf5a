// Package store persists jobs, inbound batches, entities, check results,
// suppression records and filter audit records.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-qualifier/internal/model"
)

// ErrNotFound is returned when a row does not exist, or when a guarded
// transition matches no row (for example failing an already-terminal job).
var ErrNotFound = eris.New("store: not found")

// JobFilter specifies criteria for listing jobs.
type JobFilter struct {
	Status model.JobStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
}

// EntityKeys is a snapshot of the dedup keys of every stored entity.
type EntityKeys struct {
	Names       map[string]struct{}
	RegistryIDs map[string]struct{}
}

// PresenceUpdate carries denormalized checker flags. Nil fields are left unchanged.
type PresenceUpdate struct {
	DomainAvailable   *bool
	NegativePressFlag *bool
}

// JobStore persists BatchJobs.
type JobStore interface {
	CreateJob(ctx context.Context, job *model.BatchJob) error
	GetJob(ctx context.Context, id string) (*model.BatchJob, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]model.BatchJob, error)
	// TransitionJob moves a job forward to running (from pending) or
	// processing (from pending or running) and restarts its staleness clock.
	// Any other current status yields ErrNotFound.
	TransitionJob(ctx context.Context, id string, to model.JobStatus) error
	SetJobFetched(ctx context.Context, id string, fetched int) error
	// FailJob marks a non-terminal job failed with msg.
	FailJob(ctx context.Context, id, msg string) error
	CompleteJob(ctx context.Context, id string, processed int) error
	// FailStaleJobs fails every pending or running job started before cutoff
	// and returns the jobs it changed.
	FailStaleJobs(ctx context.Context, cutoff time.Time, msg string) ([]model.BatchJob, error)
}

// BatchStore is the inbound candidate batch queue.
type BatchStore interface {
	EnqueueBatch(ctx context.Context, batch *model.InboundBatch) error
	// ClaimBatch atomically moves the oldest pending batch to processing.
	// It returns nil, nil when the queue is empty.
	ClaimBatch(ctx context.Context) (*model.InboundBatch, error)
	FinishBatch(ctx context.Context, id string, status model.BatchStatus, errMsg string) error
}

// EntityStore persists qualified entities.
type EntityStore interface {
	// UpsertEntity inserts e or updates the row with the same registry id and
	// registry source, setting e.ID either way.
	UpsertEntity(ctx context.Context, e *model.Entity) error
	GetEntity(ctx context.Context, id string) (*model.Entity, error)
	EntityKeys(ctx context.Context) (*EntityKeys, error)
	UpdateQualification(ctx context.Context, id string, status model.QualificationStatus, notes []string) error
	UpdatePresence(ctx context.Context, id string, p PresenceUpdate) error
	UpdateEntityStatus(ctx context.Context, id string, status model.QualificationStatus) error
}

// CheckStore is the append-only check result log.
type CheckStore interface {
	AppendCheck(ctx context.Context, r *model.CheckResult) error
	// LatestCheck returns the newest result for (checkType, subject) created
	// at or after since, or nil, nil when there is none.
	LatestCheck(ctx context.Context, checkType model.CheckType, subject string, since time.Time) (*model.CheckResult, error)
	// ListChecks returns every result for entityID, newest first.
	ListChecks(ctx context.Context, entityID string) ([]model.CheckResult, error)
	// LinkChecks attaches unowned results recorded before the entity existed.
	LinkChecks(ctx context.Context, entityID string, checkIDs []string) error
}

// SuppressionStore persists the suppression index.
type SuppressionStore interface {
	UpsertSuppression(ctx context.Context, rec model.SuppressionRecord) error
	ImportSuppressions(ctx context.Context, recs []model.SuppressionRecord) (int64, error)
	SuppressionKeys(ctx context.Context) (map[string]struct{}, error)
	IsSuppressed(ctx context.Context, key string) (bool, error)
}

// AuditStore persists filter decisions.
type AuditStore interface {
	AppendAudit(ctx context.Context, recs []model.AuditRecord) error
	ListAudit(ctx context.Context, jobID string) ([]model.AuditRecord, error)
}

// Store is the full persistence interface.
type Store interface {
	JobStore
	BatchStore
	EntityStore
	CheckStore
	SuppressionStore
	AuditStore

	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// transitionFrom lists, as SQL literals, the statuses a job may leave for to.
func transitionFrom(to model.JobStatus) string {
	if to == model.JobStatusRunning {
		return `'pending'`
	}
	return `'pending', 'running'`
}

const defaultListLimit = 100

func listLimit(n int) int {
	if n <= 0 || n > 1000 {
		return defaultListLimit
	}
	return n
}
