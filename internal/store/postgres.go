package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-qualifier/internal/db"
	"github.com/sells-group/lead-qualifier/internal/model"
	"github.com/sells-group/lead-qualifier/internal/resilience"
)

// PostgresStore implements Store on a pgx pool.
type PostgresStore struct {
	pool db.Pool
	now  func() time.Time
}

// PoolConfig holds optional connection pool tuning.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
}

// NewPostgres connects to connString and returns a PostgresStore.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	maxConns := int32(10)
	if poolCfg != nil && poolCfg.MaxConns > 0 {
		maxConns = poolCfg.MaxConns
	}
	pool, err := db.Connect(ctx, connString, maxConns)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	return NewPostgresFromPool(pool), nil
}

// NewPostgresFromPool wraps an existing pool.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, now: func() time.Time { return time.Now().UTC() }}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS batch_jobs (
	id                TEXT PRIMARY KEY,
	source            TEXT NOT NULL,
	search_term       TEXT,
	filters           JSONB NOT NULL DEFAULT '{}',
	status            TEXT NOT NULL DEFAULT 'pending',
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at        TIMESTAMPTZ,
	completed_at      TIMESTAMPTZ,
	error_message     TEXT,
	records_fetched   INTEGER NOT NULL DEFAULT 0,
	records_processed INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS inbound_batches (
	id          TEXT PRIMARY KEY,
	job_id      TEXT NOT NULL REFERENCES batch_jobs(id),
	payload     JSONB NOT NULL,
	status      TEXT NOT NULL DEFAULT 'pending',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at  TIMESTAMPTZ,
	finished_at TIMESTAMPTZ,
	error       TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS entities (
	id                   TEXT PRIMARY KEY,
	job_id               TEXT,
	canonical_key        TEXT NOT NULL,
	legal_name           TEXT NOT NULL,
	registry_id          TEXT NOT NULL,
	registry_source      TEXT NOT NULL,
	country              TEXT NOT NULL DEFAULT '',
	status               TEXT NOT NULL DEFAULT '',
	incorporation_date   DATE,
	address_line         TEXT NOT NULL DEFAULT '',
	city                 TEXT NOT NULL DEFAULT '',
	postal_code          TEXT NOT NULL DEFAULT '',
	officer_name         TEXT NOT NULL DEFAULT '',
	website              TEXT NOT NULL DEFAULT '',
	registry_url         TEXT NOT NULL DEFAULT '',
	score                INTEGER NOT NULL DEFAULT 0 CHECK (score BETWEEN 0 AND 100),
	presence_score       DOUBLE PRECISION NOT NULL DEFAULT 0,
	qualification_status TEXT NOT NULL DEFAULT 'pending',
	domain_available     BOOLEAN,
	negative_press_flag  BOOLEAN,
	filter_notes         JSONB NOT NULL DEFAULT '[]',
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (registry_id, registry_source)
);

CREATE TABLE IF NOT EXISTS check_results (
	id         TEXT PRIMARY KEY,
	entity_id  TEXT REFERENCES entities(id),
	check_type TEXT NOT NULL,
	subject    TEXT NOT NULL,
	passed     BOOLEAN NOT NULL,
	details    JSONB NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS suppressions (
	key        TEXT PRIMARY KEY,
	name       TEXT NOT NULL DEFAULT '',
	reason     TEXT NOT NULL DEFAULT '',
	created_by TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS filter_audit (
	seq          BIGSERIAL,
	id           TEXT PRIMARY KEY,
	company_name TEXT NOT NULL,
	job_id       TEXT NOT NULL,
	filter_type  TEXT NOT NULL,
	blocked      BOOLEAN NOT NULL,
	details      JSONB NOT NULL DEFAULT '{}',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_batch_jobs_status_started ON batch_jobs(status, started_at);
CREATE INDEX IF NOT EXISTS idx_inbound_batches_pending ON inbound_batches(created_at) WHERE status = 'pending';
CREATE INDEX IF NOT EXISTS idx_entities_canonical_key ON entities(canonical_key);
CREATE INDEX IF NOT EXISTS idx_check_results_subject ON check_results(check_type, subject, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_check_results_entity ON check_results(entity_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_filter_audit_job ON filter_audit(job_id, seq);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// --- Jobs ---

const jobColumns = `id, source, search_term, filters, status, created_at, started_at, completed_at,
	error_message, records_fetched, records_processed`

func (s *PostgresStore) CreateJob(ctx context.Context, job *model.BatchJob) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	now := s.now()
	job.CreatedAt = now
	job.StartedAt = &now
	if job.Status == "" {
		job.Status = model.JobStatusPending
	}

	filters, err := marshalMap(job.Filters)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal filters")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO batch_jobs (id, source, search_term, filters, status, created_at, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		job.ID, string(job.Source), nullString(job.SearchTerm), filters, string(job.Status), now, now,
	)
	return resilience.NewStorageError("postgres: insert job", err)
}

func (s *PostgresStore) GetJob(ctx context.Context, id string) (*model.BatchJob, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM batch_jobs WHERE id = $1`, id)
	job, err := scanPgJob(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get job %s", id)
	}
	return job, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.BatchJob, error) {
	query := `SELECT ` + jobColumns + ` FROM batch_jobs`
	args := []any{}
	if filter.Status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC LIMIT ` + itoa(listLimit(filter.Limit))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, resilience.NewStorageError("postgres: list jobs", err)
	}
	return collectPgJobs(rows)
}

func (s *PostgresStore) TransitionJob(ctx context.Context, id string, to model.JobStatus) error {
	if to != model.JobStatusRunning && to != model.JobStatusProcessing {
		return resilience.NewValidationError("status", "cannot transition job to %q", to)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE batch_jobs SET status = $1, started_at = $2
		 WHERE id = $3 AND status IN (`+transitionFrom(to)+`)`,
		string(to), s.now(), id,
	)
	if err != nil {
		return resilience.NewStorageError("postgres: transition job", err)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: no active job %s", id)
	}
	return nil
}

func (s *PostgresStore) SetJobFetched(ctx context.Context, id string, fetched int) error {
	tag, err := s.pool.Exec(ctx, `UPDATE batch_jobs SET records_fetched = $1 WHERE id = $2`, fetched, id)
	if err != nil {
		return resilience.NewStorageError("postgres: set job fetched", err)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: job %s", id)
	}
	return nil
}

func (s *PostgresStore) FailJob(ctx context.Context, id, msg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE batch_jobs SET status = 'failed', error_message = $1, completed_at = $2
		 WHERE id = $3 AND status NOT IN ('completed', 'failed')`,
		msg, s.now(), id,
	)
	if err != nil {
		return resilience.NewStorageError("postgres: fail job", err)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: no active job %s", id)
	}
	return nil
}

func (s *PostgresStore) CompleteJob(ctx context.Context, id string, processed int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE batch_jobs SET status = 'completed', completed_at = $1,
		 records_processed = records_processed + $2
		 WHERE id = $3 AND status NOT IN ('completed', 'failed')`,
		s.now(), processed, id,
	)
	if err != nil {
		return resilience.NewStorageError("postgres: complete job", err)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: no active job %s", id)
	}
	return nil
}

func (s *PostgresStore) FailStaleJobs(ctx context.Context, cutoff time.Time, msg string) ([]model.BatchJob, error) {
	rows, err := s.pool.Query(ctx,
		`UPDATE batch_jobs SET status = 'failed', error_message = $1, completed_at = $2
		 WHERE status IN ('pending', 'running') AND COALESCE(started_at, created_at) < $3
		 RETURNING `+jobColumns,
		msg, s.now(), cutoff,
	)
	if err != nil {
		return nil, resilience.NewStorageError("postgres: fail stale jobs", err)
	}
	return collectPgJobs(rows)
}

func scanPgJob(row pgx.Row) (*model.BatchJob, error) {
	var (
		j          model.BatchJob
		source     string
		status     string
		searchTerm *string
		filters    []byte
	)
	err := row.Scan(&j.ID, &source, &searchTerm, &filters, &status, &j.CreatedAt, &j.StartedAt,
		&j.CompletedAt, &j.ErrorMessage, &j.RecordsFetched, &j.RecordsProcessed)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, resilience.NewStorageError("postgres: scan job", err)
	}
	j.Source = model.Source(source)
	j.Status = model.JobStatus(status)
	if searchTerm != nil {
		j.SearchTerm = *searchTerm
	}
	if j.Filters, err = unmarshalMap(filters); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal filters")
	}
	return &j, nil
}

func collectPgJobs(rows pgx.Rows) ([]model.BatchJob, error) {
	defer rows.Close()
	var out []model.BatchJob
	for rows.Next() {
		j, err := scanPgJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *j)
	}
	return out, resilience.NewStorageError("postgres: iterate jobs", rows.Err())
}

// --- Inbound batches ---

func (s *PostgresStore) EnqueueBatch(ctx context.Context, batch *model.InboundBatch) error {
	if batch.ID == "" {
		batch.ID = uuid.New().String()
	}
	batch.Status = model.BatchStatusPending
	batch.CreatedAt = s.now()

	payload, err := json.Marshal(batch.Candidates)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal batch payload")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO inbound_batches (id, job_id, payload, status, created_at) VALUES ($1, $2, $3, $4, $5)`,
		batch.ID, batch.JobID, payload, string(batch.Status), batch.CreatedAt,
	)
	return resilience.NewStorageError("postgres: enqueue batch", err)
}

func (s *PostgresStore) ClaimBatch(ctx context.Context) (*model.InboundBatch, error) {
	var batch *model.InboundBatch
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		var (
			b       model.InboundBatch
			payload []byte
		)
		err := tx.QueryRow(ctx,
			`SELECT id, job_id, payload, created_at FROM inbound_batches
			 WHERE status = 'pending' ORDER BY created_at LIMIT 1 FOR UPDATE SKIP LOCKED`,
		).Scan(&b.ID, &b.JobID, &payload, &b.CreatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := json.Unmarshal(payload, &b.Candidates); err != nil {
			return eris.Wrapf(err, "postgres: unmarshal batch %s", b.ID)
		}

		now := s.now()
		if _, err := tx.Exec(ctx,
			`UPDATE inbound_batches SET status = 'processing', started_at = $1 WHERE id = $2`,
			now, b.ID,
		); err != nil {
			return err
		}
		b.Status = model.BatchStatusProcessing
		b.StartedAt = &now
		batch = &b
		return nil
	})
	if err != nil {
		return nil, resilience.NewStorageError("postgres: claim batch", err)
	}
	return batch, nil
}

func (s *PostgresStore) FinishBatch(ctx context.Context, id string, status model.BatchStatus, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE inbound_batches SET status = $1, error = $2, finished_at = $3 WHERE id = $4`,
		string(status), errMsg, s.now(), id,
	)
	if err != nil {
		return resilience.NewStorageError("postgres: finish batch", err)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: batch %s", id)
	}
	return nil
}
