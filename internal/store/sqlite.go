package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/lead-qualifier/internal/model"
	"github.com/sells-group/lead-qualifier/internal/resilience"
)

// SQLiteStore implements Store using modernc.org/sqlite. Timestamps are
// stored as fixed-width UTC text.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite opens a SQLite database at dsn and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// One writer at a time keeps claim and upsert statements serialized.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS batch_jobs (
	id                TEXT PRIMARY KEY,
	source            TEXT NOT NULL,
	search_term       TEXT,
	filters           TEXT NOT NULL DEFAULT '{}',
	status            TEXT NOT NULL DEFAULT 'pending',
	created_at        TEXT NOT NULL,
	started_at        TEXT,
	completed_at      TEXT,
	error_message     TEXT,
	records_fetched   INTEGER NOT NULL DEFAULT 0,
	records_processed INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS inbound_batches (
	id          TEXT PRIMARY KEY,
	job_id      TEXT NOT NULL REFERENCES batch_jobs(id),
	payload     TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'pending',
	created_at  TEXT NOT NULL,
	started_at  TEXT,
	finished_at TEXT,
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
	incorporation_date   TEXT,
	address_line         TEXT NOT NULL DEFAULT '',
	city                 TEXT NOT NULL DEFAULT '',
	postal_code          TEXT NOT NULL DEFAULT '',
	officer_name         TEXT NOT NULL DEFAULT '',
	website              TEXT NOT NULL DEFAULT '',
	registry_url         TEXT NOT NULL DEFAULT '',
	score                INTEGER NOT NULL DEFAULT 0 CHECK (score BETWEEN 0 AND 100),
	presence_score       REAL NOT NULL DEFAULT 0,
	qualification_status TEXT NOT NULL DEFAULT 'pending',
	domain_available     INTEGER,
	negative_press_flag  INTEGER,
	filter_notes         TEXT NOT NULL DEFAULT '[]',
	created_at           TEXT NOT NULL,
	updated_at           TEXT NOT NULL,
	UNIQUE (registry_id, registry_source)
);

CREATE TABLE IF NOT EXISTS check_results (
	id         TEXT PRIMARY KEY,
	entity_id  TEXT REFERENCES entities(id),
	check_type TEXT NOT NULL,
	subject    TEXT NOT NULL,
	passed     INTEGER NOT NULL,
	details    TEXT NOT NULL DEFAULT '{}',
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS suppressions (
	key        TEXT PRIMARY KEY,
	name       TEXT NOT NULL DEFAULT '',
	reason     TEXT NOT NULL DEFAULT '',
	created_by TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS filter_audit (
	id           TEXT PRIMARY KEY,
	company_name TEXT NOT NULL,
	job_id       TEXT NOT NULL,
	filter_type  TEXT NOT NULL,
	blocked      INTEGER NOT NULL,
	details      TEXT NOT NULL DEFAULT '{}',
	created_at   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_batch_jobs_status_started ON batch_jobs(status, started_at);
CREATE INDEX IF NOT EXISTS idx_inbound_batches_status ON inbound_batches(status, created_at);
CREATE INDEX IF NOT EXISTS idx_entities_canonical_key ON entities(canonical_key);
CREATE INDEX IF NOT EXISTS idx_check_results_subject ON check_results(check_type, subject, created_at);
CREATE INDEX IF NOT EXISTS idx_check_results_entity ON check_results(entity_id, created_at);
CREATE INDEX IF NOT EXISTS idx_filter_audit_job ON filter_audit(job_id);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scannable interface {
	Scan(dest ...any) error
}

func checkRowsAffected(res sql.Result, what, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return resilience.NewStorageError("sqlite: rows affected", err)
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "sqlite: %s %s", what, id)
	}
	return nil
}

// --- Jobs ---

func (s *SQLiteStore) CreateJob(ctx context.Context, job *model.BatchJob) error {
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
		return eris.Wrap(err, "sqlite: marshal filters")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO batch_jobs (id, source, search_term, filters, status, created_at, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		job.ID, string(job.Source), nullString(job.SearchTerm), string(filters), string(job.Status),
		fmtTime(now), fmtTime(now),
	)
	return resilience.NewStorageError("sqlite: insert job", err)
}

const sqliteJobColumns = `id, source, search_term, filters, status, created_at, started_at, completed_at,
	error_message, records_fetched, records_processed`

func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*model.BatchJob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteJobColumns+` FROM batch_jobs WHERE id = ?`, id)
	job, err := scanSQLiteJob(row)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get job %s", id)
	}
	return job, nil
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.BatchJob, error) {
	query := `SELECT ` + sqliteJobColumns + ` FROM batch_jobs`
	var args []any
	if filter.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, listLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, resilience.NewStorageError("sqlite: list jobs", err)
	}
	return collectSQLiteJobs(rows)
}

func (s *SQLiteStore) TransitionJob(ctx context.Context, id string, to model.JobStatus) error {
	if to != model.JobStatusRunning && to != model.JobStatusProcessing {
		return resilience.NewValidationError("status", "cannot transition job to %q", to)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE batch_jobs SET status = ?, started_at = ?
		 WHERE id = ? AND status IN (`+transitionFrom(to)+`)`,
		string(to), fmtTime(s.now()), id,
	)
	if err != nil {
		return resilience.NewStorageError("sqlite: transition job", err)
	}
	return checkRowsAffected(res, "active job", id)
}

func (s *SQLiteStore) SetJobFetched(ctx context.Context, id string, fetched int) error {
	res, err := s.db.ExecContext(ctx, `UPDATE batch_jobs SET records_fetched = ? WHERE id = ?`, fetched, id)
	if err != nil {
		return resilience.NewStorageError("sqlite: set job fetched", err)
	}
	return checkRowsAffected(res, "job", id)
}

func (s *SQLiteStore) FailJob(ctx context.Context, id, msg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE batch_jobs SET status = 'failed', error_message = ?, completed_at = ?
		 WHERE id = ? AND status NOT IN ('completed', 'failed')`,
		msg, fmtTime(s.now()), id,
	)
	if err != nil {
		return resilience.NewStorageError("sqlite: fail job", err)
	}
	return checkRowsAffected(res, "active job", id)
}

func (s *SQLiteStore) CompleteJob(ctx context.Context, id string, processed int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE batch_jobs SET status = 'completed', completed_at = ?, records_processed = records_processed + ?
		 WHERE id = ? AND status NOT IN ('completed', 'failed')`,
		fmtTime(s.now()), processed, id,
	)
	if err != nil {
		return resilience.NewStorageError("sqlite: complete job", err)
	}
	return checkRowsAffected(res, "active job", id)
}

func (s *SQLiteStore) FailStaleJobs(ctx context.Context, cutoff time.Time, msg string) ([]model.BatchJob, error) {
	rows, err := s.db.QueryContext(ctx,
		`UPDATE batch_jobs SET status = 'failed', error_message = ?, completed_at = ?
		 WHERE status IN ('pending', 'running') AND COALESCE(started_at, created_at) < ?
		 RETURNING `+sqliteJobColumns,
		msg, fmtTime(s.now()), fmtTime(cutoff),
	)
	if err != nil {
		return nil, resilience.NewStorageError("sqlite: fail stale jobs", err)
	}
	return collectSQLiteJobs(rows)
}

func scanSQLiteJob(row scannable) (*model.BatchJob, error) {
	var (
		j                                model.BatchJob
		source, status, filters, created string
		searchTerm, started, completed   *string
	)
	err := row.Scan(&j.ID, &source, &searchTerm, &filters, &status, &created, &started, &completed,
		&j.ErrorMessage, &j.RecordsFetched, &j.RecordsProcessed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, resilience.NewStorageError("sqlite: scan job", err)
	}
	j.Source = model.Source(source)
	j.Status = model.JobStatus(status)
	if searchTerm != nil {
		j.SearchTerm = *searchTerm
	}
	if j.Filters, err = unmarshalMap([]byte(filters)); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal filters")
	}
	if j.CreatedAt, err = parseTime(created); err != nil {
		return nil, eris.Wrap(err, "sqlite: parse created_at")
	}
	if j.StartedAt, err = parseTimePtr(started); err != nil {
		return nil, eris.Wrap(err, "sqlite: parse started_at")
	}
	if j.CompletedAt, err = parseTimePtr(completed); err != nil {
		return nil, eris.Wrap(err, "sqlite: parse completed_at")
	}
	return &j, nil
}

func collectSQLiteJobs(rows *sql.Rows) ([]model.BatchJob, error) {
	defer rows.Close() //nolint:errcheck
	var out []model.BatchJob
	for rows.Next() {
		j, err := scanSQLiteJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *j)
	}
	return out, resilience.NewStorageError("sqlite: iterate jobs", rows.Err())
}

// --- Inbound batches ---

func (s *SQLiteStore) EnqueueBatch(ctx context.Context, batch *model.InboundBatch) error {
	if batch.ID == "" {
		batch.ID = uuid.New().String()
	}
	batch.Status = model.BatchStatusPending
	batch.CreatedAt = s.now()

	payload, err := json.Marshal(batch.Candidates)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal batch payload")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO inbound_batches (id, job_id, payload, status, created_at) VALUES (?, ?, ?, ?, ?)`,
		batch.ID, batch.JobID, string(payload), string(batch.Status), fmtTime(batch.CreatedAt),
	)
	return resilience.NewStorageError("sqlite: enqueue batch", err)
}

func (s *SQLiteStore) ClaimBatch(ctx context.Context) (*model.InboundBatch, error) {
	now := s.now()
	var (
		b                model.InboundBatch
		payload, created string
	)
	err := s.db.QueryRowContext(ctx,
		`UPDATE inbound_batches SET status = 'processing', started_at = ?
		 WHERE id = (SELECT id FROM inbound_batches WHERE status = 'pending' ORDER BY created_at, rowid LIMIT 1)
		   AND status = 'pending'
		 RETURNING id, job_id, payload, created_at`,
		fmtTime(now),
	).Scan(&b.ID, &b.JobID, &payload, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, resilience.NewStorageError("sqlite: claim batch", err)
	}
	if err := json.Unmarshal([]byte(payload), &b.Candidates); err != nil {
		return nil, eris.Wrapf(err, "sqlite: unmarshal batch %s", b.ID)
	}
	if b.CreatedAt, err = parseTime(created); err != nil {
		return nil, eris.Wrap(err, "sqlite: parse created_at")
	}
	b.Status = model.BatchStatusProcessing
	b.StartedAt = &now
	return &b, nil
}

func (s *SQLiteStore) FinishBatch(ctx context.Context, id string, status model.BatchStatus, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE inbound_batches SET status = ?, error = ?, finished_at = ? WHERE id = ?`,
		string(status), errMsg, fmtTime(s.now()), id,
	)
	if err != nil {
		return resilience.NewStorageError("sqlite: finish batch", err)
	}
	return checkRowsAffected(res, "batch", id)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
