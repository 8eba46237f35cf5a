package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-qualifier/internal/db"
	"github.com/sells-group/lead-qualifier/internal/model"
	"github.com/sells-group/lead-qualifier/internal/resilience"
)

// --- Entities ---

const entityColumns = `id, job_id, canonical_key, legal_name, registry_id, registry_source, country, status,
	incorporation_date, address_line, city, postal_code, officer_name, website, registry_url, score,
	presence_score, qualification_status, domain_available, negative_press_flag, filter_notes,
	created_at, updated_at`

func (s *PostgresStore) UpsertEntity(ctx context.Context, e *model.Entity) error {
	now := s.now()
	if e.QualificationStatus == "" {
		e.QualificationStatus = model.QualificationPending
	}
	e.SetScore(e.Score)
	notes, err := marshalNotes(e.FilterNotes)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal filter notes")
	}

	err = s.pool.QueryRow(ctx,
		`INSERT INTO entities (id, job_id, canonical_key, legal_name, registry_id, registry_source, country,
			status, incorporation_date, address_line, city, postal_code, officer_name, website, registry_url,
			score, presence_score, qualification_status, filter_notes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $20)
		 ON CONFLICT (registry_id, registry_source) DO UPDATE SET
			job_id = EXCLUDED.job_id, canonical_key = EXCLUDED.canonical_key, legal_name = EXCLUDED.legal_name,
			country = EXCLUDED.country, status = EXCLUDED.status, incorporation_date = EXCLUDED.incorporation_date,
			address_line = EXCLUDED.address_line, city = EXCLUDED.city, postal_code = EXCLUDED.postal_code,
			officer_name = EXCLUDED.officer_name, website = EXCLUDED.website, registry_url = EXCLUDED.registry_url,
			score = EXCLUDED.score, presence_score = EXCLUDED.presence_score, updated_at = EXCLUDED.updated_at
		 RETURNING id, created_at`,
		uuid.New().String(), nullString(e.JobID), e.CanonicalKey, e.LegalName, e.RegistryID, e.RegistrySource,
		e.Country, e.Status, e.IncorporationDate, e.AddressLine, e.City, e.PostalCode, e.OfficerName,
		e.WebsiteURL, e.RegistryURL, e.Score, e.PresenceScore, string(e.QualificationStatus), notes, now,
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return resilience.NewStorageError("postgres: upsert entity", err)
	}
	e.UpdatedAt = now
	return nil
}

func (s *PostgresStore) GetEntity(ctx context.Context, id string) (*model.Entity, error) {
	var (
		e       model.Entity
		jobID   *string
		qstatus string
		notes   []byte
	)
	err := s.pool.QueryRow(ctx, `SELECT `+entityColumns+` FROM entities WHERE id = $1`, id).Scan(
		&e.ID, &jobID, &e.CanonicalKey, &e.LegalName, &e.RegistryID, &e.RegistrySource, &e.Country, &e.Status,
		&e.IncorporationDate, &e.AddressLine, &e.City, &e.PostalCode, &e.OfficerName, &e.WebsiteURL,
		&e.RegistryURL, &e.Score, &e.PresenceScore, &qstatus, &e.DomainAvailable, &e.NegativePressFlag,
		&notes, &e.CreatedAt, &e.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: entity %s", id)
	}
	if err != nil {
		return nil, resilience.NewStorageError("postgres: get entity", err)
	}
	if jobID != nil {
		e.JobID = *jobID
	}
	e.QualificationStatus = model.QualificationStatus(qstatus)
	if e.FilterNotes, err = unmarshalNotes(notes); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal filter notes")
	}
	return &e, nil
}

func (s *PostgresStore) EntityKeys(ctx context.Context) (*EntityKeys, error) {
	rows, err := s.pool.Query(ctx, `SELECT canonical_key, registry_id FROM entities`)
	if err != nil {
		return nil, resilience.NewStorageError("postgres: entity keys", err)
	}
	defer rows.Close()

	keys := &EntityKeys{Names: map[string]struct{}{}, RegistryIDs: map[string]struct{}{}}
	for rows.Next() {
		var name, regID string
		if err := rows.Scan(&name, &regID); err != nil {
			return nil, resilience.NewStorageError("postgres: scan entity keys", err)
		}
		if name != "" {
			keys.Names[name] = struct{}{}
		}
		if regID != "" {
			keys.RegistryIDs[regID] = struct{}{}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, resilience.NewStorageError("postgres: iterate entity keys", err)
	}
	return keys, nil
}

func (s *PostgresStore) UpdateQualification(ctx context.Context, id string, status model.QualificationStatus, notes []string) error {
	b, err := marshalNotes(notes)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal filter notes")
	}
	return s.execOne(ctx, "update qualification", id,
		`UPDATE entities SET qualification_status = $1, filter_notes = $2, updated_at = $3 WHERE id = $4`,
		string(status), b, s.now(), id)
}

func (s *PostgresStore) UpdatePresence(ctx context.Context, id string, p PresenceUpdate) error {
	return s.execOne(ctx, "update presence", id,
		`UPDATE entities SET domain_available = COALESCE($1, domain_available),
		 negative_press_flag = COALESCE($2, negative_press_flag), updated_at = $3 WHERE id = $4`,
		p.DomainAvailable, p.NegativePressFlag, s.now(), id)
}

func (s *PostgresStore) UpdateEntityStatus(ctx context.Context, id string, status model.QualificationStatus) error {
	return s.execOne(ctx, "update entity status", id,
		`UPDATE entities SET qualification_status = $1, updated_at = $2 WHERE id = $3`,
		string(status), s.now(), id)
}

func (s *PostgresStore) execOne(ctx context.Context, op, id, sql string, args ...any) error {
	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return resilience.NewStorageError("postgres: "+op, err)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: %s %s", op, id)
	}
	return nil
}

// --- Check results ---

func (s *PostgresStore) AppendCheck(ctx context.Context, r *model.CheckResult) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	details, err := marshalMap(r.Details)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal check details")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO check_results (id, entity_id, check_type, subject, passed, details, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.ID, r.EntityID, string(r.CheckType), r.Subject, r.Passed, details, r.CreatedAt,
	)
	return resilience.NewStorageError("postgres: append check", err)
}

const checkColumns = `id, entity_id, check_type, subject, passed, details, created_at`

func (s *PostgresStore) LatestCheck(ctx context.Context, checkType model.CheckType, subject string, since time.Time) (*model.CheckResult, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+checkColumns+` FROM check_results
		 WHERE check_type = $1 AND subject = $2 AND created_at >= $3
		 ORDER BY created_at DESC LIMIT 1`,
		string(checkType), subject, since,
	)
	r, err := scanPgCheck(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, resilience.NewStorageError("postgres: latest check", err)
	}
	return r, nil
}

func (s *PostgresStore) ListChecks(ctx context.Context, entityID string) ([]model.CheckResult, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+checkColumns+` FROM check_results WHERE entity_id = $1 ORDER BY created_at DESC, id`,
		entityID,
	)
	if err != nil {
		return nil, resilience.NewStorageError("postgres: list checks", err)
	}
	defer rows.Close()

	var out []model.CheckResult
	for rows.Next() {
		r, err := scanPgCheck(rows)
		if err != nil {
			return nil, resilience.NewStorageError("postgres: scan check", err)
		}
		out = append(out, *r)
	}
	return out, resilience.NewStorageError("postgres: iterate checks", rows.Err())
}

func (s *PostgresStore) LinkChecks(ctx context.Context, entityID string, checkIDs []string) error {
	if len(checkIDs) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE check_results SET entity_id = $1 WHERE id = ANY($2) AND entity_id IS NULL`,
		entityID, checkIDs,
	)
	return resilience.NewStorageError("postgres: link checks", err)
}

func scanPgCheck(row pgx.Row) (*model.CheckResult, error) {
	var (
		r         model.CheckResult
		checkType string
		details   []byte
	)
	if err := row.Scan(&r.ID, &r.EntityID, &checkType, &r.Subject, &r.Passed, &details, &r.CreatedAt); err != nil {
		return nil, err
	}
	r.CheckType = model.CheckType(checkType)
	var err error
	if r.Details, err = unmarshalMap(details); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal check details")
	}
	return &r, nil
}

// --- Suppression ---

var suppressionColumns = []string{"key", "name", "reason", "created_by", "created_at"}

func (s *PostgresStore) UpsertSuppression(ctx context.Context, rec model.SuppressionRecord) error {
	if rec.Key == "" {
		return resilience.NewValidationError("key", "empty suppression key")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO suppressions (key, name, reason, created_by, created_at) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (key) DO UPDATE SET name = EXCLUDED.name, reason = EXCLUDED.reason,
		 created_by = EXCLUDED.created_by, created_at = EXCLUDED.created_at`,
		rec.Key, rec.Name, rec.Reason, rec.CreatedBy, rec.CreatedAt,
	)
	return resilience.NewStorageError("postgres: upsert suppression", err)
}

func (s *PostgresStore) ImportSuppressions(ctx context.Context, recs []model.SuppressionRecord) (int64, error) {
	now := s.now()
	// A key may appear once per statement; the last record for a key wins.
	rows := make([][]any, 0, len(recs))
	seen := make(map[string]int, len(recs))
	for _, r := range recs {
		if r.Key == "" {
			continue
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}
		row := []any{r.Key, r.Name, r.Reason, r.CreatedBy, r.CreatedAt}
		if i, ok := seen[r.Key]; ok {
			rows[i] = row
			continue
		}
		seen[r.Key] = len(rows)
		rows = append(rows, row)
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "suppressions",
		Columns:      suppressionColumns,
		ConflictKeys: []string{"key"},
	}, rows)
	if err != nil {
		return 0, resilience.NewStorageError("postgres: import suppressions", err)
	}
	return n, nil
}

func (s *PostgresStore) SuppressionKeys(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.pool.Query(ctx, `SELECT key FROM suppressions`)
	if err != nil {
		return nil, resilience.NewStorageError("postgres: suppression keys", err)
	}
	defer rows.Close()

	keys := map[string]struct{}{}
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, resilience.NewStorageError("postgres: scan suppression key", err)
		}
		keys[k] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, resilience.NewStorageError("postgres: iterate suppression keys", err)
	}
	return keys, nil
}

func (s *PostgresStore) IsSuppressed(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM suppressions WHERE key = $1)`, key).Scan(&exists)
	if err != nil {
		return false, resilience.NewStorageError("postgres: is suppressed", err)
	}
	return exists, nil
}

// --- Audit ---

var auditColumns = []string{"id", "company_name", "job_id", "filter_type", "blocked", "details", "created_at"}

func (s *PostgresStore) AppendAudit(ctx context.Context, recs []model.AuditRecord) error {
	now := s.now()
	rows := make([][]any, 0, len(recs))
	for i := range recs {
		r := &recs[i]
		if r.ID == "" {
			r.ID = uuid.New().String()
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}
		details, err := marshalMap(r.Details)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal audit details")
		}
		rows = append(rows, []any{r.ID, r.CompanyName, r.JobID, string(r.FilterType), r.Blocked, details, r.CreatedAt})
	}
	_, err := db.CopyFrom(ctx, s.pool, "filter_audit", auditColumns, rows)
	return resilience.NewStorageError("postgres: append audit", err)
}

func (s *PostgresStore) ListAudit(ctx context.Context, jobID string) ([]model.AuditRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, company_name, job_id, filter_type, blocked, details, created_at
		 FROM filter_audit WHERE job_id = $1 ORDER BY seq`,
		jobID,
	)
	if err != nil {
		return nil, resilience.NewStorageError("postgres: list audit", err)
	}
	defer rows.Close()

	var out []model.AuditRecord
	for rows.Next() {
		var (
			r       model.AuditRecord
			ft      string
			details []byte
		)
		if err := rows.Scan(&r.ID, &r.CompanyName, &r.JobID, &ft, &r.Blocked, &details, &r.CreatedAt); err != nil {
			return nil, resilience.NewStorageError("postgres: scan audit", err)
		}
		r.FilterType = model.FilterType(ft)
		if r.Details, err = unmarshalMap(details); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal audit details")
		}
		out = append(out, r)
	}
	return out, resilience.NewStorageError("postgres: iterate audit", rows.Err())
}
