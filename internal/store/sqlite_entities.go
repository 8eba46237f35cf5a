package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-qualifier/internal/model"
	"github.com/sells-group/lead-qualifier/internal/resilience"
)

// --- Entities ---

func (s *SQLiteStore) UpsertEntity(ctx context.Context, e *model.Entity) error {
	now := s.now()
	if e.QualificationStatus == "" {
		e.QualificationStatus = model.QualificationPending
	}
	e.SetScore(e.Score)
	notes, err := marshalNotes(e.FilterNotes)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal filter notes")
	}

	var created string
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO entities (id, job_id, canonical_key, legal_name, registry_id, registry_source, country,
			status, incorporation_date, address_line, city, postal_code, officer_name, website, registry_url,
			score, presence_score, qualification_status, filter_notes, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (registry_id, registry_source) DO UPDATE SET
			job_id = excluded.job_id, canonical_key = excluded.canonical_key, legal_name = excluded.legal_name,
			country = excluded.country, status = excluded.status, incorporation_date = excluded.incorporation_date,
			address_line = excluded.address_line, city = excluded.city, postal_code = excluded.postal_code,
			officer_name = excluded.officer_name, website = excluded.website, registry_url = excluded.registry_url,
			score = excluded.score, presence_score = excluded.presence_score, updated_at = excluded.updated_at
		 RETURNING id, created_at`,
		uuid.New().String(), nullString(e.JobID), e.CanonicalKey, e.LegalName, e.RegistryID, e.RegistrySource,
		e.Country, e.Status, fmtTimePtr(e.IncorporationDate), e.AddressLine, e.City, e.PostalCode,
		e.OfficerName, e.WebsiteURL, e.RegistryURL, e.Score, e.PresenceScore, string(e.QualificationStatus),
		string(notes), fmtTime(now), fmtTime(now),
	).Scan(&e.ID, &created)
	if err != nil {
		return resilience.NewStorageError("sqlite: upsert entity", err)
	}
	if e.CreatedAt, err = parseTime(created); err != nil {
		return eris.Wrap(err, "sqlite: parse created_at")
	}
	e.UpdatedAt = now
	return nil
}

func (s *SQLiteStore) GetEntity(ctx context.Context, id string) (*model.Entity, error) {
	var (
		e                          model.Entity
		jobID, incorporated        *string
		qstatus, notes             string
		created, updated           string
		domainAvail, negativePress sql.NullBool
	)
	err := s.db.QueryRowContext(ctx, `SELECT `+entityColumns+` FROM entities WHERE id = ?`, id).Scan(
		&e.ID, &jobID, &e.CanonicalKey, &e.LegalName, &e.RegistryID, &e.RegistrySource, &e.Country, &e.Status,
		&incorporated, &e.AddressLine, &e.City, &e.PostalCode, &e.OfficerName, &e.WebsiteURL,
		&e.RegistryURL, &e.Score, &e.PresenceScore, &qstatus, &domainAvail, &negativePress,
		&notes, &created, &updated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: entity %s", id)
	}
	if err != nil {
		return nil, resilience.NewStorageError("sqlite: get entity", err)
	}
	if jobID != nil {
		e.JobID = *jobID
	}
	e.QualificationStatus = model.QualificationStatus(qstatus)
	e.DomainAvailable = boolPtr(domainAvail)
	e.NegativePressFlag = boolPtr(negativePress)
	if e.FilterNotes, err = unmarshalNotes([]byte(notes)); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal filter notes")
	}
	if e.IncorporationDate, err = parseTimePtr(incorporated); err != nil {
		return nil, eris.Wrap(err, "sqlite: parse incorporation_date")
	}
	if e.CreatedAt, err = parseTime(created); err != nil {
		return nil, eris.Wrap(err, "sqlite: parse created_at")
	}
	if e.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, eris.Wrap(err, "sqlite: parse updated_at")
	}
	return &e, nil
}

func boolPtr(b sql.NullBool) *bool {
	if !b.Valid {
		return nil
	}
	v := b.Bool
	return &v
}

func (s *SQLiteStore) EntityKeys(ctx context.Context) (*EntityKeys, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT canonical_key, registry_id FROM entities`)
	if err != nil {
		return nil, resilience.NewStorageError("sqlite: entity keys", err)
	}
	defer rows.Close() //nolint:errcheck

	keys := &EntityKeys{Names: map[string]struct{}{}, RegistryIDs: map[string]struct{}{}}
	for rows.Next() {
		var name, regID string
		if err := rows.Scan(&name, &regID); err != nil {
			return nil, resilience.NewStorageError("sqlite: scan entity keys", err)
		}
		if name != "" {
			keys.Names[name] = struct{}{}
		}
		if regID != "" {
			keys.RegistryIDs[regID] = struct{}{}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, resilience.NewStorageError("sqlite: iterate entity keys", err)
	}
	return keys, nil
}

func (s *SQLiteStore) UpdateQualification(ctx context.Context, id string, status model.QualificationStatus, notes []string) error {
	b, err := marshalNotes(notes)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal filter notes")
	}
	return s.execOne(ctx, "entity", id,
		`UPDATE entities SET qualification_status = ?, filter_notes = ?, updated_at = ? WHERE id = ?`,
		string(status), string(b), fmtTime(s.now()), id)
}

func (s *SQLiteStore) UpdatePresence(ctx context.Context, id string, p PresenceUpdate) error {
	return s.execOne(ctx, "entity", id,
		`UPDATE entities SET domain_available = COALESCE(?, domain_available),
		 negative_press_flag = COALESCE(?, negative_press_flag), updated_at = ? WHERE id = ?`,
		p.DomainAvailable, p.NegativePressFlag, fmtTime(s.now()), id)
}

func (s *SQLiteStore) UpdateEntityStatus(ctx context.Context, id string, status model.QualificationStatus) error {
	return s.execOne(ctx, "entity", id,
		`UPDATE entities SET qualification_status = ?, updated_at = ? WHERE id = ?`,
		string(status), fmtTime(s.now()), id)
}

func (s *SQLiteStore) execOne(ctx context.Context, what, id, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return resilience.NewStorageError("sqlite: update "+what, err)
	}
	return checkRowsAffected(res, what, id)
}

// --- Check results ---

func (s *SQLiteStore) AppendCheck(ctx context.Context, r *model.CheckResult) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	details, err := marshalMap(r.Details)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal check details")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO check_results (id, entity_id, check_type, subject, passed, details, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.EntityID, string(r.CheckType), r.Subject, r.Passed, string(details), fmtTime(r.CreatedAt),
	)
	return resilience.NewStorageError("sqlite: append check", err)
}

func (s *SQLiteStore) LatestCheck(ctx context.Context, checkType model.CheckType, subject string, since time.Time) (*model.CheckResult, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+checkColumns+` FROM check_results
		 WHERE check_type = ? AND subject = ? AND created_at >= ?
		 ORDER BY created_at DESC, rowid DESC LIMIT 1`,
		string(checkType), subject, fmtTime(since),
	)
	r, err := scanSQLiteCheck(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, resilience.NewStorageError("sqlite: latest check", err)
	}
	return r, nil
}

func (s *SQLiteStore) ListChecks(ctx context.Context, entityID string) ([]model.CheckResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+checkColumns+` FROM check_results WHERE entity_id = ? ORDER BY created_at DESC, rowid DESC`,
		entityID,
	)
	if err != nil {
		return nil, resilience.NewStorageError("sqlite: list checks", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.CheckResult
	for rows.Next() {
		r, err := scanSQLiteCheck(rows)
		if err != nil {
			return nil, resilience.NewStorageError("sqlite: scan check", err)
		}
		out = append(out, *r)
	}
	return out, resilience.NewStorageError("sqlite: iterate checks", rows.Err())
}

func (s *SQLiteStore) LinkChecks(ctx context.Context, entityID string, checkIDs []string) error {
	if len(checkIDs) == 0 {
		return nil
	}
	args := make([]any, 0, len(checkIDs)+1)
	args = append(args, entityID)
	for _, id := range checkIDs {
		args = append(args, id)
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE check_results SET entity_id = ? WHERE entity_id IS NULL AND id IN (`+placeholders(len(checkIDs))+`)`,
		args...,
	)
	return resilience.NewStorageError("sqlite: link checks", err)
}

func scanSQLiteCheck(row scannable) (*model.CheckResult, error) {
	var (
		r                           model.CheckResult
		checkType, details, created string
	)
	if err := row.Scan(&r.ID, &r.EntityID, &checkType, &r.Subject, &r.Passed, &details, &created); err != nil {
		return nil, err
	}
	r.CheckType = model.CheckType(checkType)
	var err error
	if r.Details, err = unmarshalMap([]byte(details)); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal check details")
	}
	if r.CreatedAt, err = parseTime(created); err != nil {
		return nil, eris.Wrap(err, "sqlite: parse created_at")
	}
	return &r, nil
}

// --- Suppression ---

const sqliteUpsertSuppression = `INSERT INTO suppressions (key, name, reason, created_by, created_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT (key) DO UPDATE SET name = excluded.name, reason = excluded.reason,
	created_by = excluded.created_by, created_at = excluded.created_at`

func (s *SQLiteStore) UpsertSuppression(ctx context.Context, rec model.SuppressionRecord) error {
	if rec.Key == "" {
		return resilience.NewValidationError("key", "empty suppression key")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, sqliteUpsertSuppression,
		rec.Key, rec.Name, rec.Reason, rec.CreatedBy, fmtTime(rec.CreatedAt))
	return resilience.NewStorageError("sqlite: upsert suppression", err)
}

func (s *SQLiteStore) ImportSuppressions(ctx context.Context, recs []model.SuppressionRecord) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, resilience.NewStorageError("sqlite: begin import", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := fmtTime(s.now())
	var n int64
	for _, r := range recs {
		if r.Key == "" {
			continue
		}
		created := now
		if !r.CreatedAt.IsZero() {
			created = fmtTime(r.CreatedAt)
		}
		if _, err := tx.ExecContext(ctx, sqliteUpsertSuppression, r.Key, r.Name, r.Reason, r.CreatedBy, created); err != nil {
			return 0, resilience.NewStorageError("sqlite: import suppression", err)
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return 0, resilience.NewStorageError("sqlite: commit import", err)
	}
	return n, nil
}

func (s *SQLiteStore) SuppressionKeys(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM suppressions`)
	if err != nil {
		return nil, resilience.NewStorageError("sqlite: suppression keys", err)
	}
	defer rows.Close() //nolint:errcheck

	keys := map[string]struct{}{}
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, resilience.NewStorageError("sqlite: scan suppression key", err)
		}
		keys[k] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, resilience.NewStorageError("sqlite: iterate suppression keys", err)
	}
	return keys, nil
}

func (s *SQLiteStore) IsSuppressed(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM suppressions WHERE key = ?)`, key).Scan(&exists)
	if err != nil {
		return false, resilience.NewStorageError("sqlite: is suppressed", err)
	}
	return exists, nil
}

// --- Audit ---

func (s *SQLiteStore) AppendAudit(ctx context.Context, recs []model.AuditRecord) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return resilience.NewStorageError("sqlite: begin audit", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := s.now()
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
			return eris.Wrap(err, "sqlite: marshal audit details")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO filter_audit (id, company_name, job_id, filter_type, blocked, details, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.CompanyName, r.JobID, string(r.FilterType), r.Blocked, string(details), fmtTime(r.CreatedAt),
		); err != nil {
			return resilience.NewStorageError("sqlite: append audit", err)
		}
	}
	return resilience.NewStorageError("sqlite: commit audit", tx.Commit())
}

func (s *SQLiteStore) ListAudit(ctx context.Context, jobID string) ([]model.AuditRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, company_name, job_id, filter_type, blocked, details, created_at
		 FROM filter_audit WHERE job_id = ? ORDER BY rowid`,
		jobID,
	)
	if err != nil {
		return nil, resilience.NewStorageError("sqlite: list audit", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.AuditRecord
	for rows.Next() {
		var (
			r                    model.AuditRecord
			ft, details, created string
		)
		if err := rows.Scan(&r.ID, &r.CompanyName, &r.JobID, &ft, &r.Blocked, &details, &created); err != nil {
			return nil, resilience.NewStorageError("sqlite: scan audit", err)
		}
		r.FilterType = model.FilterType(ft)
		if r.Details, err = unmarshalMap([]byte(details)); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal audit details")
		}
		if r.CreatedAt, err = parseTime(created); err != nil {
			return nil, eris.Wrap(err, "sqlite: parse created_at")
		}
		out = append(out, r)
	}
	return out, resilience.NewStorageError("sqlite: iterate audit", rows.Err())
}

var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*PostgresStore)(nil)
)
