package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-qualifier/internal/model"
	"github.com/sells-group/lead-qualifier/internal/resilience"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func createJob(t *testing.T, st Store) *model.BatchJob {
	t.Helper()
	job := &model.BatchJob{Source: model.SourceCompaniesHouse, SearchTerm: "bakery"}
	require.NoError(t, st.CreateJob(context.Background(), job))
	return job
}

// --- Jobs ---

func TestSQLite_CreateAndGetJob(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	job := &model.BatchJob{
		Source:     model.SourceCompaniesHouse,
		SearchTerm: "bakery",
		Filters:    map[string]any{"region": "london"},
	}
	require.NoError(t, st.CreateJob(ctx, job))
	require.NotEmpty(t, job.ID)

	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPending, got.Status)
	assert.Equal(t, "bakery", got.SearchTerm)
	assert.Equal(t, "london", got.Filters["region"])
	require.NotNil(t, got.StartedAt)
	assert.Nil(t, got.CompletedAt)
	assert.Nil(t, got.ErrorMessage)
	assert.WithinDuration(t, job.CreatedAt, got.CreatedAt, time.Microsecond)
}

func TestSQLite_GetJob_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)
	_, err := st.GetJob(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_JobLifecycle(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	job := createJob(t, st)

	require.NoError(t, st.TransitionJob(ctx, job.ID, model.JobStatusRunning))
	require.NoError(t, st.TransitionJob(ctx, job.ID, model.JobStatusProcessing))
	require.NoError(t, st.SetJobFetched(ctx, job.ID, 12))
	require.NoError(t, st.CompleteJob(ctx, job.ID, 7))

	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, got.Status)
	assert.Equal(t, 12, got.RecordsFetched)
	assert.Equal(t, 7, got.RecordsProcessed)
	assert.NotNil(t, got.CompletedAt)

	// Terminal jobs reject further transitions.
	assert.ErrorIs(t, st.FailJob(ctx, job.ID, "late"), ErrNotFound)
	assert.ErrorIs(t, st.TransitionJob(ctx, job.ID, model.JobStatusRunning), ErrNotFound)
}

func TestSQLite_TransitionJob_ForwardOnly(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	job := createJob(t, st)

	require.NoError(t, st.TransitionJob(ctx, job.ID, model.JobStatusProcessing))
	assert.ErrorIs(t, st.TransitionJob(ctx, job.ID, model.JobStatusProcessing), ErrNotFound)
	assert.ErrorIs(t, st.TransitionJob(ctx, job.ID, model.JobStatusRunning), ErrNotFound)

	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusProcessing, got.Status)
}

func TestSQLite_TransitionJob_RejectsTerminalTarget(t *testing.T) {
	st := newTestSQLiteStore(t)
	job := createJob(t, st)
	err := st.TransitionJob(context.Background(), job.ID, model.JobStatusCompleted)
	assert.Equal(t, resilience.KindValidation, resilience.Kind(err))
}

func TestSQLite_FailJob(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	job := createJob(t, st)

	require.NoError(t, st.FailJob(ctx, job.ID, "transient: workflow down"))
	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "transient: workflow down", *got.ErrorMessage)
}

func TestSQLite_FailStaleJobs(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	st.now = func() time.Time { return base }
	stalePending := createJob(t, st)
	staleRunning := createJob(t, st)
	require.NoError(t, st.TransitionJob(ctx, staleRunning.ID, model.JobStatusRunning))
	staleProcessing := createJob(t, st)
	require.NoError(t, st.TransitionJob(ctx, staleProcessing.ID, model.JobStatusProcessing))
	done := createJob(t, st)
	require.NoError(t, st.CompleteJob(ctx, done.ID, 0))

	st.now = func() time.Time { return base.Add(4 * time.Minute) }
	fresh := createJob(t, st)

	st.now = func() time.Time { return base.Add(6 * time.Minute) }
	cutoff := base.Add(time.Minute)
	failed, err := st.FailStaleJobs(ctx, cutoff, "timed out")
	require.NoError(t, err)

	ids := []string{}
	for _, j := range failed {
		ids = append(ids, j.ID)
		assert.Equal(t, model.JobStatusFailed, j.Status)
		assert.Equal(t, "timed out", *j.ErrorMessage)
		assert.NotNil(t, j.CompletedAt)
	}
	assert.ElementsMatch(t, []string{stalePending.ID, staleRunning.ID}, ids)

	got, err := st.GetJob(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPending, got.Status)
	got, err = st.GetJob(ctx, staleProcessing.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusProcessing, got.Status)

	again, err := st.FailStaleJobs(ctx, cutoff, "timed out")
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestSQLite_ListJobs(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	a := createJob(t, st)
	createJob(t, st)
	require.NoError(t, st.FailJob(ctx, a.ID, "x"))

	all, err := st.ListJobs(ctx, JobFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	failed, err := st.ListJobs(ctx, JobFilter{Status: model.JobStatusFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, a.ID, failed[0].ID)
}

// --- Batches ---

func TestSQLite_BatchQueue(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	job := createJob(t, st)

	got, err := st.ClaimBatch(ctx)
	require.NoError(t, err)
	assert.Nil(t, got, "empty queue")

	first := &model.InboundBatch{JobID: job.ID, Candidates: []model.CandidateEntity{{LegalName: "Acme Ltd"}}}
	require.NoError(t, st.EnqueueBatch(ctx, first))
	second := &model.InboundBatch{JobID: job.ID}
	require.NoError(t, st.EnqueueBatch(ctx, second))

	claimed, err := st.ClaimBatch(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, first.ID, claimed.ID)
	assert.Equal(t, model.BatchStatusProcessing, claimed.Status)
	require.Len(t, claimed.Candidates, 1)
	assert.Equal(t, "Acme Ltd", claimed.Candidates[0].LegalName)

	claimed2, err := st.ClaimBatch(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed2)
	assert.Equal(t, second.ID, claimed2.ID)

	none, err := st.ClaimBatch(ctx)
	require.NoError(t, err)
	assert.Nil(t, none, "each batch is consumed once")

	require.NoError(t, st.FinishBatch(ctx, first.ID, model.BatchStatusCompleted, ""))
	assert.ErrorIs(t, st.FinishBatch(ctx, "missing", model.BatchStatusFailed, "x"), ErrNotFound)
}

// --- Entities ---

func testEntity(name, regID string) *model.Entity {
	inc := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	return &model.Entity{
		CandidateEntity: model.CandidateEntity{
			LegalName:         name,
			RegistryID:        regID,
			RegistrySource:    "GB-COH",
			Country:           "GB",
			Status:            "active",
			IncorporationDate: &inc,
		},
		CanonicalKey: "acme",
		Score:        150,
	}
}

func TestSQLite_UpsertEntity(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	e := testEntity("Acme Ltd", "123")
	require.NoError(t, st.UpsertEntity(ctx, e))
	require.NotEmpty(t, e.ID)
	assert.Equal(t, 100, e.Score, "score clamped before write")

	// Same registry id + source updates in place.
	dup := testEntity("Acme Limited", "123")
	dup.Score = 40
	require.NoError(t, st.UpsertEntity(ctx, dup))
	assert.Equal(t, e.ID, dup.ID)

	got, err := st.GetEntity(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme Limited", got.LegalName)
	assert.Equal(t, 40, got.Score)
	assert.Equal(t, model.QualificationPending, got.QualificationStatus)
	assert.Empty(t, got.FilterNotes)
	assert.Nil(t, got.DomainAvailable)
	require.NotNil(t, got.IncorporationDate)
	assert.Equal(t, 2024, got.IncorporationDate.Year())

	keys, err := st.EntityKeys(ctx)
	require.NoError(t, err)
	assert.Contains(t, keys.Names, "acme")
	assert.Contains(t, keys.RegistryIDs, "123")
}

func TestSQLite_EntityUpdates(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	e := testEntity("Acme Ltd", "123")
	require.NoError(t, st.UpsertEntity(ctx, e))

	notes := []string{"Failed: Company not active", "Failed: Negative press detected"}
	require.NoError(t, st.UpdateQualification(ctx, e.ID, model.QualificationRejected, notes))

	yes := true
	require.NoError(t, st.UpdatePresence(ctx, e.ID, PresenceUpdate{NegativePressFlag: &yes}))
	require.NoError(t, st.UpdateEntityStatus(ctx, e.ID, model.QualificationFlagged))

	got, err := st.GetEntity(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, model.QualificationFlagged, got.QualificationStatus)
	assert.Equal(t, notes, got.FilterNotes)
	require.NotNil(t, got.NegativePressFlag)
	assert.True(t, *got.NegativePressFlag)
	assert.Nil(t, got.DomainAvailable, "nil fields untouched")

	// Re-upsert keeps human status.
	require.NoError(t, st.UpsertEntity(ctx, testEntity("Acme Ltd", "123")))
	got, err = st.GetEntity(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, model.QualificationFlagged, got.QualificationStatus)

	assert.ErrorIs(t, st.UpdateEntityStatus(ctx, "missing", model.QualificationDismissed), ErrNotFound)
	_, err = st.GetEntity(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

// --- Checks ---

func TestSQLite_Checks(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	old := &model.CheckResult{CheckType: model.CheckDomainAvailability, Subject: "acme.com", Passed: false,
		Details: map[string]any{"dns": true}, CreatedAt: base.Add(-10 * 24 * time.Hour)}
	recent := &model.CheckResult{CheckType: model.CheckDomainAvailability, Subject: "acme.com", Passed: true,
		Details: map[string]any{"dns": false}, CreatedAt: base.Add(-time.Hour)}
	other := &model.CheckResult{CheckType: model.CheckWebsite, Subject: "acme.com", Passed: true, CreatedAt: base}
	for _, r := range []*model.CheckResult{old, recent, other} {
		require.NoError(t, st.AppendCheck(ctx, r))
	}

	got, err := st.LatestCheck(ctx, model.CheckDomainAvailability, "acme.com", base.Add(-7*24*time.Hour))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, recent.ID, got.ID)
	assert.Equal(t, false, got.Details["dns"])

	miss, err := st.LatestCheck(ctx, model.CheckDomainAvailability, "acme.com", base)
	require.NoError(t, err)
	assert.Nil(t, miss)

	e := testEntity("Acme Ltd", "123")
	require.NoError(t, st.UpsertEntity(ctx, e))
	require.NoError(t, st.LinkChecks(ctx, e.ID, []string{old.ID, recent.ID}))

	list, err := st.ListChecks(ctx, e.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, recent.ID, list[0].ID, "newest first")
	require.NotNil(t, list[0].EntityID)
	assert.Equal(t, e.ID, *list[0].EntityID)
}

// --- Suppression ---

func TestSQLite_Suppression(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertSuppression(ctx, model.SuppressionRecord{Key: "acme", Reason: "customer", CreatedBy: "ops"}))
	require.NoError(t, st.UpsertSuppression(ctx, model.SuppressionRecord{Key: "acme", Reason: "churned", CreatedBy: "ops"}))

	n, err := st.ImportSuppressions(ctx, []model.SuppressionRecord{
		{Key: "enron", Reason: "fraud"},
		{Key: ""},
		{Key: "initech", Reason: "competitor"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	keys, err := st.SuppressionKeys(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 3)

	ok, err := st.IsSuppressed(ctx, "acme")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = st.IsSuppressed(ctx, "globex")
	require.NoError(t, err)
	assert.False(t, ok)

	err = st.UpsertSuppression(ctx, model.SuppressionRecord{})
	assert.Equal(t, resilience.KindValidation, resilience.Kind(err))
}

// --- Audit ---

func TestSQLite_Audit(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	recs := []model.AuditRecord{
		{CompanyName: "Acme", JobID: "j1", FilterType: model.FilterSuppressed, Blocked: false},
		{CompanyName: "Acme", JobID: "j1", FilterType: model.FilterNoWebsite, Blocked: true,
			Details: map[string]any{"domains": []any{"acme.com"}}},
		{CompanyName: "Other", JobID: "j2", FilterType: model.FilterSuppressed, Blocked: true},
	}
	require.NoError(t, st.AppendAudit(ctx, recs))
	require.NoError(t, st.AppendAudit(ctx, nil))

	got, err := st.ListAudit(ctx, "j1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, model.FilterSuppressed, got[0].FilterType)
	assert.Equal(t, model.FilterNoWebsite, got[1].FilterType)
	assert.True(t, got[1].Blocked)
	assert.Equal(t, []any{"acme.com"}, got[1].Details["domains"])
}

func TestSQLite_MigrateIdempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	require.NoError(t, st.Migrate(context.Background()))
	require.NoError(t, st.Ping(context.Background()))
}
