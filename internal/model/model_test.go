package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status JobStatus
		want   bool
	}{
		{JobStatusPending, false},
		{JobStatusRunning, false},
		{JobStatusProcessing, false},
		{JobStatusCompleted, true},
		{JobStatusFailed, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.status.IsTerminal())
			assert.True(t, tt.status.Valid())
		})
	}
	assert.False(t, JobStatus("paused").Valid())
}

func TestSource_Whitelist(t *testing.T) {
	assert.True(t, SourceCompaniesHouse.Valid())
	assert.Equal(t, "GB-COH", SourceCompaniesHouse.RegistrySource())
	assert.False(t, Source("myspace").Valid())
	assert.Empty(t, Source("myspace").RegistrySource())
}

func TestQualificationStatus_IsHuman(t *testing.T) {
	tests := []struct {
		status QualificationStatus
		human  bool
	}{
		{QualificationPending, false},
		{QualificationQualified, false},
		{QualificationRejected, false},
		{QualificationFlagged, true},
		{QualificationDismissed, true},
		{QualificationExported, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.human, tt.status.IsHuman())
			assert.True(t, tt.status.Valid())
		})
	}
}

func TestClampScore(t *testing.T) {
	assert.Equal(t, 0, ClampScore(-5))
	assert.Equal(t, 42, ClampScore(42))
	assert.Equal(t, 100, ClampScore(170))

	var e Entity
	e.SetScore(101)
	assert.Equal(t, 100, e.Score)
}

func TestCandidateEntity_Website(t *testing.T) {
	c := CandidateEntity{WebsiteURL: "  https://acme.com "}
	assert.Equal(t, "https://acme.com", c.Website())
	assert.Empty(t, CandidateEntity{}.Website())
}

func TestCheckType_Valid(t *testing.T) {
	assert.Len(t, CheckTypes, 6)
	for _, ct := range CheckTypes {
		assert.True(t, ct.Valid(), ct)
	}
	assert.False(t, CheckType("vibes").Valid())
}

func TestCallback_Decode(t *testing.T) {
	raw := `{"job_id":"j1","status":"completed","total_count":1,"error_message":null,
		"entities":[{"legal_name":"Acme Ltd","registry_id":"123","registry_source":"GB-COH",
		"country":"GB","status":"active","incorporation_date":"2024-01-02T00:00:00Z"}]}`

	var cb Callback
	require.NoError(t, json.Unmarshal([]byte(raw), &cb))
	assert.Equal(t, "j1", cb.JobID)
	assert.Nil(t, cb.ErrorMessage)
	require.Len(t, cb.Entities, 1)
	assert.Equal(t, "Acme Ltd", cb.Entities[0].LegalName)
	require.NotNil(t, cb.Entities[0].IncorporationDate)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), cb.Entities[0].IncorporationDate.UTC())
}
