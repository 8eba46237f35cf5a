package score

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/lead-qualifier/internal/model"
)

var now = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

func date(y, m, d int) *time.Time {
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	return &t
}

func fullEntity() *model.Entity {
	return &model.Entity{CandidateEntity: model.CandidateEntity{
		LegalName:         "Acme Widgets Ltd",
		RegistryID:        "01234567",
		RegistrySource:    "GB-COH",
		Country:           "GB",
		Status:            "active",
		IncorporationDate: date(2025, 1, 15),
		AddressLine:       "1 High Street",
		City:              "Leeds",
		PostalCode:        "LS1 1AA",
		OfficerName:       "Jane Smith",
		WebsiteURL:        "https://acmewidgets.co.uk",
	}}
}

func TestScore_FullRecord(t *testing.T) {
	b := Explain(fullEntity(), now)
	assert.InDelta(t, 40.0, b.Completeness, 1e-9)
	assert.Equal(t, 25, b.Status)
	assert.Equal(t, 20, b.Website)
	assert.Equal(t, 15, b.Recency)
	assert.Equal(t, 100, b.Total)
}

func TestScore_Empty(t *testing.T) {
	// Unknown status still earns the "other" points.
	assert.Equal(t, 5, Score(&model.Entity{}, now))
}

func TestScore_Components(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(e *model.Entity)
		want   int
	}{
		{"inactive", func(e *model.Entity) { e.Status = "Inactive" }, 85},
		{"dissolved", func(e *model.Entity) { e.Status = "dissolved" }, 75},
		{"unknown status", func(e *model.Entity) { e.Status = "liquidation" }, 80},
		{"registry link only", func(e *model.Entity) {
			e.WebsiteURL = ""
			e.RegistryURL = "https://find-and-update.company-information.service.gov.uk/company/01234567"
		}, 86},
		{"no website", func(e *model.Entity) { e.WebsiteURL = "" }, 76},
		{"four years old", func(e *model.Entity) { e.IncorporationDate = date(2022, 6, 2) }, 95},
		{"nine years old", func(e *model.Entity) { e.IncorporationDate = date(2017, 6, 2) }, 90},
		{"old company", func(e *model.Entity) { e.IncorporationDate = date(1990, 1, 1) }, 85},
		{"no date", func(e *model.Entity) { e.IncorporationDate = nil }, 81},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := fullEntity()
			tt.mutate(e)
			assert.Equal(t, tt.want, Score(e, now))
		})
	}
}

func TestScore_AlwaysInRange(t *testing.T) {
	statuses := []string{"", "active", "inactive", "dissolved", "weird"}
	dates := []*time.Time{nil, date(2026, 5, 1), date(2020, 1, 1), date(1900, 1, 1), date(2030, 1, 1)}
	for _, s := range statuses {
		for _, d := range dates {
			e := fullEntity()
			e.Status = s
			e.IncorporationDate = d
			got := Score(e, now)
			assert.GreaterOrEqual(t, got, 0)
			assert.LessOrEqual(t, got, 100)
		}
	}
}

func TestScore_Deterministic(t *testing.T) {
	e := fullEntity()
	assert.Equal(t, Score(e, now), Score(e, now))
}
