// Package score computes the deterministic 0..100 lead score of an entity.
package score

import (
	"math"
	"strings"
	"time"

	"github.com/sells-group/lead-qualifier/internal/model"
)

// Component weights. They sum to 100.
const (
	WeightCompleteness = 40
	WeightStatus       = 25
	WeightWebsite      = 20
	WeightRecency      = 15
)

// ExpectedFields is the number of fields counted for completeness.
const ExpectedFields = 11

// Breakdown holds the component scores behind a total.
type Breakdown struct {
	Completeness float64 `json:"completeness"`
	Status       int     `json:"status"`
	Website      int     `json:"website"`
	Recency      int     `json:"recency"`
	Total        int     `json:"total"`
}

// Score returns the clamped total score of e as of now.
func Score(e *model.Entity, now time.Time) int {
	return Explain(e, now).Total
}

// Explain returns the component scores of e as of now.
func Explain(e *model.Entity, now time.Time) Breakdown {
	b := Breakdown{
		Completeness: completeness(&e.CandidateEntity),
		Status:       statusPoints(e.Status),
		Website:      websitePoints(&e.CandidateEntity),
		Recency:      recencyPoints(e.IncorporationDate, now),
	}
	raw := b.Completeness + float64(b.Status+b.Website+b.Recency)
	b.Total = model.ClampScore(int(math.Round(raw)))
	return b
}

func completeness(c *model.CandidateEntity) float64 {
	filled := 0
	for _, s := range []string{
		c.LegalName, c.RegistryID, c.RegistrySource, c.Country, c.Status,
		c.AddressLine, c.City, c.PostalCode, c.OfficerName, c.Website(),
	} {
		if strings.TrimSpace(s) != "" {
			filled++
		}
	}
	if c.IncorporationDate != nil && !c.IncorporationDate.IsZero() {
		filled++
	}
	return WeightCompleteness * float64(filled) / ExpectedFields
}

func statusPoints(status string) int {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "active":
		return WeightStatus
	case "inactive":
		return 10
	case "dissolved":
		return 0
	default:
		return 5
	}
}

func websitePoints(c *model.CandidateEntity) int {
	switch {
	case c.Website() != "":
		return WeightWebsite
	case strings.TrimSpace(c.RegistryURL) != "":
		return 10
	}
	return 0
}

func recencyPoints(incorporated *time.Time, now time.Time) int {
	if incorporated == nil || incorporated.IsZero() {
		return 0
	}
	switch {
	case incorporated.After(now.AddDate(-2, 0, 0)):
		return WeightRecency
	case incorporated.After(now.AddDate(-5, 0, 0)):
		return 10
	case incorporated.After(now.AddDate(-10, 0, 0)):
		return 5
	}
	return 0
}
