package model

import (
	"strings"
	"time"
)

// CandidateEntity is a raw company record delivered by a scraper.
type CandidateEntity struct {
	LegalName         string     `json:"legal_name"`
	RegistryID        string     `json:"registry_id"`
	RegistrySource    string     `json:"registry_source"`
	Country           string     `json:"country"`
	Status            string     `json:"status"`
	IncorporationDate *time.Time `json:"incorporation_date,omitempty"`
	AddressLine       string     `json:"address_line,omitempty"`
	City              string     `json:"city,omitempty"`
	PostalCode        string     `json:"postal_code,omitempty"`
	OfficerName       string     `json:"officer_name,omitempty"`
	WebsiteURL        string     `json:"website,omitempty"`
	RegistryURL       string     `json:"registry_url,omitempty"`
}

// Website returns the trimmed website URL, or "" if none is known.
func (c CandidateEntity) Website() string {
	return strings.TrimSpace(c.WebsiteURL)
}

// QualificationStatus is the pipeline or human decision on an Entity.
type QualificationStatus string

const (
	QualificationPending   QualificationStatus = "pending"
	QualificationQualified QualificationStatus = "qualified"
	QualificationRejected  QualificationStatus = "rejected"
	QualificationFlagged   QualificationStatus = "flagged"
	QualificationDismissed QualificationStatus = "dismissed"
	QualificationExported  QualificationStatus = "exported"
)

// IsHuman reports whether the status can only be set by a person.
func (s QualificationStatus) IsHuman() bool {
	switch s {
	case QualificationFlagged, QualificationDismissed, QualificationExported:
		return true
	}
	return false
}

// Valid reports whether s is a known qualification status.
func (s QualificationStatus) Valid() bool {
	switch s {
	case QualificationPending, QualificationQualified, QualificationRejected,
		QualificationFlagged, QualificationDismissed, QualificationExported:
		return true
	}
	return false
}

// Entity is a persisted, scored company.
type Entity struct {
	CandidateEntity

	ID                  string              `json:"id"`
	JobID               string              `json:"job_id,omitempty"`
	CanonicalKey        string              `json:"canonical_key"`
	Score               int                 `json:"score"`
	PresenceScore       float64             `json:"presence_score"`
	QualificationStatus QualificationStatus `json:"qualification_status"`
	DomainAvailable     *bool               `json:"domain_available,omitempty"`
	NegativePressFlag   *bool               `json:"negative_press_flag,omitempty"`
	FilterNotes         []string            `json:"filter_notes"`
	CreatedAt           time.Time           `json:"created_at"`
	UpdatedAt           time.Time           `json:"updated_at"`
}

// ClampScore bounds a raw score to [0, 100].
func ClampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// SetScore stores v clamped to [0, 100].
func (e *Entity) SetScore(v int) {
	e.Score = ClampScore(v)
}
