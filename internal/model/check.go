package model

import "time"

// CheckType identifies a checker outcome kind.
type CheckType string

const (
	CheckDomainAvailability CheckType = "domain_availability"
	CheckNegativePress      CheckType = "negative_press"
	CheckWebsite            CheckType = "website"
	CheckSocialMedia        CheckType = "social_media"
	CheckWebSearch          CheckType = "web_search"
	CheckActiveStatus       CheckType = "active_status"
)

// CheckTypes lists every check type in aggregation order.
var CheckTypes = []CheckType{
	CheckActiveStatus,
	CheckNegativePress,
	CheckDomainAvailability,
	CheckWebsite,
	CheckSocialMedia,
	CheckWebSearch,
}

// Valid reports whether t is a known check type.
func (t CheckType) Valid() bool {
	for _, c := range CheckTypes {
		if c == t {
			return true
		}
	}
	return false
}

// CheckResult is one recorded checker outcome. Rows are append-only.
type CheckResult struct {
	ID        string         `json:"id"`
	EntityID  *string        `json:"entity_id,omitempty"`
	CheckType CheckType      `json:"check_type"`
	Subject   string         `json:"subject"`
	Passed    bool           `json:"passed"`
	Details   map[string]any `json:"details"`
	CreatedAt time.Time      `json:"created_at"`
}
