package model

import "time"

// FilterType names the filter chain step that produced a decision.
type FilterType string

const (
	FilterSuppressed FilterType = "suppressed"
	FilterNoWebsite  FilterType = "no_website"
	FilterInactive   FilterType = "inactive"
	FilterPassed     FilterType = "passed"
)

// AuditRecord is a write-once filter decision.
type AuditRecord struct {
	ID          string         `json:"id"`
	CompanyName string         `json:"company_name"`
	JobID       string         `json:"job_id"`
	FilterType  FilterType     `json:"filter_type"`
	Blocked     bool           `json:"blocked"`
	Details     map[string]any `json:"details"`
	CreatedAt   time.Time      `json:"created_at"`
}
