package model

import "time"

// SuppressionRecord bars a canonical company key from re-admission.
type SuppressionRecord struct {
	Key       string    `json:"key"`
	Name      string    `json:"name,omitempty"`
	Reason    string    `json:"reason"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}
