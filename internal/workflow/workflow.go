// Package workflow starts the external scraping workflow that fills a job
// with candidates.
package workflow

import (
	"context"

	"github.com/sells-group/lead-qualifier/internal/model"
)

// Request is the trigger payload. The scraper posts its results to
// CallbackURL tagged with JobID.
type Request struct {
	JobID          string         `json:"jobId"`
	Source         model.Source   `json:"source"`
	RegistrySource string         `json:"registrySource"`
	SearchTerm     string         `json:"searchTerm"`
	Filters        map[string]any `json:"filters,omitempty"`
	CallbackURL    string         `json:"callbackUrl"`
}

// Trigger starts one workflow run per job. Implementations must be
// idempotent on JobID: a repeated trigger for the same job must not start a
// second run.
type Trigger interface {
	Trigger(ctx context.Context, req Request) error
}
