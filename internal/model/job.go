package model

import "time"

// JobStatus is the lifecycle state of a BatchJob.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusRunning    JobStatus = "running"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether no further transitions are allowed.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Valid reports whether s is a known job status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// Source identifies the upstream registry a job scrapes.
type Source string

const (
	SourceCompaniesHouse Source = "companies_house"
	SourceOpenCorporates Source = "opencorporates"
	SourceSECEdgar       Source = "sec_edgar"
	SourceStateRegistry  Source = "state_registry"
)

// ValidSources is the dispatch whitelist, keyed by source and mapped to the
// registry source code handed to the scraper workflow.
var ValidSources = map[Source]string{
	SourceCompaniesHouse: "GB-COH",
	SourceOpenCorporates: "OC",
	SourceSECEdgar:       "US-SEC",
	SourceStateRegistry:  "US-STATE",
}

// RegistrySource returns the registry code for s, or "" when s is not whitelisted.
func (s Source) RegistrySource() string {
	return ValidSources[s]
}

// Valid reports whether s is on the whitelist.
func (s Source) Valid() bool {
	_, ok := ValidSources[s]
	return ok
}

// BatchJob tracks one scrape-and-qualify run.
type BatchJob struct {
	ID               string         `json:"id"`
	Source           Source         `json:"source"`
	SearchTerm       string         `json:"search_term,omitempty"`
	Filters          map[string]any `json:"filters,omitempty"`
	Status           JobStatus      `json:"status"`
	CreatedAt        time.Time      `json:"created_at"`
	StartedAt        *time.Time     `json:"started_at,omitempty"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
	ErrorMessage     *string        `json:"error_message,omitempty"`
	RecordsFetched   int            `json:"records_fetched"`
	RecordsProcessed int            `json:"records_processed"`
}

// BatchStatus is the processing state of an InboundBatch.
type BatchStatus string

const (
	BatchStatusPending    BatchStatus = "pending"
	BatchStatusProcessing BatchStatus = "processing"
	BatchStatusCompleted  BatchStatus = "completed"
	BatchStatusFailed     BatchStatus = "failed"
)

// InboundBatch is a scraper delivery waiting to be filtered.
type InboundBatch struct {
	ID         string            `json:"id"`
	JobID      string            `json:"job_id"`
	Candidates []CandidateEntity `json:"candidates"`
	Status     BatchStatus       `json:"status"`
	CreatedAt  time.Time         `json:"created_at"`
	StartedAt  *time.Time        `json:"started_at,omitempty"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// Callback is the payload the scraper workflow posts back when it finishes.
type Callback struct {
	JobID        string            `json:"job_id"`
	Status       string            `json:"status"`
	TotalCount   int               `json:"total_count"`
	ErrorMessage *string           `json:"error_message"`
	Entities     []CandidateEntity `json:"entities"`
}
