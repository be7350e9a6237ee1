package model

import "time"

// RunStatus is the lifecycle state of a campaign run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// MaxRunErrorMessages bounds the error_messages list on a run. Older
// messages win; extras are dropped, only the counter keeps growing.
const MaxRunErrorMessages = 25

// CampaignRun is one execution attempt of a campaign's ingestion. Workers
// only increment counters; the orchestrator is the single writer of the
// terminal status transition.
type CampaignRun struct {
	ID                string     `json:"id" db:"id"`
	CampaignID        string     `json:"campaign_id" db:"campaign_id"`
	Status            RunStatus  `json:"status" db:"status"`
	QueriesTotal      int        `json:"queries_total" db:"queries_total"`
	QueriesExecuted   int        `json:"queries_executed" db:"queries_executed"`
	LeadsFound        int        `json:"leads_found" db:"leads_found"`
	DuplicatesSkipped int        `json:"duplicates_skipped" db:"duplicates_skipped"`
	ErrorCount        int        `json:"error_count" db:"error_count"`
	ErrorMessages     []string   `json:"error_messages,omitempty" db:"error_messages"`
	StartedAt         time.Time  `json:"started_at" db:"started_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// Terminal reports whether the run has reached a final status.
func (r *CampaignRun) Terminal() bool {
	return r.Status == RunCompleted || r.Status == RunFailed
}

// Progress is a set of counter deltas applied atomically to a run.
// All fields are additive; zero-valued fields leave the counter untouched.
type Progress struct {
	QueriesExecuted   int
	LeadsFound        int
	DuplicatesSkipped int
	ErrorCount        int
	ErrorMessage      string
}
