// Package store provides persistence for campaigns, campaign runs, and
// leads. The Lead Store is the pipeline's single source of truth and its
// dedup authority: lead inserts are deduplicated on place_id by a unique
// constraint, and run counters only move through atomic single-statement
// increments.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/sells-group/leadflow/internal/model"
)

// ErrNotFound is returned when a campaign, run, or lead does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrDuplicatePlace is returned by InsertLead when a lead with the same
/// place_id already exists. Not a failure: callers count it and move on.
var ErrDuplicatePlace = errors.New("store: duplicate place id")

// ErrRunInProgress is returned by CreateRun when the campaign already has a
// run with status=running.
var ErrRunInProgress = errors.New("store: campaign already has a running run")

// RunFilter specifies criteria for listing campaign runs.
type RunFilter struct {
	CampaignID string          `json:"campaign_id,omitempty"`
	Status     model.RunStatus `json:"status,omitempty"`
	Limit      int             `json:"limit,omitempty"`
	Offset     int             `json:"offset,omitempty"`
}

// ProgressSnapshot is the run state returned by ApplyProgress, read from
// the same statement that applied the increments. The orchestrator uses it
// to evaluate the terminal condition without a second round trip.
type ProgressSnapshot struct {
	Status          model.RunStatus
	QueriesTotal    int
	QueriesExecuted int
}

// Store defines the persistence interface for the ingestion pipeline.
type Store interface {
	// Campaigns
	CreateCampaign(ctx context.Context, c *model.Campaign) error
	GetCampaign(ctx context.Context, id string) (*model.Campaign, error)

	// Campaign runs
	CreateRun(ctx context.Context, campaignID string, queriesTotal int) (*model.CampaignRun, error)
	GetRun(ctx context.Context, runID string) (*model.CampaignRun, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.CampaignRun, error)
	// ApplyProgress atomically applies counter deltas via a single UPDATE
	// statement and returns the resulting snapshot.
	ApplyProgress(ctx context.Context, runID string, p model.Progress) (*ProgressSnapshot, error)
	// CompleteRun and FailRun transition a running run to its terminal
	// status. Both are no-ops when the run is already terminal; changed
	// reports whether this call performed the transition.
	CompleteRun(ctx context.Context, runID string, at time.Time) (changed bool, err error)
	FailRun(ctx context.Context, runID string, errMsg string, at time.Time) (changed bool, err error)

	// Leads
	InsertLead(ctx context.Context, lead *model.Lead) error
	GetLead(ctx context.Context, id string) (*model.Lead, error)
	UpdateScrapedContent(ctx context.Context, leadID, content string, at time.Time) error
	UpdateQualification(ctx context.Context, leadID string, score int, notes string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
