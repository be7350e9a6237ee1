// Package orchestrator manages the campaign run lifecycle: starting runs,
// recording worker progress, and the single terminal status transition.
package orchestrator

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadflow/internal/metrics"
	"github.com/sells-group/leadflow/internal/model"
	"github.com/sells-group/leadflow/internal/store"
)

// ErrCampaignNotReady is returned by StartRun when the campaign's query set
// is unconfirmed or empty.
var ErrCampaignNotReady = eris.New("orchestrator: campaign query set not confirmed")

// IngestRunner executes the ingestion stage for a started run. The
// orchestrator launches it in the background and is notified of progress
// through its own Recorder methods.
type IngestRunner interface {
	Run(ctx context.Context, campaign *model.Campaign, run *model.CampaignRun, queries []string)
}

// Orchestrator owns run state transitions. Workers report progress through
// it rather than writing run rows themselves, so counter updates stay
// atomic and the terminal transition has exactly one writer path.
type Orchestrator struct {
	store  store.Store
	ingest IngestRunner

	// background carries run execution past the StartRun request context.
	background context.Context
}

// New creates an Orchestrator. background should be the process lifetime
// context; ingestion started by StartRun is canceled with it.
func New(background context.Context, st store.Store) *Orchestrator {
	return &Orchestrator{store: st, background: background}
}

// SetIngestRunner wires the ingestion stage. Separate from New because the
// worker needs the orchestrator as its progress recorder.
func (o *Orchestrator) SetIngestRunner(r IngestRunner) {
	o.ingest = r
}

// StartRun validates the campaign, creates a run row, and launches
// ingestion in the background. Returns ErrCampaignNotReady for unconfirmed
// campaigns and store.ErrRunInProgress when a run is already active.
func (o *Orchestrator) StartRun(ctx context.Context, campaignID string) (*model.CampaignRun, error) {
	campaign, err := o.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if !campaign.Ready() {
		return nil, ErrCampaignNotReady
	}

	queries, err := campaign.Queries()
	if err != nil {
		return nil, err
	}
	if len(queries) == 0 {
		return nil, ErrCampaignNotReady
	}

	run, err := o.store.CreateRun(ctx, campaignID, len(queries))
	if err != nil {
		return nil, err
	}

	metrics.RunsStarted.Inc()
	zap.L().Info("campaign run started",
		zap.String("campaign_id", campaignID),
		zap.String("run_id", run.ID),
		zap.Int("queries_total", run.QueriesTotal),
	)

	if o.ingest != nil {
		go o.ingest.Run(o.background, campaign, run, queries)
	}

	return run, nil
}

// GetRun returns the current state of a run.
func (o *Orchestrator) GetRun(ctx context.Context, runID string) (*model.CampaignRun, error) {
	return o.store.GetRun(ctx, runID)
}

// ListRuns lists runs matching the filter.
func (o *Orchestrator) ListRuns(ctx context.Context, filter store.RunFilter) ([]model.CampaignRun, error) {
	return o.store.ListRuns(ctx, filter)
}

// RecordProgress applies counter deltas atomically. When the returned
// snapshot shows every query executed on a still-running run, the run is
// completed in the same call.
func (o *Orchestrator) RecordProgress(ctx context.Context, runID string, p model.Progress) error {
	snap, err := o.store.ApplyProgress(ctx, runID, p)
	if err != nil {
		return err
	}
	if snap.Status == model.RunRunning && snap.QueriesExecuted >= snap.QueriesTotal {
		return o.Complete(ctx, runID)
	}
	return nil
}

// Complete transitions the run to completed. No-op when the run is already
// terminal: under concurrent reporters only the first writer logs.
func (o *Orchestrator) Complete(ctx context.Context, runID string) error {
	changed, err := o.store.CompleteRun(ctx, runID, time.Now().UTC())
	if err != nil {
		return err
	}
	if changed {
		metrics.RunsFinished.WithLabelValues(string(model.RunCompleted)).Inc()
		zap.L().Info("campaign run completed", zap.String("run_id", runID))
	}
	return nil
}

// Fail transitions the run to failed with a fatal error message.
func (o *Orchestrator) Fail(ctx context.Context, runID string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	changed, err := o.store.FailRun(ctx, runID, msg, time.Now().UTC())
	if err != nil {
		return err
	}
	if changed {
		metrics.RunsFinished.WithLabelValues(string(model.RunFailed)).Inc()
		zap.L().Error("campaign run failed",
			zap.String("run_id", runID),
			zap.String("cause", msg),
		)
	}
	return nil
}
