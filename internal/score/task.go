package score

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/leadflow/internal/dispatch"
	"github.com/sells-group/leadflow/internal/model"
	"github.com/sells-group/leadflow/internal/queue"
	"github.com/sells-group/leadflow/internal/resilience"
	"github.com/sells-group/leadflow/internal/store"
)

// TaskConfig tunes the scoring task.
type TaskConfig struct {
	// Retry is the per-call retry policy for transient model failures.
	Retry resilience.RetryConfig

	// RatePerSecond throttles model calls across the dispatcher pool.
	RatePerSecond float64
}

// Task processes one score-queue message: load the lead, call the model,
// write score and notes in a single update.
type Task struct {
	store   store.Store
	scorer  *Scorer
	limiter *rate.Limiter
	cfg     TaskConfig
}

// NewTask creates the scoring task.
func NewTask(st store.Store, scorer *Scorer, cfg TaskConfig) *Task {
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 1
	}
	return &Task{
		store:   st,
		scorer:  scorer,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1),
		cfg:     cfg,
	}
}

// Handle is the dispatch.Handler for the score queue. Re-scoring an
// already-scored lead overwrites, so redelivery is harmless.
func (t *Task) Handle(ctx context.Context, msg queue.Message) error {
	req, err := model.DecodeScoreMessage(msg.Body)
	if err != nil {
		return eris.Wrap(dispatch.ErrDrop, err.Error())
	}

	lead, err := t.store.GetLead(ctx, req.LeadID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return eris.Wrapf(dispatch.ErrDrop, "lead %s gone", req.LeadID)
		}
		return err
	}

	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}

	retryCfg := t.cfg.Retry
	retryCfg.OnRetry = resilience.RetryLogger("anthropic", "score")
	verdict, err := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (scoreResponse, error) {
		score, notes, err := t.scorer.ScoreLead(ctx, lead)
		return scoreResponse{Score: score, Notes: notes}, err
	})
	if err != nil {
		return eris.Wrapf(err, "score lead %s", lead.ID)
	}

	// Score and notes land together or not at all.
	if err := t.store.UpdateQualification(ctx, lead.ID, verdict.Score, verdict.Notes); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return eris.Wrapf(dispatch.ErrDrop, "lead %s gone", lead.ID)
		}
		return err
	}

	zap.L().Info("lead scored",
		zap.String("lead_id", lead.ID),
		zap.Int("score", verdict.Score),
	)
	return nil
}
