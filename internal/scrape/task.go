package scrape

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadflow/internal/dispatch"
	"github.com/sells-group/leadflow/internal/model"
	"github.com/sells-group/leadflow/internal/queue"
	"github.com/sells-group/leadflow/internal/resilience"
	"github.com/sells-group/leadflow/internal/store"
)

// ScrapedSink receives leads whose scraped content has committed. The
// bridge implements it.
type ScrapedSink interface {
	LeadScraped(ctx context.Context, campaign *model.Campaign, leadID string) error
}

// TaskConfig tunes the scrape task.
type TaskConfig struct {
	// GraceWindow suppresses re-scraping a lead whose content is fresher
	// than this. Redeliveries inside the window skip the fetch but still
	// chain downstream. Default 5m.
	GraceWindow time.Duration

	// Retry is the per-fetch retry policy for transient failures.
	Retry resilience.RetryConfig
}

// Task processes one scrape-queue message: fetch the lead's website,
// persist the plaintext, chain to scoring.
type Task struct {
	store   store.Store
	scraper Scraper
	sink    ScrapedSink
	cfg     TaskConfig
}

// NewTask creates the scrape task.
func NewTask(st store.Store, scraper Scraper, sink ScrapedSink, cfg TaskConfig) *Task {
	if cfg.GraceWindow <= 0 {
		cfg.GraceWindow = 5 * time.Minute
	}
	return &Task{store: st, scraper: scraper, sink: sink, cfg: cfg}
}

// Handle is the dispatch.Handler for the scrape queue.
func (t *Task) Handle(ctx context.Context, msg queue.Message) error {
	req, err := model.DecodeScrapeMessage(msg.Body)
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

	campaign, err := t.store.GetCampaign(ctx, lead.CampaignID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return eris.Wrapf(dispatch.ErrDrop, "campaign %s gone", lead.CampaignID)
		}
		return err
	}

	// Redelivery inside the grace window: the content is already there,
	// only the downstream chain might still be owed.
	if lead.ScrapedAt != nil && time.Since(*lead.ScrapedAt) < t.cfg.GraceWindow {
		zap.L().Debug("lead scraped recently, skipping fetch",
			zap.String("lead_id", lead.ID),
			zap.Time("scraped_at", *lead.ScrapedAt),
		)
		return t.sink.LeadScraped(ctx, campaign, lead.ID)
	}

	// No website to scrape: pass the lead straight to scoring, which works
	// from the place metadata alone.
	if lead.Website == "" {
		zap.L().Debug("lead has no website, skipping scrape",
			zap.String("lead_id", lead.ID),
		)
		return t.sink.LeadScraped(ctx, campaign, lead.ID)
	}

	retryCfg := t.cfg.Retry
	retryCfg.OnRetry = resilience.RetryLogger("scrape", "fetch")
	result, err := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (*Result, error) {
		return t.scraper.Scrape(ctx, lead.Website)
	})
	if err != nil {
		return eris.Wrapf(err, "scrape lead %s", lead.ID)
	}

	now := time.Now().UTC()
	if err := t.store.UpdateScrapedContent(ctx, lead.ID, result.Content, now); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return eris.Wrapf(dispatch.ErrDrop, "lead %s gone", lead.ID)
		}
		return err
	}

	zap.L().Info("lead scraped",
		zap.String("lead_id", lead.ID),
		zap.String("source", result.Source),
		zap.Int("content_bytes", len(result.Content)),
	)

	// Chain only after the write committed.
	return t.sink.LeadScraped(ctx, campaign, lead.ID)
}
