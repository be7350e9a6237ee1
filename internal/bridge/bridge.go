// Package bridge connects store writes to the downstream queues. It is
// called after the write commits, never before, so every queued lead ID is
// readable by its consumer.
package bridge

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/leadflow/internal/model"
	"github.com/sells-group/leadflow/internal/queue"
)

// Bridge routes pipeline events to the next stage's queue based on the
// campaign's feature flags.
type Bridge struct {
	broker queue.Broker
}

// New creates a Bridge publishing to broker.
func New(broker queue.Broker) *Bridge {
	return &Bridge{broker: broker}
}

// LeadCreated is called after a new lead row commits. With scraping
// enabled the lead goes to the scrape queue; with scraping disabled but
// scoring enabled it skips straight to scoring; with both disabled the
// pipeline ends at ingestion.
func (b *Bridge) LeadCreated(ctx context.Context, campaign *model.Campaign, leadID string) error {
	switch {
	case campaign.ScrapingEnabled:
		return b.publish(ctx, model.QueueScrape, model.ScrapeMessage{
			LeadID:     leadID,
			CampaignID: campaign.ID,
		})
	case campaign.ScoringEnabled:
		return b.publish(ctx, model.QueueScore, model.ScoreMessage{
			LeadID:     leadID,
			CampaignID: campaign.ID,
		})
	default:
		return nil
	}
}

// LeadScraped is called after scraped content commits. Chains to scoring
// when the campaign has it enabled.
func (b *Bridge) LeadScraped(ctx context.Context, campaign *model.Campaign, leadID string) error {
	if !campaign.ScoringEnabled {
		return nil
	}
	return b.publish(ctx, model.QueueScore, model.ScoreMessage{
		LeadID:     leadID,
		CampaignID: campaign.ID,
	})
}

func (b *Bridge) publish(ctx context.Context, queueName string, payload any) error {
	body, err := model.EncodeMessage(payload)
	if err != nil {
		return err
	}
	if err := b.broker.Publish(ctx, queueName, body); err != nil {
		return err
	}
	zap.L().Debug("bridged event",
		zap.String("queue", queueName),
	)
	return nil
}
