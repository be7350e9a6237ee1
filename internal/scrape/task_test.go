package scrape

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadflow/internal/dispatch"
	"github.com/sells-group/leadflow/internal/model"
	"github.com/sells-group/leadflow/internal/queue"
	"github.com/sells-group/leadflow/internal/resilience"
	"github.com/sells-group/leadflow/internal/store"
)

// taskStore fakes the three store calls the scrape task makes.
type taskStore struct {
	store.Store

	lead     *model.Lead
	campaign *model.Campaign

	updatedLeadID  string
	updatedContent string
	updateErr      error
}

func (s *taskStore) GetLead(_ context.Context, id string) (*model.Lead, error) {
	if s.lead == nil || s.lead.ID != id {
		return nil, store.ErrNotFound
	}
	cp := *s.lead
	return &cp, nil
}

func (s *taskStore) GetCampaign(_ context.Context, id string) (*model.Campaign, error) {
	if s.campaign == nil || s.campaign.ID != id {
		return nil, store.ErrNotFound
	}
	return s.campaign, nil
}

func (s *taskStore) UpdateScrapedContent(_ context.Context, leadID, content string, _ time.Time) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	s.updatedLeadID = leadID
	s.updatedContent = content
	return nil
}

type scrapedCapture struct {
	leadIDs []string
}

func (c *scrapedCapture) LeadScraped(_ context.Context, _ *model.Campaign, leadID string) error {
	c.leadIDs = append(c.leadIDs, leadID)
	return nil
}

func scrapeMsg(t *testing.T, leadID string) queue.Message {
	t.Helper()
	body, err := model.EncodeMessage(model.ScrapeMessage{LeadID: leadID, CampaignID: "c1"})
	require.NoError(t, err)
	return queue.Message{ID: "m1", Queue: model.QueueScrape, Body: body}
}

func fastTaskConfig() TaskConfig {
	return TaskConfig{
		GraceWindow: 5 * time.Minute,
		Retry: resilience.RetryConfig{
			MaxAttempts:    2,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     time.Millisecond,
		},
	}
}

func TestHandle_ScrapesAndChains(t *testing.T) {
	st := &taskStore{
		lead:     &model.Lead{ID: "l1", CampaignID: "c1", Website: "https://joes.example"},
		campaign: &model.Campaign{ID: "c1", ScrapingEnabled: true, ScoringEnabled: true},
	}
	scraper := &stubScraper{name: "static", result: &Result{Content: "plumbing services", Source: "static"}}
	sink := &scrapedCapture{}

	task := NewTask(st, scraper, sink, fastTaskConfig())
	require.NoError(t, task.Handle(context.Background(), scrapeMsg(t, "l1")))

	assert.Equal(t, "l1", st.updatedLeadID)
	assert.Equal(t, "plumbing services", st.updatedContent)
	assert.Equal(t, []string{"l1"}, sink.leadIDs, "chained after the write")
}

func TestHandle_GraceWindowSkipsFetchButChains(t *testing.T) {
	recent := time.Now().Add(-time.Minute)
	content := "already here"
	st := &taskStore{
		lead: &model.Lead{
			ID: "l1", CampaignID: "c1", Website: "https://joes.example",
			ScrapedContent: &content, ScrapedAt: &recent,
		},
		campaign: &model.Campaign{ID: "c1", ScoringEnabled: true},
	}
	scraper := &stubScraper{name: "static"}
	sink := &scrapedCapture{}

	task := NewTask(st, scraper, sink, fastTaskConfig())
	require.NoError(t, task.Handle(context.Background(), scrapeMsg(t, "l1")))

	assert.Zero(t, scraper.calls, "fresh content is not refetched")
	assert.Empty(t, st.updatedLeadID)
	assert.Equal(t, []string{"l1"}, sink.leadIDs, "downstream chain still owed")
}

func TestHandle_StaleContentRefetched(t *testing.T) {
	old := time.Now().Add(-time.Hour)
	content := "stale"
	st := &taskStore{
		lead: &model.Lead{
			ID: "l1", CampaignID: "c1", Website: "https://joes.example",
			ScrapedContent: &content, ScrapedAt: &old,
		},
		campaign: &model.Campaign{ID: "c1"},
	}
	scraper := &stubScraper{name: "static", result: &Result{Content: "fresh", Source: "static"}}

	task := NewTask(st, scraper, &scrapedCapture{}, fastTaskConfig())
	require.NoError(t, task.Handle(context.Background(), scrapeMsg(t, "l1")))

	assert.Equal(t, 1, scraper.calls)
	assert.Equal(t, "fresh", st.updatedContent)
}

func TestHandle_NoWebsitePassesThrough(t *testing.T) {
	st := &taskStore{
		lead:     &model.Lead{ID: "l1", CampaignID: "c1"},
		campaign: &model.Campaign{ID: "c1", ScoringEnabled: true},
	}
	scraper := &stubScraper{name: "static"}
	sink := &scrapedCapture{}

	task := NewTask(st, scraper, sink, fastTaskConfig())
	require.NoError(t, task.Handle(context.Background(), scrapeMsg(t, "l1")))

	assert.Zero(t, scraper.calls)
	assert.Equal(t, []string{"l1"}, sink.leadIDs, "scoring works from place metadata alone")
}

func TestHandle_LeadGoneDropped(t *testing.T) {
	task := NewTask(&taskStore{}, &stubScraper{}, &scrapedCapture{}, fastTaskConfig())
	err := task.Handle(context.Background(), scrapeMsg(t, "gone"))
	assert.ErrorIs(t, err, dispatch.ErrDrop)
}

func TestHandle_BadPayloadDropped(t *testing.T) {
	task := NewTask(&taskStore{}, &stubScraper{}, &scrapedCapture{}, fastTaskConfig())
	err := task.Handle(context.Background(), queue.Message{ID: "m1", Body: []byte("not json")})
	assert.ErrorIs(t, err, dispatch.ErrDrop)
}

func TestHandle_FetchFailureNacks(t *testing.T) {
	st := &taskStore{
		lead:     &model.Lead{ID: "l1", CampaignID: "c1", Website: "https://down.example"},
		campaign: &model.Campaign{ID: "c1"},
	}
	scraper := &stubScraper{name: "static", err: resilience.NewTransientError(eris.New("503"), 503)}
	sink := &scrapedCapture{}

	task := NewTask(st, scraper, sink, fastTaskConfig())
	err := task.Handle(context.Background(), scrapeMsg(t, "l1"))

	require.Error(t, err)
	assert.NotErrorIs(t, err, dispatch.ErrDrop, "transient failures redeliver, not drop")
	assert.Equal(t, 2, scraper.calls, "fetch retried before giving up")
	assert.Empty(t, sink.leadIDs)
}
