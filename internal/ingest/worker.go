// Package ingest runs the discovery stage of a campaign run: executing the
// campaign's text queries against the places API, writing deduplicated
// leads, and handing new leads to the bridge.
package ingest

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/leadflow/internal/metrics"
	"github.com/sells-group/leadflow/internal/model"
	"github.com/sells-group/leadflow/internal/resilience"
	"github.com/sells-group/leadflow/internal/store"
	"github.com/sells-group/leadflow/pkg/places"
)

// Recorder receives run progress from the worker. The orchestrator
// implements it.
type Recorder interface {
	RecordProgress(ctx context.Context, runID string, p model.Progress) error
	Complete(ctx context.Context, runID string) error
	Fail(ctx context.Context, runID string, cause error) error
}

// LeadSink receives committed leads for downstream stages. The bridge
// implements it.
type LeadSink interface {
	LeadCreated(ctx context.Context, campaign *model.Campaign, leadID string) error
}

// Config tunes the worker.
type Config struct {
	// PageSize per search request. Capped at the API maximum.
	PageSize int

	// DefaultMaxResults applies when the campaign sets no per-search cap.
	DefaultMaxResults int

	// Retry is the per-request retry policy for transient API failures.
	Retry resilience.RetryConfig

	// RatePerSecond throttles search requests across all queries.
	RatePerSecond float64
}

func (c Config) withDefaults() Config {
	if c.PageSize <= 0 || c.PageSize > places.MaxPageSize {
		c.PageSize = places.MaxPageSize
	}
	if c.DefaultMaxResults <= 0 {
		c.DefaultMaxResults = 60
	}
	if c.RatePerSecond <= 0 {
		c.RatePerSecond = 10
	}
	return c
}

// Worker executes ingestion for one run at a time.
type Worker struct {
	client   places.Client
	store    store.Store
	sink     LeadSink
	recorder Recorder
	limiter  *rate.Limiter
	cfg      Config
}

// NewWorker creates an ingestion worker.
func NewWorker(client places.Client, st store.Store, sink LeadSink, rec Recorder, cfg Config) *Worker {
	cfg = cfg.withDefaults()
	return &Worker{
		client:   client,
		store:    st,
		sink:     sink,
		recorder: rec,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1),
		cfg:      cfg,
	}
}

// queryResult accumulates counters for one executed query.
type queryResult struct {
	leads      int
	duplicates int
	errs       int
	lastErrMsg string
}

// Run executes all queries for the run. It reports progress after each
// query and never leaves the run non-terminal: exhaustion of queries or of
// the request budget completes the run, and a fatal API error fails it.
func (w *Worker) Run(ctx context.Context, campaign *model.Campaign, run *model.CampaignRun, queries []string) {
	log := zap.L().With(
		zap.String("campaign_id", campaign.ID),
		zap.String("run_id", run.ID),
	)

	maxResults := campaign.MaxResultsPerSearch
	if maxResults <= 0 {
		maxResults = w.cfg.DefaultMaxResults
	}

	requestsUsed := 0
	budget := func() int {
		if campaign.MaxTotalRequests <= 0 {
			return -1
		}
		return campaign.MaxTotalRequests - requestsUsed
	}

	for i, query := range queries {
		if ctx.Err() != nil {
			// Shutdown mid-run: mark the run failed so it never sticks in
			// running forever.
			_ = w.recorder.Fail(context.WithoutCancel(ctx), run.ID, ctx.Err())
			return
		}
		if b := budget(); b == 0 {
			// Request budget spent: the run ends successfully with the
			// remaining queries unexecuted.
			log.Info("request budget exhausted, completing run early",
				zap.Int("queries_remaining", len(queries)-i),
				zap.Int("requests_used", requestsUsed),
			)
			_ = w.recorder.Complete(ctx, run.ID)
			return
		}

		res, used, fatal := w.runQuery(ctx, campaign, run, query, maxResults, budget())
		requestsUsed += used

		progress := model.Progress{
			QueriesExecuted:   1,
			LeadsFound:        res.leads,
			DuplicatesSkipped: res.duplicates,
			ErrorCount:        res.errs,
			ErrorMessage:      res.lastErrMsg,
		}
		if err := w.recorder.RecordProgress(ctx, run.ID, progress); err != nil {
			log.Error("record progress", zap.Error(err))
		}

		if fatal != nil {
			_ = w.recorder.Fail(ctx, run.ID, fatal)
			return
		}
	}
}

// runQuery executes one text query with pagination, returning its counters,
// the number of API requests consumed, and a non-nil fatal error when the
// whole run must stop.
func (w *Worker) runQuery(ctx context.Context, campaign *model.Campaign, run *model.CampaignRun, query string, maxResults, budget int) (queryResult, int, error) {
	var res queryResult
	requestsUsed := 0
	collected := 0
	pageToken := ""

	for {
		if budget >= 0 && requestsUsed >= budget {
			break
		}
		if err := w.limiter.Wait(ctx); err != nil {
			res.errs++
			res.lastErrMsg = err.Error()
			return res, requestsUsed, nil
		}

		retryCfg := w.cfg.Retry
		retryCfg.OnRetry = resilience.RetryLogger("places", "text_search")
		resp, err := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (*places.TextSearchResponse, error) {
			return w.client.TextSearch(ctx, places.TextSearchRequest{
				Query:     query,
				PageSize:  w.cfg.PageSize,
				PageToken: pageToken,
			})
		})
		requestsUsed++
		if err != nil {
			metrics.PlacesRequests.WithLabelValues("error").Inc()
			if fatal := fatalAPIError(err); fatal != nil {
				return res, requestsUsed, fatal
			}
			res.errs++
			res.lastErrMsg = err.Error()
			zap.L().Warn("query failed",
				zap.String("run_id", run.ID),
				zap.String("query", query),
				zap.Error(err),
			)
			return res, requestsUsed, nil
		}
		metrics.PlacesRequests.WithLabelValues("ok").Inc()

		for _, place := range resp.Places {
			if collected >= maxResults {
				break
			}
			collected++
			w.storePlace(ctx, campaign, run, place, &res)
		}

		pageToken = resp.NextPageToken
		if pageToken == "" || collected >= maxResults {
			break
		}
	}

	return res, requestsUsed, nil
}

// storePlace inserts one place as a lead and bridges it downstream. A
// duplicate place_id is counted, not treated as an error.
func (w *Worker) storePlace(ctx context.Context, campaign *model.Campaign, run *model.CampaignRun, place places.Place, res *queryResult) {
	lead := &model.Lead{
		PlaceID:       place.ID,
		CampaignID:    campaign.ID,
		CampaignRunID: run.ID,
		Name:          place.DisplayName.Text,
		Phone:         place.NationalPhoneNumber,
		Website:       place.WebsiteURI,
		Rating:        place.Rating,
		City:          place.City(),
		State:         place.State(),
	}

	err := w.store.InsertLead(ctx, lead)
	switch {
	case err == nil:
		res.leads++
		metrics.LeadsInserted.Inc()
		// Bridge only after the insert committed so consumers always find
		// the row.
		if err := w.sink.LeadCreated(ctx, campaign, lead.ID); err != nil {
			res.errs++
			res.lastErrMsg = err.Error()
			zap.L().Error("bridge lead",
				zap.String("lead_id", lead.ID),
				zap.Error(err),
			)
		}
	case errors.Is(err, store.ErrDuplicatePlace):
		res.duplicates++
		metrics.DuplicatesSkipped.Inc()
	default:
		res.errs++
		res.lastErrMsg = err.Error()
		zap.L().Error("insert lead",
			zap.String("place_id", place.ID),
			zap.Error(err),
		)
	}
}

// fatalAPIError returns a non-nil error when the API failure poisons the
// whole run rather than just this query. Credential problems affect every
// subsequent request the same way.
func fatalAPIError(err error) error {
	var apiErr *places.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return err
		}
	}
	return nil
}
