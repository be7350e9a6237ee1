package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/leadflow/internal/bridge"
	"github.com/sells-group/leadflow/internal/dispatch"
	"github.com/sells-group/leadflow/internal/ingest"
	"github.com/sells-group/leadflow/internal/model"
	"github.com/sells-group/leadflow/internal/orchestrator"
	"github.com/sells-group/leadflow/internal/queue"
	"github.com/sells-group/leadflow/internal/resilience"
	"github.com/sells-group/leadflow/internal/score"
	"github.com/sells-group/leadflow/internal/scrape"
	"github.com/sells-group/leadflow/internal/store"
	"github.com/sells-group/leadflow/pkg/anthropic"
	"github.com/sells-group/leadflow/pkg/places"
)

// app holds the wired pipeline shared by serve and one-shot commands.
type app struct {
	store    store.Store
	broker   *queue.Memory
	orch     *orchestrator.Orchestrator
	renderer *scrape.Renderer // nil when rendering disabled

	scrapeDisp *dispatch.Dispatcher
	scoreDisp  *dispatch.Dispatcher
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "leadflow.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initApp builds the full pipeline: store, broker, bridge, orchestrator
// with its ingestion worker, and the two stage dispatchers.
func initApp(ctx context.Context) (*app, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	broker := queue.NewMemory(queue.MemoryConfig{
		VisibilityTimeout: time.Duration(cfg.Queue.VisibilityTimeoutSecs) * time.Second,
		MaxReceiveCount:   cfg.Queue.MaxReceiveCount,
		Depth:             cfg.Queue.Depth,
	})
	br := bridge.New(broker)

	orch := orchestrator.New(ctx, st)

	placesClient := places.NewClient(cfg.Places.Key,
		places.WithBaseURL(cfg.Places.BaseURL),
		places.WithTimeout(time.Duration(cfg.Places.TimeoutSecs)*time.Second),
	)
	ingestRetry := resilience.RetryConfig{
		MaxAttempts:    cfg.Ingest.MaxRetries,
		InitialBackoff: time.Duration(cfg.Ingest.BackoffMs) * time.Millisecond,
		MaxBackoff:     time.Duration(cfg.Ingest.MaxBackoffMs) * time.Millisecond,
	}
	worker := ingest.NewWorker(placesClient, st, br, orch, ingest.Config{
		PageSize:          cfg.Ingest.PageSize,
		DefaultMaxResults: cfg.Ingest.DefaultResults,
		Retry:             ingestRetry,
		RatePerSecond:     cfg.Places.RatePerSecond,
	})
	orch.SetIngestRunner(worker)

	a := &app{store: st, broker: broker, orch: orch}

	// Scrape stage.
	var scraper scrape.Scraper
	static := scrape.NewStaticScraper(
		scrape.WithMaxPageBytes(int64(cfg.Scrape.MaxPageBytes)),
	)
	if cfg.Scrape.RenderEnabled {
		a.renderer = scrape.NewRenderer(scrape.RenderConfig{
			NavigationTimeout: time.Duration(cfg.Scrape.RenderTimeoutSec) * time.Second,
		})
		scraper = scrape.NewChain(static, a.renderer)
	} else {
		scraper = scrape.NewChain(static, nil)
	}
	scrapeTask := scrape.NewTask(st, scraper, br, scrape.TaskConfig{
		GraceWindow: time.Duration(cfg.Scrape.GraceWindowSecs) * time.Second,
		Retry:       resilience.DefaultRetryConfig(),
	})
	a.scrapeDisp = dispatch.New(broker, scrapeTask.Handle, dispatch.Config{
		Stage:          "scrape",
		Queue:          model.QueueScrape,
		BatchSize:      cfg.Scrape.BatchSize,
		BatchWait:      time.Duration(cfg.Scrape.BatchWaitMs) * time.Millisecond,
		MaxConcurrency: cfg.Scrape.MaxConcurrency,
		TaskTimeout:    time.Duration(cfg.Scrape.TaskTimeoutSecs) * time.Second,
	})

	// Score stage.
	aiClient := anthropic.NewClient(cfg.Anthropic.Key)
	scorer := score.NewScorer(aiClient, cfg.Anthropic.Model, cfg.Anthropic.MaxTokens)
	scoreTask := score.NewTask(st, scorer, score.TaskConfig{
		Retry:         resilience.DefaultRetryConfig(),
		RatePerSecond: cfg.Score.RatePerSecond,
	})
	a.scoreDisp = dispatch.New(broker, scoreTask.Handle, dispatch.Config{
		Stage:          "score",
		Queue:          model.QueueScore,
		BatchSize:      cfg.Score.BatchSize,
		BatchWait:      time.Duration(cfg.Score.BatchWaitMs) * time.Millisecond,
		MaxConcurrency: cfg.Score.MaxConcurrency,
		TaskTimeout:    time.Duration(cfg.Score.TaskTimeoutSecs) * time.Second,
	})

	return a, nil
}

// runDispatchers runs both stage dispatchers until ctx is canceled.
func (a *app) runDispatchers(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.scrapeDisp.Run(gctx) })
	g.Go(func() error { return a.scoreDisp.Run(gctx) })
	return g.Wait()
}

// drained reports whether both stage queues are empty with nothing in
// flight.
func (a *app) drained() bool {
	for _, q := range []string{model.QueueScrape, model.QueueScore} {
		ready, inflight, _ := a.broker.Depth(q)
		if ready > 0 || inflight > 0 {
			return false
		}
	}
	return true
}

func (a *app) Close() {
	if a.renderer != nil {
		a.renderer.Close()
	}
	a.broker.Close()
	_ = a.store.Close()
}
