// Package metrics defines the prometheus collectors exposed at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Queue collectors, labeled by queue name.
var (
	QueuePublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leadflow_queue_published_total",
		Help: "Messages published per queue.",
	}, []string{"queue"})

	QueueReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leadflow_queue_received_total",
		Help: "Message deliveries per queue, redeliveries included.",
	}, []string{"queue"})

	QueueAcked = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leadflow_queue_acked_total",
		Help: "Messages acknowledged per queue.",
	}, []string{"queue"})

	QueueNacked = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leadflow_queue_nacked_total",
		Help: "Messages returned to the queue by a consumer.",
	}, []string{"queue"})

	QueueDeadLettered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leadflow_queue_dead_lettered_total",
		Help: "Messages moved to a dead-letter queue.",
	}, []string{"queue"})

	QueueExpired = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leadflow_queue_visibility_expired_total",
		Help: "Inflight messages redelivered after visibility timeout.",
	}, []string{"queue"})

	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "leadflow_queue_depth",
		Help: "Ready messages per queue.",
	}, []string{"queue"})
)

// Ingestion collectors.
var (
	PlacesRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leadflow_places_requests_total",
		Help: "Google Places search requests by outcome.",
	}, []string{"outcome"})

	LeadsInserted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "leadflow_leads_inserted_total",
		Help: "New leads written to the store.",
	})

	DuplicatesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "leadflow_duplicates_skipped_total",
		Help: "Ingested places skipped as duplicates of existing leads.",
	})

	RunsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "leadflow_runs_started_total",
		Help: "Campaign runs started.",
	})

	RunsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leadflow_runs_finished_total",
		Help: "Campaign runs reaching a terminal status.",
	}, []string{"status"})
)

// Dispatcher collectors, labeled by stage (scrape, score).
var (
	TasksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leadflow_tasks_processed_total",
		Help: "Dispatcher tasks by stage and outcome.",
	}, []string{"stage", "outcome"})

	TasksInflight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "leadflow_tasks_inflight",
		Help: "Tasks currently being processed, by stage.",
	}, []string{"stage"})

	TaskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "leadflow_task_duration_seconds",
		Help:    "Task processing time by stage.",
		Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"stage"})

	RenderFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "leadflow_scrape_render_fallbacks_total",
		Help: "Scrapes that fell back to headless rendering.",
	})

	ScoreTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leadflow_score_tokens_total",
		Help: "Model tokens consumed by scoring, by direction.",
	}, []string{"direction"})
)
