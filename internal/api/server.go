// Package api exposes the HTTP control plane: campaign and run management,
// DLQ inspection, health, and metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sells-group/leadflow/internal/model"
	"github.com/sells-group/leadflow/internal/orchestrator"
	"github.com/sells-group/leadflow/internal/queue"
	"github.com/sells-group/leadflow/internal/store"
)

// Server wires HTTP handlers to the orchestrator and store.
type Server struct {
	router chi.Router
	orch   *orchestrator.Orchestrator
	store  store.Store
	dlq    queue.DLQReader
}

// NewServer constructs a Server with middleware and routes. dlq may be nil
// when the process runs without a broker.
func NewServer(orch *orchestrator.Orchestrator, st store.Store, dlq queue.DLQReader) *Server {
	s := &Server{orch: orch, store: st, dlq: dlq}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/campaigns", func(r chi.Router) {
			r.Post("/", s.createCampaign)
			r.Route("/{campaign_id}", func(r chi.Router) {
				r.Get("/", s.getCampaign)
				r.Post("/runs", s.startRun)
			})
		})
		r.Route("/campaign-runs", func(r chi.Router) {
			r.Get("/", s.listRuns)
			r.Get("/{run_id}", s.getRun)
		})
		r.Route("/dlq", func(r chi.Router) {
			r.Get("/{queue}", s.listDLQ)
			r.Post("/{queue}/replay", s.replayDLQ)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type createCampaignRequest struct {
	Name                string   `json:"name"`
	Queries             []string `json:"queries"`
	QueriesConfirmed    bool     `json:"queries_confirmed"`
	MaxResultsPerSearch int      `json:"max_results_per_search"`
	MaxTotalRequests    int      `json:"max_total_requests"`
	ScrapingEnabled     *bool    `json:"scraping_enabled"`
	ScoringEnabled      *bool    `json:"scoring_enabled"`
}

func (s *Server) createCampaign(w http.ResponseWriter, r *http.Request) {
	var req createCampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name required")
		return
	}

	blob, err := model.EncodeQueries(req.Queries)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	campaign := &model.Campaign{
		Name:                req.Name,
		QueriesBlob:         blob,
		QueriesCount:        len(req.Queries),
		QueriesConfirmed:    req.QueriesConfirmed,
		MaxResultsPerSearch: req.MaxResultsPerSearch,
		MaxTotalRequests:    req.MaxTotalRequests,
		ScrapingEnabled:     boolOrDefault(req.ScrapingEnabled, true),
		ScoringEnabled:      boolOrDefault(req.ScoringEnabled, true),
	}

	if err := s.store.CreateCampaign(r.Context(), campaign); err != nil {
		zap.L().Error("create campaign", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "create campaign failed")
		return
	}
	writeJSON(w, http.StatusCreated, campaign)
}

func (s *Server) getCampaign(w http.ResponseWriter, r *http.Request) {
	campaign, err := s.store.GetCampaign(r.Context(), chi.URLParam(r, "campaign_id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "campaign not found")
			return
		}
		zap.L().Error("get campaign", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "get campaign failed")
		return
	}
	writeJSON(w, http.StatusOK, campaign)
}

func (s *Server) startRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.orch.StartRun(r.Context(), chi.URLParam(r, "campaign_id"))
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, run)
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "campaign not found")
	case errors.Is(err, orchestrator.ErrCampaignNotReady):
		writeError(w, http.StatusUnprocessableEntity, "campaign query set not confirmed")
	case errors.Is(err, store.ErrRunInProgress):
		writeError(w, http.StatusConflict, "campaign already has a running run")
	default:
		zap.L().Error("start run", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "start run failed")
	}
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.orch.GetRun(r.Context(), chi.URLParam(r, "run_id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		zap.L().Error("get run", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "get run failed")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.RunFilter{
		CampaignID: q.Get("campaign_id"),
		Status:     model.RunStatus(q.Get("status")),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid offset")
			return
		}
		filter.Offset = n
	}
	switch filter.Status {
	case "", model.RunRunning, model.RunCompleted, model.RunFailed:
	default:
		writeError(w, http.StatusBadRequest, "invalid status")
		return
	}

	runs, err := s.orch.ListRuns(r.Context(), filter)
	if err != nil {
		zap.L().Error("list runs", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list runs failed")
		return
	}
	if runs == nil {
		runs = []model.CampaignRun{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) listDLQ(w http.ResponseWriter, r *http.Request) {
	if s.dlq == nil {
		writeError(w, http.StatusNotFound, "no broker attached")
		return
	}
	name := chi.URLParam(r, "queue")
	msgs := s.dlq.ListDLQ(name)
	out := make([]map[string]any, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, map[string]any{
			"id":            m.ID,
			"body":          json.RawMessage(m.Body),
			"receive_count": m.ReceiveCount,
			"enqueued_at":   m.EnqueuedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"queue": name, "messages": out})
}

func (s *Server) replayDLQ(w http.ResponseWriter, r *http.Request) {
	if s.dlq == nil {
		writeError(w, http.StatusNotFound, "no broker attached")
		return
	}
	name := chi.URLParam(r, "queue")
	n, err := s.dlq.ReplayDLQ(r.Context(), name)
	if err != nil {
		zap.L().Error("replay dlq", zap.String("queue", name), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "replay failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"queue": name, "replayed": n})
}

// ListenAndServe runs the HTTP server until ctx is canceled, then drains
// connections.
func ListenAndServe(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("http server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func boolOrDefault(ptr *bool, def bool) bool {
	if ptr == nil {
		return def
	}
	return *ptr
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
