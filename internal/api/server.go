// Package api exposes the HTTP interface for the analysis service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/haybaler/perception/internal/analysis"
	"github.com/haybaler/perception/internal/config"
	"github.com/haybaler/perception/internal/dispatcher"
	"github.com/haybaler/perception/internal/metrics"
)

const defaultListLimit = 50

// Server wires HTTP handlers to the dispatcher and stores.
type Server struct {
	router     chi.Router
	jobStore   analysis.JobStore
	cache      analysis.CacheStore
	registry   *analysis.Registry
	dispatcher *dispatcher.Dispatcher
	idGen      analysis.IDGenerator
	clock      analysis.Clock
	cfg        config.Config
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	jobStore analysis.JobStore,
	cache analysis.CacheStore,
	registry *analysis.Registry,
	dispatcher *dispatcher.Dispatcher,
	idGen analysis.IDGenerator,
	clock analysis.Clock,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		jobStore:   jobStore,
		cache:      cache,
		registry:   registry,
		dispatcher: dispatcher,
		idGen:      idGen,
		clock:      clock,
		cfg:        cfg,
		logger:     logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Get("/engines", s.listEngines)
		r.Route("/analyses", func(r chi.Router) {
			r.Post("/", s.submitAnalysis)
			r.Get("/", s.listAnalyses)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/", s.getAnalysis)
				r.Get("/result", s.getAnalysisResult)
				r.Post("/cancel", s.cancelAnalysis)
				r.Delete("/", s.deleteAnalysis)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	// In-memory dependencies are always ready; database-backed stores
	// fail loudly at startup instead.
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type submitRequest struct {
	URL          string                `json:"url"`
	Engines      []analysis.EngineName `json:"engines"`
	Tenant       string                `json:"tenant"`
	ForceRefresh bool                  `json:"force_refresh"`
}

func (s *Server) submitAnalysis(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	normalized, err := analysis.ParseRequestURL(req.URL)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// An absent engines key defaults to every registered engine; an
	// explicit empty list is a caller mistake.
	engines := req.Engines
	if engines == nil {
		engines = s.registry.Names()
	} else if len(engines) == 0 {
		writeError(w, http.StatusBadRequest, "engines must not be empty")
		return
	}
	engines, err = s.registry.ValidateEngines(engines)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	request := analysis.AnalysisRequest{
		URL:          normalized,
		Engines:      engines,
		Tenant:       req.Tenant,
		ForceRefresh: req.ForceRefresh,
	}
	jobID, err := s.enqueueJob(r.Context(), request)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, analysis.ErrQueueClosed) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id": jobID,
		"url":    normalized,
		"state":  analysis.JobStatePending,
	})
}

func (s *Server) enqueueJob(ctx context.Context, request analysis.AnalysisRequest) (string, error) {
	jobID, err := s.idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	now := s.clock.Now()
	job := analysis.Job{
		ID:        jobID,
		Request:   request,
		State:     analysis.JobStatePending,
		Submitted: now,
	}
	if err := s.jobStore.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}

	queueCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	item := analysis.QueueItem{
		JobID:     jobID,
		Request:   request,
		Submitted: now.Unix(),
	}
	if err := s.dispatcher.Enqueue(queueCtx, item); err != nil {
		// The job record stays pending; without a queue slot it will
		// never run, so fail it for the caller.
		if updateErr := s.jobStore.UpdateJobState(ctx, jobID, analysis.JobStateFailed, "queue full"); updateErr != nil {
			s.logger.Error("mark unqueued job failed", zap.String("job_id", jobID), zap.Error(updateErr))
		}
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	return jobID, nil
}

func (s *Server) listAnalyses(w http.ResponseWriter, r *http.Request) {
	tenant := r.URL.Query().Get("tenant")
	limit := queryInt(r, "limit", defaultListLimit)
	offset := queryInt(r, "offset", 0)

	jobs, err := s.jobStore.ListJobs(r.Context(), tenant, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	// Listings carry metadata only; full results stay on the result
	// endpoint.
	summaries := make([]map[string]any, 0, len(jobs))
	for _, job := range jobs {
		summaries = append(summaries, jobSummary(job))
	}
	writeJSON(w, http.StatusOK, map[string]any{"analyses": summaries})
}

func (s *Server) getAnalysis(w http.ResponseWriter, r *http.Request) {
	job, ok := s.fetchJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, jobSummary(job))
}

func (s *Server) getAnalysisResult(w http.ResponseWriter, r *http.Request) {
	job, ok := s.fetchJob(w, r)
	if !ok {
		return
	}
	if !job.State.Terminal() {
		writeError(w, http.StatusConflict, "analysis still in progress")
		return
	}
	payload := map[string]any{
		"job_id": job.ID,
		"url":    job.Request.URL,
		"state":  job.State,
		"result": job.Result,
	}
	if job.ErrorText != "" {
		payload["error"] = job.ErrorText
	}
	if job.ReportURI != "" {
		payload["report_uri"] = job.ReportURI
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) cancelAnalysis(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	err := s.jobStore.UpdateJobState(r.Context(), jobID, analysis.JobStateCanceled, "canceled via API")
	switch {
	case errors.Is(err, analysis.ErrNotFound):
		writeError(w, http.StatusNotFound, "analysis not found")
	case errors.Is(err, analysis.ErrJobFinalized):
		writeError(w, http.StatusConflict, "analysis already finished")
	case err != nil:
		writeError(w, http.StatusInternalServerError, "failed to cancel analysis")
	default:
		writeJSON(w, http.StatusOK, map[string]string{
			"job_id": jobID,
			"state":  string(analysis.JobStateCanceled),
		})
	}
}

func (s *Server) deleteAnalysis(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobStore.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "analysis not found")
		return
	}
	if tenant := r.URL.Query().Get("tenant"); tenant != "" && tenant != job.Request.Tenant {
		writeError(w, http.StatusNotFound, "analysis not found")
		return
	}
	if !job.State.Terminal() {
		writeError(w, http.StatusConflict, "analysis still in progress")
		return
	}
	if err := s.jobStore.DeleteJob(r.Context(), jobID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete analysis")
		return
	}
	// Deleting an analysis also evicts its cached engine outcomes so a
	// resubmission observes the live site.
	if err := s.cache.Invalidate(r.Context(), job.Request.URL); err != nil {
		s.logger.Warn("cache invalidation failed",
			zap.String("url", job.Request.URL),
			zap.Error(err))
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": jobID, "deleted": "true"})
}

func (s *Server) listEngines(w http.ResponseWriter, _ *http.Request) {
	names := s.registry.Names()
	engines := make([]map[string]any, 0, len(names))
	for _, name := range names {
		engines = append(engines, map[string]any{
			"name":            name,
			"timeout_seconds": s.cfg.Analysis.EngineTimeoutSec,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"engines": engines})
}

func (s *Server) fetchJob(w http.ResponseWriter, r *http.Request) (analysis.Job, bool) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobStore.GetJob(r.Context(), jobID)
	if errors.Is(err, analysis.ErrNotFound) {
		writeError(w, http.StatusNotFound, "analysis not found")
		return analysis.Job{}, false
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch analysis")
		return analysis.Job{}, false
	}
	return job, true
}

func jobSummary(job analysis.Job) map[string]any {
	summary := map[string]any{
		"job_id":       job.ID,
		"url":          job.Request.URL,
		"engines":      job.Request.Engines,
		"state":        job.State,
		"submitted_at": job.Submitted,
	}
	if job.Request.Tenant != "" {
		summary["tenant"] = job.Request.Tenant
	}
	if job.Started != nil {
		summary["started_at"] = job.Started
	}
	if job.Finished != nil {
		summary["finished_at"] = job.Finished
	}
	if job.ErrorText != "" {
		summary["error"] = job.ErrorText
	}
	if job.Result != nil && job.Result.OverallScore != nil {
		summary["overall_score"] = *job.Result.OverallScore
	}
	return summary
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val < 0 {
		return def
	}
	return val
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type requestIDKey struct{}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
