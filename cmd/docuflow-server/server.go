package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tendant/docuflow/pkg/docuflow"
	"github.com/tendant/docuflow/pkg/docuflow/config"
	"github.com/tendant/docuflow/pkg/docuflow/events"
)

const readinessProbeKey = ".docuflow-readiness"

// HTTPServer exposes the event webhook, the run ledger and health endpoints
type HTTPServer struct {
	components *config.Components
	webhook    *events.Webhook
	config     *config.ServerConfig
	logger     *slog.Logger
}

// NewHTTPServer creates a new HTTP server wrapper
func NewHTTPServer(components *config.Components, webhook *events.Webhook, serverConfig *config.ServerConfig, logger *slog.Logger) *HTTPServer {
	return &HTTPServer{
		components: components,
		webhook:    webhook,
		config:     serverConfig,
		logger:     logger,
	}
}

// Routes sets up the HTTP routes
func (s *HTTPServer) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/healthz/ready", s.handleReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Mount("/api/events", s.webhook.Routes())

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			r.Get("/runs", s.handleListRuns)
			r.Get("/runs/{runID}", s.handleGetRun)
		})
		r.Post("/process", s.handleProcess)
	})

	return r
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{
		"status":      "healthy",
		"environment": s.config.Environment,
		"storage":     s.config.StorageType,
	})
}

// handleReady reports ready once the input container can be read.
func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	_, err := s.components.Storage.Get(r.Context(), s.config.InputContainer, readinessProbeKey)
	if err != nil && !errors.Is(err, docuflow.ErrObjectNotFound) {
		s.logger.Warn("Readiness probe failed", "err", err)
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	render.JSON(w, r, map[string]string{"status": "ready"})
}

// RunResponse is the JSON form of a run ledger entry
type RunResponse struct {
	ID          string     `json:"id"`
	BlobKey     string     `json:"blob_key"`
	JobID       string     `json:"job_id,omitempty"`
	Outcome     string     `json:"outcome"`
	FailureKind string     `json:"failure_kind,omitempty"`
	Message     string     `json:"message,omitempty"`
	OutputKey   string     `json:"output_key,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

func toRunResponse(run *docuflow.Run) RunResponse {
	resp := RunResponse{
		ID:          run.ID,
		BlobKey:     run.BlobKey,
		JobID:       run.JobID,
		Outcome:     string(run.Outcome),
		FailureKind: string(run.FailureKind),
		Message:     run.Message,
		OutputKey:   run.OutputKey,
		StartedAt:   run.StartedAt,
	}
	if !run.FinishedAt.IsZero() {
		finished := run.FinishedAt
		resp.FinishedAt = &finished
	}
	return resp
}

func (s *HTTPServer) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	runs, err := s.components.Runs.ListRuns(r.Context(), r.URL.Query().Get("blob_key"), limit)
	if err != nil {
		s.logger.Error("Failed to list runs", "err", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	resp := make([]RunResponse, 0, len(runs))
	for _, run := range runs {
		resp = append(resp, toRunResponse(run))
	}
	render.JSON(w, r, resp)
}

func (s *HTTPServer) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.components.Runs.GetRun(r.Context(), chi.URLParam(r, "runID"))
	if errors.Is(err, docuflow.ErrRunNotFound) {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error("Failed to get run", "err", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	render.JSON(w, r, toRunResponse(run))
}

// ProcessRequest asks for a blob of the input container to be processed
type ProcessRequest struct {
	BlobKey string `json:"blob_key"`
}

// handleProcess runs the orchestrator synchronously for one blob.
func (s *HTTPServer) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req ProcessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.logger.Error("Failed to decode request", "err", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	key := strings.TrimLeft(strings.TrimSpace(req.BlobKey), "/")
	if key == "" {
		http.Error(w, "blob_key is required", http.StatusBadRequest)
		return
	}

	outcome := s.components.Processor.ProcessBlob(r.Context(), key)
	render.JSON(w, r, map[string]string{"blob_key": key, "outcome": string(outcome)})
}
