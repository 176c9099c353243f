// Package server runs segmentation jobs behind an HTTP API and streams
// their progress over server-sent events.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/cwbudde/markfit/internal/config"
	"github.com/cwbudde/markfit/internal/fit"
)

// Server represents the HTTP server
type Server struct {
	jobManager *JobManager
	addr       string
	router     chi.Router
	server     *http.Server
}

// NewServer creates a new HTTP server. Jobs persist checkpoints, traces
// and history according to opts.
func NewServer(addr string, opts ManagerOptions) *Server {
	s := &Server{
		jobManager: NewJobManager(opts),
		addr:       addr,
	}
	s.router = s.routes()
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(loggingMiddleware)
	r.Use(corsMiddleware)

	r.Get("/", s.handleIndex)

	r.Route("/api/v1/jobs", func(r chi.Router) {
		r.Post("/", s.handleCreateJob)
		r.Get("/", s.handleListJobs)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetJob)
			r.Get("/marks", s.handleGetMarks)
			r.Get("/overlay.png", s.handleRender(overlayImage))
			r.Get("/mask.png", s.handleRender(maskImage))
			r.Post("/cancel", s.handleCancelJob)
			r.Get("/stream", s.handleJobStream)
		})
	})
	return r
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	slog.Info("Starting HTTP server", "addr", s.addr)
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops running jobs, then the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down HTTP server")
	jobsErr := s.jobManager.Shutdown(ctx)
	if err := s.server.Shutdown(ctx); err != nil {
		return err
	}
	return jobsErr
}

// CreateJobRequest is the body of POST /api/v1/jobs. Config overrides the
// defaults field by field; ResumeFrom starts from the best marks of that
// job's checkpoint.
type CreateJobRequest struct {
	RefPath    string          `json:"refPath"`
	Config     json.RawMessage `json:"config,omitempty"`
	ResumeFrom string          `json:"resumeFrom,omitempty"`
}

// jobResponse adds derived fields to a job
type jobResponse struct {
	Job
	Elapsed float64 `json:"elapsed"`
}

// handleCreateJob handles POST /api/v1/jobs
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %v", err))
		return
	}
	if req.RefPath == "" {
		writeError(w, http.StatusBadRequest, "refPath is required")
		return
	}

	run := config.Default()
	if len(req.Config) > 0 {
		if err := json.Unmarshal(req.Config, &run); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid config: %v", err))
			return
		}
	}
	run.Image = req.RefPath
	if err := run.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ResumeFrom != "" && s.jobManager.opts.Store == nil {
		writeError(w, http.StatusBadRequest, "resumeFrom needs a checkpoint store")
		return
	}

	job := s.jobManager.CreateJob(JobConfig{RefPath: req.RefPath, Run: run})
	if req.ResumeFrom != "" {
		s.jobManager.UpdateJob(job.ID, func(j *Job) { j.ResumedFrom = req.ResumeFrom })
		job.ResumedFrom = req.ResumeFrom
	}
	s.jobManager.Start(job.ID)

	writeJSON(w, http.StatusCreated, job)
}

// handleListJobs handles GET /api/v1/jobs
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.jobManager.ListJobs())
}

// handleGetJob handles GET /api/v1/jobs/{id}
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, exists := s.jobManager.GetJob(jobIDParam(r))
	if !exists {
		writeError(w, http.StatusNotFound, "Job not found")
		return
	}
	writeJSON(w, http.StatusOK, jobResponse{Job: job, Elapsed: job.Elapsed().Seconds()})
}

// handleGetMarks handles GET /api/v1/jobs/{id}/marks
func (s *Server) handleGetMarks(w http.ResponseWriter, r *http.Request) {
	job, exists := s.jobManager.GetJob(jobIDParam(r))
	if !exists {
		writeError(w, http.StatusNotFound, "Job not found")
		return
	}
	writeJSON(w, http.StatusOK, newMarksResponse(job))
}

// handleCancelJob handles POST /api/v1/jobs/{id}/cancel
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobManager.Cancel(jobIDParam(r))
	switch {
	case errors.Is(err, ErrJobNotFound):
		writeError(w, http.StatusNotFound, "Job not found")
	case errors.Is(err, ErrJobFinished):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		slog.Info("Job cancel requested", "job_id", job.ID)
		writeJSON(w, http.StatusAccepted, job)
	}
}

// handleRender serves a PNG drawn from the job's best marks
func (s *Server) handleRender(draw func(job Job) (fit.Renderer, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, exists := s.jobManager.GetJob(jobIDParam(r))
		if !exists {
			writeError(w, http.StatusNotFound, "Job not found")
			return
		}
		if job.BestEnergy == nil {
			writeError(w, http.StatusNotFound, "No results yet")
			return
		}

		renderer, err := draw(job)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-cache")
		if err := png.Encode(w, renderer.Render(job.Marks())); err != nil {
			slog.Error("Failed to encode PNG", "error", err)
		}
	}
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"duration", time.Since(start))
	})
}
