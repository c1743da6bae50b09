package worker

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	gormdb "github.com/thebtf/cohort/internal/db/gorm"
	"github.com/thebtf/cohort/internal/orchestrator"
	"github.com/thebtf/cohort/pkg/models"
)

// MaxFeedbackBatch caps how many feedback items one request may enqueue.
const MaxFeedbackBatch = 1000

// writeJSON writes a JSON response with proper error handling.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleHealth handles health check requests.
func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if s.store != nil && !s.store.Healthy() {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  status,
		"version": s.version,
		"uptime":  time.Since(s.startTime).Round(time.Second).String(),
	})
}

// enqueueRequest is the body for POST /api/projects/{project}/feedback.
type enqueueRequest struct {
	Items []models.FeedbackRef `json:"items"`
}

// handleEnqueueFeedback adds feedback items to the project's pending set.
func (s *Service) handleEnqueueFeedback(w http.ResponseWriter, r *http.Request) {
	project := chi.URLParam(r, "project")

	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Items) == 0 {
		writeError(w, http.StatusBadRequest, "items are required")
		return
	}
	if len(req.Items) > MaxFeedbackBatch {
		writeError(w, http.StatusRequestEntityTooLarge, "too many items in one batch")
		return
	}
	for _, item := range req.Items {
		if item.ID == "" || item.Text == "" {
			writeError(w, http.StatusBadRequest, "every item needs an id and text")
			return
		}
	}

	if err := s.orch.Enqueue(r.Context(), project, req.Items...); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	pending, err := s.orch.PendingCount(r.Context(), project)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"project": project,
		"pending": pending,
	})
}

// handleTrigger starts a clustering run. The response carries the job
// record; callers poll the job endpoint for progress.
func (s *Service) handleTrigger(w http.ResponseWriter, r *http.Request) {
	project := chi.URLParam(r, "project")

	job, err := s.orch.Trigger(r.Context(), project)
	if errors.Is(err, orchestrator.ErrAlreadyRunning) {
		writeJSON(w, http.StatusConflict, job)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

// handleGetJob returns a clustering job's current state.
func (s *Service) handleGetJob(w http.ResponseWriter, r *http.Request) {
	project := chi.URLParam(r, "project")
	jobID := chi.URLParam(r, "jobID")

	job, err := s.orch.GetJob(r.Context(), project, jobID)
	if errors.Is(err, gormdb.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleClusterHealth builds the cluster health report for a project.
func (s *Service) handleClusterHealth(w http.ResponseWriter, r *http.Request) {
	project := chi.URLParam(r, "project")

	report, err := s.orch.AnalyzeProjectClusters(r.Context(), project)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}
