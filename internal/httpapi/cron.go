package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/fossclaw/fossclaw/internal/cron"
)

func (s *Server) handleCronStatus(w http.ResponseWriter, r *http.Request) {
	jobs := s.cronStore.Jobs()
	enabled := 0
	for _, j := range jobs {
		if j.Enabled {
			enabled++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"jobCount":        len(jobs),
		"enabledJobCount": enabled,
	})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cronStore.Jobs())
}

type createJobRequest struct {
	Name           string          `json:"name"`
	Type           string          `json:"type"`
	Enabled        bool            `json:"enabled"`
	IntervalSecs   int             `json:"intervalSeconds"`
	Config         json.RawMessage `json:"config"`
	Model          string          `json:"model"`
	PermissionMode string          `json:"permissionMode"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" || req.Type == "" || req.IntervalSecs <= 0 {
		writeError(w, http.StatusBadRequest, "name, type and a positive intervalSeconds are required")
		return
	}
	now := time.Now()
	job := cron.Job{
		ID:             uuid.NewString(),
		Name:           req.Name,
		Type:           req.Type,
		Enabled:        req.Enabled,
		IntervalSecs:   req.IntervalSecs,
		Config:         req.Config,
		Model:          req.Model,
		PermissionMode: req.PermissionMode,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.cronStore.Put(job)
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.cronStore.Get(chi.URLParam(r, "jobID"))
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleUpdateJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	job, ok := s.cronStore.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name != "" {
		job.Name = req.Name
	}
	if req.Type != "" {
		job.Type = req.Type
	}
	if req.IntervalSecs > 0 {
		job.IntervalSecs = req.IntervalSecs
	}
	if req.Config != nil {
		job.Config = req.Config
	}
	if req.Model != "" {
		job.Model = req.Model
	}
	if req.PermissionMode != "" {
		job.PermissionMode = req.PermissionMode
	}
	job.UpdatedAt = time.Now()
	s.cronStore.Put(job)
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	if _, ok := s.cronStore.Get(id); !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	s.cronStore.Delete(id)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleToggleJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	job, ok := s.cronStore.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	job.Enabled = !job.Enabled
	job.UpdatedAt = time.Now()
	s.cronStore.Put(job)
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleTriggerJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	if _, ok := s.cronStore.Get(id); !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	run, err := s.scheduler.TriggerNow(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleJobRuns(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	if _, ok := s.cronStore.Get(id); !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	writeJSON(w, http.StatusOK, s.cronStore.Runs(id, limit))
}

func (s *Server) handleResetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	if _, ok := s.cronStore.Get(id); !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	s.cronStore.ResetSeenSet(id)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
