package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/scrollit/logikal-sync/pkg/model"
	"github.com/scrollit/logikal-sync/pkg/syncconfig"
)

type syncRunDTO struct {
	ID        int64              `json:"id"`
	Kind      string             `json:"kind"`
	State     string             `json:"state"`
	Created   int                `json:"created"`
	Updated   int                `json:"updated"`
	Deleted   int                `json:"deleted"`
	Skipped   int                `json:"skipped"`
	Errors    int                `json:"errors"`
	StartedAt string             `json:"started_at"`
	EndedAt   *string            `json:"ended_at,omitempty"`
	Attempts  []syncAttemptDTO   `json:"attempts,omitempty"`
}

type syncAttemptDTO struct {
	Kind      string  `json:"kind"`
	ParentID  int64   `json:"parent_id"`
	Outcome   string  `json:"outcome"`
	Error     *string `json:"error,omitempty"`
	StartedAt string  `json:"started_at"`
}

func toSyncRunDTO(run *model.SyncRun) syncRunDTO {
	var endedAt *string
	if run.EndedAt != nil {
		s := run.EndedAt.Format(timestampLayout)
		endedAt = &s
	}
	attempts := make([]syncAttemptDTO, 0, len(run.Attempts))
	for _, a := range run.Attempts {
		attempts = append(attempts, syncAttemptDTO{
			Kind: a.Kind, ParentID: a.ParentID, Outcome: a.Outcome,
			Error: a.Error, StartedAt: a.StartedAt.Format(timestampLayout),
		})
	}
	return syncRunDTO{
		ID: run.ID, Kind: run.Kind, State: string(run.State),
		Created: run.Created, Updated: run.Updated, Deleted: run.Deleted,
		Skipped: run.Skipped, Errors: run.Errors,
		StartedAt: run.StartedAt.Format(timestampLayout), EndedAt: endedAt,
		Attempts: attempts,
	}
}

// handleSyncProject enqueues a catalog-wide cascade — the same caveat as
// handleGetProjectComplete's auto_sync applies: sync is a whole-tree
// operation, not addressable per project.
func (s *Server) handleSyncProject(w http.ResponseWriter, r *http.Request) {
	if _, err := parseID(r, "projectID"); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.enqueueOrRun(w, r, syncconfig.TypeElevation)
}

func (s *Server) handleSyncFull(w http.ResponseWriter, r *http.Request) {
	s.enqueueOrRun(w, r, syncconfig.TypeElevation)
}

func (s *Server) enqueueOrRun(w http.ResponseWriter, r *http.Request, kind string) {
	if s.Scheduler != nil {
		if err := s.Scheduler.Queue.Enqueue(r.Context(), kind); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "enqueued", "kind": kind})
		return
	}
	run, err := s.Orchestrator.RunScoped(r.Context(), kind)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusAccepted, toSyncRunDTO(run))
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "runID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	run, err := s.Store.GetSyncRun(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if run == nil {
		writeError(w, http.StatusNotFound, errNotFound)
		return
	}
	writeJSON(w, http.StatusOK, toSyncRunDTO(run))
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	cfg, ok := s.Registry.Get(kind)
	if !ok {
		writeError(w, http.StatusNotFound, errNotFound)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

type configUpdateRequest struct {
	Interval           string `json:"interval" validate:"required"`
	StalenessThreshold string `json:"staleness_threshold" validate:"required"`
	Priority           int    `json:"priority"`
	Enabled            bool   `json:"enabled"`
	BatchSize          int    `json:"batch_size" validate:"min=1"`
	MaxRetries         int    `json:"max_retries" validate:"min=0"`
	RetryDelay         string `json:"retry_delay" validate:"required"`
}

func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	existing, ok := s.Registry.Get(kind)
	if !ok {
		writeError(w, http.StatusNotFound, errNotFound)
		return
	}

	var req configUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	interval, err := parseDuration(req.Interval)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	staleness, err := parseDuration(req.StalenessThreshold)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	retryDelay, err := parseDuration(req.RetryDelay)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	updated := existing
	updated.Interval = interval
	updated.StalenessThreshold = staleness
	updated.Priority = req.Priority
	updated.Enabled = req.Enabled
	updated.BatchSize = req.BatchSize
	updated.MaxRetries = req.MaxRetries
	updated.RetryDelay = retryDelay

	if err := s.Registry.Upsert(r.Context(), updated); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := s.Store.ListRecentAlerts(r.Context(), 100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}
