package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/scrollit/logikal-sync/pkg/model"
	"github.com/scrollit/logikal-sync/pkg/syncconfig"
)

var errNotFound = errors.New("not found")

const timestampLayout = "2006-01-02T15:04:05Z07:00"

type projectDTO struct {
	ID             int64   `json:"id"`
	UpstreamID     string  `json:"upstream_id"`
	DirectoryID    int64   `json:"directory_id"`
	Name           string  `json:"name"`
	SyncStatus     string  `json:"sync_status"`
	LocalSyncedAt  *string `json:"local_synced_at"`
	PhaseCount     int     `json:"phase_count"`
	ElevationCount int     `json:"elevation_count"`
}

type phaseDTO struct {
	ID         int64  `json:"id"`
	UpstreamID string `json:"upstream_id"`
	ProjectID  int64  `json:"project_id"`
	Name       string `json:"name"`
	SyncStatus string `json:"sync_status"`
}

type elevationDTO struct {
	ID          int64   `json:"id"`
	UpstreamID  string  `json:"upstream_id"`
	PhaseID     int64   `json:"phase_id"`
	Name        string  `json:"name"`
	ParseStatus string  `json:"parse_status"`
	WidthMM     *float64 `json:"width_mm,omitempty"`
	HeightMM    *float64 `json:"height_mm,omitempty"`
	WeightKG    *float64 `json:"weight_kg,omitempty"`
	AreaM2      *float64 `json:"area_m2,omitempty"`
	SystemCode  *string  `json:"system_code,omitempty"`
	SystemName  *string  `json:"system_name,omitempty"`
	GlassSpec   *string  `json:"glass_spec,omitempty"`
	PartsCount  *int     `json:"parts_count,omitempty"`
}

func toPhaseDTO(p model.Phase) phaseDTO {
	return phaseDTO{ID: p.ID, UpstreamID: p.UpstreamID, ProjectID: p.ProjectID, Name: p.Name, SyncStatus: string(p.SyncStatus)}
}

func toElevationDTO(e model.Elevation) elevationDTO {
	return elevationDTO{
		ID: e.ID, UpstreamID: e.UpstreamID, PhaseID: e.PhaseID, Name: e.Name,
		ParseStatus: string(e.ParseStatus),
		WidthMM: e.WidthMM, HeightMM: e.HeightMM, WeightKG: e.WeightKG, AreaM2: e.AreaM2,
		SystemCode: e.SystemCode, SystemName: e.SystemName, GlassSpec: e.GlassSpec, PartsCount: e.PartsCount,
	}
}

func toProjectDTO(p model.Project, phaseCount, elevationCount int) projectDTO {
	var syncedAt *string
	if p.LocalSyncedAt != nil {
		s := p.LocalSyncedAt.Format(timestampLayout)
		syncedAt = &s
	}
	return projectDTO{
		ID: p.ID, UpstreamID: p.UpstreamID, DirectoryID: p.DirectoryID, Name: p.Name,
		SyncStatus: string(p.SyncStatus), LocalSyncedAt: syncedAt,
		PhaseCount: phaseCount, ElevationCount: elevationCount,
	}
}

func (s *Server) childCounts(r *http.Request, projectID int64) (phaseCount, elevationCount int, err error) {
	phases, err := s.Store.ListPhasesForProject(r.Context(), projectID)
	if err != nil {
		return 0, 0, err
	}
	phaseCount = len(phases)
	for _, ph := range phases {
		elevs, err := s.Store.ListElevationsForPhase(r.Context(), projectID, ph.UpstreamID)
		if err != nil {
			return phaseCount, elevationCount, err
		}
		elevationCount += len(elevs)
	}
	return phaseCount, elevationCount, nil
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.Store.ListProjects(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]projectDTO, 0, len(projects))
	for _, p := range projects {
		phaseCount, elevationCount, err := s.childCounts(r, p.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		out = append(out, toProjectDTO(p, phaseCount, elevationCount))
	}
	writeJSON(w, http.StatusOK, out)
}

type projectCompleteResponse struct {
	Project      projectDTO     `json:"project"`
	Phases       []phaseDTO     `json:"phases"`
	Elevations   []elevationDTO `json:"elevations"`
	SyncTriggered bool          `json:"sync_triggered,omitempty"`
}

func (s *Server) loadProjectComplete(r *http.Request, projectID int64) (*projectCompleteResponse, error) {
	project, phases, elevations, err := s.Store.GetProjectComplete(r.Context(), projectID)
	if err != nil {
		return nil, err
	}
	if project == nil {
		return nil, nil
	}
	phaseDTOs := make([]phaseDTO, 0, len(phases))
	for _, p := range phases {
		phaseDTOs = append(phaseDTOs, toPhaseDTO(p))
	}
	elevationDTOs := make([]elevationDTO, 0, len(elevations))
	for _, e := range elevations {
		elevationDTOs = append(elevationDTOs, toElevationDTO(e))
	}
	return &projectCompleteResponse{
		Project:    toProjectDTO(*project, len(phaseDTOs), len(elevationDTOs)),
		Phases:     phaseDTOs,
		Elevations: elevationDTOs,
	}, nil
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "projectID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := s.loadProjectComplete(r, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if resp == nil {
		writeError(w, http.StatusNotFound, errNotFound)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleGetProjectComplete is the same payload as handleGetProject, with an
// auto_sync=true query flag that enqueues a catalog-wide sweep when this
// project's local row is stale past its configured threshold. The catalog
// only exposes whole-tree cascades (navigation always starts from the
// directory root), so there is no narrower unit of work to enqueue for one
// project; see DESIGN.md.
func (s *Server) handleGetProjectComplete(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "projectID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := s.loadProjectComplete(r, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if resp == nil {
		writeError(w, http.StatusNotFound, errNotFound)
		return
	}

	if r.URL.Query().Get("auto_sync") == "true" && s.isProjectStale(resp) {
		if s.Scheduler != nil {
			if err := s.Scheduler.Queue.Enqueue(r.Context(), syncconfig.TypeElevation); err != nil {
				s.Logger.WithError(err).Warn("failed to enqueue auto_sync sweep")
			} else {
				resp.SyncTriggered = true
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) isProjectStale(resp *projectCompleteResponse) bool {
	cfg, ok := s.Registry.Get(syncconfig.TypeProject)
	if !ok || resp.Project.LocalSyncedAt == nil {
		return true
	}
	syncedAt, err := time.Parse(timestampLayout, *resp.Project.LocalSyncedAt)
	if err != nil {
		return true
	}
	return time.Since(syncedAt) >= cfg.StalenessThreshold
}

func (s *Server) handleListPhases(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "projectID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	phases, err := s.Store.ListPhasesForProject(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]phaseDTO, 0, len(phases))
	for _, p := range phases {
		out = append(out, toPhaseDTO(p))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListElevations(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "projectID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	phaseUpstreamID := chi.URLParam(r, "phaseUpstreamID")
	elevations, err := s.Store.ListElevationsForPhase(r.Context(), id, phaseUpstreamID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]elevationDTO, 0, len(elevations))
	for _, e := range elevations {
		out = append(out, toElevationDTO(e))
	}
	writeJSON(w, http.StatusOK, out)
}

func parseID(r *http.Request, param string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, param), 10, 64)
}

func decodeJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func parseDuration(s string) (time.Duration, error) {
	return time.ParseDuration(s)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type apiError struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, apiError{Error: err.Error()})
}
