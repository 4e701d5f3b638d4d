package postgres

import (
	"context"

	"github.com/scrollit/logikal-sync/pkg/model"
)

// ListProjects backs the downstream HTTP API's project listing, excluding
// anything still tagged to_remove from an in-flight sweep.
func (s *Store) ListProjects(ctx context.Context) ([]model.Project, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, upstream_id, directory_id, name, sync_status, upstream_changed_at, local_synced_at
		FROM projects WHERE sync_status != 'to_remove' ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Project
	for rows.Next() {
		var p model.Project
		if err := rows.Scan(&p.ID, &p.UpstreamID, &p.DirectoryID, &p.Name, &p.SyncStatus,
			&p.UpstreamChangedAt, &p.LocalSyncedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetProjectComplete loads a project together with every phase and elevation
// reachable under it, for the downstream API's single-fetch project view.
func (s *Store) GetProjectComplete(ctx context.Context, id int64) (*model.Project, []model.Phase, []model.Elevation, error) {
	var p model.Project
	err := s.pool.QueryRow(ctx, `
		SELECT id, upstream_id, directory_id, name, sync_status, upstream_changed_at, local_synced_at
		FROM projects WHERE id = $1`, id).
		Scan(&p.ID, &p.UpstreamID, &p.DirectoryID, &p.Name, &p.SyncStatus, &p.UpstreamChangedAt, &p.LocalSyncedAt)
	if err != nil {
		return nil, nil, nil, err
	}

	phases, err := s.ListPhasesForProject(ctx, id)
	if err != nil {
		return nil, nil, nil, err
	}

	elevRows, err := s.pool.Query(ctx, `
		SELECT `+elevationColumns+` FROM elevations
		WHERE phase_id IN (SELECT id FROM phases WHERE project_id = $1) AND sync_status != 'to_remove'
		ORDER BY name`, id)
	if err != nil {
		return nil, nil, nil, err
	}
	defer elevRows.Close()

	var elevations []model.Elevation
	for elevRows.Next() {
		e, err := s.scanElevationRow(elevRows)
		if err != nil {
			return nil, nil, nil, err
		}
		elevations = append(elevations, *e)
	}
	if err := elevRows.Err(); err != nil {
		return nil, nil, nil, err
	}

	return &p, phases, elevations, nil
}

// ListPhasesForProject lists every live phase under a project.
func (s *Store) ListPhasesForProject(ctx context.Context, projectID int64) ([]model.Phase, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, upstream_id, project_id, name, sync_status, upstream_changed_at, local_synced_at
		FROM phases WHERE project_id = $1 AND sync_status != 'to_remove' ORDER BY name`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Phase
	for rows.Next() {
		var p model.Phase
		if err := rows.Scan(&p.ID, &p.UpstreamID, &p.ProjectID, &p.Name, &p.SyncStatus,
			&p.UpstreamChangedAt, &p.LocalSyncedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListElevationsForPhase lists every live elevation under the phase
// identified by (projectID, phaseUpstreamID) — the natural key, since a
// phase's upstream_id alone is only unique within its project.
func (s *Store) ListElevationsForPhase(ctx context.Context, projectID int64, phaseUpstreamID string) ([]model.Elevation, error) {
	phase, err := s.FindPhaseByNaturalKey(ctx, projectID, phaseUpstreamID)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+elevationColumns+` FROM elevations
		WHERE phase_id = $1 AND sync_status != 'to_remove' ORDER BY name`, phase.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Elevation
	for rows.Next() {
		e, err := s.scanElevationRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}
