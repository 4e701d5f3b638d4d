package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/scrollit/logikal-sync/pkg/model"
	"github.com/scrollit/logikal-sync/pkg/store"
)

func tableAndParentColumn(kind store.Kind) (table, parentColumn string, err error) {
	switch kind {
	case store.KindDirectory:
		return "directories", "parent_id", nil
	case store.KindProject:
		return "projects", "directory_id", nil
	case store.KindPhase:
		return "phases", "project_id", nil
	case store.KindElevation:
		return "elevations", "phase_id", nil
	default:
		return "", "", fmt.Errorf("postgres: unknown kind %q", kind)
	}
}

// parentPredicate builds a "WHERE <col> = ?"-shaped fragment, except for the
// root-directory case: directories.parent_id is nullable, and a parentID of
// 0 stands for "no parent" since no real row ever has id 0. Root sweeps pass
// 0 and get "parent_id IS NULL" instead of a literal comparison that would
// never match. The placeholder is rebound to pgx's $N style by the caller via
// Store.rebind before execution.
func parentPredicate(kind store.Kind, parentColumn string, parentID int64) (fragment string, args []interface{}) {
	if kind == store.KindDirectory && parentID == 0 {
		return parentColumn + " IS NULL", nil
	}
	return parentColumn + " = ?", []interface{}{parentID}
}

// MarkToRemove tags every current child of parentID with sync_status =
// to_remove ahead of a diff pass, in one statement. Run through Store.exec so
// it joins the ambient transaction a WithTx caller started.
func (s *Store) MarkToRemove(ctx context.Context, kind store.Kind, parentID int64) error {
	table, parentColumn, err := tableAndParentColumn(kind)
	if err != nil {
		return err
	}
	pred, args := parentPredicate(kind, parentColumn, parentID)
	query := s.rebind(fmt.Sprintf(`UPDATE %s SET sync_status = 'to_remove' WHERE %s`, table, pred))
	_, err = s.exec(ctx).ExecContext(ctx, query, args...)
	return err
}

// ClearToRemove deletes children still tagged to_remove once the diff pass
// has cleared the tag from every surviving child, cascading to grandchildren
// via FK. Run through Store.exec so it joins the ambient transaction a WithTx
// caller started.
func (s *Store) ClearToRemove(ctx context.Context, kind store.Kind, parentID int64) (int, error) {
	table, parentColumn, err := tableAndParentColumn(kind)
	if err != nil {
		return 0, err
	}
	pred, args := parentPredicate(kind, parentColumn, parentID)
	query := s.rebind(fmt.Sprintf(`DELETE FROM %s WHERE %s AND sync_status = 'to_remove'`, table, pred))
	res, err := s.exec(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

// FindChildren returns the ids of every current (non to_remove) child of
// parentID under kind.
func (s *Store) FindChildren(ctx context.Context, kind store.Kind, parentID int64) ([]int64, error) {
	table, parentColumn, err := tableAndParentColumn(kind)
	if err != nil {
		return nil, err
	}
	pred, args := parentPredicate(kind, parentColumn, parentID)
	query := s.rebind(fmt.Sprintf(`SELECT id FROM %s WHERE %s AND sync_status != 'to_remove'`, table, pred))
	rows, err := s.exec(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ScanStale returns ids of rows of kind whose local_synced_at predates
// threshold or was never set — the set the Scheduler's health sweep samples.
func (s *Store) ScanStale(ctx context.Context, kind store.Kind, threshold time.Duration, now time.Time) ([]int64, error) {
	table, _, err := tableAndParentColumn(kind)
	if err != nil {
		return nil, err
	}
	cutoff := now.Add(-threshold)
	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		`SELECT id FROM %s WHERE local_synced_at IS NULL OR local_synced_at < $1`, table), cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// LocalSyncedAtByUpstreamID looks up the local_synced_at (and, for
// directories, the locally-owned excluded flag) of every one of upstreamIDs
// already local under kind/parentID, in one query. An upstreamID absent from
// the returned map has no local row yet.
func (s *Store) LocalSyncedAtByUpstreamID(ctx context.Context, kind store.Kind, parentID int64, upstreamIDs []string) (map[string]store.ExistingChild, error) {
	out := make(map[string]store.ExistingChild, len(upstreamIDs))
	if len(upstreamIDs) == 0 {
		return out, nil
	}
	table, parentColumn, err := tableAndParentColumn(kind)
	if err != nil {
		return nil, err
	}
	pred, args := parentPredicate(kind, parentColumn, parentID)
	args = append(args, pq.Array(upstreamIDs))

	cols := "upstream_id, local_synced_at"
	if kind == store.KindDirectory {
		cols = "upstream_id, local_synced_at, excluded"
	}
	query := s.rebind(fmt.Sprintf(
		`SELECT %s FROM %s WHERE %s AND upstream_id = ANY(?)`, cols, table, pred))

	rows, err := s.exec(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var upstreamID string
		var localSyncedAt *time.Time
		var excluded bool
		if kind == store.KindDirectory {
			if err := rows.Scan(&upstreamID, &localSyncedAt, &excluded); err != nil {
				return nil, err
			}
		} else {
			if err := rows.Scan(&upstreamID, &localSyncedAt); err != nil {
				return nil, err
			}
		}
		out[upstreamID] = store.ExistingChild{LocalSyncedAt: localSyncedAt, Excluded: excluded}
	}
	return out, rows.Err()
}

// FindPhaseByNaturalKey looks up a phase by its composite (project_id,
// upstream_id) key — the only correct lookup, since upstream_id alone is not
// unique across projects.
func (s *Store) FindPhaseByNaturalKey(ctx context.Context, projectID int64, upstreamID string) (*model.Phase, error) {
	var p model.Phase
	err := s.pool.QueryRow(ctx, `
		SELECT id, upstream_id, project_id, name, sync_status, upstream_changed_at, local_synced_at
		FROM phases WHERE project_id = $1 AND upstream_id = $2`, projectID, upstreamID).
		Scan(&p.ID, &p.UpstreamID, &p.ProjectID, &p.Name, &p.SyncStatus, &p.UpstreamChangedAt, &p.LocalSyncedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetElevation looks up one elevation by its local id.
func (s *Store) GetElevation(ctx context.Context, id int64) (*model.Elevation, error) {
	return s.scanElevation(ctx, `WHERE id = $1`, id)
}

func (s *Store) DeleteDirectory(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM directories WHERE id = $1`, id)
	return err
}

func (s *Store) DeleteProject(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM projects WHERE id = $1`, id)
	return err
}

func (s *Store) DeletePhase(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM phases WHERE id = $1`, id)
	return err
}

func (s *Store) DeleteElevation(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM elevations WHERE id = $1`, id)
	return err
}
