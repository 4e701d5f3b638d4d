package postgres

import (
	"context"
	"time"

	"github.com/lib/pq"

	"github.com/scrollit/logikal-sync/pkg/model"
	"github.com/scrollit/logikal-sync/pkg/store"
)

// timeArray renders a slice of possibly-nil timestamps as RFC3339Nano strings,
// "" standing in for nil, so it can be bound with pq.Array and cast back with
// NULLIF(..., '')::timestamptz — lib/pq has no dedicated nullable-timestamp
// array type, but every database/sql driver (including pgx's stdlib adapter,
// which backs Store.sqlxDB) is required to call Valuer.Value() on its
// arguments, so a plain []string round-trips reliably.
func timeArray(ts []*time.Time) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		if t == nil {
			continue
		}
		out[i] = t.UTC().Format(time.RFC3339Nano)
	}
	return out
}

// nonNilTimeArray is timeArray for timestamps that are never nil (the
// local_synced_at column this package always writes).
func nonNilTimeArray(ts []time.Time) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.UTC().Format(time.RFC3339Nano)
	}
	return out
}

// parentIDArray renders nullable parent ids with the same 0-means-NULL
// sentinel parentPredicate uses elsewhere in this package.
func parentIDArray(ids []*int64) []int64 {
	out := make([]int64, len(ids))
	for i, id := range ids {
		if id != nil {
			out[i] = *id
		}
	}
	return out
}

// BatchUpsertDirectories reconciles every child of parentID in one lookup
// query plus at most three write statements — one insert for rows
// LocalSyncedAtByUpstreamID didn't report,
// one batched update for stale existing rows, one batched update touching
// only local_synced_at for unchanged ones — instead of one round trip per row.
func (s *Store) BatchUpsertDirectories(ctx context.Context, parentID int64, rows []store.DirectoryRow, stale map[string]bool, now time.Time) (map[string]store.DirectoryUpsertResult, error) {
	results := make(map[string]store.DirectoryUpsertResult, len(rows))
	if len(rows) == 0 {
		return results, nil
	}

	upstreamIDs := make([]string, len(rows))
	for i, r := range rows {
		upstreamIDs[i] = r.UpstreamID
	}
	existing, err := s.LocalSyncedAtByUpstreamID(ctx, store.KindDirectory, parentID, upstreamIDs)
	if err != nil {
		return nil, err
	}

	var toInsert, toUpdate, toTouch []store.DirectoryRow
	for _, r := range rows {
		if _, ok := existing[r.UpstreamID]; !ok {
			toInsert = append(toInsert, r)
		} else if stale[r.UpstreamID] {
			toUpdate = append(toUpdate, r)
		} else {
			toTouch = append(toTouch, r)
		}
	}

	scan := func(rows interface{ Scan(...interface{}) error }) (model.Directory, error) {
		var d model.Directory
		err := rows.Scan(&d.ID, &d.UpstreamID, &d.FullPath, &d.ParentID, &d.Level, &d.Excluded,
			&d.SyncStatus, &d.UpstreamChangedAt, &d.LocalSyncedAt)
		return d, err
	}

	if len(toInsert) > 0 {
		upstreamID := make([]string, len(toInsert))
		fullPath := make([]string, len(toInsert))
		parentIDs := make([]*int64, len(toInsert))
		level := make([]int, len(toInsert))
		excluded := make([]bool, len(toInsert))
		changedAt := make([]*time.Time, len(toInsert))
		for i, r := range toInsert {
			upstreamID[i] = r.UpstreamID
			fullPath[i] = r.FullPath
			parentIDs[i] = r.ParentID
			level[i] = r.Level
			excluded[i] = r.Excluded
			changedAt[i] = r.ChangedAt
		}
		query := s.rebind(`
			INSERT INTO directories (upstream_id, full_path, parent_id, level, excluded,
				sync_status, upstream_changed_at, local_synced_at)
			SELECT v.upstream_id, v.full_path, NULLIF(v.parent_id, 0), v.level, v.excluded, 'new',
				NULLIF(v.changed_at, '')::timestamptz, ?::timestamptz
			FROM unnest(?::text[], ?::text[], ?::bigint[], ?::int[], ?::bool[], ?::text[])
				AS v(upstream_id, full_path, parent_id, level, excluded, changed_at)
			RETURNING id, upstream_id, full_path, parent_id, level, excluded, sync_status, upstream_changed_at, local_synced_at`)
		dbRows, err := s.exec(ctx).QueryContext(ctx, query,
			now.UTC().Format(time.RFC3339Nano),
			pq.Array(upstreamID), pq.Array(fullPath), pq.Array(parentIDArray(parentIDs)),
			pq.Array(level), pq.Array(excluded), pq.Array(timeArray(changedAt)))
		if err != nil {
			return nil, err
		}
		for dbRows.Next() {
			d, err := scan(dbRows)
			if err != nil {
				dbRows.Close()
				return nil, err
			}
			results[d.UpstreamID] = store.DirectoryUpsertResult{Directory: d, Outcome: store.OutcomeCreated}
		}
		if err := dbRows.Err(); err != nil {
			dbRows.Close()
			return nil, err
		}
		dbRows.Close()
	}

	if len(toUpdate) > 0 {
		upstreamID := make([]string, len(toUpdate))
		fullPath := make([]string, len(toUpdate))
		parentIDs := make([]*int64, len(toUpdate))
		level := make([]int, len(toUpdate))
		excluded := make([]bool, len(toUpdate))
		changedAt := make([]*time.Time, len(toUpdate))
		localSynced := make([]time.Time, len(toUpdate))
		for i, r := range toUpdate {
			upstreamID[i] = r.UpstreamID
			fullPath[i] = r.FullPath
			parentIDs[i] = r.ParentID
			level[i] = r.Level
			excluded[i] = r.Excluded
			changedAt[i] = r.ChangedAt
			localSynced[i] = laterOf(existing[r.UpstreamID].LocalSyncedAt, now)
		}
		query := s.rebind(`
			UPDATE directories AS d
			SET full_path = v.full_path, parent_id = NULLIF(v.parent_id, 0), level = v.level,
				excluded = v.excluded, upstream_changed_at = NULLIF(v.changed_at, '')::timestamptz,
				local_synced_at = v.local_synced_at::timestamptz, sync_status = 'updated', updated_at = now()
			FROM unnest(?::text[], ?::text[], ?::bigint[], ?::int[], ?::bool[], ?::text[], ?::text[])
				AS v(upstream_id, full_path, parent_id, level, excluded, changed_at, local_synced_at)
			WHERE d.upstream_id = v.upstream_id
			RETURNING d.id, d.upstream_id, d.full_path, d.parent_id, d.level, d.excluded, d.sync_status, d.upstream_changed_at, d.local_synced_at`)
		dbRows, err := s.exec(ctx).QueryContext(ctx, query,
			pq.Array(upstreamID), pq.Array(fullPath), pq.Array(parentIDArray(parentIDs)),
			pq.Array(level), pq.Array(excluded), pq.Array(timeArray(changedAt)), pq.Array(nonNilTimeArray(localSynced)))
		if err != nil {
			return nil, err
		}
		for dbRows.Next() {
			d, err := scan(dbRows)
			if err != nil {
				dbRows.Close()
				return nil, err
			}
			results[d.UpstreamID] = store.DirectoryUpsertResult{Directory: d, Outcome: store.OutcomeUpdated}
		}
		if err := dbRows.Err(); err != nil {
			dbRows.Close()
			return nil, err
		}
		dbRows.Close()
	}

	if len(toTouch) > 0 {
		upstreamID := make([]string, len(toTouch))
		localSynced := make([]time.Time, len(toTouch))
		for i, r := range toTouch {
			upstreamID[i] = r.UpstreamID
			localSynced[i] = laterOf(existing[r.UpstreamID].LocalSyncedAt, now)
		}
		query := s.rebind(`
			UPDATE directories AS d
			SET local_synced_at = v.local_synced_at::timestamptz, sync_status = 'unchanged', updated_at = now()
			FROM unnest(?::text[], ?::text[]) AS v(upstream_id, local_synced_at)
			WHERE d.upstream_id = v.upstream_id
			RETURNING d.id, d.upstream_id, d.full_path, d.parent_id, d.level, d.excluded, d.sync_status, d.upstream_changed_at, d.local_synced_at`)
		dbRows, err := s.exec(ctx).QueryContext(ctx, query, pq.Array(upstreamID), pq.Array(nonNilTimeArray(localSynced)))
		if err != nil {
			return nil, err
		}
		for dbRows.Next() {
			d, err := scan(dbRows)
			if err != nil {
				dbRows.Close()
				return nil, err
			}
			results[d.UpstreamID] = store.DirectoryUpsertResult{Directory: d, Outcome: store.OutcomeUnchanged}
		}
		if err := dbRows.Err(); err != nil {
			dbRows.Close()
			return nil, err
		}
		dbRows.Close()
	}

	return results, nil
}

// BatchUpsertProjects follows BatchUpsertDirectories' shape, keyed by
// UpstreamID alone.
func (s *Store) BatchUpsertProjects(ctx context.Context, parentID int64, rows []store.ProjectRow, stale map[string]bool, now time.Time) (map[string]store.ProjectUpsertResult, error) {
	results := make(map[string]store.ProjectUpsertResult, len(rows))
	if len(rows) == 0 {
		return results, nil
	}

	upstreamIDs := make([]string, len(rows))
	for i, r := range rows {
		upstreamIDs[i] = r.UpstreamID
	}
	existing, err := s.LocalSyncedAtByUpstreamID(ctx, store.KindProject, parentID, upstreamIDs)
	if err != nil {
		return nil, err
	}

	var toInsert, toUpdate, toTouch []store.ProjectRow
	for _, r := range rows {
		if _, ok := existing[r.UpstreamID]; !ok {
			toInsert = append(toInsert, r)
		} else if stale[r.UpstreamID] {
			toUpdate = append(toUpdate, r)
		} else {
			toTouch = append(toTouch, r)
		}
	}

	scan := func(rows interface{ Scan(...interface{}) error }) (model.Project, error) {
		var p model.Project
		err := rows.Scan(&p.ID, &p.UpstreamID, &p.DirectoryID, &p.Name, &p.SyncStatus, &p.UpstreamChangedAt, &p.LocalSyncedAt)
		return p, err
	}

	if len(toInsert) > 0 {
		upstreamID := make([]string, len(toInsert))
		directoryID := make([]int64, len(toInsert))
		name := make([]string, len(toInsert))
		changedAt := make([]*time.Time, len(toInsert))
		for i, r := range toInsert {
			upstreamID[i] = r.UpstreamID
			directoryID[i] = r.DirectoryID
			name[i] = r.Name
			changedAt[i] = r.ChangedAt
		}
		query := s.rebind(`
			INSERT INTO projects (upstream_id, directory_id, name, sync_status, upstream_changed_at, local_synced_at)
			SELECT v.upstream_id, v.directory_id, v.name, 'new', NULLIF(v.changed_at, '')::timestamptz, ?::timestamptz
			FROM unnest(?::text[], ?::bigint[], ?::text[], ?::text[])
				AS v(upstream_id, directory_id, name, changed_at)
			RETURNING id, upstream_id, directory_id, name, sync_status, upstream_changed_at, local_synced_at`)
		dbRows, err := s.exec(ctx).QueryContext(ctx, query,
			now.UTC().Format(time.RFC3339Nano),
			pq.Array(upstreamID), pq.Array(directoryID), pq.Array(name), pq.Array(timeArray(changedAt)))
		if err != nil {
			return nil, err
		}
		for dbRows.Next() {
			p, err := scan(dbRows)
			if err != nil {
				dbRows.Close()
				return nil, err
			}
			results[p.UpstreamID] = store.ProjectUpsertResult{Project: p, Outcome: store.OutcomeCreated}
		}
		if err := dbRows.Err(); err != nil {
			dbRows.Close()
			return nil, err
		}
		dbRows.Close()
	}

	if len(toUpdate) > 0 {
		upstreamID := make([]string, len(toUpdate))
		directoryID := make([]int64, len(toUpdate))
		name := make([]string, len(toUpdate))
		changedAt := make([]*time.Time, len(toUpdate))
		localSynced := make([]time.Time, len(toUpdate))
		for i, r := range toUpdate {
			upstreamID[i] = r.UpstreamID
			directoryID[i] = r.DirectoryID
			name[i] = r.Name
			changedAt[i] = r.ChangedAt
			localSynced[i] = laterOf(existing[r.UpstreamID].LocalSyncedAt, now)
		}
		query := s.rebind(`
			UPDATE projects AS p
			SET directory_id = v.directory_id, name = v.name, upstream_changed_at = NULLIF(v.changed_at, '')::timestamptz,
				local_synced_at = v.local_synced_at::timestamptz, sync_status = 'updated', updated_at = now()
			FROM unnest(?::text[], ?::bigint[], ?::text[], ?::text[], ?::text[])
				AS v(upstream_id, directory_id, name, changed_at, local_synced_at)
			WHERE p.upstream_id = v.upstream_id
			RETURNING p.id, p.upstream_id, p.directory_id, p.name, p.sync_status, p.upstream_changed_at, p.local_synced_at`)
		dbRows, err := s.exec(ctx).QueryContext(ctx, query,
			pq.Array(upstreamID), pq.Array(directoryID), pq.Array(name),
			pq.Array(timeArray(changedAt)), pq.Array(nonNilTimeArray(localSynced)))
		if err != nil {
			return nil, err
		}
		for dbRows.Next() {
			p, err := scan(dbRows)
			if err != nil {
				dbRows.Close()
				return nil, err
			}
			results[p.UpstreamID] = store.ProjectUpsertResult{Project: p, Outcome: store.OutcomeUpdated}
		}
		if err := dbRows.Err(); err != nil {
			dbRows.Close()
			return nil, err
		}
		dbRows.Close()
	}

	if len(toTouch) > 0 {
		upstreamID := make([]string, len(toTouch))
		localSynced := make([]time.Time, len(toTouch))
		for i, r := range toTouch {
			upstreamID[i] = r.UpstreamID
			localSynced[i] = laterOf(existing[r.UpstreamID].LocalSyncedAt, now)
		}
		query := s.rebind(`
			UPDATE projects AS p
			SET local_synced_at = v.local_synced_at::timestamptz, sync_status = 'unchanged', updated_at = now()
			FROM unnest(?::text[], ?::text[]) AS v(upstream_id, local_synced_at)
			WHERE p.upstream_id = v.upstream_id
			RETURNING p.id, p.upstream_id, p.directory_id, p.name, p.sync_status, p.upstream_changed_at, p.local_synced_at`)
		dbRows, err := s.exec(ctx).QueryContext(ctx, query, pq.Array(upstreamID), pq.Array(nonNilTimeArray(localSynced)))
		if err != nil {
			return nil, err
		}
		for dbRows.Next() {
			p, err := scan(dbRows)
			if err != nil {
				dbRows.Close()
				return nil, err
			}
			results[p.UpstreamID] = store.ProjectUpsertResult{Project: p, Outcome: store.OutcomeUnchanged}
		}
		if err := dbRows.Err(); err != nil {
			dbRows.Close()
			return nil, err
		}
		dbRows.Close()
	}

	return results, nil
}

// BatchUpsertPhases follows the same shape, but its natural key is the
// composite (project_id, upstream_id) — upstream_id alone is not unique
// across projects, since different projects can share a default-phase id.
func (s *Store) BatchUpsertPhases(ctx context.Context, parentID int64, rows []store.PhaseRow, stale map[string]bool, now time.Time) (map[string]store.PhaseUpsertResult, error) {
	results := make(map[string]store.PhaseUpsertResult, len(rows))
	if len(rows) == 0 {
		return results, nil
	}

	upstreamIDs := make([]string, len(rows))
	for i, r := range rows {
		upstreamIDs[i] = r.UpstreamID
	}
	existing, err := s.LocalSyncedAtByUpstreamID(ctx, store.KindPhase, parentID, upstreamIDs)
	if err != nil {
		return nil, err
	}

	var toInsert, toUpdate, toTouch []store.PhaseRow
	for _, r := range rows {
		if _, ok := existing[r.UpstreamID]; !ok {
			toInsert = append(toInsert, r)
		} else if stale[r.UpstreamID] {
			toUpdate = append(toUpdate, r)
		} else {
			toTouch = append(toTouch, r)
		}
	}

	scan := func(rows interface{ Scan(...interface{}) error }) (model.Phase, error) {
		var p model.Phase
		err := rows.Scan(&p.ID, &p.UpstreamID, &p.ProjectID, &p.Name, &p.SyncStatus, &p.UpstreamChangedAt, &p.LocalSyncedAt)
		return p, err
	}

	if len(toInsert) > 0 {
		upstreamID := make([]string, len(toInsert))
		projectID := make([]int64, len(toInsert))
		name := make([]string, len(toInsert))
		changedAt := make([]*time.Time, len(toInsert))
		for i, r := range toInsert {
			upstreamID[i] = r.UpstreamID
			projectID[i] = r.ProjectID
			name[i] = r.Name
			changedAt[i] = r.ChangedAt
		}
		query := s.rebind(`
			INSERT INTO phases (project_id, upstream_id, name, sync_status, upstream_changed_at, local_synced_at)
			SELECT v.project_id, v.upstream_id, v.name, 'new', NULLIF(v.changed_at, '')::timestamptz, ?::timestamptz
			FROM unnest(?::bigint[], ?::text[], ?::text[], ?::text[])
				AS v(project_id, upstream_id, name, changed_at)
			RETURNING id, upstream_id, project_id, name, sync_status, upstream_changed_at, local_synced_at`)
		dbRows, err := s.exec(ctx).QueryContext(ctx, query,
			now.UTC().Format(time.RFC3339Nano),
			pq.Array(projectID), pq.Array(upstreamID), pq.Array(name), pq.Array(timeArray(changedAt)))
		if err != nil {
			return nil, err
		}
		for dbRows.Next() {
			p, err := scan(dbRows)
			if err != nil {
				dbRows.Close()
				return nil, err
			}
			results[p.UpstreamID] = store.PhaseUpsertResult{Phase: p, Outcome: store.OutcomeCreated}
		}
		if err := dbRows.Err(); err != nil {
			dbRows.Close()
			return nil, err
		}
		dbRows.Close()
	}

	if len(toUpdate) > 0 {
		upstreamID := make([]string, len(toUpdate))
		projectID := make([]int64, len(toUpdate))
		name := make([]string, len(toUpdate))
		changedAt := make([]*time.Time, len(toUpdate))
		localSynced := make([]time.Time, len(toUpdate))
		for i, r := range toUpdate {
			upstreamID[i] = r.UpstreamID
			projectID[i] = r.ProjectID
			name[i] = r.Name
			changedAt[i] = r.ChangedAt
			localSynced[i] = laterOf(existing[r.UpstreamID].LocalSyncedAt, now)
		}
		query := s.rebind(`
			UPDATE phases AS ph
			SET name = v.name, upstream_changed_at = NULLIF(v.changed_at, '')::timestamptz,
				local_synced_at = v.local_synced_at::timestamptz, sync_status = 'updated', updated_at = now()
			FROM unnest(?::bigint[], ?::text[], ?::text[], ?::text[], ?::text[])
				AS v(project_id, upstream_id, name, changed_at, local_synced_at)
			WHERE ph.project_id = v.project_id AND ph.upstream_id = v.upstream_id
			RETURNING ph.id, ph.upstream_id, ph.project_id, ph.name, ph.sync_status, ph.upstream_changed_at, ph.local_synced_at`)
		dbRows, err := s.exec(ctx).QueryContext(ctx, query,
			pq.Array(projectID), pq.Array(upstreamID), pq.Array(name),
			pq.Array(timeArray(changedAt)), pq.Array(nonNilTimeArray(localSynced)))
		if err != nil {
			return nil, err
		}
		for dbRows.Next() {
			p, err := scan(dbRows)
			if err != nil {
				dbRows.Close()
				return nil, err
			}
			results[p.UpstreamID] = store.PhaseUpsertResult{Phase: p, Outcome: store.OutcomeUpdated}
		}
		if err := dbRows.Err(); err != nil {
			dbRows.Close()
			return nil, err
		}
		dbRows.Close()
	}

	if len(toTouch) > 0 {
		upstreamID := make([]string, len(toTouch))
		projectID := make([]int64, len(toTouch))
		localSynced := make([]time.Time, len(toTouch))
		for i, r := range toTouch {
			upstreamID[i] = r.UpstreamID
			projectID[i] = r.ProjectID
			localSynced[i] = laterOf(existing[r.UpstreamID].LocalSyncedAt, now)
		}
		query := s.rebind(`
			UPDATE phases AS ph
			SET local_synced_at = v.local_synced_at::timestamptz, sync_status = 'unchanged', updated_at = now()
			FROM unnest(?::bigint[], ?::text[], ?::text[]) AS v(project_id, upstream_id, local_synced_at)
			WHERE ph.project_id = v.project_id AND ph.upstream_id = v.upstream_id
			RETURNING ph.id, ph.upstream_id, ph.project_id, ph.name, ph.sync_status, ph.upstream_changed_at, ph.local_synced_at`)
		dbRows, err := s.exec(ctx).QueryContext(ctx, query,
			pq.Array(projectID), pq.Array(upstreamID), pq.Array(nonNilTimeArray(localSynced)))
		if err != nil {
			return nil, err
		}
		for dbRows.Next() {
			p, err := scan(dbRows)
			if err != nil {
				dbRows.Close()
				return nil, err
			}
			results[p.UpstreamID] = store.PhaseUpsertResult{Phase: p, Outcome: store.OutcomeUnchanged}
		}
		if err := dbRows.Err(); err != nil {
			dbRows.Close()
			return nil, err
		}
		dbRows.Close()
	}

	return results, nil
}

// BatchUpsertElevations follows BatchUpsertProjects' shape. A changed
// parts-blob hash (handled separately by SetElevationPartsBlob) resets
// parse_status to pending independent of this upsert.
func (s *Store) BatchUpsertElevations(ctx context.Context, parentID int64, rows []store.ElevationRow, stale map[string]bool, now time.Time) (map[string]store.ElevationUpsertResult, error) {
	results := make(map[string]store.ElevationUpsertResult, len(rows))
	if len(rows) == 0 {
		return results, nil
	}

	upstreamIDs := make([]string, len(rows))
	for i, r := range rows {
		upstreamIDs[i] = r.UpstreamID
	}
	existing, err := s.LocalSyncedAtByUpstreamID(ctx, store.KindElevation, parentID, upstreamIDs)
	if err != nil {
		return nil, err
	}

	var toInsert, toUpdate, toTouch []store.ElevationRow
	for _, r := range rows {
		if _, ok := existing[r.UpstreamID]; !ok {
			toInsert = append(toInsert, r)
		} else if stale[r.UpstreamID] {
			toUpdate = append(toUpdate, r)
		} else {
			toTouch = append(toTouch, r)
		}
	}

	scan := func(rows interface{ Scan(...interface{}) error }) (model.Elevation, error) {
		var e model.Elevation
		err := rows.Scan(&e.ID, &e.UpstreamID, &e.PhaseID, &e.Name, &e.SyncStatus, &e.UpstreamChangedAt, &e.LocalSyncedAt,
			&e.ImagePath, &e.PartsBlobPath, &e.PartsBlobHash, &e.ParseStatus, &e.ParseRetryCount)
		return e, err
	}

	if len(toInsert) > 0 {
		upstreamID := make([]string, len(toInsert))
		phaseID := make([]int64, len(toInsert))
		name := make([]string, len(toInsert))
		changedAt := make([]*time.Time, len(toInsert))
		for i, r := range toInsert {
			upstreamID[i] = r.UpstreamID
			phaseID[i] = r.PhaseID
			name[i] = r.Name
			changedAt[i] = r.ChangedAt
		}
		query := s.rebind(`
			INSERT INTO elevations (upstream_id, phase_id, name, sync_status, upstream_changed_at, local_synced_at, parse_status)
			SELECT v.upstream_id, v.phase_id, v.name, 'new', NULLIF(v.changed_at, '')::timestamptz, ?::timestamptz, 'pending'
			FROM unnest(?::text[], ?::bigint[], ?::text[], ?::text[])
				AS v(upstream_id, phase_id, name, changed_at)
			RETURNING id, upstream_id, phase_id, name, sync_status, upstream_changed_at, local_synced_at,
				image_path, parts_blob_path, parts_blob_hash, parse_status, parse_retry_count`)
		dbRows, err := s.exec(ctx).QueryContext(ctx, query,
			now.UTC().Format(time.RFC3339Nano),
			pq.Array(upstreamID), pq.Array(phaseID), pq.Array(name), pq.Array(timeArray(changedAt)))
		if err != nil {
			return nil, err
		}
		for dbRows.Next() {
			e, err := scan(dbRows)
			if err != nil {
				dbRows.Close()
				return nil, err
			}
			results[e.UpstreamID] = store.ElevationUpsertResult{Elevation: e, Outcome: store.OutcomeCreated}
		}
		if err := dbRows.Err(); err != nil {
			dbRows.Close()
			return nil, err
		}
		dbRows.Close()
	}

	if len(toUpdate) > 0 {
		upstreamID := make([]string, len(toUpdate))
		phaseID := make([]int64, len(toUpdate))
		name := make([]string, len(toUpdate))
		changedAt := make([]*time.Time, len(toUpdate))
		localSynced := make([]time.Time, len(toUpdate))
		for i, r := range toUpdate {
			upstreamID[i] = r.UpstreamID
			phaseID[i] = r.PhaseID
			name[i] = r.Name
			changedAt[i] = r.ChangedAt
			localSynced[i] = laterOf(existing[r.UpstreamID].LocalSyncedAt, now)
		}
		query := s.rebind(`
			UPDATE elevations AS e
			SET name = v.name, upstream_changed_at = NULLIF(v.changed_at, '')::timestamptz,
				local_synced_at = v.local_synced_at::timestamptz, sync_status = 'updated', updated_at = now()
			FROM unnest(?::text[], ?::bigint[], ?::text[], ?::text[], ?::text[])
				AS v(upstream_id, phase_id, name, changed_at, local_synced_at)
			WHERE e.upstream_id = v.upstream_id
			RETURNING e.id, e.upstream_id, e.phase_id, e.name, e.sync_status, e.upstream_changed_at, e.local_synced_at,
				e.image_path, e.parts_blob_path, e.parts_blob_hash, e.parse_status, e.parse_retry_count`)
		dbRows, err := s.exec(ctx).QueryContext(ctx, query,
			pq.Array(upstreamID), pq.Array(phaseID), pq.Array(name),
			pq.Array(timeArray(changedAt)), pq.Array(nonNilTimeArray(localSynced)))
		if err != nil {
			return nil, err
		}
		for dbRows.Next() {
			e, err := scan(dbRows)
			if err != nil {
				dbRows.Close()
				return nil, err
			}
			results[e.UpstreamID] = store.ElevationUpsertResult{Elevation: e, Outcome: store.OutcomeUpdated}
		}
		if err := dbRows.Err(); err != nil {
			dbRows.Close()
			return nil, err
		}
		dbRows.Close()
	}

	if len(toTouch) > 0 {
		upstreamID := make([]string, len(toTouch))
		localSynced := make([]time.Time, len(toTouch))
		for i, r := range toTouch {
			upstreamID[i] = r.UpstreamID
			localSynced[i] = laterOf(existing[r.UpstreamID].LocalSyncedAt, now)
		}
		query := s.rebind(`
			UPDATE elevations AS e
			SET local_synced_at = v.local_synced_at::timestamptz, sync_status = 'unchanged', updated_at = now()
			FROM unnest(?::text[], ?::text[]) AS v(upstream_id, local_synced_at)
			WHERE e.upstream_id = v.upstream_id
			RETURNING e.id, e.upstream_id, e.phase_id, e.name, e.sync_status, e.upstream_changed_at, e.local_synced_at,
				e.image_path, e.parts_blob_path, e.parts_blob_hash, e.parse_status, e.parse_retry_count`)
		dbRows, err := s.exec(ctx).QueryContext(ctx, query, pq.Array(upstreamID), pq.Array(nonNilTimeArray(localSynced)))
		if err != nil {
			return nil, err
		}
		for dbRows.Next() {
			e, err := scan(dbRows)
			if err != nil {
				dbRows.Close()
				return nil, err
			}
			results[e.UpstreamID] = store.ElevationUpsertResult{Elevation: e, Outcome: store.OutcomeUnchanged}
		}
		if err := dbRows.Err(); err != nil {
			dbRows.Close()
			return nil, err
		}
		dbRows.Close()
	}

	return results, nil
}

// laterOf never lets local_synced_at decrease: it returns max(existing, now).
func laterOf(existing *time.Time, now time.Time) time.Time {
	if existing == nil || now.After(*existing) {
		return now
	}
	return *existing
}
