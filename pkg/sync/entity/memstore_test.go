package entity_test

import (
	"context"
	"sync"
	"time"

	"github.com/scrollit/logikal-sync/pkg/model"
	"github.com/scrollit/logikal-sync/pkg/store"
)

// memStore is a minimal in-memory store.Store used to exercise the Entity
// Syncers without a database. It implements the natural-key upsert contract
// directly in Go rather than SQL, matching the same create/compare/update
// shape as pkg/store/postgres.
type memStore struct {
	mu         sync.Mutex
	nextID     int64
	directories map[int64]*model.Directory
	projects    map[int64]*model.Project
	phases      map[int64]*model.Phase
	elevations  map[int64]*model.Elevation
}

func newMemStore() *memStore {
	return &memStore{
		directories: make(map[int64]*model.Directory),
		projects:    make(map[int64]*model.Project),
		phases:      make(map[int64]*model.Phase),
		elevations:  make(map[int64]*model.Elevation),
	}
}

func (m *memStore) allocID() int64 {
	m.nextID++
	return m.nextID
}

// WithTx has nothing to roll back in memory: every memStore method already
// locks mu for its own duration, so running fn directly gives the same
// observable atomicity a real per-parent transaction would for these tests.
func (m *memStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (m *memStore) LocalSyncedAtByUpstreamID(ctx context.Context, kind store.Kind, parentID int64, upstreamIDs []string) (map[string]store.ExistingChild, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[string]bool, len(upstreamIDs))
	for _, id := range upstreamIDs {
		want[id] = true
	}
	out := make(map[string]store.ExistingChild)
	switch kind {
	case store.KindDirectory:
		for _, d := range m.directories {
			if want[d.UpstreamID] {
				out[d.UpstreamID] = store.ExistingChild{LocalSyncedAt: d.LocalSyncedAt, Excluded: d.Excluded}
			}
		}
	case store.KindProject:
		for _, p := range m.projects {
			if want[p.UpstreamID] {
				out[p.UpstreamID] = store.ExistingChild{LocalSyncedAt: p.LocalSyncedAt}
			}
		}
	case store.KindPhase:
		for _, ph := range m.phases {
			if ph.ProjectID == parentID && want[ph.UpstreamID] {
				out[ph.UpstreamID] = store.ExistingChild{LocalSyncedAt: ph.LocalSyncedAt}
			}
		}
	case store.KindElevation:
		for _, e := range m.elevations {
			if want[e.UpstreamID] {
				out[e.UpstreamID] = store.ExistingChild{LocalSyncedAt: e.LocalSyncedAt}
			}
		}
	}
	return out, nil
}

func (m *memStore) BatchUpsertDirectories(ctx context.Context, parentID int64, rows []store.DirectoryRow, stale map[string]bool, now time.Time) (map[string]store.DirectoryUpsertResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]store.DirectoryUpsertResult, len(rows))
	for _, row := range rows {
		var found *model.Directory
		for _, d := range m.directories {
			if d.UpstreamID == row.UpstreamID {
				found = d
				break
			}
		}
		if found == nil {
			d := &model.Directory{
				ID: m.allocID(), UpstreamID: row.UpstreamID, FullPath: row.FullPath, ParentID: row.ParentID,
				Level: row.Level, Excluded: row.Excluded, SyncStatus: model.SyncStatusNew,
				Timestamps: model.Timestamps{UpstreamChangedAt: row.ChangedAt, LocalSyncedAt: &now},
			}
			m.directories[d.ID] = d
			out[row.UpstreamID] = store.DirectoryUpsertResult{Directory: *d, Outcome: store.OutcomeCreated}
			continue
		}
		if !stale[row.UpstreamID] {
			found.LocalSyncedAt = &now
			found.SyncStatus = model.SyncStatusUnchanged
			out[row.UpstreamID] = store.DirectoryUpsertResult{Directory: *found, Outcome: store.OutcomeUnchanged}
			continue
		}
		found.FullPath, found.ParentID, found.Level, found.Excluded = row.FullPath, row.ParentID, row.Level, row.Excluded
		found.UpstreamChangedAt = row.ChangedAt
		found.LocalSyncedAt = &now
		found.SyncStatus = model.SyncStatusUpdated
		out[row.UpstreamID] = store.DirectoryUpsertResult{Directory: *found, Outcome: store.OutcomeUpdated}
	}
	return out, nil
}

func (m *memStore) BatchUpsertProjects(ctx context.Context, parentID int64, rows []store.ProjectRow, stale map[string]bool, now time.Time) (map[string]store.ProjectUpsertResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]store.ProjectUpsertResult, len(rows))
	for _, row := range rows {
		var found *model.Project
		for _, p := range m.projects {
			if p.UpstreamID == row.UpstreamID {
				found = p
				break
			}
		}
		if found == nil {
			p := &model.Project{
				ID: m.allocID(), UpstreamID: row.UpstreamID, DirectoryID: row.DirectoryID, Name: row.Name,
				SyncStatus: model.SyncStatusNew,
				Timestamps: model.Timestamps{UpstreamChangedAt: row.ChangedAt, LocalSyncedAt: &now},
			}
			m.projects[p.ID] = p
			out[row.UpstreamID] = store.ProjectUpsertResult{Project: *p, Outcome: store.OutcomeCreated}
			continue
		}
		if !stale[row.UpstreamID] {
			found.LocalSyncedAt = &now
			found.SyncStatus = model.SyncStatusUnchanged
			out[row.UpstreamID] = store.ProjectUpsertResult{Project: *found, Outcome: store.OutcomeUnchanged}
			continue
		}
		found.DirectoryID, found.Name = row.DirectoryID, row.Name
		found.UpstreamChangedAt = row.ChangedAt
		found.LocalSyncedAt = &now
		found.SyncStatus = model.SyncStatusUpdated
		out[row.UpstreamID] = store.ProjectUpsertResult{Project: *found, Outcome: store.OutcomeUpdated}
	}
	return out, nil
}

func (m *memStore) BatchUpsertPhases(ctx context.Context, parentID int64, rows []store.PhaseRow, stale map[string]bool, now time.Time) (map[string]store.PhaseUpsertResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]store.PhaseUpsertResult, len(rows))
	for _, row := range rows {
		var found *model.Phase
		for _, ph := range m.phases {
			if ph.ProjectID == row.ProjectID && ph.UpstreamID == row.UpstreamID {
				found = ph
				break
			}
		}
		if found == nil {
			ph := &model.Phase{
				ID: m.allocID(), UpstreamID: row.UpstreamID, ProjectID: row.ProjectID, Name: row.Name,
				SyncStatus: model.SyncStatusNew,
				Timestamps: model.Timestamps{UpstreamChangedAt: row.ChangedAt, LocalSyncedAt: &now},
			}
			m.phases[ph.ID] = ph
			out[row.UpstreamID] = store.PhaseUpsertResult{Phase: *ph, Outcome: store.OutcomeCreated}
			continue
		}
		if !stale[row.UpstreamID] {
			found.LocalSyncedAt = &now
			found.SyncStatus = model.SyncStatusUnchanged
			out[row.UpstreamID] = store.PhaseUpsertResult{Phase: *found, Outcome: store.OutcomeUnchanged}
			continue
		}
		found.Name = row.Name
		found.UpstreamChangedAt = row.ChangedAt
		found.LocalSyncedAt = &now
		found.SyncStatus = model.SyncStatusUpdated
		out[row.UpstreamID] = store.PhaseUpsertResult{Phase: *found, Outcome: store.OutcomeUpdated}
	}
	return out, nil
}

func (m *memStore) BatchUpsertElevations(ctx context.Context, parentID int64, rows []store.ElevationRow, stale map[string]bool, now time.Time) (map[string]store.ElevationUpsertResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]store.ElevationUpsertResult, len(rows))
	for _, row := range rows {
		var found *model.Elevation
		for _, e := range m.elevations {
			if e.UpstreamID == row.UpstreamID {
				found = e
				break
			}
		}
		if found == nil {
			e := &model.Elevation{
				ID: m.allocID(), UpstreamID: row.UpstreamID, PhaseID: row.PhaseID, Name: row.Name,
				ParseStatus: model.ParseStatusPending, SyncStatus: model.SyncStatusNew,
				Timestamps: model.Timestamps{UpstreamChangedAt: row.ChangedAt, LocalSyncedAt: &now},
			}
			m.elevations[e.ID] = e
			out[row.UpstreamID] = store.ElevationUpsertResult{Elevation: *e, Outcome: store.OutcomeCreated}
			continue
		}
		if !stale[row.UpstreamID] {
			found.LocalSyncedAt = &now
			found.SyncStatus = model.SyncStatusUnchanged
			out[row.UpstreamID] = store.ElevationUpsertResult{Elevation: *found, Outcome: store.OutcomeUnchanged}
			continue
		}
		found.Name = row.Name
		found.UpstreamChangedAt = row.ChangedAt
		found.LocalSyncedAt = &now
		found.SyncStatus = model.SyncStatusUpdated
		out[row.UpstreamID] = store.ElevationUpsertResult{Elevation: *found, Outcome: store.OutcomeUpdated}
	}
	return out, nil
}

func (m *memStore) MarkToRemove(ctx context.Context, kind store.Kind, parentID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch kind {
	case store.KindDirectory:
		for _, d := range m.directories {
			if (d.ParentID == nil && parentID == 0) || (d.ParentID != nil && *d.ParentID == parentID) {
				d.SyncStatus = model.SyncStatusToRemove
			}
		}
	case store.KindProject:
		for _, p := range m.projects {
			if p.DirectoryID == parentID {
				p.SyncStatus = model.SyncStatusToRemove
			}
		}
	case store.KindPhase:
		for _, ph := range m.phases {
			if ph.ProjectID == parentID {
				ph.SyncStatus = model.SyncStatusToRemove
			}
		}
	case store.KindElevation:
		for _, e := range m.elevations {
			if e.PhaseID == parentID {
				e.SyncStatus = model.SyncStatusToRemove
			}
		}
	}
	return nil
}

func (m *memStore) ClearToRemove(ctx context.Context, kind store.Kind, parentID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	switch kind {
	case store.KindDirectory:
		for id, d := range m.directories {
			if d.SyncStatus == model.SyncStatusToRemove && ((d.ParentID == nil && parentID == 0) || (d.ParentID != nil && *d.ParentID == parentID)) {
				delete(m.directories, id)
				n++
			}
		}
	case store.KindProject:
		for id, p := range m.projects {
			if p.SyncStatus == model.SyncStatusToRemove && p.DirectoryID == parentID {
				delete(m.projects, id)
				n++
			}
		}
	case store.KindPhase:
		for id, ph := range m.phases {
			if ph.SyncStatus == model.SyncStatusToRemove && ph.ProjectID == parentID {
				delete(m.phases, id)
				n++
			}
		}
	case store.KindElevation:
		for id, e := range m.elevations {
			if e.SyncStatus == model.SyncStatusToRemove && e.PhaseID == parentID {
				delete(m.elevations, id)
				n++
			}
		}
	}
	return n, nil
}

func (m *memStore) FindChildren(ctx context.Context, kind store.Kind, parentID int64) ([]int64, error) {
	return nil, nil
}

func (m *memStore) FindDirectoryByUpstreamID(ctx context.Context, upstreamID string) (*model.Directory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.directories {
		if d.UpstreamID == upstreamID {
			return d, nil
		}
	}
	return nil, errNotFound
}

func (m *memStore) FindProjectByUpstreamID(ctx context.Context, upstreamID string) (*model.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.projects {
		if p.UpstreamID == upstreamID {
			return p, nil
		}
	}
	return nil, errNotFound
}

func (m *memStore) FindPhaseByNaturalKey(ctx context.Context, projectID int64, upstreamID string) (*model.Phase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ph := range m.phases {
		if ph.ProjectID == projectID && ph.UpstreamID == upstreamID {
			return ph, nil
		}
	}
	return nil, errNotFound
}

func (m *memStore) FindElevationByUpstreamID(ctx context.Context, upstreamID string) (*model.Elevation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.elevations {
		if e.UpstreamID == upstreamID {
			return e, nil
		}
	}
	return nil, errNotFound
}

func (m *memStore) GetElevation(ctx context.Context, id int64) (*model.Elevation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.elevations[id]
	if !ok {
		return nil, errNotFound
	}
	return e, nil
}

func (m *memStore) SetElevationImagePath(ctx context.Context, id int64, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.elevations[id]
	if !ok {
		return errNotFound
	}
	e.ImagePath = &path
	return nil
}

func (m *memStore) ScanStale(ctx context.Context, kind store.Kind, threshold time.Duration, now time.Time) ([]int64, error) {
	return nil, nil
}

func (m *memStore) DeleteDirectory(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.directories, id)
	return nil
}

func (m *memStore) DeleteProject(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.projects, id)
	return nil
}

func (m *memStore) DeletePhase(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.phases, id)
	return nil
}

func (m *memStore) DeleteElevation(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.elevations, id)
	return nil
}

func (m *memStore) SetElevationParseResult(ctx context.Context, id int64, result store.ElevationParseResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.elevations[id]
	if !ok {
		return errNotFound
	}
	e.ParseStatus = model.ParseStatusOK
	e.WidthMM, e.HeightMM, e.WeightKG, e.AreaM2 = result.WidthMM, result.HeightMM, result.WeightKG, result.AreaM2
	e.SystemCode, e.SystemName, e.GlassSpec, e.PartsCount = result.SystemCode, result.SystemName, result.GlassSpec, result.PartsCount
	e.PartsBlobHash = &result.Hash
	return nil
}

func (m *memStore) SetElevationParseFailed(ctx context.Context, id int64, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.elevations[id]
	if !ok {
		return errNotFound
	}
	e.ParseStatus = model.ParseStatusFailed
	e.ParseRetryCount++
	e.ParseLastError = &errMsg
	return nil
}

func (m *memStore) ListElevationsPendingParse(ctx context.Context, batchSize int, maxRetries int) ([]model.Elevation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Elevation
	for _, e := range m.elevations {
		if (e.ParseStatus == model.ParseStatusPending || e.ParseStatus == model.ParseStatusFailed) &&
			e.ParseRetryCount < maxRetries && e.HasParts() {
			out = append(out, *e)
			if len(out) >= batchSize {
				break
			}
		}
	}
	return out, nil
}

func (m *memStore) SetElevationPartsBlob(ctx context.Context, id int64, path string, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.elevations[id]
	if !ok {
		return errNotFound
	}
	if e.PartsBlobHash == nil || *e.PartsBlobHash != hash {
		e.ParseStatus = model.ParseStatusPending
	}
	e.PartsBlobPath = &path
	e.PartsBlobHash = &hash
	return nil
}

func (m *memStore) GetObjectSyncConfig(ctx context.Context, objectType string) (*model.ObjectSyncConfig, error) {
	return nil, errNotFound
}
func (m *memStore) ListObjectSyncConfigs(ctx context.Context) ([]model.ObjectSyncConfig, error) {
	return nil, nil
}
func (m *memStore) UpsertObjectSyncConfig(ctx context.Context, cfg model.ObjectSyncConfig) error {
	return nil
}
func (m *memStore) TouchObjectSyncConfigAttempt(ctx context.Context, objectType string, at time.Time, succeeded bool) error {
	return nil
}

func (m *memStore) CreateSyncRun(ctx context.Context, kind string) (*model.SyncRun, error) {
	return &model.SyncRun{}, nil
}
func (m *memStore) AppendSyncAttempt(ctx context.Context, runID int64, attempt model.SyncAttempt) error {
	return nil
}
func (m *memStore) FinishSyncRun(ctx context.Context, runID int64, state model.RunState) error {
	return nil
}
func (m *memStore) GetSyncRun(ctx context.Context, runID int64) (*model.SyncRun, error) {
	return nil, errNotFound
}

func (m *memStore) RecordAlert(ctx context.Context, ev model.AlertEvent) error { return nil }
func (m *memStore) ListRecentAlerts(ctx context.Context, limit int) ([]model.AlertEvent, error) {
	return nil, nil
}

func (m *memStore) ListProjects(ctx context.Context) ([]model.Project, error) { return nil, nil }
func (m *memStore) GetProjectComplete(ctx context.Context, id int64) (*model.Project, []model.Phase, []model.Elevation, error) {
	return nil, nil, nil, errNotFound
}
func (m *memStore) ListPhasesForProject(ctx context.Context, projectID int64) ([]model.Phase, error) {
	return nil, nil
}
func (m *memStore) ListElevationsForPhase(ctx context.Context, projectID int64, phaseUpstreamID string) ([]model.Elevation, error) {
	return nil, nil
}

func (m *memStore) Close() {}

type notFoundErr struct{}

func (notFoundErr) Error() string { return "not found" }

var errNotFound = notFoundErr{}

var _ store.Store = (*memStore)(nil)
