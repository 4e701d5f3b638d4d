// Package store defines the persistent entity store contract: a per-parent
// transaction spanning mark-to-remove, a batched upsert-by-natural-key, and
// clear-to-remove, plus cascading delete and bulk select-by-id-set.
package store

import (
	"context"
	"time"

	"github.com/scrollit/logikal-sync/pkg/model"
)

// Kind identifies one of the four entity tables (or a supporting table) by
// name, matching ObjectSyncConfig.ObjectType.
type Kind string

const (
	KindDirectory Kind = "directory"
	KindProject   Kind = "project"
	KindPhase     Kind = "phase"
	KindElevation Kind = "elevation"
)

// UpsertOutcome reports what a BatchUpsertX call actually did to a row,
// letting callers accumulate SyncRun counters without re-deriving it from
// before/after comparisons.
type UpsertOutcome string

const (
	OutcomeCreated   UpsertOutcome = "created"
	OutcomeUpdated   UpsertOutcome = "updated"
	OutcomeUnchanged UpsertOutcome = "unchanged"
)

// DirectoryRow, ProjectRow, PhaseRow, ElevationRow are the upsert payloads for
// each kind.
type DirectoryRow struct {
	UpstreamID string
	FullPath   string
	ParentID   *int64
	Level      int
	Excluded   bool
	ChangedAt  *time.Time
}

type ProjectRow struct {
	UpstreamID  string
	DirectoryID int64
	Name        string
	ChangedAt   *time.Time
}

type PhaseRow struct {
	UpstreamID string
	ProjectID  int64
	Name       string
	ChangedAt  *time.Time
}

type ElevationRow struct {
	UpstreamID string
	PhaseID    int64
	Name       string
	ChangedAt  *time.Time
}

// ExistingChild is the snapshot LocalSyncedAtByUpstreamID reports for one
// already-local child, just enough for an Entity Syncer to decide staleness
// and preserve locally-owned fields (Directory.Excluded) before building the
// batch it hands to BatchUpsertX.
type ExistingChild struct {
	LocalSyncedAt *time.Time
	Excluded      bool
}

// DirectoryUpsertResult, ProjectUpsertResult, PhaseUpsertResult, and
// ElevationUpsertResult pair one upserted row with what BatchUpsertX actually
// did to it.
type DirectoryUpsertResult struct {
	Directory model.Directory
	Outcome   UpsertOutcome
}

type ProjectUpsertResult struct {
	Project model.Project
	Outcome UpsertOutcome
}

type PhaseUpsertResult struct {
	Phase   model.Phase
	Outcome UpsertOutcome
}

type ElevationUpsertResult struct {
	Elevation model.Elevation
	Outcome   UpsertOutcome
}

// Store is the full persistence contract used by the Entity Syncers, the
// Cascade Orchestrator, the Scheduler, and the Parts Parser Worker.
type Store interface {
	// WithTx runs fn with a single transaction threaded through its ctx: every
	// Store call fn makes — MarkToRemove, LocalSyncedAtByUpstreamID, a
	// BatchUpsertX call, ClearToRemove — participates in it, so a parent's
	// sweep commits atomically or not at all.
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error

	// LocalSyncedAtByUpstreamID looks up every one of upstreamIDs already
	// local under kind/parentID in a single query, for the Entity Syncer to
	// decide per-child staleness before calling BatchUpsertX. Absent entries
	// mean the child doesn't exist locally yet (it takes the insert path).
	LocalSyncedAtByUpstreamID(ctx context.Context, kind Kind, parentID int64, upstreamIDs []string) (map[string]ExistingChild, error)

	// BatchUpsertDirectories/Projects/Phases/Elevations reconcile every child
	// of one parent in a fixed small number of queries regardless of how many
	// rows are passed — the performance contract is O(1) queries per kind per
	// sweep, not O(N) per entity. stale is keyed by UpstreamID: true takes the
	// full-field update path (or insert, for rows LocalSyncedAtByUpstreamID
	// didn't report), false only raises local_synced_at. local_synced_at never
	// decreases.
	BatchUpsertDirectories(ctx context.Context, parentID int64, rows []DirectoryRow, stale map[string]bool, now time.Time) (map[string]DirectoryUpsertResult, error)
	BatchUpsertProjects(ctx context.Context, parentID int64, rows []ProjectRow, stale map[string]bool, now time.Time) (map[string]ProjectUpsertResult, error)
	BatchUpsertPhases(ctx context.Context, parentID int64, rows []PhaseRow, stale map[string]bool, now time.Time) (map[string]PhaseUpsertResult, error)
	BatchUpsertElevations(ctx context.Context, parentID int64, rows []ElevationRow, stale map[string]bool, now time.Time) (map[string]ElevationUpsertResult, error)

	// MarkToRemove tags every current child of parentID under kind with
	// status to_remove, ahead of a diff pass.
	MarkToRemove(ctx context.Context, kind Kind, parentID int64) error
	// ClearToRemove deletes children of parentID under kind still tagged
	// to_remove, cascading to grandchildren via foreign key.
	ClearToRemove(ctx context.Context, kind Kind, parentID int64) (deleted int, err error)

	FindChildren(ctx context.Context, kind Kind, parentID int64) ([]int64, error)
	FindPhaseByNaturalKey(ctx context.Context, projectID int64, upstreamID string) (*model.Phase, error)
	// GetElevation looks up one elevation by its local id — the lookup the
	// downstream thumbnail endpoint needs, distinct from the upstream-id and
	// phase-scoped lookups above.
	GetElevation(ctx context.Context, id int64) (*model.Elevation, error)

	// ScanStale returns ids of rows of kind whose local_synced_at is older
	// than threshold, or never set.
	ScanStale(ctx context.Context, kind Kind, threshold time.Duration, now time.Time) ([]int64, error)

	// DeleteDirectory and friends implement the tombstone outcome: a
	// parent not_found deletes the parent and, via FK cascade, every
	// descendant.
	DeleteDirectory(ctx context.Context, id int64) error
	DeleteProject(ctx context.Context, id int64) error
	DeletePhase(ctx context.Context, id int64) error
	DeleteElevation(ctx context.Context, id int64) error

	// SetElevationParseResult writes back parser enrichment columns inside a
	// single transaction.
	SetElevationParseResult(ctx context.Context, id int64, result ElevationParseResult) error
	SetElevationParseFailed(ctx context.Context, id int64, errMsg string) error
	ListElevationsPendingParse(ctx context.Context, batchSize int, maxRetries int) ([]model.Elevation, error)
	SetElevationPartsBlob(ctx context.Context, id int64, path string, hash string) error
	SetElevationImagePath(ctx context.Context, id int64, path string) error

	// SyncConfig / SyncRun bookkeeping.
	GetObjectSyncConfig(ctx context.Context, objectType string) (*model.ObjectSyncConfig, error)
	ListObjectSyncConfigs(ctx context.Context) ([]model.ObjectSyncConfig, error)
	UpsertObjectSyncConfig(ctx context.Context, cfg model.ObjectSyncConfig) error
	TouchObjectSyncConfigAttempt(ctx context.Context, objectType string, at time.Time, succeeded bool) error

	CreateSyncRun(ctx context.Context, kind string) (*model.SyncRun, error)
	AppendSyncAttempt(ctx context.Context, runID int64, attempt model.SyncAttempt) error
	FinishSyncRun(ctx context.Context, runID int64, state model.RunState) error
	GetSyncRun(ctx context.Context, runID int64) (*model.SyncRun, error)

	RecordAlert(ctx context.Context, ev model.AlertEvent) error
	ListRecentAlerts(ctx context.Context, limit int) ([]model.AlertEvent, error)

	// ListProjects/ListPhases/ListElevations back the downstream HTTP API.
	ListProjects(ctx context.Context) ([]model.Project, error)
	GetProjectComplete(ctx context.Context, id int64) (*model.Project, []model.Phase, []model.Elevation, error)
	ListPhasesForProject(ctx context.Context, projectID int64) ([]model.Phase, error)
	ListElevationsForPhase(ctx context.Context, projectID int64, phaseUpstreamID string) ([]model.Elevation, error)

	Close()
}

// ElevationParseResult is the enrichment payload written back by the Parts
// Parser Worker on success.
type ElevationParseResult struct {
	WidthMM    *float64
	HeightMM   *float64
	WeightKG   *float64
	AreaM2     *float64
	SystemCode *string
	SystemName *string
	GlassSpec  *string
	PartsCount *int
	Hash       string
}
