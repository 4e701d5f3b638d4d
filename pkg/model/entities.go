// Package model defines the mirrored entity tree and its supporting audit types.
package model

import "time"

// ZeroID is the sentinel upstream identifier meaning "the default child of this
// parent". It is a valid id and must never be treated as absent.
const ZeroID = "00000000-0000-0000-0000-000000000000"

// SyncStatus records why a Store row last changed during a sweep.
type SyncStatus string

const (
	SyncStatusNew       SyncStatus = "new"
	SyncStatusUpdated   SyncStatus = "updated"
	SyncStatusUnchanged SyncStatus = "unchanged"
	SyncStatusToRemove  SyncStatus = "to_remove"
)

// Timestamps is embedded by every mirrored entity. LocalSyncedAt must never
// decrease across writes.
type Timestamps struct {
	UpstreamChangedAt *time.Time
	LocalSyncedAt     *time.Time
}

// Directory mirrors one node of the upstream folder tree.
type Directory struct {
	ID         int64
	UpstreamID string
	FullPath   string
	ParentID   *int64
	Level      int
	Excluded   bool
	SyncStatus SyncStatus
	Timestamps
}

// Project mirrors one project under a Directory.
type Project struct {
	ID          int64
	UpstreamID  string
	DirectoryID int64
	Name        string
	SyncStatus  SyncStatus
	Timestamps
}

// Phase mirrors one phase under a Project. UpstreamID is unique only within the
// owning Project — the natural key is the (ProjectID, UpstreamID) pair.
type Phase struct {
	ID         int64
	UpstreamID string
	ProjectID  int64
	Name       string
	SyncStatus SyncStatus
	Timestamps
}

// ParseStatus tracks the Parts Parser Worker's progress on an Elevation's blob.
type ParseStatus string

const (
	ParseStatusPending ParseStatus = "pending"
	ParseStatusRunning ParseStatus = "running"
	ParseStatusOK      ParseStatus = "ok"
	ParseStatusFailed  ParseStatus = "failed"
)

// Elevation mirrors one elevation under a Phase, plus the enrichment columns
// populated by the Parts Parser Worker once its blob has been parsed.
type Elevation struct {
	ID         int64
	UpstreamID string
	PhaseID    int64
	Name       string

	ImagePath     *string
	PartsBlobPath *string
	PartsBlobHash *string

	ParseStatus      ParseStatus
	ParseRetryCount  int
	ParseLastError   *string

	// Enrichment columns, populated only when ParseStatus == ParseStatusOK.
	WidthMM      *float64
	HeightMM     *float64
	WeightKG     *float64
	AreaM2       *float64
	SystemCode   *string
	SystemName   *string
	GlassSpec    *string
	PartsCount   *int

	SyncStatus SyncStatus
	Timestamps
}

// HasParts reports true iff a parts blob path is set.
// The caller is responsible for confirming the file is actually present on disk.
func (e *Elevation) HasParts() bool {
	return e.PartsBlobPath != nil && *e.PartsBlobPath != ""
}

// ObjectSyncConfig is the per-entity-kind scheduling and retry policy.
type ObjectSyncConfig struct {
	ObjectType         string
	DisplayName        string
	Interval           time.Duration
	StalenessThreshold time.Duration
	Priority           int
	DependsOn          []string
	Enabled            bool
	BatchSize          int
	MaxRetries         int
	RetryDelay         time.Duration
	LastSync           *time.Time
	LastAttempt        *time.Time
}

// RunState is the lifecycle of a SyncRun.
type RunState string

const (
	RunStateQueued    RunState = "queued"
	RunStateRunning   RunState = "running"
	RunStateDone      RunState = "done"
	RunStateFailed    RunState = "failed"
	RunStateCancelled RunState = "cancelled"
)

// SyncRun is the audit record for one orchestrated cascade execution.
type SyncRun struct {
	ID        int64
	Kind      string
	State     RunState
	Created   int
	Updated   int
	Deleted   int
	Skipped   int
	Errors    int
	StartedAt time.Time
	EndedAt   *time.Time
	Attempts  []SyncAttempt
}

// SyncAttempt is one recorded outcome within a SyncRun: a child's
// created/updated/unchanged/deleted result, or a parent's failure or
// tombstone.
type SyncAttempt struct {
	ID         int64
	RunID      int64
	Kind       string
	ParentID   int64
	Outcome    string
	Error      *string
	StartedAt  time.Time
	EndedAt    *time.Time
}

// AlertSeverity classifies an AlertEvent.
type AlertSeverity string

const (
	AlertSeverityInfo     AlertSeverity = "info"
	AlertSeverityWarning  AlertSeverity = "warning"
	AlertSeverityCritical AlertSeverity = "critical"
)

// AlertEvent records one threshold breach surfaced by the Scheduler's health
// sweep or by an outright SyncRun failure.
type AlertEvent struct {
	ID          int64
	Category    string
	Severity    AlertSeverity
	Message     string
	ObjectType  *string
	WindowStart time.Time
	WindowEnd   time.Time
	Count       int
	DeliveredAt *time.Time
	SlackTS     *string
}
