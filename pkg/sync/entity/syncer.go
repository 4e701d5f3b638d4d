// Package entity implements the per-kind list-diff-upsert sweep: given an
// already-navigated Session and a local parent id, list the upstream
// children, reconcile them against the Store by natural key, and tombstone
// whatever no longer exists upstream.
package entity

import (
	"context"
	"time"

	synerr "github.com/scrollit/logikal-sync/internal/errors"
	"github.com/scrollit/logikal-sync/pkg/staleness"
	"github.com/scrollit/logikal-sync/pkg/upstream"
)

// ChildRef is the subset of a surviving child row the Cascade Orchestrator
// needs to treat that child as the next level's parent, without a second
// Store round trip. Path and Excluded are only meaningful for Directory
// children; the zero value is correct for every other kind.
type ChildRef struct {
	ID         int64
	UpstreamID string
	Path       string
	Excluded   bool
}

// Outcome tallies one sweep over one parent.
type Outcome struct {
	Created   int
	Updated   int
	Unchanged int
	Deleted   int
	// ParentDeleted is set when the upstream list call itself reported
	// not_found for the parent: the caller must tombstone the parent
	// subtree and not trust Created/Updated/Deleted/Errors below.
	ParentDeleted bool
	Errors        []error
	// Children lists every surviving (non to_remove) child from this sweep,
	// in the order returned upstream, for the orchestrator to descend into.
	Children []ChildRef
}

func (o *Outcome) recordError(err error) {
	o.Errors = append(o.Errors, err)
}

// Syncer is implemented once per entity kind.
type Syncer interface {
	// Sync lists parentID's current upstream children (the Session must
	// already be navigated to the right cursor), reconciles them against
	// the Store, and returns the tally. now is the timestamp stamped on
	// every touched row's local_synced_at.
	Sync(ctx context.Context, sess *upstream.Session, parentID int64, now time.Time) (Outcome, error)
}

// isStaleChild applies the staleness rule to an already-found local row: an
// absent row is never stale (the caller takes the create path instead and
// never consults this).
func isStaleChild(localSyncedAt *time.Time, upstreamChangedAt *time.Time, threshold time.Duration, now time.Time) bool {
	local := staleness.Local{LocalSyncedAt: localSyncedAt}
	return staleness.IsStale(local, upstreamChangedAt, threshold, now)
}

// tombstone builds the Outcome for a not_found on the parent itself — step 1
// of the algorithm: no mark/diff/clear runs, the orchestrator deletes the
// parent subtree instead.
func tombstone() Outcome {
	return Outcome{ParentDeleted: true}
}

func isNotFound(err error) bool {
	return synerr.NotFound(err)
}
