// Package staleness implements the single staleness rule set used across every
// entity kind, consolidating what the original system split across two
// duplicate "smart sync" and "advanced sync" services with subtly different
// predicates.
package staleness

import "time"

// Verdict is the outcome of evaluating one entity against an upstream change
// timestamp.
type Verdict string

const (
	Stale Verdict = "stale"
	Fresh Verdict = "fresh"
)

// Local is the minimal view of a mirrored entity the evaluator needs: its last
// successful local sync time, if any.
type Local struct {
	LocalSyncedAt *time.Time
}

// Evaluate applies the staleness rule chain:
//
//	local_synced_at is null            -> stale
//	upstream_changed_at is null         -> fresh (no basis to compare)
//	upstream_changed_at > local_synced_at -> stale
//	now - local_synced_at > threshold    -> stale
//	otherwise                            -> fresh
func Evaluate(local Local, upstreamChangedAt *time.Time, threshold time.Duration, now time.Time) Verdict {
	if local.LocalSyncedAt == nil {
		return Stale
	}
	if upstreamChangedAt == nil {
		return Fresh
	}
	if upstreamChangedAt.After(*local.LocalSyncedAt) {
		return Stale
	}
	if now.Sub(*local.LocalSyncedAt) > threshold {
		return Stale
	}
	return Fresh
}

// IsStale is a convenience wrapper returning a bool instead of a Verdict.
func IsStale(local Local, upstreamChangedAt *time.Time, threshold time.Duration, now time.Time) bool {
	return Evaluate(local, upstreamChangedAt, threshold, now) == Stale
}
