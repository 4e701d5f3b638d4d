package entity

import (
	"context"
	"strings"
	"time"

	synerr "github.com/scrollit/logikal-sync/internal/errors"
	"github.com/scrollit/logikal-sync/pkg/store"
	"github.com/scrollit/logikal-sync/pkg/upstream"
)

// DirectorySyncer reconciles the subdirectories of one navigated path.
type DirectorySyncer struct {
	Store     store.Store
	Threshold time.Duration
}

func NewDirectorySyncer(s store.Store, threshold time.Duration) *DirectorySyncer {
	return &DirectorySyncer{Store: s, Threshold: threshold}
}

func (d *DirectorySyncer) Sync(ctx context.Context, sess *upstream.Session, parentID int64, now time.Time) (Outcome, error) {
	children, err := sess.ListDirectories(ctx)
	if err != nil {
		if isNotFound(err) {
			return tombstone(), nil
		}
		return Outcome{}, synerr.New("entity.DirectorySyncer.Sync", synerr.CategoryOf(err), err)
	}

	var parentRef *int64
	if parentID != 0 {
		id := parentID
		parentRef = &id
	}

	var out Outcome
	txErr := d.Store.WithTx(ctx, func(ctx context.Context) error {
		if err := d.Store.MarkToRemove(ctx, store.KindDirectory, parentID); err != nil {
			return err
		}

		upstreamIDs := make([]string, len(children))
		for i, c := range children {
			upstreamIDs[i] = c.UpstreamID
		}
		existing, err := d.Store.LocalSyncedAtByUpstreamID(ctx, store.KindDirectory, parentID, upstreamIDs)
		if err != nil {
			return err
		}

		rows := make([]store.DirectoryRow, len(children))
		stale := make(map[string]bool, len(children))
		for i, child := range children {
			excluded := false
			if ex, ok := existing[child.UpstreamID]; ok {
				excluded = ex.Excluded
				stale[child.UpstreamID] = isStaleChild(ex.LocalSyncedAt, child.ChangedAt, d.Threshold, now)
			}
			rows[i] = store.DirectoryRow{
				UpstreamID: child.UpstreamID,
				FullPath:   child.Path,
				ParentID:   parentRef,
				Level:      pathLevel(child.Path),
				Excluded:   excluded,
				ChangedAt:  child.ChangedAt,
			}
		}

		results, err := d.Store.BatchUpsertDirectories(ctx, parentID, rows, stale, now)
		if err != nil {
			return err
		}
		for _, child := range children {
			res := results[child.UpstreamID]
			switch res.Outcome {
			case store.OutcomeCreated:
				out.Created++
			case store.OutcomeUpdated:
				out.Updated++
			case store.OutcomeUnchanged:
				out.Unchanged++
			}
			out.Children = append(out.Children, ChildRef{
				ID: res.Directory.ID, UpstreamID: res.Directory.UpstreamID,
				Path: res.Directory.FullPath, Excluded: res.Directory.Excluded,
			})
		}

		deleted, err := d.Store.ClearToRemove(ctx, store.KindDirectory, parentID)
		if err != nil {
			return err
		}
		out.Deleted = deleted
		return nil
	})
	if txErr != nil {
		return Outcome{}, synerr.New("entity.DirectorySyncer.Sync", synerr.CategorySystem, txErr)
	}
	return out, nil
}

// pathLevel counts non-empty path segments, so "/a/b/c" is level 3 and the
// root path "" or "/" is level 0.
func pathLevel(path string) int {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return 0
	}
	return len(strings.Split(trimmed, "/"))
}
