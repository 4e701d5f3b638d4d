package entity

import (
	"context"
	"time"

	synerr "github.com/scrollit/logikal-sync/internal/errors"
	"github.com/scrollit/logikal-sync/pkg/store"
	"github.com/scrollit/logikal-sync/pkg/upstream"
)

// ProjectSyncer reconciles the projects under one navigated directory path.
// parentID is the local Directory id.
type ProjectSyncer struct {
	Store     store.Store
	Threshold time.Duration
}

func NewProjectSyncer(s store.Store, threshold time.Duration) *ProjectSyncer {
	return &ProjectSyncer{Store: s, Threshold: threshold}
}

func (p *ProjectSyncer) Sync(ctx context.Context, sess *upstream.Session, parentID int64, now time.Time) (Outcome, error) {
	children, err := sess.ListProjects(ctx)
	if err != nil {
		if isNotFound(err) {
			return tombstone(), nil
		}
		return Outcome{}, synerr.New("entity.ProjectSyncer.Sync", synerr.CategoryOf(err), err)
	}

	var out Outcome
	txErr := p.Store.WithTx(ctx, func(ctx context.Context) error {
		if err := p.Store.MarkToRemove(ctx, store.KindProject, parentID); err != nil {
			return err
		}

		upstreamIDs := make([]string, len(children))
		for i, c := range children {
			upstreamIDs[i] = c.UpstreamID
		}
		existing, err := p.Store.LocalSyncedAtByUpstreamID(ctx, store.KindProject, parentID, upstreamIDs)
		if err != nil {
			return err
		}

		rows := make([]store.ProjectRow, len(children))
		stale := make(map[string]bool, len(children))
		for i, child := range children {
			if ex, ok := existing[child.UpstreamID]; ok {
				stale[child.UpstreamID] = isStaleChild(ex.LocalSyncedAt, child.ChangedAt, p.Threshold, now)
			}
			rows[i] = store.ProjectRow{
				UpstreamID:  child.UpstreamID,
				DirectoryID: parentID,
				Name:        child.Name,
				ChangedAt:   child.ChangedAt,
			}
		}

		results, err := p.Store.BatchUpsertProjects(ctx, parentID, rows, stale, now)
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
			out.Children = append(out.Children, ChildRef{ID: res.Project.ID, UpstreamID: res.Project.UpstreamID})
		}

		deleted, err := p.Store.ClearToRemove(ctx, store.KindProject, parentID)
		if err != nil {
			return err
		}
		out.Deleted = deleted
		return nil
	})
	if txErr != nil {
		return Outcome{}, synerr.New("entity.ProjectSyncer.Sync", synerr.CategorySystem, txErr)
	}
	return out, nil
}
