package entity

import (
	"context"
	"time"

	synerr "github.com/scrollit/logikal-sync/internal/errors"
	"github.com/scrollit/logikal-sync/pkg/store"
	"github.com/scrollit/logikal-sync/pkg/upstream"
)

// PhaseSyncer reconciles the phases under one selected project. parentID is
// the local Project id — also the scoping half of a Phase's natural key,
// since upstream_id alone is not unique across projects.
type PhaseSyncer struct {
	Store     store.Store
	Threshold time.Duration
}

func NewPhaseSyncer(s store.Store, threshold time.Duration) *PhaseSyncer {
	return &PhaseSyncer{Store: s, Threshold: threshold}
}

func (p *PhaseSyncer) Sync(ctx context.Context, sess *upstream.Session, parentID int64, now time.Time) (Outcome, error) {
	children, err := sess.ListPhases(ctx)
	if err != nil {
		if isNotFound(err) {
			return tombstone(), nil
		}
		return Outcome{}, synerr.New("entity.PhaseSyncer.Sync", synerr.CategoryOf(err), err)
	}

	var out Outcome
	txErr := p.Store.WithTx(ctx, func(ctx context.Context) error {
		if err := p.Store.MarkToRemove(ctx, store.KindPhase, parentID); err != nil {
			return err
		}

		upstreamIDs := make([]string, len(children))
		for i, c := range children {
			upstreamIDs[i] = c.UpstreamID
		}
		existing, err := p.Store.LocalSyncedAtByUpstreamID(ctx, store.KindPhase, parentID, upstreamIDs)
		if err != nil {
			return err
		}

		rows := make([]store.PhaseRow, len(children))
		stale := make(map[string]bool, len(children))
		for i, child := range children {
			if ex, ok := existing[child.UpstreamID]; ok {
				stale[child.UpstreamID] = isStaleChild(ex.LocalSyncedAt, child.ChangedAt, p.Threshold, now)
			}
			rows[i] = store.PhaseRow{
				UpstreamID: child.UpstreamID,
				ProjectID:  parentID,
				Name:       child.Name,
				ChangedAt:  child.ChangedAt,
			}
		}

		results, err := p.Store.BatchUpsertPhases(ctx, parentID, rows, stale, now)
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
			out.Children = append(out.Children, ChildRef{ID: res.Phase.ID, UpstreamID: res.Phase.UpstreamID})
		}

		deleted, err := p.Store.ClearToRemove(ctx, store.KindPhase, parentID)
		if err != nil {
			return err
		}
		out.Deleted = deleted
		return nil
	})
	if txErr != nil {
		return Outcome{}, synerr.New("entity.PhaseSyncer.Sync", synerr.CategorySystem, txErr)
	}
	return out, nil
}
