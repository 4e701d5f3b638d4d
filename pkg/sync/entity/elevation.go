package entity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	synerr "github.com/scrollit/logikal-sync/internal/errors"
	"github.com/scrollit/logikal-sync/pkg/store"
	"github.com/scrollit/logikal-sync/pkg/upstream"
)

// ElevationSyncer reconciles the elevations under one selected phase and, for
// every newly created or updated elevation, fetches its parts blob and stages
// it on disk for the Parts Parser Worker. parentID is the local Phase id.
type ElevationSyncer struct {
	Store     store.Store
	Threshold time.Duration
	BlobRoot  string
	ImageRoot string
}

func NewElevationSyncer(s store.Store, threshold time.Duration, blobRoot, imageRoot string) *ElevationSyncer {
	return &ElevationSyncer{Store: s, Threshold: threshold, BlobRoot: blobRoot, ImageRoot: imageRoot}
}

func (e *ElevationSyncer) Sync(ctx context.Context, sess *upstream.Session, parentID int64, now time.Time) (Outcome, error) {
	children, err := sess.ListElevations(ctx)
	if err != nil {
		if isNotFound(err) {
			return tombstone(), nil
		}
		return Outcome{}, synerr.New("entity.ElevationSyncer.Sync", synerr.CategoryOf(err), err)
	}

	// toStage collects children whose row was just created or updated inside
	// the transaction below, so their parts blob and thumbnail can be fetched
	// afterward: staging is a network/filesystem operation and must not hold
	// the per-parent DB transaction open while it runs.
	type staged struct {
		elevationID int64
		upstreamID  string
		name        string
	}
	var toStage []staged

	var out Outcome
	txErr := e.Store.WithTx(ctx, func(ctx context.Context) error {
		if err := e.Store.MarkToRemove(ctx, store.KindElevation, parentID); err != nil {
			return err
		}

		upstreamIDs := make([]string, len(children))
		for i, c := range children {
			upstreamIDs[i] = c.UpstreamID
		}
		existing, err := e.Store.LocalSyncedAtByUpstreamID(ctx, store.KindElevation, parentID, upstreamIDs)
		if err != nil {
			return err
		}

		rows := make([]store.ElevationRow, len(children))
		stale := make(map[string]bool, len(children))
		for i, child := range children {
			if ex, ok := existing[child.UpstreamID]; ok {
				stale[child.UpstreamID] = isStaleChild(ex.LocalSyncedAt, child.ChangedAt, e.Threshold, now)
			}
			rows[i] = store.ElevationRow{
				UpstreamID: child.UpstreamID,
				PhaseID:    parentID,
				Name:       child.Name,
				ChangedAt:  child.ChangedAt,
			}
		}

		results, err := e.Store.BatchUpsertElevations(ctx, parentID, rows, stale, now)
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
			if res.Outcome == store.OutcomeCreated || res.Outcome == store.OutcomeUpdated {
				toStage = append(toStage, staged{elevationID: res.Elevation.ID, upstreamID: child.UpstreamID, name: child.Name})
			}
			out.Children = append(out.Children, ChildRef{ID: res.Elevation.ID, UpstreamID: res.Elevation.UpstreamID})
		}

		deleted, err := e.Store.ClearToRemove(ctx, store.KindElevation, parentID)
		if err != nil {
			return err
		}
		out.Deleted = deleted
		return nil
	})
	if txErr != nil {
		return Outcome{}, synerr.New("entity.ElevationSyncer.Sync", synerr.CategorySystem, txErr)
	}

	for _, s := range toStage {
		if err := e.fetchAndStageBlob(ctx, sess, s.elevationID, s.upstreamID); err != nil {
			out.recordError(synerr.New("entity.ElevationSyncer.Sync", synerr.CategoryOf(err), err))
		}
		if err := e.fetchAndStageThumbnail(ctx, sess, s.elevationID, s.upstreamID, s.name); err != nil {
			out.recordError(synerr.New("entity.ElevationSyncer.Sync", synerr.CategoryOf(err), err))
		}
	}
	return out, nil
}

// fetchAndStageBlob downloads the parts blob, writes it to a temp file next
// to its final path and renames into place (atomic on the same filesystem),
// then records the path and content hash on the elevation. A changed hash
// resets parse_status to pending on the Store side.
func (e *ElevationSyncer) fetchAndStageBlob(ctx context.Context, sess *upstream.Session, elevationID int64, upstreamID string) error {
	blob, err := sess.FetchPartsBlob(ctx, upstreamID)
	if err != nil {
		return err
	}

	dir := filepath.Join(e.BlobRoot, "elevations")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return synerr.New("entity.fetchAndStageBlob", synerr.CategorySystem, err)
	}
	finalPath := filepath.Join(dir, upstreamID+".db")

	tmp, err := os.CreateTemp(dir, upstreamID+".*.tmp")
	if err != nil {
		return synerr.New("entity.fetchAndStageBlob", synerr.CategorySystem, err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return synerr.New("entity.fetchAndStageBlob", synerr.CategorySystem, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return synerr.New("entity.fetchAndStageBlob", synerr.CategorySystem, err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return synerr.New("entity.fetchAndStageBlob", synerr.CategorySystem, err)
	}

	sum := sha256.Sum256(blob)
	hash := hex.EncodeToString(sum[:])

	if err := e.Store.SetElevationPartsBlob(ctx, elevationID, finalPath, hash); err != nil {
		return synerr.New("entity.fetchAndStageBlob", synerr.CategorySystem, fmt.Errorf("record blob: %w", err))
	}
	return nil
}

// fetchAndStageThumbnail downloads a rendered PNG for the elevation and
// writes it to {image_root}/elevations/{upstream_id}_{sanitized_name}.png,
// atomically the same way fetchAndStageBlob stages the parts blob. A 404
// from upstream (no render available yet) is not an error — the thumbnail
// endpoint just has nothing to stream until a later sweep catches one.
func (e *ElevationSyncer) fetchAndStageThumbnail(ctx context.Context, sess *upstream.Session, elevationID int64, upstreamID, name string) error {
	img, err := sess.FetchThumbnail(ctx, upstreamID, upstream.ThumbnailOptions{Size: "medium", Format: "png"})
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return err
	}

	dir := filepath.Join(e.ImageRoot, "elevations")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return synerr.New("entity.fetchAndStageThumbnail", synerr.CategorySystem, err)
	}
	finalPath := filepath.Join(dir, upstreamID+"_"+sanitizeFilename(name)+".png")

	tmp, err := os.CreateTemp(dir, upstreamID+".*.tmp")
	if err != nil {
		return synerr.New("entity.fetchAndStageThumbnail", synerr.CategorySystem, err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(img); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return synerr.New("entity.fetchAndStageThumbnail", synerr.CategorySystem, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return synerr.New("entity.fetchAndStageThumbnail", synerr.CategorySystem, err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return synerr.New("entity.fetchAndStageThumbnail", synerr.CategorySystem, err)
	}

	if err := e.Store.SetElevationImagePath(ctx, elevationID, finalPath); err != nil {
		return synerr.New("entity.fetchAndStageThumbnail", synerr.CategorySystem, fmt.Errorf("record image: %w", err))
	}
	return nil
}

// sanitizeFilename turns spaces into underscores and strips everything else
// but alphanumerics, dash, and underscore so an upstream-supplied elevation name can't escape the image directory or
// collide with shell-meaningful characters.
func sanitizeFilename(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			out = append(out, r)
		case r == ' ':
			out = append(out, '_')
		}
	}
	if len(out) == 0 {
		return "elevation"
	}
	return string(out)
}
