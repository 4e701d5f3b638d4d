package postgres

import (
	"context"

	"github.com/scrollit/logikal-sync/pkg/model"
	"github.com/scrollit/logikal-sync/pkg/store"
)

const elevationColumns = `
	id, upstream_id, phase_id, name, sync_status, upstream_changed_at, local_synced_at,
	image_path, parts_blob_path, parts_blob_hash, parse_status, parse_retry_count, parse_last_error,
	width_mm, height_mm, weight_kg, area_m2, system_code, system_name, glass_spec, parts_count`

func (s *Store) scanElevationRow(row interface{ Scan(dest ...any) error }) (*model.Elevation, error) {
	var e model.Elevation
	err := row.Scan(&e.ID, &e.UpstreamID, &e.PhaseID, &e.Name, &e.SyncStatus,
		&e.UpstreamChangedAt, &e.LocalSyncedAt, &e.ImagePath, &e.PartsBlobPath, &e.PartsBlobHash,
		&e.ParseStatus, &e.ParseRetryCount, &e.ParseLastError,
		&e.WidthMM, &e.HeightMM, &e.WeightKG, &e.AreaM2, &e.SystemCode, &e.SystemName, &e.GlassSpec, &e.PartsCount)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Store) scanElevation(ctx context.Context, where string, args ...interface{}) (*model.Elevation, error) {
	row := s.pool.QueryRow(ctx, "SELECT "+elevationColumns+" FROM elevations "+where, args...)
	return s.scanElevationRow(row)
}

// SetElevationPartsBlob records a freshly-fetched blob's path and hash. A
// changed hash resets parse_status to pending, per the Parts-Blob
// invariant; an unchanged hash leaves parse_status untouched so the Parts
// Parser Worker's idempotence check can skip it.
func (s *Store) SetElevationPartsBlob(ctx context.Context, id int64, path string, hash string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE elevations SET parts_blob_path = $1,
			parse_status = CASE WHEN parts_blob_hash IS DISTINCT FROM $2 THEN 'pending' ELSE parse_status END,
			parts_blob_hash = $2,
			updated_at = now()
		WHERE id = $3`, path, hash, id)
	return err
}

// SetElevationImagePath records the staged thumbnail's path.
func (s *Store) SetElevationImagePath(ctx context.Context, id int64, path string) error {
	_, err := s.pool.Exec(ctx, `UPDATE elevations SET image_path = $1, updated_at = now() WHERE id = $2`, path, id)
	return err
}

// ListElevationsPendingParse selects up to batchSize elevations awaiting (or
// retryable after a failed) parse, with a blob file path recorded.
func (s *Store) ListElevationsPendingParse(ctx context.Context, batchSize int, maxRetries int) ([]model.Elevation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+elevationColumns+` FROM elevations
		WHERE parse_status IN ('pending', 'failed')
			AND parse_retry_count < $1
			AND parts_blob_path IS NOT NULL
		ORDER BY upstream_id
		LIMIT $2`, maxRetries, batchSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Elevation
	for rows.Next() {
		e, err := s.scanElevationRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// SetElevationParseResult writes back the enrichment columns in a single
// transaction and marks the elevation parsed.
func (s *Store) SetElevationParseResult(ctx context.Context, id int64, result store.ElevationParseResult) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE elevations SET
			parse_status = 'ok',
			parse_last_error = NULL,
			parts_blob_hash = $1,
			width_mm = $2, height_mm = $3, weight_kg = $4, area_m2 = $5,
			system_code = $6, system_name = $7, glass_spec = $8, parts_count = $9,
			updated_at = now()
		WHERE id = $10`,
		result.Hash, result.WidthMM, result.HeightMM, result.WeightKG, result.AreaM2,
		result.SystemCode, result.SystemName, result.GlassSpec, result.PartsCount, id)
	return err
}

// SetElevationParseFailed records a failed parse attempt and increments the
// retry counter.
func (s *Store) SetElevationParseFailed(ctx context.Context, id int64, errMsg string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE elevations SET parse_status = 'failed', parse_retry_count = parse_retry_count + 1,
			parse_last_error = $1, updated_at = now()
		WHERE id = $2`, errMsg, id)
	return err
}
