package postgres

import (
	"context"
	"time"

	"github.com/scrollit/logikal-sync/pkg/model"
)

func (s *Store) GetObjectSyncConfig(ctx context.Context, objectType string) (*model.ObjectSyncConfig, error) {
	return s.scanObjectSyncConfig(ctx, `WHERE object_type = $1`, objectType)
}

func (s *Store) ListObjectSyncConfigs(ctx context.Context) ([]model.ObjectSyncConfig, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT object_type, display_name, interval_seconds, staleness_threshold_seconds, priority,
		       depends_on, enabled, batch_size, max_retries, retry_delay_seconds, last_sync, last_attempt
		FROM object_sync_configs ORDER BY priority`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ObjectSyncConfig
	for rows.Next() {
		cfg, err := scanObjectSyncConfigRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *cfg)
	}
	return out, rows.Err()
}

func (s *Store) scanObjectSyncConfig(ctx context.Context, where string, args ...interface{}) (*model.ObjectSyncConfig, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT object_type, display_name, interval_seconds, staleness_threshold_seconds, priority,
		       depends_on, enabled, batch_size, max_retries, retry_delay_seconds, last_sync, last_attempt
		FROM object_sync_configs `+where, args...)
	return scanObjectSyncConfigRow(row)
}

func scanObjectSyncConfigRow(row interface{ Scan(dest ...any) error }) (*model.ObjectSyncConfig, error) {
	var (
		cfg             model.ObjectSyncConfig
		intervalSecs    int
		stalenessSecs   int
		retryDelaySecs  int
	)
	err := row.Scan(&cfg.ObjectType, &cfg.DisplayName, &intervalSecs, &stalenessSecs, &cfg.Priority,
		&cfg.DependsOn, &cfg.Enabled, &cfg.BatchSize, &cfg.MaxRetries, &retryDelaySecs,
		&cfg.LastSync, &cfg.LastAttempt)
	if err != nil {
		return nil, err
	}
	cfg.Interval = time.Duration(intervalSecs) * time.Second
	cfg.StalenessThreshold = time.Duration(stalenessSecs) * time.Second
	cfg.RetryDelay = time.Duration(retryDelaySecs) * time.Second
	return &cfg, nil
}

// UpsertObjectSyncConfig writes a policy row. Callers must have already
// validated depends_on forms an acyclic graph (pkg/syncconfig owns that
// check) before calling this.
func (s *Store) UpsertObjectSyncConfig(ctx context.Context, cfg model.ObjectSyncConfig) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO object_sync_configs (object_type, display_name, interval_seconds,
			staleness_threshold_seconds, priority, depends_on, enabled, batch_size, max_retries,
			retry_delay_seconds, last_sync, last_attempt)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (object_type) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			interval_seconds = EXCLUDED.interval_seconds,
			staleness_threshold_seconds = EXCLUDED.staleness_threshold_seconds,
			priority = EXCLUDED.priority,
			depends_on = EXCLUDED.depends_on,
			enabled = EXCLUDED.enabled,
			batch_size = EXCLUDED.batch_size,
			max_retries = EXCLUDED.max_retries,
			retry_delay_seconds = EXCLUDED.retry_delay_seconds`,
		cfg.ObjectType, cfg.DisplayName, int(cfg.Interval.Seconds()), int(cfg.StalenessThreshold.Seconds()),
		cfg.Priority, cfg.DependsOn, cfg.Enabled, cfg.BatchSize, cfg.MaxRetries,
		int(cfg.RetryDelay.Seconds()), cfg.LastSync, cfg.LastAttempt)
	return err
}

// TouchObjectSyncConfigAttempt records that a sweep for objectType just ran,
// advancing last_attempt always and last_sync only on success — the
// Scheduler's due-check compares against last_sync, not last_attempt, so a
// chain of failures does not silently suppress future retries.
func (s *Store) TouchObjectSyncConfigAttempt(ctx context.Context, objectType string, at time.Time, succeeded bool) error {
	if succeeded {
		_, err := s.pool.Exec(ctx, `UPDATE object_sync_configs SET last_attempt = $1, last_sync = $1 WHERE object_type = $2`, at, objectType)
		return err
	}
	_, err := s.pool.Exec(ctx, `UPDATE object_sync_configs SET last_attempt = $1 WHERE object_type = $2`, at, objectType)
	return err
}
