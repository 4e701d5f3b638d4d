package postgres

import (
	"context"

	"github.com/scrollit/logikal-sync/pkg/model"
)

// CreateSyncRun opens the audit record for one cascade execution, stamping
// started_at at the database's clock rather than the caller's.
func (s *Store) CreateSyncRun(ctx context.Context, kind string) (*model.SyncRun, error) {
	var run model.SyncRun
	run.Kind = kind
	run.State = model.RunStateRunning
	err := s.pool.QueryRow(ctx, `
		INSERT INTO sync_runs (kind, state) VALUES ($1, $2)
		RETURNING id, started_at`, kind, model.RunStateRunning).Scan(&run.ID, &run.StartedAt)
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// AppendSyncAttempt records one attempt row (one child outcome, or one
// parent failure or tombstone) within a run.
func (s *Store) AppendSyncAttempt(ctx context.Context, runID int64, attempt model.SyncAttempt) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sync_attempts (run_id, kind, parent_id, outcome, error, started_at, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		runID, attempt.Kind, attempt.ParentID, attempt.Outcome, attempt.Error,
		attempt.StartedAt, attempt.EndedAt)
	return err
}

// FinishSyncRun transitions a run to its terminal state, deriving the
// created/updated/deleted/skipped/error tallies and ended_at from the
// attempts already appended under it.
func (s *Store) FinishSyncRun(ctx context.Context, runID int64, state model.RunState) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE sync_runs SET
			state = $1,
			created_count = (SELECT count(*) FROM sync_attempts WHERE run_id = $2 AND outcome = 'created'),
			updated_count = (SELECT count(*) FROM sync_attempts WHERE run_id = $2 AND outcome = 'updated'),
			deleted_count = (SELECT count(*) FROM sync_attempts WHERE run_id = $2 AND outcome = 'deleted'),
			skipped_count = (SELECT count(*) FROM sync_attempts WHERE run_id = $2 AND outcome = 'unchanged'),
			error_count   = (SELECT count(*) FROM sync_attempts WHERE run_id = $2 AND outcome = 'failed'),
			ended_at = now()
		WHERE id = $2`, state, runID)
	return err
}

// GetSyncRun loads a run and its attempts, newest attempt first.
func (s *Store) GetSyncRun(ctx context.Context, runID int64) (*model.SyncRun, error) {
	var run model.SyncRun
	run.ID = runID
	err := s.pool.QueryRow(ctx, `
		SELECT kind, state, created_count, updated_count, deleted_count, skipped_count, error_count, started_at, ended_at
		FROM sync_runs WHERE id = $1`, runID).
		Scan(&run.Kind, &run.State, &run.Created, &run.Updated, &run.Deleted, &run.Skipped,
			&run.Errors, &run.StartedAt, &run.EndedAt)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, run_id, kind, parent_id, outcome, error, started_at, ended_at
		FROM sync_attempts WHERE run_id = $1 ORDER BY started_at DESC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var a model.SyncAttempt
		if err := rows.Scan(&a.ID, &a.RunID, &a.Kind, &a.ParentID, &a.Outcome, &a.Error, &a.StartedAt, &a.EndedAt); err != nil {
			return nil, err
		}
		run.Attempts = append(run.Attempts, a)
	}
	return &run, rows.Err()
}
