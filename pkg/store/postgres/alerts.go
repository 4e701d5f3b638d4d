package postgres

import (
	"context"

	"github.com/scrollit/logikal-sync/pkg/model"
)

// RecordAlert persists one AlertEvent.
func (s *Store) RecordAlert(ctx context.Context, alert model.AlertEvent) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO alert_events (category, severity, message, object_type, window_start, window_end,
			count, delivered_at, slack_ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		alert.Category, alert.Severity, alert.Message, alert.ObjectType, alert.WindowStart, alert.WindowEnd,
		alert.Count, alert.DeliveredAt, alert.SlackTS)
	return err
}

// ListRecentAlerts returns the most recent alerts, newest first, bounded by
// limit — the set the downstream /sync/alerts endpoint surfaces to ERP.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]model.AlertEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, category, severity, message, object_type, window_start, window_end, count,
			delivered_at, slack_ts
		FROM alert_events ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.AlertEvent
	for rows.Next() {
		var a model.AlertEvent
		if err := rows.Scan(&a.ID, &a.Category, &a.Severity, &a.Message, &a.ObjectType,
			&a.WindowStart, &a.WindowEnd, &a.Count, &a.DeliveredAt, &a.SlackTS); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
