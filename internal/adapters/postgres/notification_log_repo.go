package postgres

import (
	"context"
	"fmt"

	"github.com/dhwagstaff/tbeacon/internal/core/domain"
)

// NotificationLogRepo implements ports.NotificationLogRepository.
type NotificationLogRepo struct {
	db *DB
}

// NewNotificationLogRepo creates a new NotificationLogRepo.
func NewNotificationLogRepo(db *DB) *NotificationLogRepo {
	return &NotificationLogRepo{db: db}
}

// Insert records a dispatched notification.
func (r *NotificationLogRepo) Insert(ctx context.Context, rec *domain.NotificationRecord) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO notification_log (id, region_id, title, subtitle, body, dispatched_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, rec.ID, rec.RegionID, rec.Title, rec.Subtitle, rec.Body, rec.DispatchedAt)
	if err != nil {
		return fmt.Errorf("insert notification record: %w", err)
	}
	return nil
}

// ListRecent returns the newest dispatched notifications.
func (r *NotificationLogRepo) ListRecent(ctx context.Context, limit int) ([]domain.NotificationRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, region_id, title, subtitle, body, dispatched_at
		FROM notification_log
		ORDER BY dispatched_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list notification records: %w", err)
	}
	defer rows.Close()

	var recs []domain.NotificationRecord
	for rows.Next() {
		var rec domain.NotificationRecord
		if err := rows.Scan(&rec.ID, &rec.RegionID, &rec.Title, &rec.Subtitle,
			&rec.Body, &rec.DispatchedAt); err != nil {
			return nil, fmt.Errorf("scan notification record: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
