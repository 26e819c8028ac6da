package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"alert-service/internal/models"
)

const notificationColumns = `id, device_id, notification_type, sent_at, created_at`

func scanNotification(row pgx.Row) (models.Notification, error) {
	var n models.Notification
	err := row.Scan(&n.ID, &n.DeviceID, &n.NotificationType, &n.SentAt, &n.CreatedAt)
	return n, err
}

func (s *Store) GetLatestNotificationOfType(ctx context.Context, deviceID uuid.UUID, t models.NotificationType) (models.Notification, error) {
	query := `SELECT ` + notificationColumns + `
		FROM notifications
		WHERE device_id = $1 AND notification_type = $2
		FOR UPDATE`
	n, err := scanNotification(s.q.QueryRow(ctx, query, deviceID, t))
	if err != nil {
		return models.Notification{}, notFound(err, "failed to get %s notification for device %s", t, deviceID)
	}
	return n, nil
}

// GetLatestConnectionNotification returns the most recently sent
// disconnect/reconnect notification of the device.
func (s *Store) GetLatestConnectionNotification(ctx context.Context, deviceID uuid.UUID) (models.Notification, error) {
	types := make([]string, len(models.ConnectionNotificationTypes))
	for i, t := range models.ConnectionNotificationTypes {
		types[i] = string(t)
	}
	query := `SELECT ` + notificationColumns + `
		FROM notifications
		WHERE device_id = $1 AND notification_type = ANY($2)
		ORDER BY sent_at DESC
		LIMIT 1`
	n, err := scanNotification(s.q.QueryRow(ctx, query, deviceID, types))
	if err != nil {
		return models.Notification{}, notFound(err, "failed to get connection notification for device %s", deviceID)
	}
	return n, nil
}

// UpsertNotification records that a notification of type t was sent. There
// is one row per (device, type); sending again moves sent_at forward.
func (s *Store) UpsertNotification(ctx context.Context, deviceID uuid.UUID, t models.NotificationType, sentAt time.Time) (models.Notification, error) {
	query := `
		INSERT INTO notifications (id, device_id, notification_type, sent_at, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (device_id, notification_type) DO UPDATE SET sent_at = EXCLUDED.sent_at
		RETURNING ` + notificationColumns
	n, err := scanNotification(s.q.QueryRow(ctx, query, uuid.New(), deviceID, t, sentAt))
	if err != nil {
		return models.Notification{}, fmt.Errorf("failed to record %s notification for device %s: %w", t, deviceID, err)
	}
	return n, nil
}
