package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"alert-service/internal/models"
)

const vitalColumns = `id, device_id, device_last_reset_reason, door_last_seen_at, door_low_battery,
	door_tampered, door_missed_count, consecutive_open_door_count, created_at`

func (s *Store) GetLatestVital(ctx context.Context, deviceID uuid.UUID) (models.Vital, error) {
	query := `SELECT ` + vitalColumns + `
		FROM vitals
		WHERE device_id = $1
		ORDER BY created_at DESC
		LIMIT 1`
	var v models.Vital
	err := s.q.QueryRow(ctx, query, deviceID).Scan(
		&v.ID, &v.DeviceID, &v.DeviceLastResetReason, &v.DoorLastSeenAt, &v.DoorLowBattery,
		&v.DoorTampered, &v.DoorMissedCount, &v.ConsecutiveOpenDoorCount, &v.CreatedAt,
	)
	if err != nil {
		return models.Vital{}, notFound(err, "failed to get latest vital for device %s", deviceID)
	}
	return v, nil
}

func (s *Store) CreateVital(ctx context.Context, v models.Vital) (models.Vital, error) {
	query := `
		INSERT INTO vitals (id, device_id, device_last_reset_reason, door_last_seen_at, door_low_battery,
			door_tampered, door_missed_count, consecutive_open_door_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		RETURNING created_at`
	v.ID = uuid.New()
	err := s.q.QueryRow(ctx, query,
		v.ID, v.DeviceID, v.DeviceLastResetReason, v.DoorLastSeenAt, v.DoorLowBattery,
		v.DoorTampered, v.DoorMissedCount, v.ConsecutiveOpenDoorCount,
	).Scan(&v.CreatedAt)
	if err != nil {
		return models.Vital{}, fmt.Errorf("failed to create vital for device %s: %w", v.DeviceID, err)
	}
	return v, nil
}

// nullableVital scans the LEFT JOINed latest vital of ListVitalsDevices.
type nullableVital struct {
	ID              pgtype.UUID
	ResetReason     pgtype.Text
	DoorLastSeenAt  pgtype.Timestamptz
	DoorLowBattery  pgtype.Bool
	DoorTampered    pgtype.Bool
	DoorMissedCount pgtype.Int4
	OpenDoorCount   pgtype.Int4
	CreatedAt       pgtype.Timestamptz
}

func (n nullableVital) toModel(deviceID uuid.UUID) *models.Vital {
	if !n.ID.Valid {
		return nil
	}
	return &models.Vital{
		ID:                       uuid.UUID(n.ID.Bytes),
		DeviceID:                 deviceID,
		DeviceLastResetReason:    n.ResetReason.String,
		DoorLastSeenAt:           n.DoorLastSeenAt.Time,
		DoorLowBattery:           n.DoorLowBattery.Bool,
		DoorTampered:             n.DoorTampered.Bool,
		DoorMissedCount:          int(n.DoorMissedCount.Int32),
		ConsecutiveOpenDoorCount: int(n.OpenDoorCount.Int32),
		CreatedAt:                n.CreatedAt.Time,
	}
}
