package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"alert-service/internal/models"
)

const deviceColumns = `
	d.id, d.client_id, d.location_id, d.display_name, d.device_type, d.serial_number,
	d.phone_number, d.is_sending_alerts, d.is_sending_vitals, d.created_at, d.updated_at`

func scanDevice(row pgx.Row) (models.Device, error) {
	var d models.Device
	err := row.Scan(
		&d.ID, &d.ClientID, &d.LocationID, &d.DisplayName, &d.DeviceType, &d.SerialNumber,
		&d.PhoneNumber, &d.IsSendingAlerts, &d.IsSendingVitals, &d.CreatedAt, &d.UpdatedAt,
	)
	return d, err
}

func (s *Store) GetDevice(ctx context.Context, id uuid.UUID) (models.Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices d WHERE d.id = $1`
	d, err := scanDevice(s.q.QueryRow(ctx, query, id))
	if err != nil {
		return models.Device{}, notFound(err, "failed to get device %s", id)
	}
	return d, nil
}

func (s *Store) GetDeviceBySerialNumber(ctx context.Context, serial string) (models.Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices d WHERE d.serial_number = $1`
	d, err := scanDevice(s.q.QueryRow(ctx, query, serial))
	if err != nil {
		return models.Device{}, notFound(err, "failed to get device with serial number %s", serial)
	}
	return d, nil
}

func (s *Store) GetDeviceByClientAndPhone(ctx context.Context, clientID uuid.UUID, phone string) (models.Device, error) {
	query := `SELECT ` + deviceColumns + `
		FROM devices d
		WHERE d.client_id = $1 AND d.phone_number = $2
		ORDER BY d.display_name, d.id
		LIMIT 1`
	d, err := scanDevice(s.q.QueryRow(ctx, query, clientID, phone))
	if err != nil {
		return models.Device{}, notFound(err, "failed to get device of client %s with number %s", clientID, phone)
	}
	return d, nil
}

// ListVitalsDevices returns every vitals-enabled device of a vitals-enabled
// client together with its latest vital, in one query.
func (s *Store) ListVitalsDevices(ctx context.Context) ([]models.DeviceWithVitals, error) {
	query := `SELECT ` + deviceColumns + `, ` + clientColumns + `,
			v.id, v.device_last_reset_reason, v.door_last_seen_at, v.door_low_battery,
			v.door_tampered, v.door_missed_count, v.consecutive_open_door_count, v.created_at
		FROM devices d
		JOIN clients c ON c.id = d.client_id
		LEFT JOIN LATERAL (
			SELECT * FROM vitals WHERE vitals.device_id = d.id ORDER BY created_at DESC LIMIT 1
		) v ON TRUE
		WHERE d.is_sending_vitals AND c.devices_sending_vitals
		ORDER BY d.id`
	rows, err := s.q.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query vitals devices: %w", err)
	}
	defer rows.Close()

	var out []models.DeviceWithVitals
	for rows.Next() {
		var (
			dv    models.DeviceWithVitals
			d     = &dv.Device
			c     = &dv.Client
			vital nullableVital
		)
		err := rows.Scan(
			&d.ID, &d.ClientID, &d.LocationID, &d.DisplayName, &d.DeviceType, &d.SerialNumber,
			&d.PhoneNumber, &d.IsSendingAlerts, &d.IsSendingVitals, &d.CreatedAt, &d.UpdatedAt,
			&c.ID, &c.DisplayName, &c.Language, &c.ResponderPhoneNumbers, &c.FallbackPhoneNumbers,
			&c.VitalsTwilioNumber, &c.VitalsPhoneNumbers, &c.SurveyCategories,
			&c.CardTeamID, &c.CardAlertChannelID, &c.CardVitalChannelID,
			&c.DevicesSendingAlerts, &c.DevicesSendingVitals, &c.StillnessSurveyFollowupDelay,
			&c.CreatedAt, &c.UpdatedAt,
			&vital.ID, &vital.ResetReason, &vital.DoorLastSeenAt, &vital.DoorLowBattery,
			&vital.DoorTampered, &vital.DoorMissedCount, &vital.OpenDoorCount, &vital.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan vitals device: %w", err)
		}
		dv.LatestVital = vital.toModel(d.ID)
		out = append(out, dv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate vitals devices: %w", err)
	}
	return out, nil
}
