package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"alert-service/internal/models"
)

const clientColumns = `
	c.id, c.display_name, c.language, c.responder_phone_numbers, c.fallback_phone_numbers,
	c.vitals_twilio_number, c.vitals_phone_numbers, c.survey_categories,
	COALESCE(c.card_team_id, ''), COALESCE(c.card_alert_channel_id, ''), COALESCE(c.card_vital_channel_id, ''),
	c.devices_sending_alerts, c.devices_sending_vitals, c.stillness_survey_followup_delay,
	c.created_at, c.updated_at`

func scanClient(row pgx.Row) (models.Client, error) {
	var c models.Client
	err := row.Scan(
		&c.ID, &c.DisplayName, &c.Language, &c.ResponderPhoneNumbers, &c.FallbackPhoneNumbers,
		&c.VitalsTwilioNumber, &c.VitalsPhoneNumbers, &c.SurveyCategories,
		&c.CardTeamID, &c.CardAlertChannelID, &c.CardVitalChannelID,
		&c.DevicesSendingAlerts, &c.DevicesSendingVitals, &c.StillnessSurveyFollowupDelay,
		&c.CreatedAt, &c.UpdatedAt,
	)
	return c, err
}

func (s *Store) GetClient(ctx context.Context, id uuid.UUID) (models.Client, error) {
	query := `SELECT ` + clientColumns + ` FROM clients c WHERE c.id = $1`
	c, err := scanClient(s.q.QueryRow(ctx, query, id))
	if err != nil {
		return models.Client{}, notFound(err, "failed to get client %s", id)
	}
	return c, nil
}

// GetClientsByResponderPhone returns every client listing phone as a
// responder, ordered by display name so resolution is deterministic.
func (s *Store) GetClientsByResponderPhone(ctx context.Context, phone string) ([]models.Client, error) {
	query := `SELECT ` + clientColumns + `
		FROM clients c
		WHERE $1 = ANY(c.responder_phone_numbers)
		ORDER BY c.display_name, c.id`
	rows, err := s.q.Query(ctx, query, phone)
	if err != nil {
		return nil, fmt.Errorf("failed to query clients for responder %s: %w", phone, err)
	}
	defer rows.Close()

	var clients []models.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan client: %w", err)
		}
		clients = append(clients, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate clients: %w", err)
	}
	return clients, nil
}
