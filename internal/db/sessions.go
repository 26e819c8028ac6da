package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"alert-service/internal/models"
)

const sessionColumns = `
	id, device_id, status, door_opened, survey_sent, responded_via,
	attending_responder_number, response_time, selected_survey_category, created_at, updated_at`

func scanSession(row pgx.Row) (models.Session, error) {
	var (
		s                               models.Session
		respondedVia, attending, survey pgtype.Text
		responseTime                    pgtype.Interval
	)
	err := row.Scan(
		&s.ID, &s.DeviceID, &s.Status, &s.DoorOpened, &s.SurveySent, &respondedVia,
		&attending, &responseTime, &survey, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return models.Session{}, err
	}
	s.RespondedVia = models.Channel(respondedVia.String)
	s.AttendingResponderNumber = attending.String
	s.SelectedSurveyCategory = survey.String
	if responseTime.Valid {
		s.ResponseTime = time.Duration(responseTime.Microseconds)*time.Microsecond +
			time.Duration(responseTime.Days)*24*time.Hour +
			time.Duration(responseTime.Months)*30*24*time.Hour
	}
	return s, nil
}

func text(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}

func (s *Store) CreateSession(ctx context.Context, deviceID uuid.UUID) (models.Session, error) {
	query := `
		INSERT INTO sessions (id, device_id, status, door_opened, survey_sent, created_at, updated_at)
		VALUES ($1, $2, $3, FALSE, FALSE, NOW(), NOW())
		RETURNING ` + sessionColumns
	session, err := scanSession(s.q.QueryRow(ctx, query, uuid.New(), deviceID, models.SessionActive))
	if err != nil {
		return models.Session{}, fmt.Errorf("failed to create session for device %s: %w", deviceID, err)
	}
	return session, nil
}

// GetSession locks and returns the session.
func (s *Store) GetSession(ctx context.Context, id uuid.UUID) (models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1 FOR UPDATE`
	session, err := scanSession(s.q.QueryRow(ctx, query, id))
	if err != nil {
		return models.Session{}, notFound(err, "failed to get session %s", id)
	}
	return session, nil
}

// GetLatestSession locks and returns the device's most recently created session.
func (s *Store) GetLatestSession(ctx context.Context, deviceID uuid.UUID) (models.Session, error) {
	query := `SELECT ` + sessionColumns + `
		FROM sessions
		WHERE device_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1
		FOR UPDATE`
	session, err := scanSession(s.q.QueryRow(ctx, query, deviceID))
	if err != nil {
		return models.Session{}, notFound(err, "failed to get latest session for device %s", deviceID)
	}
	return session, nil
}

// UpdateSession writes every mutable column of the session.
func (s *Store) UpdateSession(ctx context.Context, session models.Session) (models.Session, error) {
	var responseTime pgtype.Interval
	if session.ResponseTime > 0 {
		responseTime = pgtype.Interval{Microseconds: session.ResponseTime.Microseconds(), Valid: true}
	}
	query := `
		UPDATE sessions
		SET status = $2, door_opened = $3, survey_sent = $4, responded_via = $5,
			attending_responder_number = $6, response_time = $7, selected_survey_category = $8,
			updated_at = NOW()
		WHERE id = $1
		RETURNING ` + sessionColumns
	updated, err := scanSession(s.q.QueryRow(ctx, query,
		session.ID, session.Status, session.DoorOpened, session.SurveySent, text(string(session.RespondedVia)),
		text(session.AttendingResponderNumber), responseTime, text(session.SelectedSurveyCategory),
	))
	if err != nil {
		return models.Session{}, notFound(err, "failed to update session %s", session.ID)
	}
	return updated, nil
}

func (s *Store) ListSessionsByClient(ctx context.Context, clientID uuid.UUID, limit int) ([]models.Session, error) {
	query := `
		SELECT ` + prefixed("s", sessionColumns) + `
		FROM sessions s
		JOIN devices d ON d.id = s.device_id
		WHERE d.client_id = $1
		ORDER BY s.created_at DESC
		LIMIT $2`
	rows, err := s.q.Query(ctx, query, clientID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions for client %s: %w", clientID, err)
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}
	return sessions, nil
}
