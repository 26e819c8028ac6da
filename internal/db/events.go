package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"alert-service/internal/models"
)

const eventColumns = `id, session_id, event_type, event_type_details, channel, phone_numbers, message_id, event_sent_at`

func scanEvent(row pgx.Row) (models.Event, error) {
	var (
		e         models.Event
		messageID pgtype.Text
	)
	if err := row.Scan(&e.ID, &e.SessionID, &e.EventType, &e.Detail, &e.Channel, &e.PhoneNumbers, &messageID, &e.SentAt); err != nil {
		return models.Event{}, err
	}
	e.MessageID = messageID.String
	return e, nil
}

// CreateEvent appends an event. event_sent_at is the transaction timestamp,
// so events written by one handler share it and seq keeps their order.
func (s *Store) CreateEvent(ctx context.Context, e models.Event) (models.Event, error) {
	if e.PhoneNumbers == nil {
		e.PhoneNumbers = []string{}
	}
	query := `
		INSERT INTO events (id, session_id, event_type, event_type_details, channel, phone_numbers, message_id, event_sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		RETURNING ` + eventColumns
	created, err := scanEvent(s.q.QueryRow(ctx, query,
		uuid.New(), e.SessionID, e.EventType, e.Detail, e.Channel, e.PhoneNumbers, text(e.MessageID),
	))
	if err != nil {
		return models.Event{}, fmt.Errorf("failed to create %s event for session %s: %w", e.EventType, e.SessionID, err)
	}
	return created, nil
}

func (s *Store) GetLatestRespondableEvent(ctx context.Context, sessionID uuid.UUID, phone string) (models.Event, error) {
	query := `SELECT ` + eventColumns + `
		FROM events
		WHERE session_id = $1
			AND event_type = ANY($2)
			AND event_type_details = ANY($3)
			AND ($4 = '' OR $4 = ANY(phone_numbers))
		ORDER BY event_sent_at DESC, array_position($3::text[], event_type_details), seq DESC
		LIMIT 1
		FOR UPDATE`
	e, err := scanEvent(s.q.QueryRow(ctx, query,
		sessionID, eventTypes(models.RespondableEventTypes), models.StepKeys(), phone,
	))
	if err != nil {
		return models.Event{}, notFound(err, "failed to get latest respondable event for session %s", sessionID)
	}
	return e, nil
}

// GetLatestOutboundCardEvent returns the last card the session posted or
// updated. The card is still open when its Detail is a Step.
func (s *Store) GetLatestOutboundCardEvent(ctx context.Context, sessionID uuid.UUID) (models.Event, error) {
	query := `SELECT ` + eventColumns + `
		FROM events
		WHERE session_id = $1 AND channel = $2 AND event_type <> $3 AND message_id IS NOT NULL
		ORDER BY event_sent_at DESC, seq DESC
		LIMIT 1`
	e, err := scanEvent(s.q.QueryRow(ctx, query, sessionID, models.ChannelCard, models.EventMsgReceived))
	if err != nil {
		return models.Event{}, notFound(err, "failed to get latest card event for session %s", sessionID)
	}
	return e, nil
}

// GetCardEventByMessageID returns the latest outbound event recorded against
// a card message identifier.
func (s *Store) GetCardEventByMessageID(ctx context.Context, messageID string) (models.Event, error) {
	query := `SELECT ` + eventColumns + `
		FROM events
		WHERE message_id = $1 AND event_type <> $2
		ORDER BY event_sent_at DESC, seq DESC
		LIMIT 1`
	e, err := scanEvent(s.q.QueryRow(ctx, query, messageID, models.EventMsgReceived))
	if err != nil {
		return models.Event{}, notFound(err, "failed to get event for card message %s", messageID)
	}
	return e, nil
}

func (s *Store) ListEvents(ctx context.Context, sessionID uuid.UUID) ([]models.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE session_id = $1 ORDER BY event_sent_at, seq`
	rows, err := s.q.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events for session %s: %w", sessionID, err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}
	return events, nil
}

func eventTypes(types []models.EventType) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}
