package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type SessionStatus string

const (
	SessionActive    SessionStatus = "ACTIVE"
	SessionStale     SessionStatus = "STALE"
	SessionCompleted SessionStatus = "COMPLETED"
)

// Session is one alert conversation for a device.
type Session struct {
	ID                       uuid.UUID     `json:"id"`
	DeviceID                 uuid.UUID     `json:"device_id"`
	Status                   SessionStatus `json:"status"`
	DoorOpened               bool          `json:"door_opened"`
	SurveySent               bool          `json:"survey_sent"`
	RespondedVia             Channel       `json:"responded_via,omitempty"`
	AttendingResponderNumber string        `json:"attending_responder_number,omitempty"`
	ResponseTime             time.Duration `json:"-"`
	SelectedSurveyCategory   string        `json:"selected_survey_category,omitempty"`
	CreatedAt                time.Time     `json:"created_at"`
	UpdatedAt                time.Time     `json:"updated_at"`
}

// IsResponded reports whether some channel has claimed the session.
func (s Session) IsResponded() bool {
	return s.RespondedVia != ""
}

func (s Session) MarshalJSON() ([]byte, error) {
	type Alias Session
	return json.Marshal(&struct {
		ResponseTimeSeconds float64 `json:"response_time_seconds,omitempty"`
		Alias
	}{
		ResponseTimeSeconds: s.ResponseTime.Seconds(),
		Alias:               Alias(s),
	})
}

// SessionWithEvents is the read model served by the sessions API.
type SessionWithEvents struct {
	Session Session `json:"session"`
	Events  []Event `json:"events"`
}
