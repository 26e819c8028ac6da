package models

import (
	"time"

	"github.com/google/uuid"
)

// Client is an alerting tenant. SurveyCategories order defines the numeric
// index shown in SMS survey prompts.
type Client struct {
	ID                           uuid.UUID `json:"id"`
	DisplayName                  string    `json:"display_name"`
	Language                     string    `json:"language"`
	ResponderPhoneNumbers        []string  `json:"responder_phone_numbers"`
	FallbackPhoneNumbers         []string  `json:"fallback_phone_numbers"`
	VitalsTwilioNumber           string    `json:"vitals_twilio_number"`
	VitalsPhoneNumbers           []string  `json:"vitals_phone_numbers"`
	SurveyCategories             []string  `json:"survey_categories"`
	CardTeamID                   string    `json:"card_team_id,omitempty"`
	CardAlertChannelID           string    `json:"card_alert_channel_id,omitempty"`
	CardVitalChannelID           string    `json:"card_vital_channel_id,omitempty"`
	DevicesSendingAlerts         bool      `json:"devices_sending_alerts"`
	DevicesSendingVitals         bool      `json:"devices_sending_vitals"`
	StillnessSurveyFollowupDelay int       `json:"stillness_survey_followup_delay"`
	CreatedAt                    time.Time `json:"created_at"`
	UpdatedAt                    time.Time `json:"updated_at"`
}

// HasCardChannel reports whether alert cards should be posted for this client.
func (c Client) HasCardChannel() bool {
	return c.CardAlertChannelID != ""
}

// LanguageOrDefault returns the client's language, "en" when unset.
func (c Client) LanguageOrDefault() string {
	if c.Language == "" {
		return "en"
	}
	return c.Language
}
