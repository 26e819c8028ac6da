package models

import (
	"time"

	"github.com/google/uuid"
)

// Device is a sensor/door unit owned by one Client.
type Device struct {
	ID              uuid.UUID `json:"id"`
	ClientID        uuid.UUID `json:"client_id"`
	LocationID      string    `json:"location_id"`
	DisplayName     string    `json:"display_name"`
	DeviceType      string    `json:"device_type"`
	SerialNumber    string    `json:"serial_number"`
	PhoneNumber     string    `json:"phone_number"`
	IsSendingAlerts bool      `json:"is_sending_alerts"`
	IsSendingVitals bool      `json:"is_sending_vitals"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
