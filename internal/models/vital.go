package models

import (
	"time"

	"github.com/google/uuid"
)

// Vital is one persisted heartbeat of a device.
type Vital struct {
	ID                       uuid.UUID `json:"id"`
	DeviceID                 uuid.UUID `json:"device_id"`
	DeviceLastResetReason    string    `json:"device_last_reset_reason"`
	DoorLastSeenAt           time.Time `json:"door_last_seen_at"`
	DoorLowBattery           bool      `json:"door_low_battery"`
	DoorTampered             bool      `json:"door_tampered"`
	DoorMissedCount          int       `json:"door_missed_count"`
	ConsecutiveOpenDoorCount int       `json:"consecutive_open_door_count"`
	CreatedAt                time.Time `json:"created_at"`
}

// DeviceWithVitals joins a device with its client and latest vital for the
// connection sweep. LatestVital is nil when the device never reported.
type DeviceWithVitals struct {
	Device      Device
	Client      Client
	LatestVital *Vital
}
