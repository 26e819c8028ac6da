package models

import "encoding/json"

type SensorEventKind string

const (
	SensorDurationAlert  SensorEventKind = "Duration Alert"
	SensorStillnessAlert SensorEventKind = "Stillness Alert"
	SensorDoorOpened     SensorEventKind = "Door Opened"
	SensorHeartbeat      SensorEventKind = "Heartbeat"
)

// SensorEvent is the webhook payload posted by the sensor cloud for alerts
// and heartbeats. Data is a JSON document encoded as a string.
type SensorEvent struct {
	Event  SensorEventKind `json:"event" binding:"required"`
	Data   string          `json:"data" binding:"required"`
	CoreID string          `json:"coreid" binding:"required"`
	APIKey string          `json:"api_key" binding:"required"`
}

// AlertData is the decoded Data of an alert event.
type AlertData struct {
	AlertSentFromState     *int `json:"alertSentFromState"`
	NumDurationAlertsSent  *int `json:"numDurationAlertsSent"`
	NumStillnessAlertsSent *int `json:"numStillnessAlertsSent"`
	OccupancyDuration      *int `json:"occupancyDuration"`
}

// HeartbeatData is the decoded Data of a heartbeat. A value of -1 means the
// door sensor did not report and the previous vital carries over.
type HeartbeatData struct {
	DoorLastMessage                   int64           `json:"doorLastMessage"`
	DoorLowBattery                    json.RawMessage `json:"doorLowBattery"`
	DoorTampered                      json.RawMessage `json:"doorTampered"`
	IsINSZero                         bool            `json:"isINSZero"`
	ConsecutiveOpenDoorHeartbeatCount int             `json:"consecutiveOpenDoorHeartbeatCount"`
	DoorMissedCount                   int             `json:"doorMissedCount"`
	DoorMissedFrequently              bool            `json:"doorMissedFrequently"`
	ResetReason                       string          `json:"resetReason"`
}
