package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type NotificationType string

const (
	NotificationDeviceDisconnected         NotificationType = "DEVICE_DISCONNECTED"
	NotificationDeviceDisconnectedReminder NotificationType = "DEVICE_DISCONNECTED_REMINDER"
	NotificationDoorDisconnected           NotificationType = "DOOR_DISCONNECTED"
	NotificationDoorDisconnectedReminder   NotificationType = "DOOR_DISCONNECTED_REMINDER"
	NotificationDeviceReconnected          NotificationType = "DEVICE_RECONNECTED"
	NotificationDoorReconnected            NotificationType = "DOOR_RECONNECTED"
	NotificationDoorLowBattery             NotificationType = "DOOR_LOW_BATTERY"
	NotificationDoorTampered               NotificationType = "DOOR_TAMPERED"
	NotificationDoorInactivity             NotificationType = "DOOR_INACTIVITY"
)

// ConnectionNotificationTypes take part in the disconnect/reconnect cycle.
var ConnectionNotificationTypes = []NotificationType{
	NotificationDeviceDisconnected,
	NotificationDeviceDisconnectedReminder,
	NotificationDoorDisconnected,
	NotificationDoorDisconnectedReminder,
	NotificationDeviceReconnected,
	NotificationDoorReconnected,
}

// IsDisconnection reports whether t records an outstanding disconnection.
func (t NotificationType) IsDisconnection() bool {
	return strings.Contains(string(t), "DISCONNECTED")
}

// Notification is the dedup record of a vitals notification for one device
// and notification type.
type Notification struct {
	ID               uuid.UUID        `json:"id"`
	DeviceID         uuid.UUID        `json:"device_id"`
	NotificationType NotificationType `json:"notification_type"`
	SentAt           time.Time        `json:"sent_at"`
	CreatedAt        time.Time        `json:"created_at"`
}
