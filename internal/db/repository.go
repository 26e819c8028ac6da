package db

import (
	"context"
	"time"

	"github.com/google/uuid"

	"alert-service/internal/models"
)

// Repository is the persistence surface used by the orchestrator and the
// vitals notifier. Lookups that match nothing return an error wrapping
// ErrNotFound.
type Repository interface {
	GetClient(ctx context.Context, id uuid.UUID) (models.Client, error)
	GetClientsByResponderPhone(ctx context.Context, phone string) ([]models.Client, error)

	GetDevice(ctx context.Context, id uuid.UUID) (models.Device, error)
	GetDeviceBySerialNumber(ctx context.Context, serial string) (models.Device, error)
	GetDeviceByClientAndPhone(ctx context.Context, clientID uuid.UUID, phone string) (models.Device, error)
	ListVitalsDevices(ctx context.Context) ([]models.DeviceWithVitals, error)

	CreateSession(ctx context.Context, deviceID uuid.UUID) (models.Session, error)
	GetSession(ctx context.Context, id uuid.UUID) (models.Session, error)
	GetLatestSession(ctx context.Context, deviceID uuid.UUID) (models.Session, error)
	UpdateSession(ctx context.Context, s models.Session) (models.Session, error)
	ListSessionsByClient(ctx context.Context, clientID uuid.UUID, limit int) ([]models.Session, error)

	CreateEvent(ctx context.Context, e models.Event) (models.Event, error)
	// GetLatestRespondableEvent returns the session's most recent event
	// carrying a Step, newest first and then by Step priority. An empty
	// phone matches every recipient.
	GetLatestRespondableEvent(ctx context.Context, sessionID uuid.UUID, phone string) (models.Event, error)
	GetLatestOutboundCardEvent(ctx context.Context, sessionID uuid.UUID) (models.Event, error)
	GetCardEventByMessageID(ctx context.Context, messageID string) (models.Event, error)
	ListEvents(ctx context.Context, sessionID uuid.UUID) ([]models.Event, error)

	GetLatestVital(ctx context.Context, deviceID uuid.UUID) (models.Vital, error)
	CreateVital(ctx context.Context, v models.Vital) (models.Vital, error)

	GetLatestNotificationOfType(ctx context.Context, deviceID uuid.UUID, t models.NotificationType) (models.Notification, error)
	GetLatestConnectionNotification(ctx context.Context, deviceID uuid.UUID) (models.Notification, error)
	UpsertNotification(ctx context.Context, deviceID uuid.UUID, t models.NotificationType, sentAt time.Time) (models.Notification, error)
}

var _ Repository = (*Store)(nil)
