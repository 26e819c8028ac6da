package services

import (
	"context"

	"github.com/google/uuid"

	"alert-service/internal/db"
	"alert-service/internal/messages"
	"alert-service/internal/models"
	"alert-service/internal/providers"
)

// Transactor runs a unit of work inside one database transaction.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context, repo db.Repository) error) error
}

// SMSSender fans a text out to several phone numbers.
type SMSSender interface {
	Send(ctx context.Context, from string, to []string, body string) (providers.SendResult, error)
}

// CardSender posts and updates interactive chat cards. Both calls return the
// provider's message id.
type CardSender interface {
	PostCard(ctx context.Context, target providers.CardTarget, card messages.Card) (string, error)
	UpdateCard(ctx context.Context, target providers.CardTarget, messageID string, card messages.Card) (string, error)
}

// DeviceController issues remote commands to a sensor.
type DeviceController interface {
	ResetMonitoring(ctx context.Context, device models.Device) error
	ResetStateToZero(ctx context.Context, device models.Device) error
}

// Publisher pushes live session updates to connected dashboards.
type Publisher interface {
	Publish(clientID uuid.UUID, payload any)
}

var (
	_ SMSSender        = (*providers.SMS)(nil)
	_ CardSender       = (*providers.Teams)(nil)
	_ CardSender       = (*providers.Telegram)(nil)
	_ DeviceController = (*providers.Particle)(nil)
	_ Publisher        = (*Hub)(nil)
)
