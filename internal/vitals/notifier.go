// Package vitals tracks sensor heartbeats and tells a client's staff when a
// device or its door sensor disconnects, reconnects or needs attention.
package vitals

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"alert-service/internal/config"
	"alert-service/internal/db"
	"alert-service/internal/logging"
	"alert-service/internal/messages"
	"alert-service/internal/metrics"
	"alert-service/internal/models"
	"alert-service/internal/providers"
	"alert-service/internal/utils"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrResolution = errors.New("resolution failed")
)

// Store is the persistence used by the notifier. Each device is handled in
// its own transaction.
type Store interface {
	InDeviceTx(ctx context.Context, fn func(ctx context.Context, repo db.Repository) error) error
	Store() db.Repository
}

type SMSSender interface {
	Send(ctx context.Context, from string, to []string, body string) (providers.SendResult, error)
}

type CardSender interface {
	PostCard(ctx context.Context, target providers.CardTarget, card messages.Card) (string, error)
}

// Notifier processes heartbeats and periodically sweeps devices for lost
// connections.
type Notifier struct {
	store      Store
	sms        SMSSender
	cards      CardSender
	translator *messages.Translator
	logger     *logging.Logger
	config     config.Config
	now        func() time.Time
}

// New constructs a Notifier. cards may be nil.
func New(store Store, sms SMSSender, cards CardSender, translator *messages.Translator, logger *logging.Logger, cfg config.Config) *Notifier {
	return &Notifier{
		store:      store,
		sms:        sms,
		cards:      cards,
		translator: translator,
		logger:     logger,
		config:     cfg,
		now:        time.Now,
	}
}

// Start runs Sweep every CheckInterval until ctx is cancelled.
func (n *Notifier) Start(ctx context.Context, wg *sync.WaitGroup) {
	interval := n.config.Vitals.CheckInterval
	if interval <= 0 {
		n.logger.Warn("Vitals check interval is not positive, connection sweep disabled")
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				n.logger.Info("Vitals sweep stopped")
				return
			case <-ticker.C:
				if err := n.Sweep(ctx); err != nil {
					n.logger.Errorf("Vitals sweep failed: %v", err)
				}
			}
		}
	}()
}

// notify sends the vitals message key for device to the client's vitals
// recipients and, when t is set, records the notification. Outside the
// configured send window nothing is sent or recorded.
func (n *Notifier) notify(ctx context.Context, repo db.Repository, client models.Client, device models.Device, key string, t models.NotificationType, now time.Time) error {
	label := string(t)
	if label == "" {
		label = key
	}
	within, err := utils.WithinTimeWindow(now, n.config.Vitals.SendWindowStart, n.config.Vitals.SendWindowEnd)
	if err != nil {
		return err
	}
	if !within {
		n.logger.Infof("Suppressed %s for %s outside the vitals window", key, device.SerialNumber)
		metrics.VitalsNotifications.WithLabelValues(label, "false").Inc()
		return nil
	}

	if len(client.VitalsPhoneNumbers) > 0 {
		body, err := n.translator.Text(key, client, device, messages.Vars{})
		if err != nil {
			return err
		}
		if _, err := n.sms.Send(ctx, client.VitalsTwilioNumber, recipients(client), body); err != nil {
			return fmt.Errorf("failed to send %s for %s: %w", key, device.SerialNumber, err)
		}
	}
	if n.cards != nil && client.CardVitalChannelID != "" {
		card, err := n.translator.Card(key, client, device, messages.Vars{})
		if err != nil {
			return err
		}
		target := providers.CardTarget{TeamID: client.CardTeamID, ChannelID: client.CardVitalChannelID}
		if _, err := n.cards.PostCard(ctx, target, card); err != nil {
			return fmt.Errorf("failed to post %s card for %s: %w", key, device.SerialNumber, err)
		}
	}

	if t != "" {
		if _, err := repo.UpsertNotification(ctx, device.ID, t, now); err != nil {
			return err
		}
	}
	metrics.VitalsNotifications.WithLabelValues(label, "true").Inc()
	n.logger.Infof("Sent %s for %s", key, device.SerialNumber)
	return nil
}

// recipients merges the vitals and responder numbers, vitals first.
func recipients(client models.Client) []string {
	out := slices.Clone(client.VitalsPhoneNumbers)
	for _, number := range client.ResponderPhoneNumbers {
		if !slices.Contains(out, number) {
			out = append(out, number)
		}
	}
	return out
}
