package vitals

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"alert-service/internal/db"
	"alert-service/internal/models"
)

type disconnection struct {
	initialKey   string
	initialType  models.NotificationType
	reminderKey  string
	reminderType models.NotificationType
}

var (
	deviceDisconnection = disconnection{
		initialKey:   "deviceDisconnectedInitial",
		initialType:  models.NotificationDeviceDisconnected,
		reminderKey:  "deviceDisconnectedReminder",
		reminderType: models.NotificationDeviceDisconnectedReminder,
	}
	doorDisconnection = disconnection{
		initialKey:   "doorDisconnectedInitial",
		initialType:  models.NotificationDoorDisconnected,
		reminderKey:  "doorDisconnectedReminder",
		reminderType: models.NotificationDoorDisconnectedReminder,
	}
)

// Sweep checks every vitals-enabled device for a lost or restored
// connection. Devices are checked concurrently, each in its own
// transaction; a failing device is logged and does not stop the others.
func (n *Notifier) Sweep(ctx context.Context) error {
	devices, err := n.store.Store().ListVitalsDevices(ctx)
	if err != nil {
		return fmt.Errorf("failed to list vitals devices: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	limit := n.config.Vitals.Concurrency
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)
	for _, entry := range devices {
		if entry.LatestVital == nil {
			continue
		}
		entry := entry
		g.Go(func() error {
			err := n.store.InDeviceTx(ctx, func(ctx context.Context, repo db.Repository) error {
				return n.checkConnection(ctx, repo, entry.Client, entry.Device)
			})
			if err != nil {
				n.logger.Errorf("Connection check for %s failed: %v", entry.Device.SerialNumber, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (n *Notifier) checkConnection(ctx context.Context, repo db.Repository, client models.Client, device models.Device) error {
	now := n.now()
	vital, err := repo.GetLatestVital(ctx, device.ID)
	if errors.Is(err, db.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	var (
		last    models.Notification
		hasLast bool
	)
	last, err = repo.GetLatestConnectionNotification(ctx, device.ID)
	switch {
	case errors.Is(err, db.ErrNotFound):
	case err != nil:
		return err
	default:
		hasLast = true
	}

	var lost *disconnection
	switch {
	case now.Sub(vital.CreatedAt) > n.config.Vitals.DeviceDisconnectionThreshold:
		lost = &deviceDisconnection
	case now.Sub(vital.DoorLastSeenAt) > n.config.Vitals.DoorDisconnectionThreshold:
		lost = &doorDisconnection
	}

	if lost != nil {
		// a disconnection after a reconnection starts a new cycle
		if !hasLast || !last.NotificationType.IsDisconnection() {
			return n.notify(ctx, repo, client, device, lost.initialKey, lost.initialType, now)
		}
		if now.Sub(last.SentAt) > n.config.Vitals.DisconnectionReminderThreshold {
			return n.notify(ctx, repo, client, device, lost.reminderKey, lost.reminderType, now)
		}
		return nil
	}

	if hasLast && last.NotificationType.IsDisconnection() {
		t := models.NotificationDeviceReconnected
		if last.NotificationType == models.NotificationDoorDisconnected || last.NotificationType == models.NotificationDoorDisconnectedReminder {
			t = models.NotificationDoorReconnected
		}
		return n.notify(ctx, repo, client, device, "deviceReconnected", t, now)
	}
	return nil
}
