package vitals

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"alert-service/internal/db"
	"alert-service/internal/models"
)

// HandleHeartbeat stores a device heartbeat and sends the door battery,
// tamper and inactivity notifications it calls for.
func (n *Notifier) HandleHeartbeat(ctx context.Context, ev models.SensorEvent) error {
	if ev.APIKey != n.config.Sensors.WebhookAPIKey {
		return fmt.Errorf("%w: invalid api key from %s", ErrValidation, ev.CoreID)
	}
	if ev.Event != models.SensorHeartbeat {
		return fmt.Errorf("%w: unsupported event %q", ErrValidation, ev.Event)
	}
	var data models.HeartbeatData
	if err := json.Unmarshal([]byte(ev.Data), &data); err != nil {
		return fmt.Errorf("%w: malformed heartbeat data: %v", ErrValidation, err)
	}

	return n.store.InDeviceTx(ctx, func(ctx context.Context, repo db.Repository) error {
		device, err := repo.GetDeviceBySerialNumber(ctx, ev.CoreID)
		if errors.Is(err, db.ErrNotFound) {
			return fmt.Errorf("%w: no device with serial number %s", ErrResolution, ev.CoreID)
		}
		if err != nil {
			return err
		}
		client, err := repo.GetClient(ctx, device.ClientID)
		if err != nil {
			return err
		}
		if !client.DevicesSendingVitals || !device.IsSendingVitals {
			n.logger.Debugf("Vitals disabled for %s, ignoring heartbeat", device.SerialNumber)
			return nil
		}
		return n.recordHeartbeat(ctx, repo, client, device, data)
	})
}

func (n *Notifier) recordHeartbeat(ctx context.Context, repo db.Repository, client models.Client, device models.Device, data models.HeartbeatData) error {
	now := n.now()

	var prev *models.Vital
	latest, err := repo.GetLatestVital(ctx, device.ID)
	switch {
	case errors.Is(err, db.ErrNotFound):
	case err != nil:
		return err
	default:
		prev = &latest
	}

	vital := models.Vital{
		DeviceID:                 device.ID,
		DeviceLastResetReason:    data.ResetReason,
		DoorMissedCount:          data.DoorMissedCount,
		ConsecutiveOpenDoorCount: data.ConsecutiveOpenDoorHeartbeatCount,
	}
	lowBattery, lowBatteryKnown, err := flag(data.DoorLowBattery)
	if err != nil {
		return fmt.Errorf("%w: doorLowBattery: %v", ErrValidation, err)
	}
	tampered, tamperedKnown, err := flag(data.DoorTampered)
	if err != nil {
		return fmt.Errorf("%w: doorTampered: %v", ErrValidation, err)
	}
	if data.DoorLastMessage == -1 || !lowBatteryKnown || !tamperedKnown {
		// the door sensor did not report; keep what the last heartbeat knew
		vital.DoorLastSeenAt = now
		if prev != nil {
			vital.DoorLastSeenAt = prev.DoorLastSeenAt
			vital.DoorLowBattery = prev.DoorLowBattery
			vital.DoorTampered = prev.DoorTampered
		}
	} else {
		vital.DoorLastSeenAt = now.Add(-time.Duration(data.DoorLastMessage) * time.Millisecond)
		vital.DoorLowBattery = lowBattery
		vital.DoorTampered = tampered
	}

	if vital.DoorLowBattery {
		if err := n.checkLowBattery(ctx, repo, client, device, now); err != nil {
			return err
		}
	}

	wasTampered := prev != nil && prev.DoorTampered
	if vital.DoorTampered != wasTampered {
		key, t := "doorTamperResolved", models.NotificationType("")
		if vital.DoorTampered {
			key, t = "doorTampered", models.NotificationDoorTampered
		}
		if err := n.notify(ctx, repo, client, device, key, t, now); err != nil {
			return err
		}
	}

	if n.inactive(data.ConsecutiveOpenDoorHeartbeatCount) {
		if err := n.notify(ctx, repo, client, device, "doorInactivity", models.NotificationDoorInactivity, now); err != nil {
			return err
		}
	}

	if _, err := repo.CreateVital(ctx, vital); err != nil {
		return err
	}

	if data.IsINSZero {
		n.logger.Warnf("INS sensor of %s reports zero", device.SerialNumber)
	}
	if data.DoorMissedFrequently {
		n.logger.Warnf("Door sensor of %s misses heartbeats frequently (missed %d)", device.SerialNumber, data.DoorMissedCount)
	}
	return nil
}

func (n *Notifier) checkLowBattery(ctx context.Context, repo db.Repository, client models.Client, device models.Device, now time.Time) error {
	last, err := repo.GetLatestNotificationOfType(ctx, device.ID, models.NotificationDoorLowBattery)
	switch {
	case errors.Is(err, db.ErrNotFound):
	case err != nil:
		return err
	case now.Sub(last.SentAt) <= n.config.Vitals.LowBatteryTimeout:
		return nil
	}
	return n.notify(ctx, repo, client, device, "doorLowBattery", models.NotificationDoorLowBattery, now)
}

// inactive reports whether an open-door streak of count heartbeats reached
// the threshold or one of its follow-up points.
func (n *Notifier) inactive(count int) bool {
	threshold := n.config.Vitals.OpenDoorHeartbeatThreshold
	followUp := n.config.Vitals.OpenDoorFollowUp
	if threshold <= 0 || count < threshold {
		return false
	}
	if followUp <= 0 {
		return count == threshold
	}
	return (count-threshold)%followUp == 0
}

// flag decodes a door flag that is either a boolean or -1 for "no report".
func flag(raw json.RawMessage) (value bool, known bool, err error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("-1")) {
		return false, false, nil
	}
	if err := json.Unmarshal(raw, &value); err != nil {
		var n int
		if json.Unmarshal(raw, &n) != nil || (n != 0 && n != 1) {
			return false, false, fmt.Errorf("unexpected value %s", raw)
		}
		return n == 1, true, nil
	}
	return value, true, nil
}
