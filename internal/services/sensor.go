package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"alert-service/internal/db"
	"alert-service/internal/messages"
	"alert-service/internal/metrics"
	"alert-service/internal/models"
)

// HandleSensorEvent applies a Duration Alert, Stillness Alert or Door Opened
// event to the device's session.
func (s *Service) HandleSensorEvent(ctx context.Context, ev models.SensorEvent) error {
	data, err := s.validateSensorEvent(ev)
	if err != nil {
		metrics.SensorEvents.WithLabelValues(string(ev.Event), "invalid").Inc()
		return err
	}

	outcome := "processed"
	err = s.transact(ctx, func(ctx context.Context, t *turn) error {
		device, err := t.repo.GetDeviceBySerialNumber(ctx, ev.CoreID)
		if errors.Is(err, db.ErrNotFound) {
			return fmt.Errorf("%w: no device with serial number %s", ErrResolution, ev.CoreID)
		}
		if err != nil {
			return err
		}
		client, err := t.repo.GetClient(ctx, device.ClientID)
		if err != nil {
			return err
		}
		t.client, t.device = client, device

		if !client.DevicesSendingAlerts || !device.IsSendingAlerts {
			s.logger.Infof("Alerts disabled for device %s, ignoring %q", device.SerialNumber, ev.Event)
			outcome = "disabled"
			return nil
		}
		return s.applySensorEvent(ctx, t, ev.Event, data)
	})
	if err != nil {
		metrics.SensorEvents.WithLabelValues(string(ev.Event), "failed").Inc()
		return err
	}
	metrics.SensorEvents.WithLabelValues(string(ev.Event), outcome).Inc()
	return nil
}

func (s *Service) validateSensorEvent(ev models.SensorEvent) (models.AlertData, error) {
	var data models.AlertData
	if ev.APIKey != s.config.Sensors.WebhookAPIKey {
		return data, fmt.Errorf("%w: invalid api key from %s", ErrValidation, ev.CoreID)
	}
	switch ev.Event {
	case models.SensorDurationAlert, models.SensorStillnessAlert, models.SensorDoorOpened:
	default:
		return data, fmt.Errorf("%w: unsupported event %q", ErrValidation, ev.Event)
	}
	if ev.CoreID == "" {
		return data, fmt.Errorf("%w: missing coreid", ErrValidation)
	}
	if err := json.Unmarshal([]byte(ev.Data), &data); err != nil {
		return data, fmt.Errorf("%w: malformed event data: %v", ErrValidation, err)
	}
	if data.AlertSentFromState == nil || data.NumDurationAlertsSent == nil ||
		data.NumStillnessAlertsSent == nil || data.OccupancyDuration == nil {
		return data, fmt.Errorf("%w: event data is missing required fields", ErrValidation)
	}
	if *data.NumStillnessAlertsSent > 1 {
		return data, fmt.Errorf("%w: numStillnessAlertsSent is %d", ErrValidation, *data.NumStillnessAlertsSent)
	}
	return data, nil
}

func (s *Service) applySensorEvent(ctx context.Context, t *turn, kind models.SensorEventKind, data models.AlertData) error {
	latest, err := t.repo.GetLatestSession(ctx, t.device.ID)
	if errors.Is(err, db.ErrNotFound) {
		return s.startSession(ctx, t, kind, data)
	}
	if err != nil {
		return err
	}
	t.session = latest

	switch {
	case latest.Status == models.SessionActive && latest.DoorOpened:
		if kind == models.SensorDoorOpened {
			return nil
		}
		// one ACTIVE session per device: retire the old one first
		t.session.Status = models.SessionStale
		if err := t.save(ctx); err != nil {
			return err
		}
		s.logger.Infof("Session %s on %s marked stale", latest.ID, t.device.SerialNumber)
		return s.startSession(ctx, t, kind, data)
	case latest.Status != models.SessionActive:
		return s.startSession(ctx, t, kind, data)
	case kind == models.SensorDoorOpened:
		return s.handleDoorOpened(ctx, t)
	default:
		return s.realert(ctx, t, kind, data)
	}
}

func flowFor(kind models.SensorEventKind) alertFlow {
	if kind == models.SensorStillnessAlert {
		return stillnessFlow
	}
	return durationFlow
}

func (s *Service) startSession(ctx context.Context, t *turn, kind models.SensorEventKind, data models.AlertData) error {
	if kind == models.SensorDoorOpened {
		s.logger.Debugf("Door opened on %s without an active session", t.device.SerialNumber)
		return nil
	}
	session, err := t.repo.CreateSession(ctx, t.device.ID)
	if err != nil {
		return err
	}
	t.session = session
	t.changed = true
	s.logger.Infof("Session %s started on %s by %q", session.ID, t.device.SerialNumber, kind)
	return s.alertResponders(ctx, t, flowFor(kind), data)
}

// realert repeats the alert on a session nobody has answered yet.
func (s *Service) realert(ctx context.Context, t *turn, kind models.SensorEventKind, data models.AlertData) error {
	if t.session.IsResponded() || t.session.SurveySent {
		s.logger.Infof("Session %s on %s already answered, ignoring %q", t.session.ID, t.device.SerialNumber, kind)
		return nil
	}
	return s.alertResponders(ctx, t, flowFor(kind), data)
}

func (s *Service) alertResponders(ctx context.Context, t *turn, f alertFlow, data models.AlertData) error {
	vars := messages.Vars{OccupancyDuration: *data.OccupancyDuration}
	key := f.alert.Key()
	if err := t.sendSMS(ctx, f.eventType, key, t.client.ResponderPhoneNumbers, vars); err != nil {
		return err
	}
	if err := t.postCard(ctx, f.eventType, key, vars, ""); err != nil {
		return err
	}
	if f.eventType == models.EventStillnessAlert {
		t.scheduleReminders()
	}
	return nil
}

// handleDoorOpened records the door opening and, when the alert is still
// unanswered or the stillness survey is pending, sends the door-opened
// survey.
func (s *Service) handleDoorOpened(ctx context.Context, t *turn) error {
	var step models.Step
	found := false

	latest, err := t.repo.GetLatestRespondableEvent(ctx, t.session.ID, "")
	switch {
	case errors.Is(err, db.ErrNotFound):
	case err != nil:
		return err
	case latest.EventType == models.EventDurationAlert:
		step, found = durationFlow.doorOpenedSurvey, true
	case latest.EventType == models.EventStillnessAlert:
		step, found = stillnessFlow.doorOpenedSurvey, true
	case latest.EventType == models.EventMsgSent && latest.Detail == models.StepStillnessFollowup.Key():
		step, found = stillnessFlow.doorOpenedSurvey, true
	}

	t.session.DoorOpened = true
	if found {
		t.event = latest
		if t.session.SurveySent {
			return t.invariant("door-opened survey requested but the survey was already sent")
		}
		if err := s.sendDoorOpenedSurvey(ctx, t, step); err != nil {
			return err
		}
		t.session.SurveySent = true
	}
	return t.save(ctx)
}

func (s *Service) sendDoorOpenedSurvey(ctx context.Context, t *turn, step models.Step) error {
	key := step.Key()
	if t.session.RespondedVia != models.ChannelCard {
		to := t.client.ResponderPhoneNumbers
		if t.session.AttendingResponderNumber != "" {
			to = []string{t.session.AttendingResponderNumber}
		}
		if err := t.sendSMS(ctx, models.EventDoorOpened, key, to, messages.Vars{}); err != nil {
			return err
		}
	}
	if t.session.RespondedVia != models.ChannelSMS {
		return t.postCard(ctx, models.EventDoorOpened, key, messages.Vars{}, "")
	}
	return nil
}
