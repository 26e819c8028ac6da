package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"alert-service/internal/db"
	"alert-service/internal/messages"
	"alert-service/internal/metrics"
	"alert-service/internal/models"
	"alert-service/internal/scheduler"
)

const reminderStages = 3

// reminderSteps[stage] is the reminder sent at stage; reminderSteps[stage-1]
// is the step that must still be awaited for it to fire.
var reminderSteps = [reminderStages + 1]models.Step{
	models.StepStillnessAlert,
	models.StepStillnessFirstReminder,
	models.StepStillnessSecondReminder,
	models.StepStillnessThirdReminder,
}

func secondsToDuration(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}

// scheduleReminders queues the three stillness reminders once the alert is
// committed.
func (t *turn) scheduleReminders() {
	s, session, device := t.s, t.session, t.device
	if s.scheduler == nil {
		s.logger.Warnf("No scheduler configured, session %s gets no stillness reminders", session.ID)
		return
	}
	t.afterCommit(func(ctx context.Context) {
		for stage := 1; stage <= reminderStages; stage++ {
			task := scheduler.Task{
				Kind:      scheduler.KindStillnessReminder,
				SessionID: session.ID,
				DeviceID:  device.ID,
				Stage:     stage,
			}
			delay := time.Duration(stage) * s.config.Alerts.StillnessReminderInterval
			if err := s.scheduler.Schedule(ctx, task, delay); err != nil {
				s.logger.Errorf("Failed to schedule stillness reminder %d for session %s: %v", stage, session.ID, err)
			}
		}
	})
}

// scheduleSurvey queues the delayed stillness survey once the reply is
// committed.
func (t *turn) scheduleSurvey(delay time.Duration) {
	s, session, device := t.s, t.session, t.device
	if s.scheduler == nil {
		s.logger.Warnf("No scheduler configured, session %s gets no delayed survey", session.ID)
		return
	}
	t.afterCommit(func(ctx context.Context) {
		task := scheduler.Task{
			Kind:      scheduler.KindStillnessSurvey,
			SessionID: session.ID,
			DeviceID:  device.ID,
		}
		if err := s.scheduler.Schedule(ctx, task, delay); err != nil {
			s.logger.Errorf("Failed to schedule stillness survey for session %s: %v", session.ID, err)
		}
	})
}

// HandleTask runs a fired reminder or survey task. The session is re-read
// first and the task is dropped if the session moved on.
func (s *Service) HandleTask(ctx context.Context, task scheduler.Task) error {
	outcome := "cancelled"
	err := s.transact(ctx, func(ctx context.Context, t *turn) error {
		current, err := s.loadTaskSession(ctx, t, task)
		if err != nil || !current {
			return err
		}
		var sent bool
		switch task.Kind {
		case scheduler.KindStillnessReminder:
			sent, err = s.sendReminder(ctx, t, task.Stage)
		case scheduler.KindStillnessSurvey:
			sent, err = s.sendScheduledSurvey(ctx, t)
		default:
			return fmt.Errorf("%w: unknown task kind %q", ErrValidation, task.Kind)
		}
		if sent {
			outcome = "sent"
		}
		return err
	})
	if err != nil {
		outcome = "failed"
	}
	metrics.ScheduledTasks.WithLabelValues(string(task.Kind), outcome).Inc()
	if err == nil && outcome == "cancelled" {
		s.logger.Debugf("Task %s (%s) for session %s no longer applies", task.ID, task.Kind, task.SessionID)
	}
	return err
}

// loadTaskSession fills t and reports whether the task's session is still
// the device's latest and still waiting on the door to stay closed.
func (s *Service) loadTaskSession(ctx context.Context, t *turn, task scheduler.Task) (bool, error) {
	device, err := t.repo.GetDevice(ctx, task.DeviceID)
	if err != nil {
		return false, err
	}
	client, err := t.repo.GetClient(ctx, device.ClientID)
	if err != nil {
		return false, err
	}
	t.client, t.device = client, device

	latest, err := t.repo.GetLatestSession(ctx, device.ID)
	if errors.Is(err, db.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	t.session = latest
	return latest.ID == task.SessionID &&
		latest.Status == models.SessionActive &&
		!latest.DoorOpened &&
		!latest.SurveySent, nil
}

func (s *Service) sendReminder(ctx context.Context, t *turn, stage int) (bool, error) {
	if stage < 1 || stage > reminderStages {
		return false, fmt.Errorf("%w: reminder stage %d", ErrValidation, stage)
	}
	if t.session.IsResponded() {
		return false, nil
	}
	awaited, err := t.repo.GetLatestRespondableEvent(ctx, t.session.ID, "")
	if errors.Is(err, db.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if awaited.EventType != models.EventStillnessAlert || awaited.Detail != reminderSteps[stage-1].Key() {
		return false, nil
	}

	key := reminderSteps[stage].Key()
	if stage == 2 {
		if err := s.sendSecondReminder(ctx, t); err != nil {
			return false, err
		}
	} else if err := t.sendSMS(ctx, models.EventStillnessAlert, key, t.client.ResponderPhoneNumbers, messages.Vars{}); err != nil {
		return false, err
	}
	if err := t.postCard(ctx, models.EventStillnessAlert, key, messages.Vars{}, ""); err != nil {
		return false, err
	}
	s.logger.Infof("Sent stillness reminder %d for session %s", stage, t.session.ID)
	return true, nil
}

// sendSecondReminder sends the second reminder to the responders and the
// fallback alert to the fallback numbers at the same time.
func (s *Service) sendSecondReminder(ctx context.Context, t *turn) error {
	var reminded, fallback []string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		reminded, err = t.deliverSMS(gctx, reminderSteps[2].Key(), t.client.ResponderPhoneNumbers, messages.Vars{})
		return err
	})
	g.Go(func() error {
		var err error
		fallback, err = t.deliverSMS(gctx, "stillnessAlertFallback", t.client.FallbackPhoneNumbers, messages.Vars{})
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	if err := t.logSMS(ctx, models.EventStillnessAlert, reminderSteps[2].Key(), reminded); err != nil {
		return err
	}
	return t.logSMS(ctx, models.EventStillnessAlert, "stillnessAlertFallback", fallback)
}

func (s *Service) sendScheduledSurvey(ctx context.Context, t *turn) (bool, error) {
	if !t.session.IsResponded() {
		return false, nil
	}
	key := stillnessFlow.survey.Key()
	if t.session.RespondedVia == models.ChannelSMS {
		if err := t.sendSMS(ctx, models.EventMsgSent, key, []string{t.session.AttendingResponderNumber}, messages.Vars{}); err != nil {
			return false, err
		}
	} else if err := t.postCard(ctx, models.EventMsgSent, key, messages.Vars{}, ""); err != nil {
		return false, err
	}
	t.session.SurveySent = true
	if err := t.save(ctx); err != nil {
		return false, err
	}
	return true, nil
}
