package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"alert-service/internal/db"
	"alert-service/internal/messages"
	"alert-service/internal/metrics"
	"alert-service/internal/models"
)

// SMSResponse is an inbound text from a responder to a device's number.
type SMSResponse struct {
	From string
	To   string
	Body string
}

// CardResponse is a submission on a chat card.
type CardResponse struct {
	MessageID string
	Text      string
}

// HandleSMSResponse advances the session the responder's text answers.
func (s *Service) HandleSMSResponse(ctx context.Context, resp SMSResponse) error {
	if resp.From == "" || resp.To == "" {
		metrics.Responses.WithLabelValues("sms", "invalid").Inc()
		return fmt.Errorf("%w: sms response needs both From and To", ErrValidation)
	}
	err := s.transact(ctx, func(ctx context.Context, t *turn) error {
		t.in = inbound{channel: models.ChannelSMS, from: resp.From, body: strings.TrimSpace(resp.Body)}
		if err := s.resolveSMS(ctx, t, resp); err != nil {
			return err
		}
		if t.session.Status != models.SessionActive {
			_, err := t.deliverSMS(ctx, "noResponseExpected", []string{resp.From}, messages.Vars{})
			return err
		}

		event, err := t.repo.GetLatestRespondableEvent(ctx, t.session.ID, resp.From)
		if errors.Is(err, db.ErrNotFound) {
			return fmt.Errorf("%w: %s has no awaited step in session %s", ErrResolution, resp.From, t.session.ID)
		}
		if err != nil {
			return err
		}
		t.event = event
		return s.dispatch(ctx, t)
	})
	s.countResponse("sms", err)
	return err
}

func (s *Service) resolveSMS(ctx context.Context, t *turn, resp SMSResponse) error {
	clients, err := t.repo.GetClientsByResponderPhone(ctx, resp.From)
	if err != nil {
		return err
	}
	found := false
	for _, client := range clients {
		device, err := t.repo.GetDeviceByClientAndPhone(ctx, client.ID, resp.To)
		if errors.Is(err, db.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		t.client, t.device = client, device
		found = true
		break
	}
	if !found {
		return fmt.Errorf("%w: no device for responder %s and number %s", ErrResolution, resp.From, resp.To)
	}

	session, err := t.repo.GetLatestSession(ctx, t.device.ID)
	if errors.Is(err, db.ErrNotFound) {
		return fmt.Errorf("%w: no session on %s", ErrResolution, t.device.SerialNumber)
	}
	if err != nil {
		return err
	}
	t.session = session
	return nil
}

// HandleCardResponse advances the session owning the answered card.
func (s *Service) HandleCardResponse(ctx context.Context, resp CardResponse) error {
	if resp.MessageID == "" {
		metrics.Responses.WithLabelValues("card", "invalid").Inc()
		return fmt.Errorf("%w: card response needs a message id", ErrValidation)
	}
	err := s.transact(ctx, func(ctx context.Context, t *turn) error {
		t.in = inbound{channel: models.ChannelCard, messageID: resp.MessageID, body: strings.TrimSpace(resp.Text)}

		event, err := t.repo.GetCardEventByMessageID(ctx, resp.MessageID)
		if errors.Is(err, db.ErrNotFound) {
			return fmt.Errorf("%w: unknown card message %s", ErrResolution, resp.MessageID)
		}
		if err != nil {
			return err
		}
		if t.session, err = t.repo.GetSession(ctx, event.SessionID); err != nil {
			return err
		}
		if t.device, err = t.repo.GetDevice(ctx, t.session.DeviceID); err != nil {
			return err
		}
		if t.client, err = t.repo.GetClient(ctx, t.device.ClientID); err != nil {
			return err
		}
		t.event = event

		if t.session.Status != models.SessionActive {
			return t.updateCard(ctx, resp.MessageID, "noResponseExpected")
		}
		if t.session.RespondedVia == models.ChannelSMS {
			return s.dispatch(ctx, t)
		}

		open, err := t.repo.GetLatestOutboundCardEvent(ctx, t.session.ID)
		if err != nil && !errors.Is(err, db.ErrNotFound) {
			return err
		}
		if _, ok := open.Step(); !ok || open.MessageID != resp.MessageID {
			s.logger.Infof("Card %s is no longer open in session %s", resp.MessageID, t.session.ID)
			return t.updateCard(ctx, resp.MessageID, "noResponseExpected")
		}
		t.event = open
		return s.dispatch(ctx, t)
	})
	s.countResponse("card", err)
	return err
}

// dispatch applies the guards shared by both channels and hands the reply to
// the handler of the step it answers.
func (s *Service) dispatch(ctx context.Context, t *turn) error {
	if t.session.IsResponded() && t.session.RespondedVia != t.in.channel {
		return s.handleChannelCollision(ctx, t)
	}
	if t.in.channel == models.ChannelSMS && t.session.RespondedVia == models.ChannelSMS &&
		t.session.AttendingResponderNumber != "" && t.session.AttendingResponderNumber != t.in.from {
		return t.reply(ctx, models.StepNonAttendingConfirmation.Key(), messages.Vars{})
	}

	step, ok := t.event.Step()
	if !ok {
		return fmt.Errorf("%w: event %s carries no step", ErrResolution, t.event.ID)
	}
	s.logger.Debugf("Session %s: %s reply to %s", t.session.ID, t.in.channel, step)
	return stepHandlers[step](ctx, t)
}

// handleChannelCollision answers a reply on one channel after the other
// channel claimed the session.
func (s *Service) handleChannelCollision(ctx context.Context, t *turn) error {
	if err := t.recordReceived(ctx, t.in.body); err != nil {
		return err
	}
	if t.in.channel == models.ChannelSMS {
		return t.sendSMS(ctx, models.EventMsgSent, "respondedViaCard", []string{t.in.from}, messages.Vars{})
	}
	if err := t.updateCard(ctx, t.in.messageID, "respondedViaSMS"); err != nil {
		return err
	}
	return t.logEvent(ctx, models.Event{
		EventType: models.EventMsgSent,
		Detail:    "respondedViaSMS",
		Channel:   models.ChannelCard,
		MessageID: t.in.messageID,
	})
}

func (s *Service) countResponse(channel string, err error) {
	outcome := "processed"
	switch {
	case err == nil:
	case errors.Is(err, ErrValidation):
		outcome = "invalid"
	case errors.Is(err, ErrResolution):
		outcome = "unresolved"
	default:
		outcome = "failed"
	}
	metrics.Responses.WithLabelValues(channel, outcome).Inc()
}
