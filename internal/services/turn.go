package services

import (
	"context"
	"errors"
	"fmt"

	"alert-service/internal/db"
	"alert-service/internal/messages"
	"alert-service/internal/models"
	"alert-service/internal/providers"
)

// inbound is the reply being processed, if any.
type inbound struct {
	channel   models.Channel
	from      string
	messageID string
	body      string
}

// turn is the state of one transaction against a session: the resolved
// client, device and session, the event being answered, and the work to run
// once the transaction commits.
type turn struct {
	s       *Service
	repo    db.Repository
	client  models.Client
	device  models.Device
	session models.Session
	event   models.Event
	in      inbound
	hooks   []func(ctx context.Context)
	changed bool
}

func (t *turn) afterCommit(fn func(ctx context.Context)) {
	t.hooks = append(t.hooks, fn)
}

func (t *turn) save(ctx context.Context) error {
	updated, err := t.repo.UpdateSession(ctx, t.session)
	if err != nil {
		return err
	}
	t.session = updated
	t.changed = true
	return nil
}

func (t *turn) logEvent(ctx context.Context, e models.Event) error {
	e.SessionID = t.session.ID
	_, err := t.repo.CreateEvent(ctx, e)
	return err
}

// deliverSMS sends key to every number in to from the device's number and
// returns the numbers that were reached.
func (t *turn) deliverSMS(ctx context.Context, key string, to []string, vars messages.Vars) ([]string, error) {
	if len(to) == 0 {
		return nil, nil
	}
	body, err := t.s.translator.Text(key, t.client, t.device, vars)
	if err != nil {
		return nil, err
	}
	res, err := t.s.sms.Send(ctx, t.device.PhoneNumber, to, body)
	if err != nil {
		return nil, fmt.Errorf("%w: sms %s: %v", ErrChannel, key, err)
	}
	return res.Delivered, nil
}

func (t *turn) logSMS(ctx context.Context, eventType models.EventType, key string, delivered []string) error {
	if len(delivered) == 0 {
		return nil
	}
	return t.logEvent(ctx, models.Event{
		EventType:    eventType,
		Detail:       key,
		Channel:      models.ChannelSMS,
		PhoneNumbers: delivered,
	})
}

func (t *turn) sendSMS(ctx context.Context, eventType models.EventType, key string, to []string, vars messages.Vars) error {
	delivered, err := t.deliverSMS(ctx, key, to, vars)
	if err != nil {
		return err
	}
	return t.logSMS(ctx, eventType, key, delivered)
}

func (t *turn) cardsEnabled() bool {
	return t.s.cards != nil && t.client.HasCardChannel()
}

func (t *turn) cardTarget() providers.CardTarget {
	return providers.CardTarget{TeamID: t.client.CardTeamID, ChannelID: t.client.CardAlertChannelID}
}

// postCard posts the card for key after expiring the session's open card.
// A non-empty header replaces the card's own.
func (t *turn) postCard(ctx context.Context, eventType models.EventType, key string, vars messages.Vars, header string) error {
	if !t.cardsEnabled() {
		return nil
	}
	if err := t.expireOpenCard(ctx, "cardExpired"); err != nil {
		return err
	}
	card, err := t.s.translator.Card(key, t.client, t.device, vars)
	if err != nil {
		return err
	}
	if header != "" {
		card.Header = header
	}
	messageID, err := t.s.cards.PostCard(ctx, t.cardTarget(), card)
	if err != nil {
		return fmt.Errorf("%w: card %s: %v", ErrChannel, key, err)
	}
	return t.logEvent(ctx, models.Event{
		EventType: eventType,
		Detail:    key,
		Channel:   models.ChannelCard,
		MessageID: messageID,
	})
}

// expireOpenCard replaces the session's open card, if any, with the card
// for key so it no longer offers a reply.
func (t *turn) expireOpenCard(ctx context.Context, key string) error {
	if !t.cardsEnabled() {
		return nil
	}
	open, err := t.repo.GetLatestOutboundCardEvent(ctx, t.session.ID)
	if errors.Is(err, db.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if _, ok := open.Step(); !ok {
		return nil
	}
	if err := t.updateCard(ctx, open.MessageID, key); err != nil {
		return err
	}
	return t.logEvent(ctx, models.Event{
		EventType: models.EventMsgSent,
		Detail:    key,
		Channel:   models.ChannelCard,
		MessageID: open.MessageID,
	})
}

func (t *turn) updateCard(ctx context.Context, messageID, key string) error {
	if t.s.cards == nil {
		return nil
	}
	card, err := t.s.translator.Card(key, t.client, t.device, messages.Vars{})
	if err != nil {
		return err
	}
	if _, err := t.s.cards.UpdateCard(ctx, t.cardTarget(), messageID, card); err != nil {
		return fmt.Errorf("%w: card update %s: %v", ErrChannel, key, err)
	}
	return nil
}

// reply answers the responder on the channel the reply arrived on.
func (t *turn) reply(ctx context.Context, key string, vars messages.Vars) error {
	if t.in.channel == models.ChannelSMS {
		return t.sendSMS(ctx, models.EventMsgSent, key, []string{t.in.from}, vars)
	}
	return t.postCard(ctx, models.EventMsgSent, key, vars, "")
}

// replyInvalid asks the responder to try again. On the card channel the
// answered card is posted again under an error header so it stays
// answerable.
func (t *turn) replyInvalid(ctx context.Context) error {
	if t.in.channel == models.ChannelSMS {
		return t.sendSMS(ctx, models.EventMsgSent, "invalidResponseTryAgain", []string{t.in.from}, messages.Vars{})
	}
	header, err := t.s.translator.Text("invalidResponseTryAgain", t.client, t.device, messages.Vars{})
	if err != nil {
		return err
	}
	return t.postCard(ctx, models.EventMsgSent, t.event.Detail, messages.Vars{}, header)
}

// recordReceived logs the inbound reply against the session.
func (t *turn) recordReceived(ctx context.Context, detail string) error {
	e := models.Event{
		EventType: models.EventMsgReceived,
		Detail:    detail,
		Channel:   t.in.channel,
	}
	if t.in.channel == models.ChannelSMS {
		e.PhoneNumbers = []string{t.in.from}
	} else {
		e.MessageID = t.in.messageID
	}
	return t.logEvent(ctx, e)
}

// markResponded claims the session for the inbound channel and tells the
// other side. The session is saved by the caller.
func (t *turn) markResponded(ctx context.Context) error {
	if t.session.IsResponded() {
		return nil
	}
	t.session.RespondedVia = t.in.channel
	t.session.ResponseTime = t.s.now().Sub(t.session.CreatedAt)

	if t.in.channel == models.ChannelSMS {
		t.session.AttendingResponderNumber = t.in.from
		others := without(t.client.ResponderPhoneNumbers, t.in.from)
		if err := t.sendSMS(ctx, models.EventMsgSent, "nonAttendingResponderConfirmation", others, messages.Vars{}); err != nil {
			return err
		}
		return t.expireOpenCard(ctx, "respondedViaSMS")
	}
	return t.sendSMS(ctx, models.EventMsgSent, "respondedViaCard", t.client.ResponderPhoneNumbers, messages.Vars{})
}

func (t *turn) resetMonitoring(ctx context.Context) error {
	if t.s.devices == nil {
		t.s.logger.Warnf("No device controller configured, skipping Reset_Monitoring on %s", t.device.SerialNumber)
		return nil
	}
	if err := t.s.devices.ResetMonitoring(ctx, t.device); err != nil {
		return fmt.Errorf("%w: reset monitoring on %s: %v", ErrChannel, t.device.SerialNumber, err)
	}
	return nil
}

func (t *turn) resetStateToZero(ctx context.Context) error {
	if t.s.devices == nil {
		t.s.logger.Warnf("No device controller configured, skipping Reset_State_To_Zero on %s", t.device.SerialNumber)
		return nil
	}
	if err := t.s.devices.ResetStateToZero(ctx, t.device); err != nil {
		return fmt.Errorf("%w: reset state on %s: %v", ErrChannel, t.device.SerialNumber, err)
	}
	return nil
}

func (t *turn) invariant(format string, args ...any) error {
	err := fmt.Errorf("%w: "+format, append([]any{ErrInvariant}, args...)...)
	t.s.logger.WithFields(map[string]any{
		"session_id":    t.session.ID,
		"device":        t.device.SerialNumber,
		"status":        t.session.Status,
		"door_opened":   t.session.DoorOpened,
		"survey_sent":   t.session.SurveySent,
		"responded_via": t.session.RespondedVia,
		"event":         t.event.Detail,
	}).Error(err)
	return err
}

func without(numbers []string, number string) []string {
	out := make([]string, 0, len(numbers))
	for _, n := range numbers {
		if n != number {
			out = append(out, n)
		}
	}
	return out
}
