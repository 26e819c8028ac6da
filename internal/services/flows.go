package services

import (
	"context"
	"math"
	"strconv"
	"strings"

	"alert-service/internal/messages"
	"alert-service/internal/models"
)

// alertFlow names the steps of one alert kind's conversation.
type alertFlow struct {
	eventType        models.EventType
	alert            models.Step
	survey           models.Step
	doorOpenedSurvey models.Step
	okayFollowup     models.Step
	otherFollowup    models.Step
	okayEnd          string
}

var (
	durationFlow = alertFlow{
		eventType:        models.EventDurationAlert,
		alert:            models.StepDurationAlert,
		survey:           models.StepDurationSurvey,
		doorOpenedSurvey: models.StepDurationSurveyDoorOpened,
		okayFollowup:     models.StepDurationSurveyOccupantOkayFollowup,
		otherFollowup:    models.StepDurationSurveyOtherFollowup,
		okayEnd:          "durationAlertSurveyOccupantOkayEnd",
	}
	stillnessFlow = alertFlow{
		eventType:        models.EventStillnessAlert,
		alert:            models.StepStillnessAlert,
		survey:           models.StepStillnessSurvey,
		doorOpenedSurvey: models.StepStillnessSurveyDoorOpened,
		okayFollowup:     models.StepStillnessSurveyOccupantOkayFollowup,
		otherFollowup:    models.StepStillnessSurveyOtherFollowup,
		okayEnd:          "stillnessAlertSurveyOccupantOkayEnd",
	}
)

const (
	categoryOccupantOkay = "Occupant Okay"
	categoryOther        = "Other"
	categoryReportIssue  = "Report technical issue"
)

type surveyEffect int

const (
	// effectNone leaves the session as is; a followup is pending.
	effectNone surveyEffect = iota
	// effectResumeMonitoring releases the session back to monitoring.
	effectResumeMonitoring
	// effectComplete completes the session.
	effectComplete
	// effectCompleteAndReset resets the sensor and completes the session.
	effectCompleteAndReset
)

type surveyOutcome struct {
	next   string
	effect surveyEffect
}

// surveyOutcomes returns the reply and state change for each survey
// category, keyed by whether the door was already open.
func (f alertFlow) surveyOutcomes(doorOpened bool) map[string]surveyOutcome {
	if doorOpened {
		return map[string]surveyOutcome{
			"Overdose Event":     {next: "thankYou", effect: effectComplete},
			"Emergency Event":    {next: "thankYou", effect: effectComplete},
			"Medical Event":      {next: "thankYou", effect: effectComplete},
			"Security Event":     {next: "thankYou", effect: effectComplete},
			"Space Empty":        {next: "thankYou", effect: effectComplete},
			categoryOccupantOkay: {next: "thankYou", effect: effectComplete},
			categoryOther:        {next: f.otherFollowup.Key(), effect: effectNone},
			categoryReportIssue:  {next: "reportIssue", effect: effectComplete},
		}
	}
	return map[string]surveyOutcome{
		"Overdose Event":     {next: "thankYou", effect: effectCompleteAndReset},
		"Emergency Event":    {next: "thankYou", effect: effectCompleteAndReset},
		"Medical Event":      {next: "thankYou", effect: effectCompleteAndReset},
		"Security Event":     {next: "thankYou", effect: effectCompleteAndReset},
		"Space Empty":        {next: "thankYou", effect: effectCompleteAndReset},
		categoryOccupantOkay: {next: f.okayFollowup.Key(), effect: effectResumeMonitoring},
		categoryOther:        {next: f.otherFollowup.Key(), effect: effectNone},
		categoryReportIssue:  {next: "reportIssue", effect: effectComplete},
	}
}

type stepHandler func(ctx context.Context, t *turn) error

// stepHandlers dispatches a reply by the step it answers. Every step has an
// entry; the table test guards against gaps.
var stepHandlers = [models.NumSteps]stepHandler{
	models.StepDurationAlert:                       handleDurationAlertReply,
	models.StepDurationSurvey:                      surveyHandler(durationFlow),
	models.StepDurationSurveyDoorOpened:            doorOpenedSurveyHandler(durationFlow),
	models.StepDurationSurveyOccupantOkayFollowup:  occupantOkayFollowupHandler(durationFlow),
	models.StepDurationSurveyOtherFollowup:         otherFollowupHandler(durationFlow),
	models.StepStillnessAlert:                      handleStillnessAlertReply,
	models.StepStillnessFirstReminder:              handleStillnessAlertReply,
	models.StepStillnessSecondReminder:             handleStillnessAlertReply,
	models.StepStillnessThirdReminder:              handleStillnessAlertReply,
	models.StepStillnessFollowup:                   handleStillnessFollowupReply,
	models.StepStillnessSurvey:                     surveyHandler(stillnessFlow),
	models.StepStillnessSurveyDoorOpened:           doorOpenedSurveyHandler(stillnessFlow),
	models.StepStillnessSurveyOccupantOkayFollowup: occupantOkayFollowupHandler(stillnessFlow),
	models.StepStillnessSurveyOtherFollowup:        otherFollowupHandler(stillnessFlow),
	models.StepNonAttendingConfirmation:            handleNonAttendingReply,
}

func handleDurationAlertReply(ctx context.Context, t *turn) error {
	if t.session.DoorOpened {
		return t.invariant("reply to %s after the door opened", t.event.Detail)
	}
	if err := t.recordReceived(ctx, t.event.Detail); err != nil {
		return err
	}
	if err := t.markResponded(ctx); err != nil {
		return err
	}
	if err := t.reply(ctx, durationFlow.survey.Key(), messages.Vars{}); err != nil {
		return err
	}
	t.session.SurveySent = true
	return t.save(ctx)
}

// handleStillnessAlertReply answers the stillness alert and its reminders.
// Clients with a followup delay get an acknowledgement now and the survey
// later; the others get the survey at once.
func handleStillnessAlertReply(ctx context.Context, t *turn) error {
	if t.session.DoorOpened {
		return t.invariant("reply to %s after the door opened", t.event.Detail)
	}
	if err := t.recordReceived(ctx, t.event.Detail); err != nil {
		return err
	}
	if err := t.markResponded(ctx); err != nil {
		return err
	}

	delay := t.client.StillnessSurveyFollowupDelay
	if delay > 0 {
		minutes := int(math.Ceil(float64(delay) / 60))
		if err := t.reply(ctx, models.StepStillnessFollowup.Key(), messages.Vars{StillnessAlertFollowupTimer: minutes}); err != nil {
			return err
		}
		t.scheduleSurvey(secondsToDuration(delay))
		return t.save(ctx)
	}

	if err := t.reply(ctx, stillnessFlow.survey.Key(), messages.Vars{}); err != nil {
		return err
	}
	t.session.SurveySent = true
	return t.save(ctx)
}

// handleStillnessFollowupReply sends the survey early when the responder
// answers the acknowledgement before the timer fires.
func handleStillnessFollowupReply(ctx context.Context, t *turn) error {
	if t.session.DoorOpened {
		return t.invariant("reply to %s after the door opened", t.event.Detail)
	}
	if t.session.SurveySent {
		return t.invariant("reply to %s after the survey was sent", t.event.Detail)
	}
	if err := t.recordReceived(ctx, t.event.Detail); err != nil {
		return err
	}
	if err := t.reply(ctx, stillnessFlow.survey.Key(), messages.Vars{}); err != nil {
		return err
	}
	t.session.SurveySent = true
	return t.save(ctx)
}

// surveyHandler answers the survey sent after a reply to the alert. The door
// may have opened since, in which case the sensor is left alone.
func surveyHandler(f alertFlow) stepHandler {
	return func(ctx context.Context, t *turn) error {
		category, ok := t.selectedCategory()
		if !ok {
			return t.replyInvalid(ctx)
		}
		outcome, ok := f.surveyOutcomes(t.session.DoorOpened)[category]
		if !ok {
			return t.replyInvalid(ctx)
		}

		if err := t.recordReceived(ctx, t.event.Detail); err != nil {
			return err
		}
		if err := t.reply(ctx, outcome.next, messages.Vars{}); err != nil {
			return err
		}
		t.session.SelectedSurveyCategory = category

		switch outcome.effect {
		case effectResumeMonitoring:
			if err := t.resetMonitoring(ctx); err != nil {
				return err
			}
			t.session.RespondedVia = ""
			t.session.AttendingResponderNumber = ""
			t.session.SurveySent = false
		case effectComplete:
			t.session.Status = models.SessionCompleted
		case effectCompleteAndReset:
			if err := t.resetStateToZero(ctx); err != nil {
				return err
			}
			t.session.Status = models.SessionCompleted
			t.session.DoorOpened = true
		}
		return t.save(ctx)
	}
}

func doorOpenedSurveyHandler(f alertFlow) stepHandler {
	return func(ctx context.Context, t *turn) error {
		if !t.session.DoorOpened {
			return t.invariant("reply to %s while the door is closed", t.event.Detail)
		}
		category, ok := t.selectedCategory()
		if !ok {
			return t.replyInvalid(ctx)
		}
		outcome, ok := f.surveyOutcomes(true)[category]
		if !ok {
			return t.replyInvalid(ctx)
		}

		if err := t.recordReceived(ctx, t.event.Detail); err != nil {
			return err
		}
		if err := t.markResponded(ctx); err != nil {
			return err
		}
		if err := t.reply(ctx, outcome.next, messages.Vars{}); err != nil {
			return err
		}
		t.session.SelectedSurveyCategory = category
		if outcome.effect == effectComplete {
			t.session.Status = models.SessionCompleted
		}
		return t.save(ctx)
	}
}

func occupantOkayFollowupHandler(f alertFlow) stepHandler {
	return func(ctx context.Context, t *turn) error {
		if t.in.channel == models.ChannelSMS && strings.TrimSpace(t.in.body) != "1" {
			return t.replyInvalid(ctx)
		}
		if err := t.recordReceived(ctx, t.event.Detail); err != nil {
			return err
		}
		if err := t.reply(ctx, f.okayEnd, messages.Vars{}); err != nil {
			return err
		}
		return t.closeAfterFollowup(ctx)
	}
}

func otherFollowupHandler(f alertFlow) stepHandler {
	return func(ctx context.Context, t *turn) error {
		text := strings.TrimSpace(t.in.body)
		if text == "" {
			return t.replyInvalid(ctx)
		}
		if err := t.recordReceived(ctx, t.event.Detail+": "+text); err != nil {
			return err
		}
		if err := t.reply(ctx, "thankYou", messages.Vars{}); err != nil {
			return err
		}
		return t.closeAfterFollowup(ctx)
	}
}

func handleNonAttendingReply(ctx context.Context, t *turn) error {
	return t.reply(ctx, models.StepNonAttendingConfirmation.Key(), messages.Vars{})
}

// closeAfterFollowup completes the session once a survey followup was
// answered, resetting the sensor if the door never opened.
func (t *turn) closeAfterFollowup(ctx context.Context) error {
	if !t.session.DoorOpened {
		if err := t.resetStateToZero(ctx); err != nil {
			return err
		}
	}
	t.session.Status = models.SessionCompleted
	t.session.DoorOpened = true
	t.session.SurveySent = true
	return t.save(ctx)
}

// selectedCategory maps the reply to one of the client's survey categories:
// a zero-based index over SMS, the option text on a card.
func (t *turn) selectedCategory() (string, bool) {
	body := strings.TrimSpace(t.in.body)
	categories := t.client.SurveyCategories
	if t.in.channel == models.ChannelSMS {
		idx, err := strconv.Atoi(body)
		if err != nil || idx < 0 || idx >= len(categories) {
			return "", false
		}
		return categories[idx], true
	}
	for _, category := range categories {
		if category == body {
			return category, true
		}
	}
	return "", false
}
