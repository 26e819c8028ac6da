package models

// Step identifies a conversational step that waits for a human reply. The
// declaration order is the priority used when two respondable events share
// the same sent timestamp: earlier steps are more specific.
type Step int

const (
	StepStillnessSurveyOccupantOkayFollowup Step = iota
	StepStillnessSurveyOtherFollowup
	StepStillnessSurveyDoorOpened
	StepStillnessSurvey
	StepStillnessFollowup
	StepStillnessThirdReminder
	StepStillnessSecondReminder
	StepStillnessFirstReminder
	StepStillnessAlert
	StepDurationSurveyOtherFollowup
	StepDurationSurveyOccupantOkayFollowup
	StepDurationSurveyDoorOpened
	StepDurationSurvey
	StepDurationAlert
	StepNonAttendingConfirmation

	NumSteps
)

var stepKeys = [NumSteps]string{
	StepStillnessSurveyOccupantOkayFollowup: "stillnessAlertSurveyOccupantOkayFollowup",
	StepStillnessSurveyOtherFollowup:        "stillnessAlertSurveyOtherFollowup",
	StepStillnessSurveyDoorOpened:           "stillnessAlertSurveyDoorOpened",
	StepStillnessSurvey:                     "stillnessAlertSurvey",
	StepStillnessFollowup:                   "stillnessAlertFollowup",
	StepStillnessThirdReminder:              "stillnessAlertThirdReminder",
	StepStillnessSecondReminder:             "stillnessAlertSecondReminder",
	StepStillnessFirstReminder:              "stillnessAlertFirstReminder",
	StepStillnessAlert:                      "stillnessAlert",
	StepDurationSurveyOtherFollowup:         "durationAlertSurveyOtherFollowup",
	StepDurationSurveyOccupantOkayFollowup:  "durationAlertSurveyOccupantOkayFollowup",
	StepDurationSurveyDoorOpened:            "durationAlertSurveyDoorOpened",
	StepDurationSurvey:                      "durationAlertSurvey",
	StepDurationAlert:                       "durationAlert",
	StepNonAttendingConfirmation:            "nonAttendingResponderConfirmation",
}

var stepsByKey = func() map[string]Step {
	m := make(map[string]Step, NumSteps)
	for s, k := range stepKeys {
		m[k] = Step(s)
	}
	return m
}()

// Key returns the message key for the step.
func (s Step) Key() string {
	if s < 0 || s >= NumSteps {
		return ""
	}
	return stepKeys[s]
}

func (s Step) String() string {
	return s.Key()
}

// Valid reports whether s is one of the declared steps.
func (s Step) Valid() bool {
	return s >= 0 && s < NumSteps
}

// ParseStep maps a message key back to its step.
func ParseStep(key string) (Step, bool) {
	s, ok := stepsByKey[key]
	return s, ok
}

// Steps returns every step in priority order.
func Steps() []Step {
	out := make([]Step, NumSteps)
	for i := range out {
		out[i] = Step(i)
	}
	return out
}

// StepKeys returns the message keys of every step in priority order.
func StepKeys() []string {
	return append([]string(nil), stepKeys[:]...)
}
