package messages

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"

	"alert-service/internal/models"
)

//go:embed catalog/*.json
var catalogFS embed.FS

var defaultLanguage = language.English

// Vars carries the per-message values that are not derived from the client
// or the device.
type Vars struct {
	OccupancyDuration           int
	StillnessAlertFollowupTimer int
}

// params is the data every template is executed against.
type params struct {
	DeviceDisplayName           string
	ClientDisplayName           string
	SurveyCategoriesForMessage  string
	OccupancyDuration           int
	StillnessAlertFollowupTimer int
}

type cardOptions int

const (
	optionsNone cardOptions = iota
	optionsOnMyWay
	optionsConfirm
	optionsSurveyCategories
)

// cardButtons lists the buttons of each card that offers any.
var cardButtons = map[string]cardOptions{
	"durationAlert":                            optionsOnMyWay,
	"stillnessAlert":                           optionsOnMyWay,
	"stillnessAlertFirstReminder":              optionsOnMyWay,
	"stillnessAlertSecondReminder":             optionsOnMyWay,
	"stillnessAlertThirdReminder":              optionsOnMyWay,
	"durationAlertSurvey":                      optionsSurveyCategories,
	"stillnessAlertSurvey":                     optionsSurveyCategories,
	"durationAlertSurveyDoorOpened":            optionsSurveyCategories,
	"stillnessAlertSurveyDoorOpened":           optionsSurveyCategories,
	"durationAlertSurveyOccupantOkayFollowup":  optionsConfirm,
	"stillnessAlertSurveyOccupantOkayFollowup": optionsConfirm,
}

// Translator renders message keys into localized SMS text and cards. Message
// files live in catalog/<lang>.json; a message missing from a language falls
// back to English.
type Translator struct {
	bundle *i18n.Bundle
}

// NewTranslator loads the embedded catalogs.
func NewTranslator() (*Translator, error) {
	bundle := i18n.NewBundle(defaultLanguage)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	entries, err := catalogFS.ReadDir("catalog")
	if err != nil {
		return nil, fmt.Errorf("failed to read message catalogs: %w", err)
	}
	for _, e := range entries {
		if _, err := bundle.LoadMessageFileFS(catalogFS, path.Join("catalog", e.Name())); err != nil {
			return nil, fmt.Errorf("failed to load catalog %s: %w", e.Name(), err)
		}
	}
	t := &Translator{bundle: bundle}
	if _, found, _ := localize(i18n.NewLocalizer(bundle, defaultLanguage.String()), "thankYou", nil); !found {
		return nil, fmt.Errorf("missing %s message catalog", defaultLanguage)
	}
	return t, nil
}

// Text renders the SMS body for key.
func (t *Translator) Text(key string, client models.Client, device models.Device, vars Vars) (string, error) {
	loc := t.localizer(client)
	body, found, err := localize(loc, key, t.params(loc, client, device, vars))
	if err != nil {
		return "", fmt.Errorf("failed to render message %q: %w", key, err)
	}
	if !found {
		return "", fmt.Errorf("unknown message key %q", key)
	}
	return body, nil
}

// Card renders the chat card for key. Keys without a card definition become
// a plain card carrying the SMS text.
func (t *Translator) Card(key string, client models.Client, device models.Device, vars Vars) (Card, error) {
	loc := t.localizer(client)
	p := t.params(loc, client, device, vars)

	prefix := "card." + key + "."
	body, found, err := localize(loc, prefix+"body", p)
	if err != nil {
		return Card{}, fmt.Errorf("failed to render card %q: %w", key, err)
	}
	if !found {
		text, err := t.Text(key, client, device, vars)
		if err != nil {
			return Card{}, err
		}
		return Card{Title: device.DisplayName, Body: text}, nil
	}

	card := Card{Body: body}
	for _, part := range []struct {
		name string
		dst  *string
	}{
		{"header", &card.Header},
		{"title", &card.Title},
		{"input", &card.InputPlaceholder},
	} {
		text, _, err := localize(loc, prefix+part.name, p)
		if err != nil {
			return Card{}, fmt.Errorf("failed to render card %q: %w", key, err)
		}
		*part.dst = text
	}

	switch cardButtons[key] {
	case optionsOnMyWay:
		card.Options = []string{label(loc, "option.onMyWay", "On my way")}
	case optionsConfirm:
		card.Options = []string{label(loc, "option.confirm", "Confirm")}
	case optionsSurveyCategories:
		// option values stay the untranslated category so replies map back
		card.Options = append([]string(nil), client.SurveyCategories...)
	}
	return card, nil
}

// SurveyCategoriesForMessage formats the client's categories as the
// zero-based numbered menu used in SMS survey prompts.
func (t *Translator) SurveyCategoriesForMessage(client models.Client) string {
	return surveyMenu(t.localizer(client), client.SurveyCategories)
}

func (t *Translator) localizer(client models.Client) *i18n.Localizer {
	return i18n.NewLocalizer(t.bundle, client.LanguageOrDefault())
}

func (t *Translator) params(loc *i18n.Localizer, client models.Client, device models.Device, vars Vars) params {
	return params{
		DeviceDisplayName:           device.DisplayName,
		ClientDisplayName:           client.DisplayName,
		SurveyCategoriesForMessage:  surveyMenu(loc, client.SurveyCategories),
		OccupancyDuration:           vars.OccupancyDuration,
		StillnessAlertFollowupTimer: vars.StillnessAlertFollowupTimer,
	}
}

func surveyMenu(loc *i18n.Localizer, categories []string) string {
	lines := make([]string, len(categories))
	for i, category := range categories {
		lines[i] = fmt.Sprintf("%d: %s", i, label(loc, "category."+category, category))
	}
	return strings.Join(lines, "\n")
}

// localize renders id. found is false when neither the client's language
// nor the default one has the message.
func localize(loc *i18n.Localizer, id string, data any) (text string, found bool, err error) {
	text, err = loc.Localize(&i18n.LocalizeConfig{MessageID: id, TemplateData: data})
	if isNotFound(err) {
		return text, text != "", nil
	}
	return text, err == nil, err
}

// label localizes a fixed string, returning fallback when it has no entry.
func label(loc *i18n.Localizer, id, fallback string) string {
	text, found, err := localize(loc, id, nil)
	if err != nil || !found {
		return fallback
	}
	return text
}

func isNotFound(err error) bool {
	var notFound *i18n.MessageNotFoundErr
	return errors.As(err, &notFound)
}
