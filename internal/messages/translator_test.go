package messages

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alert-service/internal/models"
)

var (
	client = models.Client{
		DisplayName:      "Hope House",
		SurveyCategories: []string{"Overdose Event", "Occupant Okay", "Other"},
	}
	device = models.Device{DisplayName: "Washroom 1"}
)

func TestTranslator_Text(t *testing.T) {
	tr, err := NewTranslator()
	require.NoError(t, err)

	body, err := tr.Text("stillnessAlertFollowup", client, device, Vars{StillnessAlertFollowupTimer: 3})
	require.NoError(t, err)
	assert.Equal(t, "Thank you. We will send you a short survey in 3 minutes.", body)

	body, err = tr.Text("durationAlertSurvey", client, device, Vars{})
	require.NoError(t, err)
	assert.Contains(t, body, "Washroom 1")
	assert.Contains(t, body, "0: Overdose Event\n1: Occupant Okay\n2: Other")

	_, err = tr.Text("noSuchKey", client, device, Vars{})
	assert.Error(t, err)
}

func TestTranslator_Language(t *testing.T) {
	tr, err := NewTranslator()
	require.NoError(t, err)

	es := client
	es.Language = "es"
	body, err := tr.Text("doorLowBattery", es, device, Vars{})
	require.NoError(t, err)
	assert.Equal(t, "La batería del sensor de puerta de Washroom 1 de Hope House está baja.", body)
	assert.Equal(t, "0: Sobredosis\n1: Ocupante bien\n2: Otro", tr.SurveyCategoriesForMessage(es))

	unknown := client
	unknown.Language = "fr"
	body, err = tr.Text("doorLowBattery", unknown, device, Vars{})
	require.NoError(t, err)
	assert.Equal(t, "The door sensor battery of the Washroom 1 at Hope House is low.", body)
}

func TestTranslator_Card(t *testing.T) {
	tr, err := NewTranslator()
	require.NoError(t, err)

	card, err := tr.Card("stillnessAlert", client, device, Vars{})
	require.NoError(t, err)
	assert.Equal(t, "Stillness Alert", card.Header)
	assert.Equal(t, "Washroom 1", card.Title)
	assert.Equal(t, []string{"I am on my way!"}, card.Options)

	card, err = tr.Card("durationAlertSurvey", client, device, Vars{})
	require.NoError(t, err)
	assert.Equal(t, client.SurveyCategories, card.Options)

	// keys without a card definition fall back to the SMS text
	card, err = tr.Card("thankYou", client, device, Vars{})
	require.NoError(t, err)
	assert.Equal(t, "Washroom 1", card.Title)
	assert.NotEmpty(t, card.Body)
	assert.Empty(t, card.Options)
}

func TestCard_Text(t *testing.T) {
	assert.Equal(t, "Header\nTitle\nBody", Card{Header: "Header", Title: "Title", Body: "Body"}.Text())
	assert.Equal(t, "Body", Card{Body: "Body"}.Text())
}

func TestTranslator_CardFallsBackToDefaultLanguage(t *testing.T) {
	tr, err := NewTranslator()
	require.NoError(t, err)

	es := client
	es.Language = "es"
	card, err := tr.Card("stillnessAlert", es, device, Vars{})
	require.NoError(t, err)
	assert.Equal(t, "Stillness Alert", card.Header)
	assert.Equal(t, []string{"¡Voy en camino!"}, card.Options)

	card, err = tr.Card("durationAlertSurveyOtherFollowup", es, device, Vars{})
	require.NoError(t, err)
	assert.Equal(t, "Can you describe what happened?", card.InputPlaceholder)
	assert.Empty(t, card.Header)
	assert.Empty(t, card.Options)
}
