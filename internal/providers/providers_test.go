package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"

	tgmodels "github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alert-service/internal/logging"
	"alert-service/internal/messages"
	"alert-service/internal/models"
)

type fakeTwilio struct {
	mu      sync.Mutex
	failing map[string]bool
	sent    []string
}

func (f *fakeTwilio) Send(from, to, body string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing[to] {
		return "", errors.New("undeliverable")
	}
	f.sent = append(f.sent, to)
	return "SM" + to, nil
}

func TestSMS_SendReportsPartialDelivery(t *testing.T) {
	twilio := &fakeTwilio{failing: map[string]bool{"+15550000002": true}}
	s := NewSMS(twilio, logging.NewNop())

	result, err := s.Send(context.Background(), "+15559990000", []string{"+15550000001", "+15550000002", "+15550000003"}, "hello")
	require.NoError(t, err)
	sort.Strings(result.Delivered)
	assert.Equal(t, []string{"+15550000001", "+15550000003"}, result.Delivered)
	assert.Equal(t, []string{"+15550000002"}, result.Failed)
}

func TestSMS_SendFailsWhenNobodyReached(t *testing.T) {
	twilio := &fakeTwilio{failing: map[string]bool{"+15550000001": true}}
	s := NewSMS(twilio, logging.NewNop())

	result, err := s.Send(context.Background(), "+15559990000", []string{"+15550000001"}, "hello")
	assert.Error(t, err)
	assert.Equal(t, []string{"+15550000001"}, result.Failed)
}

func TestTeams_PostAndUpdateCard(t *testing.T) {
	var requests []teamsFlowRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "flow-key", r.Header.Get("X-API-KEY"))
		var req teamsFlowRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		requests = append(requests, req)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"messageId":"msg-` + req.RequestType + `"}`))
	}))
	defer srv.Close()

	teams := NewTeams(srv.URL, "flow-key", logging.NewNop())
	target := CardTarget{TeamID: "team-1", ChannelID: "alerts"}
	card := messages.Card{Header: "Stillness Alert", Title: "Washroom 1", Body: "Please check", Options: []string{"I am on my way!"}}

	id, err := teams.PostCard(context.Background(), target, card)
	require.NoError(t, err)
	assert.Equal(t, "msg-New", id)

	id, err = teams.UpdateCard(context.Background(), target, "msg-New", messages.Card{Body: "expired"})
	require.NoError(t, err)
	assert.Equal(t, "msg-Update", id)

	require.Len(t, requests, 2)
	assert.Equal(t, "team-1", requests[0].TeamsID)
	assert.Equal(t, "alerts", requests[0].ChannelID)
	assert.Empty(t, requests[0].MessageID)
	assert.Equal(t, "msg-New", requests[1].MessageID)
	assert.Equal(t, "AdaptiveCard", requests[0].AdaptiveCard["type"])
}

func TestTeams_ErrorsWithoutMessageID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	_, err := NewTeams(srv.URL, "flow-key", logging.NewNop()).PostCard(context.Background(), CardTarget{}, messages.Card{Body: "x"})
	assert.ErrorContains(t, err, "no messageId")

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer bad.Close()
	_, err = NewTeams(bad.URL, "flow-key", logging.NewNop()).PostCard(context.Background(), CardTarget{}, messages.Card{Body: "x"})
	assert.ErrorContains(t, err, "status 400")
}

func TestAdaptiveCard(t *testing.T) {
	card := AdaptiveCard(messages.Card{Title: "Washroom 1", Body: "What happened?", Options: []string{"Occupant Okay", "Other"}})
	body := card["body"].([]map[string]any)
	require.Len(t, body, 3)
	assert.Equal(t, "Washroom 1", body[0]["text"])
	actions := body[2]["actions"].([]map[string]any)
	require.Len(t, actions, 2)
	assert.Equal(t, map[string]string{"selectedOption": "Other"}, actions[1]["data"])

	card = AdaptiveCard(messages.Card{Body: "Tell us more", InputPlaceholder: "Details"})
	body = card["body"].([]map[string]any)
	require.Len(t, body, 3)
	assert.Equal(t, "Input.Text", body[1]["type"])
	assert.Equal(t, "userInput", body[1]["id"])
}

func TestParticle_CallsDeviceFunction(t *testing.T) {
	var paths []string
	returnValue := 1
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		assert.Equal(t, "Bearer particle-token", r.Header.Get("Authorization"))
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "e", r.PostForm.Get("arg"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(particleFunctionResponse{ID: "e00fce68", Connected: true, ReturnValue: returnValue})
	}))
	defer srv.Close()

	p := NewParticle(srv.URL, "particle-token", "12345", logging.NewNop())
	device := models.Device{SerialNumber: "e00fce68"}

	require.NoError(t, p.ResetMonitoring(context.Background(), device))
	require.NoError(t, p.ResetStateToZero(context.Background(), device))
	assert.Equal(t, []string{
		"/v1/products/12345/devices/e00fce68/Reset_Monitoring",
		"/v1/products/12345/devices/e00fce68/Reset_State_To_Zero",
	}, paths)

	returnValue = -1
	assert.ErrorContains(t, p.ResetMonitoring(context.Background(), device), "returned -1")
}

func TestTelegramHelpers(t *testing.T) {
	chat, msg, err := splitMessageID("-100123:42")
	require.NoError(t, err)
	assert.Equal(t, int64(-100123), chat)
	assert.Equal(t, 42, msg)

	for _, bad := range []string{"42", "x:1", "1:y"} {
		_, _, err := splitMessageID(bad)
		assert.Error(t, err, bad)
	}

	assert.Equal(t, int64(-100123), chatIDParam("-100123"))
	assert.Equal(t, "@alerts", chatIDParam("@alerts"))

	markup := keyboard(messages.Card{Options: []string{"Occupant Okay", "Other"}}).(*tgmodels.InlineKeyboardMarkup)
	require.Len(t, markup.InlineKeyboard, 2)
	assert.Equal(t, "Other", markup.InlineKeyboard[1][0].CallbackData)
}
