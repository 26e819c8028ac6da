package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"alert-service/internal/config"
	"alert-service/internal/db/dbtest"
	"alert-service/internal/logging"
	"alert-service/internal/messages"
	"alert-service/internal/models"
	"alert-service/internal/providers"
	"alert-service/internal/scheduler"
)

type fakeSMS struct {
	mu       sync.Mutex
	received map[string][]string
	fail     bool
}

func (f *fakeSMS) Send(_ context.Context, _ string, to []string, body string) (providers.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return providers.SendResult{Failed: to}, errors.New("twilio unavailable")
	}
	for _, number := range to {
		f.received[number] = append(f.received[number], body)
	}
	return providers.SendResult{Delivered: append([]string(nil), to...)}, nil
}

// inbox returns every body sent to number.
func (f *fakeSMS) inbox(number string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.received[number]...)
}

func (f *fakeSMS) last(number string) string {
	msgs := f.inbox(number)
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1]
}

type cardCall struct {
	MessageID string
	Card      messages.Card
}

type fakeCards struct {
	mu      sync.Mutex
	n       int
	posted  []cardCall
	updated []cardCall
}

func (f *fakeCards) PostCard(_ context.Context, _ providers.CardTarget, card messages.Card) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	id := fmt.Sprintf("card-%d", f.n)
	f.posted = append(f.posted, cardCall{MessageID: id, Card: card})
	return id, nil
}

func (f *fakeCards) UpdateCard(_ context.Context, _ providers.CardTarget, messageID string, card messages.Card) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updated = append(f.updated, cardCall{MessageID: messageID, Card: card})
	return messageID, nil
}

func (f *fakeCards) lastUpdate() cardCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.updated) == 0 {
		return cardCall{}
	}
	return f.updated[len(f.updated)-1]
}

func (f *fakeCards) lastPost() cardCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.posted) == 0 {
		return cardCall{}
	}
	return f.posted[len(f.posted)-1]
}

type fakeDevices struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeDevices) ResetMonitoring(_ context.Context, device models.Device) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "Reset_Monitoring:"+device.SerialNumber)
	return nil
}

func (f *fakeDevices) ResetStateToZero(_ context.Context, device models.Device) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "Reset_State_To_Zero:"+device.SerialNumber)
	return nil
}

type fakePublisher struct {
	mu      sync.Mutex
	updates []SessionUpdate
}

func (f *fakePublisher) Publish(_ uuid.UUID, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := payload.(SessionUpdate); ok {
		f.updates = append(f.updates, u)
	}
}

type scheduledTask struct {
	Task  scheduler.Task
	Delay time.Duration
}

type fakeScheduler struct {
	mu    sync.Mutex
	tasks []scheduledTask
}

func (f *fakeScheduler) Schedule(_ context.Context, task scheduler.Task, delay time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	f.tasks = append(f.tasks, scheduledTask{Task: task, Delay: delay})
	return nil
}

func (f *fakeScheduler) Run(ctx context.Context, _ scheduler.Handler) {
	<-ctx.Done()
}

func (f *fakeScheduler) scheduled() []scheduledTask {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]scheduledTask(nil), f.tasks...)
}

const (
	responderA   = "+15550000001"
	responderB   = "+15550000002"
	fallbackC    = "+15550000009"
	devicePhone  = "+15559990000"
	deviceSerial = "e00fce68"
	apiKey       = "webhook-secret"
)

var defaultCategories = []string{
	"Overdose Event", "Emergency Event", "Medical Event", "Security Event",
	"Space Empty", "Occupant Okay", "Other", "Report technical issue",
}

type fixture struct {
	t       *testing.T
	svc     *Service
	repo    *dbtest.Memory
	sms     *fakeSMS
	cards   *fakeCards
	devices *fakeDevices
	sched   *fakeScheduler
	pub     *fakePublisher
	tr      *messages.Translator
	client  models.Client
	device  models.Device
}

// newFixture builds a Service over an in-memory store with one client and
// one device. The store clock advances one second per transaction so events
// from different calls never share a timestamp.
func newFixture(t *testing.T, configure ...func(c *models.Client)) *fixture {
	t.Helper()
	tr, err := messages.NewTranslator()
	require.NoError(t, err)

	repo := dbtest.NewMemory()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	repo.Now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	client := models.Client{
		DisplayName:           "Hope House",
		Language:              "en",
		ResponderPhoneNumbers: []string{responderA, responderB},
		FallbackPhoneNumbers:  []string{fallbackC},
		SurveyCategories:      defaultCategories,
		DevicesSendingAlerts:  true,
		DevicesSendingVitals:  true,
	}
	for _, fn := range configure {
		fn(&client)
	}
	client = repo.AddClient(client)
	device := repo.AddDevice(models.Device{
		ClientID:        client.ID,
		DisplayName:     "Washroom 1",
		SerialNumber:    deviceSerial,
		PhoneNumber:     devicePhone,
		IsSendingAlerts: true,
		IsSendingVitals: true,
	})

	var cfg config.Config
	cfg.Sensors.WebhookAPIKey = apiKey
	cfg.Alerts.StillnessReminderInterval = 5 * time.Minute
	cfg.Workers.QueueSize = 4

	f := &fixture{
		t:       t,
		repo:    repo,
		sms:     &fakeSMS{received: map[string][]string{}},
		cards:   &fakeCards{},
		devices: &fakeDevices{},
		sched:   &fakeScheduler{},
		pub:     &fakePublisher{},
		tr:      tr,
		client:  client,
		device:  device,
	}
	f.svc = New(Deps{
		DB:         repo,
		SMS:        f.sms,
		Cards:      f.cards,
		Devices:    f.devices,
		Translator: tr,
		Scheduler:  f.sched,
		Publisher:  f.pub,
	}, logging.NewNop(), cfg)
	f.svc.now = func() time.Time { return base.Add(time.Minute) }
	return f
}

func withCards(c *models.Client) {
	c.CardTeamID = "team-1"
	c.CardAlertChannelID = "alerts"
}

func alertEvent(kind models.SensorEventKind) models.SensorEvent {
	return models.SensorEvent{
		Event:  kind,
		Data:   `{"alertSentFromState":2,"numDurationAlertsSent":1,"numStillnessAlertsSent":0,"occupancyDuration":10}`,
		CoreID: deviceSerial,
		APIKey: apiKey,
	}
}

func (f *fixture) sensor(kind models.SensorEventKind) {
	f.t.Helper()
	require.NoError(f.t, f.svc.HandleSensorEvent(context.Background(), alertEvent(kind)))
}

func (f *fixture) reply(from, body string) {
	f.t.Helper()
	require.NoError(f.t, f.svc.HandleSMSResponse(context.Background(), SMSResponse{From: from, To: devicePhone, Body: body}))
}

func (f *fixture) card(messageID, text string) {
	f.t.Helper()
	require.NoError(f.t, f.svc.HandleCardResponse(context.Background(), CardResponse{MessageID: messageID, Text: text}))
}

func (f *fixture) text(key string, vars messages.Vars) string {
	f.t.Helper()
	body, err := f.tr.Text(key, f.client, f.device, vars)
	require.NoError(f.t, err)
	return body
}

func (f *fixture) session() models.Session {
	f.t.Helper()
	sessions := f.repo.Sessions(f.device.ID)
	require.NotEmpty(f.t, sessions)
	return sessions[len(sessions)-1]
}

// details lists "TYPE/CHANNEL/detail" for every event of the session.
func (f *fixture) details(sessionID uuid.UUID) []string {
	var out []string
	for _, e := range f.repo.Events(sessionID) {
		out = append(out, fmt.Sprintf("%s/%s/%s", e.EventType, e.Channel, e.Detail))
	}
	return out
}
