package vitals

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alert-service/internal/config"
	"alert-service/internal/db/dbtest"
	"alert-service/internal/logging"
	"alert-service/internal/messages"
	"alert-service/internal/models"
	"alert-service/internal/providers"
)

type sentSMS struct {
	From string
	To   []string
	Body string
}

type fakeSMS struct {
	mu   sync.Mutex
	sent []sentSMS
}

func (f *fakeSMS) Send(_ context.Context, from string, to []string, body string) (providers.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentSMS{From: from, To: to, Body: body})
	return providers.SendResult{Delivered: to}, nil
}

func (f *fakeSMS) bodies() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	for i, s := range f.sent {
		out[i] = s.Body
	}
	return out
}

type fakeCards struct {
	mu     sync.Mutex
	posted []providers.CardTarget
}

func (f *fakeCards) PostCard(_ context.Context, target providers.CardTarget, _ messages.Card) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posted = append(f.posted, target)
	return "vital-card", nil
}

const webhookKey = "webhook-secret"

type fixture struct {
	t      *testing.T
	n      *Notifier
	repo   *dbtest.Memory
	sms    *fakeSMS
	cards  *fakeCards
	tr     *messages.Translator
	client models.Client
	device models.Device
	clock  time.Time
}

func newFixture(t *testing.T, configure ...func(cfg *config.Config, c *models.Client)) *fixture {
	t.Helper()
	tr, err := messages.NewTranslator()
	require.NoError(t, err)

	var cfg config.Config
	cfg.Sensors.WebhookAPIKey = webhookKey
	cfg.Vitals.DeviceDisconnectionThreshold = 30 * time.Minute
	cfg.Vitals.DoorDisconnectionThreshold = 30 * time.Minute
	cfg.Vitals.DisconnectionReminderThreshold = 24 * time.Hour
	cfg.Vitals.LowBatteryTimeout = 24 * time.Hour
	cfg.Vitals.OpenDoorHeartbeatThreshold = 3
	cfg.Vitals.OpenDoorFollowUp = 2
	cfg.Vitals.SendWindowStart = "00:00"
	cfg.Vitals.SendWindowEnd = "23:59"
	cfg.Vitals.Concurrency = 2

	client := models.Client{
		DisplayName:           "Hope House",
		ResponderPhoneNumbers: []string{"+15550000001", "+15550000002"},
		VitalsTwilioNumber:    "+15558880000",
		VitalsPhoneNumbers:    []string{"+15550000003", "+15550000001"},
		DevicesSendingVitals:  true,
		CardTeamID:            "team-1",
		CardVitalChannelID:    "vitals",
	}
	for _, fn := range configure {
		fn(&cfg, &client)
	}

	f := &fixture{
		t:     t,
		repo:  dbtest.NewMemory(),
		sms:   &fakeSMS{},
		cards: &fakeCards{},
		tr:    tr,
		clock: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.repo.Now = func() time.Time { return f.clock }
	f.client = f.repo.AddClient(client)
	f.device = f.repo.AddDevice(models.Device{
		ClientID:        f.client.ID,
		DisplayName:     "Washroom 1",
		SerialNumber:    "e00fce68",
		IsSendingVitals: true,
	})
	f.n = New(f.repo, f.sms, f.cards, tr, logging.NewNop(), cfg)
	f.n.now = func() time.Time { return f.clock }
	return f
}

func (f *fixture) heartbeat(data string) {
	f.t.Helper()
	require.NoError(f.t, f.n.HandleHeartbeat(context.Background(), models.SensorEvent{
		Event:  models.SensorHeartbeat,
		Data:   data,
		CoreID: f.device.SerialNumber,
		APIKey: webhookKey,
	}))
}

func (f *fixture) text(key string) string {
	f.t.Helper()
	body, err := f.tr.Text(key, f.client, f.device, messages.Vars{})
	require.NoError(f.t, err)
	return body
}

func (f *fixture) latestVital() models.Vital {
	f.t.Helper()
	vitals := f.repo.Vitals(f.device.ID)
	require.NotEmpty(f.t, vitals)
	return vitals[len(vitals)-1]
}

const healthy = `{"doorLastMessage":60000,"doorLowBattery":false,"doorTampered":false,"consecutiveOpenDoorHeartbeatCount":0,"doorMissedCount":0,"resetReason":"NONE"}`

func TestHandleHeartbeat_StoresVital(t *testing.T) {
	f := newFixture(t)
	f.heartbeat(healthy)

	v := f.latestVital()
	assert.Equal(t, f.clock.Add(-time.Minute), v.DoorLastSeenAt)
	assert.False(t, v.DoorLowBattery)
	assert.False(t, v.DoorTampered)
	assert.Equal(t, "NONE", v.DeviceLastResetReason)
	assert.Equal(t, f.clock, v.CreatedAt)
	assert.Empty(t, f.sms.bodies())
}

func TestHandleHeartbeat_CarriesDoorStateWhenUnreported(t *testing.T) {
	f := newFixture(t)
	f.heartbeat(`{"doorLastMessage":1000,"doorLowBattery":true,"doorTampered":false,"consecutiveOpenDoorHeartbeatCount":0}`)
	first := f.latestVital()

	f.clock = f.clock.Add(10 * time.Minute)
	f.heartbeat(`{"doorLastMessage":-1,"doorLowBattery":-1,"doorTampered":-1,"consecutiveOpenDoorHeartbeatCount":0}`)
	second := f.latestVital()
	assert.Equal(t, first.DoorLastSeenAt, second.DoorLastSeenAt)
	assert.True(t, second.DoorLowBattery)
	assert.False(t, second.DoorTampered)
}

func TestHandleHeartbeat_NoPreviousVitalDefaults(t *testing.T) {
	f := newFixture(t)
	f.heartbeat(`{"doorLastMessage":-1,"doorLowBattery":-1,"doorTampered":-1}`)

	v := f.latestVital()
	assert.Equal(t, f.clock, v.DoorLastSeenAt)
	assert.False(t, v.DoorLowBattery)
	assert.False(t, v.DoorTampered)
}

func TestHandleHeartbeat_LowBatteryRespectsTimeout(t *testing.T) {
	f := newFixture(t)
	lowBattery := `{"doorLastMessage":1000,"doorLowBattery":true,"doorTampered":false}`

	f.heartbeat(lowBattery)
	require.Len(t, f.sms.sent, 1)
	assert.Equal(t, f.text("doorLowBattery"), f.sms.sent[0].Body)
	assert.Equal(t, "+15558880000", f.sms.sent[0].From)
	assert.Equal(t, []string{"+15550000003", "+15550000001", "+15550000002"}, f.sms.sent[0].To)
	assert.Equal(t, []providers.CardTarget{{TeamID: "team-1", ChannelID: "vitals"}}, f.cards.posted)

	f.clock = f.clock.Add(time.Hour)
	f.heartbeat(lowBattery)
	assert.Len(t, f.sms.sent, 1)

	f.clock = f.clock.Add(24 * time.Hour)
	f.heartbeat(lowBattery)
	assert.Len(t, f.sms.sent, 2)
}

func TestHandleHeartbeat_TamperChanges(t *testing.T) {
	f := newFixture(t)
	f.heartbeat(healthy)
	f.heartbeat(`{"doorLastMessage":1000,"doorLowBattery":false,"doorTampered":true}`)
	f.heartbeat(`{"doorLastMessage":1000,"doorLowBattery":false,"doorTampered":true}`)
	f.heartbeat(healthy)

	assert.Equal(t, []string{f.text("doorTampered"), f.text("doorTamperResolved")}, f.sms.bodies())
}

func TestHandleHeartbeat_DoorInactivity(t *testing.T) {
	f := newFixture(t)
	for _, count := range []string{"2", "3", "4", "5", "6"} {
		f.heartbeat(`{"doorLastMessage":1000,"doorLowBattery":false,"doorTampered":false,"consecutiveOpenDoorHeartbeatCount":` + count + `}`)
	}
	assert.Equal(t, []string{f.text("doorInactivity"), f.text("doorInactivity")}, f.sms.bodies())
}

func TestHandleHeartbeat_SkipsSMSWithoutVitalsNumbers(t *testing.T) {
	f := newFixture(t, func(_ *config.Config, c *models.Client) {
		c.VitalsPhoneNumbers = nil
	})
	f.heartbeat(`{"doorLastMessage":1000,"doorLowBattery":true,"doorTampered":false}`)

	assert.Empty(t, f.sms.bodies())
	assert.Len(t, f.cards.posted, 1)
}

func TestHandleHeartbeat_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.n.HandleHeartbeat(ctx, models.SensorEvent{Event: models.SensorHeartbeat, Data: healthy, CoreID: "e00fce68", APIKey: "nope"})
	assert.ErrorIs(t, err, ErrValidation)

	err = f.n.HandleHeartbeat(ctx, models.SensorEvent{Event: models.SensorHeartbeat, Data: "{", CoreID: "e00fce68", APIKey: webhookKey})
	assert.ErrorIs(t, err, ErrValidation)

	err = f.n.HandleHeartbeat(ctx, models.SensorEvent{Event: models.SensorHeartbeat, Data: healthy, CoreID: "unknown", APIKey: webhookKey})
	assert.ErrorIs(t, err, ErrResolution)
	assert.Empty(t, f.repo.Vitals(f.device.ID))
}

func TestSweep_DisconnectionCycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.heartbeat(healthy)

	f.clock = f.clock.Add(time.Hour)
	require.NoError(t, f.n.Sweep(ctx))
	assert.Equal(t, []string{f.text("deviceDisconnectedInitial")}, f.sms.bodies())

	f.clock = f.clock.Add(time.Hour)
	require.NoError(t, f.n.Sweep(ctx))
	assert.Len(t, f.sms.bodies(), 1)

	f.clock = f.clock.Add(25 * time.Hour)
	require.NoError(t, f.n.Sweep(ctx))
	assert.Equal(t, f.text("deviceDisconnectedReminder"), f.sms.bodies()[1])

	f.clock = f.clock.Add(time.Minute)
	f.heartbeat(healthy)
	require.NoError(t, f.n.Sweep(ctx))
	require.Len(t, f.sms.bodies(), 3)
	assert.Equal(t, f.text("deviceReconnected"), f.sms.bodies()[2])

	require.NoError(t, f.n.Sweep(ctx))
	assert.Len(t, f.sms.bodies(), 3)

	// a new outage after the reconnection is announced as initial again
	f.clock = f.clock.Add(time.Hour)
	require.NoError(t, f.n.Sweep(ctx))
	assert.Equal(t, f.text("deviceDisconnectedInitial"), f.sms.bodies()[3])
}

func TestSweep_DoorDisconnected(t *testing.T) {
	f := newFixture(t)
	f.heartbeat(`{"doorLastMessage":3600000,"doorLowBattery":false,"doorTampered":false}`)

	require.NoError(t, f.n.Sweep(context.Background()))
	assert.Equal(t, []string{f.text("doorDisconnectedInitial")}, f.sms.bodies())

	last, err := f.repo.GetLatestConnectionNotification(context.Background(), f.device.ID)
	require.NoError(t, err)
	assert.Equal(t, models.NotificationDoorDisconnected, last.NotificationType)
}

func TestSweep_SuppressedOutsideWindow(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config, _ *models.Client) {
		cfg.Vitals.SendWindowStart = "08:00"
		cfg.Vitals.SendWindowEnd = "09:00"
	})
	f.heartbeat(healthy)

	f.clock = f.clock.Add(time.Hour)
	require.NoError(t, f.n.Sweep(context.Background()))
	assert.Empty(t, f.sms.bodies())

	_, err := f.repo.GetLatestConnectionNotification(context.Background(), f.device.ID)
	assert.Error(t, err)
}

func TestInactive(t *testing.T) {
	f := newFixture(t)
	for count, want := range map[int]bool{0: false, 2: false, 3: true, 4: false, 5: true, 7: true, 8: false} {
		assert.Equal(t, want, f.n.inactive(count), "count %d", count)
	}
}

func TestFlag(t *testing.T) {
	v, known, err := flag([]byte("true"))
	require.NoError(t, err)
	assert.True(t, v)
	assert.True(t, known)

	_, known, err = flag([]byte("-1"))
	require.NoError(t, err)
	assert.False(t, known)

	v, known, err = flag([]byte("1"))
	require.NoError(t, err)
	assert.True(t, v)
	assert.True(t, known)

	_, _, err = flag([]byte(`"yes"`))
	assert.Error(t, err)
}
