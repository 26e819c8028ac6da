// Package dbtest provides an in-memory db.Repository for tests.
package dbtest

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"alert-service/internal/db"
	"alert-service/internal/models"
)

type notificationKey struct {
	deviceID uuid.UUID
	t        models.NotificationType
}

type state struct {
	clients       []models.Client
	devices       []models.Device
	sessions      []models.Session
	events        []models.Event
	vitals        []models.Vital
	notifications map[notificationKey]models.Notification
}

func (s state) clone() state {
	out := state{
		clients:       slices.Clone(s.clients),
		devices:       slices.Clone(s.devices),
		sessions:      slices.Clone(s.sessions),
		events:        slices.Clone(s.events),
		vitals:        slices.Clone(s.vitals),
		notifications: make(map[notificationKey]models.Notification, len(s.notifications)),
	}
	for k, v := range s.notifications {
		out.notifications[k] = v
	}
	return out
}

// Memory implements db.Repository and the transaction runners of db.DB.
// Transactions are serialized and rolled back when fn fails. Rows written in
// one transaction share its timestamp, as NOW() does in Postgres.
type Memory struct {
	// Now is the clock; it is read once per transaction.
	Now func() time.Time

	txMu  sync.Mutex
	mu    sync.Mutex
	txNow time.Time
	st    state
}

func NewMemory() *Memory {
	return &Memory{
		Now: time.Now,
		st:  state{notifications: map[notificationKey]models.Notification{}},
	}
}

var _ db.Repository = (*Memory)(nil)

func (m *Memory) InTx(ctx context.Context, fn func(ctx context.Context, repo db.Repository) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	snapshot := m.st.clone()
	m.txNow = m.Now()
	m.mu.Unlock()

	err := fn(ctx, m)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.st = snapshot
	}
	m.txNow = time.Time{}
	return err
}

func (m *Memory) InDeviceTx(ctx context.Context, fn func(ctx context.Context, repo db.Repository) error) error {
	return m.InTx(ctx, fn)
}

// Store returns the Memory itself; reads outside InTx see committed state.
func (m *Memory) Store() db.Repository {
	return m
}

func (m *Memory) now() time.Time {
	if !m.txNow.IsZero() {
		return m.txNow
	}
	return m.Now()
}

// AddClient stores c, assigning an id when it has none.
func (m *Memory) AddClient(c models.Client) models.Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	m.st.clients = append(m.st.clients, c)
	return c
}

// AddDevice stores d, assigning an id when it has none.
func (m *Memory) AddDevice(d models.Device) models.Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	m.st.devices = append(m.st.devices, d)
	return d
}

// AddVital stores v as is, so tests control CreatedAt.
func (m *Memory) AddVital(v models.Vital) models.Vital {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	m.st.vitals = append(m.st.vitals, v)
	return v
}

// AddNotification stores n as is.
func (m *Memory) AddNotification(n models.Notification) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	m.st.notifications[notificationKey{n.DeviceID, n.NotificationType}] = n
}

// Sessions returns the device's sessions oldest first.
func (m *Memory) Sessions(deviceID uuid.UUID) []models.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Session
	for _, s := range m.st.sessions {
		if s.DeviceID == deviceID {
			out = append(out, s)
		}
	}
	return out
}

// Events returns the session's events in insertion order.
func (m *Memory) Events(sessionID uuid.UUID) []models.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Event
	for _, e := range m.st.events {
		if e.SessionID == sessionID {
			out = append(out, e)
		}
	}
	return out
}

// Vitals returns the device's vitals in insertion order.
func (m *Memory) Vitals(deviceID uuid.UUID) []models.Vital {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Vital
	for _, v := range m.st.vitals {
		if v.DeviceID == deviceID {
			out = append(out, v)
		}
	}
	return out
}

func notFound(what string, key any) error {
	return fmt.Errorf("%s %v: %w", what, key, db.ErrNotFound)
}

func (m *Memory) GetClient(_ context.Context, id uuid.UUID) (models.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.st.clients {
		if c.ID == id {
			return c, nil
		}
	}
	return models.Client{}, notFound("client", id)
}

func (m *Memory) GetClientsByResponderPhone(_ context.Context, phone string) ([]models.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Client
	for _, c := range m.st.clients {
		if slices.Contains(c.ResponderPhoneNumbers, phone) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *Memory) GetDevice(_ context.Context, id uuid.UUID) (models.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.st.devices {
		if d.ID == id {
			return d, nil
		}
	}
	return models.Device{}, notFound("device", id)
}

func (m *Memory) GetDeviceBySerialNumber(_ context.Context, serial string) (models.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.st.devices {
		if d.SerialNumber == serial {
			return d, nil
		}
	}
	return models.Device{}, notFound("device with serial", serial)
}

func (m *Memory) GetDeviceByClientAndPhone(_ context.Context, clientID uuid.UUID, phone string) (models.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.st.devices {
		if d.ClientID == clientID && d.PhoneNumber == phone {
			return d, nil
		}
	}
	return models.Device{}, notFound("device with phone", phone)
}

func (m *Memory) ListVitalsDevices(_ context.Context) ([]models.DeviceWithVitals, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.DeviceWithVitals
	for _, d := range m.st.devices {
		if !d.IsSendingVitals {
			continue
		}
		var client *models.Client
		for i := range m.st.clients {
			if m.st.clients[i].ID == d.ClientID {
				client = &m.st.clients[i]
			}
		}
		if client == nil || !client.DevicesSendingVitals {
			continue
		}
		entry := models.DeviceWithVitals{Device: d, Client: *client}
		if v, ok := m.latestVital(d.ID); ok {
			entry.LatestVital = &v
		}
		out = append(out, entry)
	}
	return out, nil
}

func (m *Memory) CreateSession(_ context.Context, deviceID uuid.UUID) (models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.st.sessions {
		if s.DeviceID == deviceID && s.Status == models.SessionActive {
			return models.Session{}, fmt.Errorf("device %s already has active session %s", deviceID, s.ID)
		}
	}
	now := m.now()
	s := models.Session{
		ID:        uuid.New(),
		DeviceID:  deviceID,
		Status:    models.SessionActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.st.sessions = append(m.st.sessions, s)
	return s, nil
}

func (m *Memory) GetSession(_ context.Context, id uuid.UUID) (models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.st.sessions {
		if s.ID == id {
			return s, nil
		}
	}
	return models.Session{}, notFound("session", id)
}

func (m *Memory) GetLatestSession(_ context.Context, deviceID uuid.UUID) (models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.st.sessions) - 1; i >= 0; i-- {
		if m.st.sessions[i].DeviceID == deviceID {
			return m.st.sessions[i], nil
		}
	}
	return models.Session{}, notFound("session for device", deviceID)
}

func (m *Memory) UpdateSession(_ context.Context, s models.Session) (models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.st.sessions {
		if m.st.sessions[i].ID == s.ID {
			s.UpdatedAt = m.now()
			m.st.sessions[i] = s
			return s, nil
		}
	}
	return models.Session{}, notFound("session", s.ID)
}

func (m *Memory) ListSessionsByClient(_ context.Context, clientID uuid.UUID, limit int) ([]models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	devices := map[uuid.UUID]bool{}
	for _, d := range m.st.devices {
		if d.ClientID == clientID {
			devices[d.ID] = true
		}
	}
	var out []models.Session
	for i := len(m.st.sessions) - 1; i >= 0 && len(out) < limit; i-- {
		if devices[m.st.sessions[i].DeviceID] {
			out = append(out, m.st.sessions[i])
		}
	}
	return out, nil
}

func (m *Memory) CreateEvent(_ context.Context, e models.Event) (models.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = uuid.New()
	e.SentAt = m.now()
	if e.PhoneNumbers == nil {
		e.PhoneNumbers = []string{}
	}
	m.st.events = append(m.st.events, e)
	return e, nil
}

func (m *Memory) GetLatestRespondableEvent(_ context.Context, sessionID uuid.UUID, phone string) (models.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	type candidate struct {
		e    models.Event
		step models.Step
		seq  int
	}
	var candidates []candidate
	for seq, e := range m.st.events {
		if e.SessionID != sessionID || !slices.Contains(models.RespondableEventTypes, e.EventType) {
			continue
		}
		step, ok := e.Step()
		if !ok {
			continue
		}
		if phone != "" && !slices.Contains(e.PhoneNumbers, phone) {
			continue
		}
		candidates = append(candidates, candidate{e, step, seq})
	}
	if len(candidates) == 0 {
		return models.Event{}, notFound("respondable event for session", sessionID)
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if !a.e.SentAt.Equal(b.e.SentAt) {
			return a.e.SentAt.After(b.e.SentAt)
		}
		if a.step != b.step {
			return a.step < b.step
		}
		return a.seq > b.seq
	})
	return candidates[0].e, nil
}

func (m *Memory) GetLatestOutboundCardEvent(_ context.Context, sessionID uuid.UUID) (models.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latestEvent(func(e models.Event) bool {
		return e.SessionID == sessionID && e.Channel == models.ChannelCard &&
			e.EventType != models.EventMsgReceived && e.MessageID != ""
	}, "card event for session", sessionID)
}

func (m *Memory) GetCardEventByMessageID(_ context.Context, messageID string) (models.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latestEvent(func(e models.Event) bool {
		return e.MessageID == messageID && e.EventType != models.EventMsgReceived
	}, "event for card message", messageID)
}

func (m *Memory) latestEvent(match func(models.Event) bool, what string, key any) (models.Event, error) {
	var (
		best  models.Event
		found bool
	)
	for _, e := range m.st.events {
		if match(e) && (!found || !e.SentAt.Before(best.SentAt)) {
			best, found = e, true
		}
	}
	if !found {
		return models.Event{}, notFound(what, key)
	}
	return best, nil
}

func (m *Memory) ListEvents(_ context.Context, sessionID uuid.UUID) ([]models.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Event
	for _, e := range m.st.events {
		if e.SessionID == sessionID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SentAt.Before(out[j].SentAt) })
	return out, nil
}

func (m *Memory) latestVital(deviceID uuid.UUID) (models.Vital, bool) {
	var (
		best  models.Vital
		found bool
	)
	for _, v := range m.st.vitals {
		if v.DeviceID == deviceID && (!found || !v.CreatedAt.Before(best.CreatedAt)) {
			best, found = v, true
		}
	}
	return best, found
}

func (m *Memory) GetLatestVital(_ context.Context, deviceID uuid.UUID) (models.Vital, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.latestVital(deviceID); ok {
		return v, nil
	}
	return models.Vital{}, notFound("vital for device", deviceID)
}

func (m *Memory) CreateVital(_ context.Context, v models.Vital) (models.Vital, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v.ID = uuid.New()
	v.CreatedAt = m.now()
	m.st.vitals = append(m.st.vitals, v)
	return v, nil
}

func (m *Memory) GetLatestNotificationOfType(_ context.Context, deviceID uuid.UUID, t models.NotificationType) (models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n, ok := m.st.notifications[notificationKey{deviceID, t}]; ok {
		return n, nil
	}
	return models.Notification{}, notFound("notification "+string(t)+" for device", deviceID)
}

func (m *Memory) GetLatestConnectionNotification(_ context.Context, deviceID uuid.UUID) (models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var (
		best  models.Notification
		found bool
	)
	for _, t := range models.ConnectionNotificationTypes {
		n, ok := m.st.notifications[notificationKey{deviceID, t}]
		if ok && (!found || n.SentAt.After(best.SentAt)) {
			best, found = n, true
		}
	}
	if !found {
		return models.Notification{}, notFound("connection notification for device", deviceID)
	}
	return best, nil
}

func (m *Memory) UpsertNotification(_ context.Context, deviceID uuid.UUID, t models.NotificationType, sentAt time.Time) (models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := notificationKey{deviceID, t}
	n, ok := m.st.notifications[key]
	if !ok {
		n = models.Notification{ID: uuid.New(), DeviceID: deviceID, NotificationType: t, CreatedAt: m.now()}
	}
	n.SentAt = sentAt
	m.st.notifications[key] = n
	return n, nil
}
