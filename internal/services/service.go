package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"alert-service/internal/config"
	"alert-service/internal/db"
	"alert-service/internal/logging"
	"alert-service/internal/messages"
	"alert-service/internal/models"
	"alert-service/internal/scheduler"
)

// Deps are the collaborators of a Service. Cards, Devices and Publisher may
// be nil: the card channel, remote device commands and live updates are then
// skipped.
type Deps struct {
	DB         Transactor
	SMS        SMSSender
	Cards      CardSender
	Devices    DeviceController
	Translator *messages.Translator
	Scheduler  scheduler.Scheduler
	Publisher  Publisher
}

// Service orchestrates alert sessions. It opens a session when a sensor
// raises an alert, runs the conversation with responders over SMS and chat
// cards, and fires the delayed reminders and surveys.
type Service struct {
	db         Transactor
	sms        SMSSender
	cards      CardSender
	devices    DeviceController
	translator *messages.Translator
	scheduler  scheduler.Scheduler
	publisher  Publisher
	logger     *logging.Logger
	config     config.Config
	now        func() time.Time
	jobs       chan models.SensorEvent
	wg         *sync.WaitGroup
}

// New constructs a Service.
func New(deps Deps, logger *logging.Logger, cfg config.Config) *Service {
	queueSize := cfg.Workers.QueueSize
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Service{
		db:         deps.DB,
		sms:        deps.SMS,
		cards:      deps.Cards,
		devices:    deps.Devices,
		translator: deps.Translator,
		scheduler:  deps.Scheduler,
		publisher:  deps.Publisher,
		logger:     logger,
		config:     cfg,
		now:        time.Now,
		jobs:       make(chan models.SensorEvent, queueSize),
	}
}

// Logger exposes the Service's logger
func (s *Service) Logger() *logging.Logger {
	return s.logger
}

// Start launches the sensor event worker pool and the scheduled task
// dispatcher. Both stop when ctx is cancelled.
func (s *Service) Start(ctx context.Context, wg *sync.WaitGroup) {
	s.wg = wg
	for i := 0; i < s.config.Workers.MaxWorkers; i++ {
		s.wg.Add(1)
		go s.worker(ctx, i)
	}
	if s.scheduler != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.scheduler.Run(ctx, func(ctx context.Context, task scheduler.Task) error {
				return s.HandleTask(ctx, task)
			})
		}()
	}
}

// QueueSensorEvent enqueues an event for asynchronous processing. It reports
// false when the queue is full and the event was dropped.
func (s *Service) QueueSensorEvent(ev models.SensorEvent) bool {
	select {
	case s.jobs <- ev:
		s.logger.Debugf("Queued sensor event %q from %s", ev.Event, ev.CoreID)
		return true
	default:
		s.logger.Errorf("Queue full, dropping sensor event %q from %s", ev.Event, ev.CoreID)
		return false
	}
}

func (s *Service) worker(ctx context.Context, id int) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			s.logger.Infof("Worker %d stopped", id)
			return
		case ev := <-s.jobs:
			if err := s.HandleSensorEvent(ctx, ev); err != nil {
				s.logger.Errorf("Worker %d: sensor event %q from %s failed: %v", id, ev.Event, ev.CoreID, err)
			}
		}
	}
}

// SessionUpdate is the live update pushed to dashboards after a session
// changes.
type SessionUpdate struct {
	Type       string         `json:"type"`
	DeviceID   uuid.UUID      `json:"device_id"`
	DeviceName string         `json:"device_name"`
	Session    models.Session `json:"session"`
}

// transact runs fn in a transaction and, once it committed, the hooks fn
// registered on its turn. A retried transaction starts from a fresh turn.
func (s *Service) transact(ctx context.Context, fn func(ctx context.Context, t *turn) error) error {
	var committed *turn
	err := s.db.InTx(ctx, func(ctx context.Context, repo db.Repository) error {
		t := &turn{s: s, repo: repo}
		if err := fn(ctx, t); err != nil {
			return err
		}
		committed = t
		return nil
	})
	if err != nil {
		return err
	}

	for _, hook := range committed.hooks {
		hook(ctx)
	}
	if committed.changed && s.publisher != nil {
		s.publisher.Publish(committed.client.ID, SessionUpdate{
			Type:       "session",
			DeviceID:   committed.device.ID,
			DeviceName: committed.device.DisplayName,
			Session:    committed.session,
		})
	}
	return nil
}
