package scheduler

import (
	"context"
	"sync"
	"time"

	"alert-service/internal/logging"
)

// Memory keeps tasks in process timers. Pending tasks are lost on restart.
type Memory struct {
	logger *logging.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
	due    chan Task
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

func NewMemory(logger *logging.Logger) *Memory {
	return &Memory{
		logger: logger,
		timers: make(map[string]*time.Timer),
		due:    make(chan Task),
		done:   make(chan struct{}),
	}
}

func (m *Memory) Schedule(_ context.Context, task Task, delay time.Duration) error {
	task = prepare(task, time.Now(), delay)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.timers[task.ID] = time.AfterFunc(delay, func() {
		m.mu.Lock()
		delete(m.timers, task.ID)
		m.mu.Unlock()
		select {
		case m.due <- task:
		case <-m.done:
		}
	})
	m.logger.Debugf("Scheduled %s task %s for session %s in %s", task.Kind, task.ID, task.SessionID, delay)
	return nil
}

func (m *Memory) Run(ctx context.Context, h Handler) {
	for {
		select {
		case <-ctx.Done():
			m.stop()
			return
		case task := <-m.due:
			m.wg.Add(1)
			go func() {
				defer m.wg.Done()
				if err := h(ctx, task); err != nil {
					m.logger.Errorf("Scheduled %s task %s failed: %v", task.Kind, task.ID, err)
				}
			}()
		}
	}
}

// Pending returns the number of tasks that have not fired yet.
func (m *Memory) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

func (m *Memory) stop() {
	m.once.Do(func() {
		close(m.done)
		m.mu.Lock()
		for id, t := range m.timers {
			t.Stop()
			delete(m.timers, id)
		}
		m.mu.Unlock()
	})
	m.wg.Wait()
}
