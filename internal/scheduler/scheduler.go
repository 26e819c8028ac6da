package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindStillnessReminder Kind = "stillness_reminder"
	KindStillnessSurvey   Kind = "stillness_survey"
)

// Task is a delayed action against a session. Tasks cannot be cancelled:
// the handler re-reads the session when the task fires and drops it if the
// session moved on.
type Task struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	SessionID uuid.UUID `json:"session_id"`
	DeviceID  uuid.UUID `json:"device_id"`
	Stage     int       `json:"stage,omitempty"`
	DueAt     time.Time `json:"due_at"`
}

// Handler executes a fired task.
type Handler func(ctx context.Context, task Task) error

type Scheduler interface {
	// Schedule arranges for task to fire after delay.
	Schedule(ctx context.Context, task Task, delay time.Duration) error
	// Run dispatches fired tasks to h until ctx is cancelled.
	Run(ctx context.Context, h Handler)
}

func prepare(task Task, now time.Time, delay time.Duration) Task {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	task.DueAt = now.Add(delay)
	return task
}
