package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alert-service/internal/logging"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *Redis, *time.Time) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r := NewRedis(client, "test:tasks", 10*time.Millisecond, logging.NewNop())
	r.now = func() time.Time { return now }
	return mr, r, &now
}

func TestRedis_ScheduleStoresTaskScoredByDueTime(t *testing.T) {
	mr, r, now := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, r.Schedule(ctx, Task{Kind: KindStillnessReminder, SessionID: uuid.New(), Stage: 1}, 5*time.Minute))

	members, err := mr.ZMembers("test:tasks")
	require.NoError(t, err)
	require.Len(t, members, 1)

	score, err := mr.ZScore("test:tasks", members[0])
	require.NoError(t, err)
	assert.Equal(t, float64(now.Add(5*time.Minute).UnixMilli()), score)
}

func TestRedis_ClaimDueReturnsOnlyDueTasksOnce(t *testing.T) {
	_, r, now := setupTestRedis(t)
	ctx := context.Background()

	sessionID := uuid.New()
	require.NoError(t, r.Schedule(ctx, Task{Kind: KindStillnessReminder, SessionID: sessionID, Stage: 1}, time.Minute))
	require.NoError(t, r.Schedule(ctx, Task{Kind: KindStillnessReminder, SessionID: sessionID, Stage: 2}, 2*time.Minute))

	tasks, err := r.claimDue(ctx)
	require.NoError(t, err)
	assert.Empty(t, tasks)

	*now = now.Add(90 * time.Second)
	tasks, err = r.claimDue(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, 1, tasks[0].Stage)
	assert.Equal(t, sessionID, tasks[0].SessionID)

	tasks, err = r.claimDue(ctx)
	require.NoError(t, err)
	assert.Empty(t, tasks, "a claimed task must not be returned again")

	*now = now.Add(time.Minute)
	tasks, err = r.claimDue(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, 2, tasks[0].Stage)
}

func TestRedis_RunDispatchesDueTasks(t *testing.T) {
	_, r, _ := setupTestRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, r.Schedule(ctx, Task{Kind: KindStillnessSurvey, SessionID: uuid.New()}, 0))

	fired := make(chan Task, 1)
	go r.Run(ctx, func(_ context.Context, task Task) error {
		fired <- task
		return nil
	})

	select {
	case task := <-fired:
		assert.Equal(t, KindStillnessSurvey, task.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("task was not dispatched")
	}
}

// failingZRem fails the nth ZREM sent through the client.
type failingZRem struct {
	mu     sync.Mutex
	calls  int
	failOn int
}

func (h *failingZRem) DialHook(next redis.DialHook) redis.DialHook { return next }

func (h *failingZRem) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func (h *failingZRem) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if cmd.Name() == "zrem" {
			h.mu.Lock()
			h.calls++
			fail := h.calls == h.failOn
			h.mu.Unlock()
			if fail {
				err := errors.New("connection reset")
				cmd.SetErr(err)
				return err
			}
		}
		return next(ctx, cmd)
	}
}

func TestRedis_ClaimDueKeepsTasksClaimedBeforeAnError(t *testing.T) {
	mr, r, _ := setupTestRedis(t)
	ctx := context.Background()

	sessionID := uuid.New()
	require.NoError(t, r.Schedule(ctx, Task{Kind: KindStillnessReminder, SessionID: sessionID, Stage: 1}, 0))
	require.NoError(t, r.Schedule(ctx, Task{Kind: KindStillnessReminder, SessionID: sessionID, Stage: 2}, 0))
	r.client.AddHook(&failingZRem{failOn: 2})

	tasks, err := r.claimDue(ctx)
	assert.Error(t, err)
	require.Len(t, tasks, 1)

	members, err := mr.ZMembers("test:tasks")
	require.NoError(t, err)
	assert.Len(t, members, 1, "the unclaimed task stays scheduled")

	rest, err := r.claimDue(ctx)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.NotEqual(t, tasks[0].Stage, rest[0].Stage)
}

func TestRedis_RunDispatchesTasksClaimedBeforeAnError(t *testing.T) {
	_, r, _ := setupTestRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sessionID := uuid.New()
	require.NoError(t, r.Schedule(ctx, Task{Kind: KindStillnessReminder, SessionID: sessionID, Stage: 1}, 0))
	require.NoError(t, r.Schedule(ctx, Task{Kind: KindStillnessReminder, SessionID: sessionID, Stage: 2}, 0))
	r.client.AddHook(&failingZRem{failOn: 2})

	fired := make(chan Task, 4)
	go r.Run(ctx, func(_ context.Context, task Task) error {
		fired <- task
		return nil
	})

	stages := map[int]bool{}
	for len(stages) < 2 {
		select {
		case task := <-fired:
			assert.False(t, stages[task.Stage], "stage %d fired twice", task.Stage)
			stages[task.Stage] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("fired stages %v, want 1 and 2", stages)
		}
	}
}
