package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"alert-service/internal/logging"
)

const claimBatch = 100

// Redis keeps tasks in a sorted set scored by due time in milliseconds.
// Replicas poll the set and claim a task by removing it, so each task runs
// on exactly one replica.
type Redis struct {
	client *redis.Client
	key    string
	poll   time.Duration
	logger *logging.Logger
	now    func() time.Time
}

func NewRedis(client *redis.Client, key string, poll time.Duration, logger *logging.Logger) *Redis {
	return &Redis{client: client, key: key, poll: poll, logger: logger, now: time.Now}
}

func (r *Redis) Schedule(ctx context.Context, task Task, delay time.Duration) error {
	task = prepare(task, r.now(), delay)
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to encode task %s: %w", task.ID, err)
	}
	err = r.client.ZAdd(ctx, r.key, redis.Z{
		Score:  float64(task.DueAt.UnixMilli()),
		Member: payload,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to schedule %s task for session %s: %w", task.Kind, task.SessionID, err)
	}
	r.logger.Debugf("Scheduled %s task %s for session %s at %s", task.Kind, task.ID, task.SessionID, task.DueAt.Format(time.RFC3339))
	return nil
}

func (r *Redis) Run(ctx context.Context, h Handler) {
	var wg sync.WaitGroup
	defer wg.Wait()

	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// tasks claimed before an error are already gone from the set
			tasks, err := r.claimDue(ctx)
			if err != nil {
				r.logger.Errorf("Failed to claim due tasks: %v", err)
			}
			for _, task := range tasks {
				wg.Add(1)
				go func(task Task) {
					defer wg.Done()
					if err := h(ctx, task); err != nil {
						r.logger.Errorf("Scheduled %s task %s failed: %v", task.Kind, task.ID, err)
					}
				}(task)
			}
		}
	}
}

// claimDue removes and returns the tasks whose due time has passed. On error
// it still returns the tasks it removed so far; the rest stay in the set.
func (r *Redis) claimDue(ctx context.Context) ([]Task, error) {
	members, err := r.client.ZRangeByScore(ctx, r.key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(r.now().UnixMilli(), 10),
		Count: claimBatch,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read due tasks: %w", err)
	}

	var tasks []Task
	for _, member := range members {
		removed, err := r.client.ZRem(ctx, r.key, member).Result()
		if err != nil {
			return tasks, fmt.Errorf("failed to claim task: %w", err)
		}
		if removed == 0 {
			continue
		}
		var task Task
		if err := json.Unmarshal([]byte(member), &task); err != nil {
			r.logger.Errorf("Dropping undecodable task %q: %v", member, err)
			continue
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}
