package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// DeadTaskEvent is the flat record published when a task exhausts its
// retries.
type DeadTaskEvent struct {
	TaskID       int64     `json:"task_id"`
	WorkerID     string    `json:"worker_id"`
	AttemptCount int       `json:"attempt_count"`
	MaxAttempts  int       `json:"max_attempts"`
	Error        string    `json:"error"`
	DeadAt       time.Time `json:"dead_at"`
}

// DeadLetterPublisher is fire-and-forget relative to the task's state
// transition: a publish failure never gates the store update or message
// deletion.
type DeadLetterPublisher interface {
	PublishDeadTask(ctx context.Context, ev DeadTaskEvent) error
}

// RedisDeadLetter publishes dead-task events as JSON onto a Redis list.
type RedisDeadLetter struct {
	rdb *redis.Client
	key string
}

func NewRedisDeadLetter(rdb *redis.Client, namespace string) *RedisDeadLetter {
	return &RedisDeadLetter{rdb: rdb, key: namespace + ":dead"}
}

func (d *RedisDeadLetter) PublishDeadTask(ctx context.Context, ev DeadTaskEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return d.rdb.LPush(ctx, d.key, body).Err()
}
