package queue

import (
	"context"
	"errors"
	"log"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisQueue implements Queue on three keys: a ready LIST, an in-flight ZSET
// scored by visibility deadline (unix millis), and a receipt->body HASH.
// Expired in-flight entries are moved back to ready at receive time, which
// gives SQS-style visibility-timeout redelivery.
type RedisQueue struct {
	rdb *redis.Client
	ns  string
}

func NewRedisQueue(rdb *redis.Client, namespace string) *RedisQueue {
	return &RedisQueue{rdb: rdb, ns: namespace}
}

func (q *RedisQueue) readyKey() string    { return q.ns + ":ready" }
func (q *RedisQueue) inflightKey() string { return q.ns + ":inflight" }
func (q *RedisQueue) bodiesKey() string   { return q.ns + ":bodies" }

func (q *RedisQueue) Enqueue(ctx context.Context, taskID string, dueMillis int64) error {
	log.Printf("enqueue_task id=%s scheduledFor=%d", taskID, dueMillis)
	return q.rdb.LPush(ctx, q.readyKey(), taskID).Err()
}

func (q *RedisQueue) ReceiveBatch(ctx context.Context, max, waitSeconds, visibilitySeconds int) ([]Message, error) {
	if err := q.requeueExpired(ctx); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(time.Duration(waitSeconds) * time.Second)
	var msgs []Message

	for len(msgs) < max {
		body, err := q.rdb.RPop(ctx, q.readyKey()).Result()
		if errors.Is(err, redis.Nil) {
			// Long poll: keep waiting only while empty-handed.
			if len(msgs) > 0 || !time.Now().Before(deadline) {
				break
			}
			select {
			case <-ctx.Done():
				return msgs, ctx.Err()
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}
		if err != nil {
			return msgs, err
		}

		receipt := uuid.NewString()
		visibleAt := time.Now().Add(time.Duration(visibilitySeconds) * time.Second)
		if err := q.rdb.HSet(ctx, q.bodiesKey(), receipt, body).Err(); err != nil {
			return msgs, err
		}
		if err := q.rdb.ZAdd(ctx, q.inflightKey(), redis.Z{
			Score:  float64(visibleAt.UnixMilli()),
			Member: receipt,
		}).Err(); err != nil {
			return msgs, err
		}
		msgs = append(msgs, Message{Body: body, Receipt: receipt})
	}
	return msgs, nil
}

func (q *RedisQueue) Delete(ctx context.Context, receipt string) error {
	if err := q.rdb.ZRem(ctx, q.inflightKey(), receipt).Err(); err != nil {
		return err
	}
	return q.rdb.HDel(ctx, q.bodiesKey(), receipt).Err()
}

// requeueExpired moves in-flight entries whose visibility deadline passed
// back onto the ready list. ZRem decides the winner when several consumers
// sweep at once.
func (q *RedisQueue) requeueExpired(ctx context.Context) error {
	now := time.Now().UnixMilli()
	expired, err := q.rdb.ZRangeByScore(ctx, q.inflightKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now, 10),
	}).Result()
	if err != nil {
		return err
	}
	for _, receipt := range expired {
		removed, err := q.rdb.ZRem(ctx, q.inflightKey(), receipt).Result()
		if err != nil {
			return err
		}
		if removed == 0 {
			continue // another consumer requeued or deleted it
		}
		body, err := q.rdb.HGet(ctx, q.bodiesKey(), receipt).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return err
		}
		if err := q.rdb.HDel(ctx, q.bodiesKey(), receipt).Err(); err != nil {
			return err
		}
		if err := q.rdb.LPush(ctx, q.readyKey(), body).Err(); err != nil {
			return err
		}
	}
	return nil
}
