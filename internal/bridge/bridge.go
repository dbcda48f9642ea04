// Package bridge promotes due tasks from the store into the queue
// (queue mode only).
package bridge

import (
	"context"
	"log"
	"strconv"
	"time"

	"taskforge/internal/queue"
	"taskforge/internal/store"
)

type Store interface {
	ClaimDueForEnqueue(limit int, lock time.Duration) ([]store.TaskToEnqueue, error)
	ReleaseEnqueueLock(id int64) error
}

// Bridge runs on a fixed interval. Selecting a batch and enqueue-locking it
// happen in one atomic store operation, so concurrent bridge instances never
// dispatch the same row twice within the lock window.
type Bridge struct {
	Store     Store
	Queue     queue.Queue
	Interval  time.Duration
	BatchSize int
	Lock      time.Duration
}

func (b *Bridge) Run(ctx context.Context) {
	log.Printf("enqueue bridge started interval=%s batch=%d", b.Interval, b.BatchSize)
	ticker := time.NewTicker(b.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("enqueue bridge stopped")
			return
		case <-ticker.C:
			b.Tick(ctx)
		}
	}
}

func (b *Bridge) Tick(ctx context.Context) {
	due, err := b.Store.ClaimDueForEnqueue(b.BatchSize, b.Lock)
	if err != nil {
		log.Printf("enqueue bridge claim error: %v", err)
		return
	}

	for _, t := range due {
		var dueMillis int64
		if t.ScheduledFor != nil {
			dueMillis = t.ScheduledFor.UnixMilli()
		}
		if err := b.Queue.Enqueue(ctx, strconv.FormatInt(t.ID, 10), dueMillis); err != nil {
			// Release this row's lock so the next tick retries it promptly;
			// the rest of the batch proceeds.
			log.Printf("enqueue failed id=%d, releasing enqueue lock: %v", t.ID, err)
			if relErr := b.Store.ReleaseEnqueueLock(t.ID); relErr != nil {
				log.Printf("release enqueue lock failed id=%d err=%v", t.ID, relErr)
			}
		}
	}
}
