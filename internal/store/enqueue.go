package store

import (
	"time"

	"gorm.io/gorm"
)

// EnqueueStore backs the enqueue bridge. next_run_at doubles as the
// enqueue-lock in queue mode: a row the bridge has dispatched but not yet
// confirmed is skipped until the lock expires.
type EnqueueStore struct {
	DB *gorm.DB
}

type TaskToEnqueue struct {
	ID           int64
	ScheduledFor *time.Time
}

// ClaimDueForEnqueue atomically selects up to limit due ENQUEUED rows and
// sets the enqueue-lock on them in the same statement. FOR UPDATE SKIP
// LOCKED keeps two concurrent bridge instances off the same rows
// (Postgres-specific).
func (s *EnqueueStore) ClaimDueForEnqueue(limit int, lock time.Duration) ([]TaskToEnqueue, error) {
	var out []TaskToEnqueue
	err := s.DB.Raw(`
WITH due AS (
    SELECT id
      FROM tasks
     WHERE status = 'ENQUEUED'
       AND (scheduled_for IS NULL OR scheduled_for <= now())
       AND attempt_count < max_attempts
       AND (next_run_at IS NULL OR next_run_at <= now())
     ORDER BY scheduled_for NULLS FIRST, id
     LIMIT ?
       FOR UPDATE SKIP LOCKED
)
UPDATE tasks t
   SET next_run_at = now() + (? * interval '1 second'),
       version = version + 1,
       updated_at = now()
  FROM due
 WHERE t.id = due.id
RETURNING t.id, t.scheduled_for
`, limit, int64(lock.Seconds())).Scan(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ReleaseEnqueueLock clears the lock after a failed enqueue so the next tick
// retries the row promptly.
func (s *EnqueueStore) ReleaseEnqueueLock(id int64) error {
	return s.DB.Exec(`
UPDATE tasks
   SET next_run_at = NULL,
       version = version + 1,
       updated_at = now()
 WHERE id = ?
   AND status = 'ENQUEUED'
`, id).Error
}
