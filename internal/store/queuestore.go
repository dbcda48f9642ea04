package store

import (
	"database/sql"
	"errors"
	"time"

	"taskforge/internal/task"

	"gorm.io/gorm"
)

// QueueStore backs the queue-mediated worker: two-phase claims from
// ENQUEUED, with writes scoped by worker identity instead of a version
// counter — the worker recording the outcome may not be the process that
// would otherwise hold an optimistic read.
type QueueStore struct {
	DB *gorm.DB
}

// ClaimedTask is the snapshot returned by a successful claim.
type ClaimedTask struct {
	ID           int64
	Type         string
	Payload      string
	AttemptCount int
	MaxAttempts  int
}

// ClaimEnqueued is the idempotency gate for at-least-once delivery: it
// succeeds at most once per attempt regardless of how often the queue
// redelivers the message. Returns nil when the row is not ENQUEUED, not due,
// or out of attempts.
func (s *QueueStore) ClaimEnqueued(id int64, workerID string, now time.Time) (*ClaimedTask, error) {
	var ct ClaimedTask
	res := s.DB.Raw(`
UPDATE tasks
   SET status = 'PROCESSING',
       processing_started_at = ?,
       worker_id = ?,
       attempt_count = attempt_count + 1,
       last_error = NULL,
       next_run_at = NULL,
       version = version + 1,
       updated_at = ?
 WHERE id = ?
   AND status = 'ENQUEUED'
   AND (scheduled_for IS NULL OR scheduled_for <= ?)
   AND attempt_count < max_attempts
RETURNING id, type, payload, attempt_count, max_attempts
`, now, workerID, now, id, now).Scan(&ct)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return &ct, nil
}

// MarkSucceeded completes the attempt. Only the worker holding the claim may
// complete it; false means the row was not PROCESSING under this worker.
func (s *QueueStore) MarkSucceeded(id int64, workerID string, now time.Time) (bool, error) {
	res := s.DB.Exec(`
UPDATE tasks
   SET status = 'SUCCEEDED',
       completed_at = ?,
       last_error = NULL,
       version = version + 1,
       updated_at = ?
 WHERE id = ?
   AND status = 'PROCESSING'
   AND worker_id = ?
`, now, now, id, workerID)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// FailOutcome reports what a failed attempt became, so the caller can decide
// on dead-lettering without a second read.
type FailOutcome struct {
	Status       task.Status
	AttemptCount int
	MaxAttempts  int
}

func (o *FailOutcome) BecameDead() bool {
	return o.Status == task.StatusDead
}

// MarkFailedAndReschedule records a failed attempt: DEAD once attempts are
// exhausted, otherwise back to ENQUEUED with scheduled_for pushed out by
// backoff so the bridge re-issues it. attempt_count was already incremented
// at claim time and is not touched here. Returns nil when the row was not
// PROCESSING under this worker.
func (s *QueueStore) MarkFailedAndReschedule(id int64, workerID, errMsg string, backoff time.Duration, now time.Time) (*FailOutcome, error) {
	if errMsg == "" {
		errMsg = "Unknown error"
	}
	retryAt := now.Add(backoff)

	var out FailOutcome
	res := s.DB.Raw(`
UPDATE tasks
   SET status = CASE WHEN attempt_count >= max_attempts THEN 'DEAD' ELSE 'ENQUEUED' END,
       last_error = ?,
       scheduled_for = CASE WHEN attempt_count >= max_attempts THEN NULL ELSE ? END,
       completed_at = CASE WHEN attempt_count >= max_attempts THEN ? ELSE NULL END,
       processing_started_at = NULL,
       worker_id = NULL,
       next_run_at = NULL,
       version = version + 1,
       updated_at = ?
 WHERE id = ?
   AND status = 'PROCESSING'
   AND worker_id = ?
RETURNING status, attempt_count, max_attempts
`, errMsg, retryAt, now, now, id, workerID).Scan(&out)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return &out, nil
}

// ScheduledFor reads the due time for schedule-lag observation.
func (s *QueueStore) ScheduledFor(id int64) (*time.Time, error) {
	row := s.DB.Raw(`SELECT scheduled_for FROM tasks WHERE id = ?`, id).Row()
	var nt sql.NullTime
	if err := row.Scan(&nt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if !nt.Valid {
		return nil, nil
	}
	return &nt.Time, nil
}
