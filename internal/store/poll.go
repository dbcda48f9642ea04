// Package store implements the conditional-update claim protocol against the
// tasks table. Every write is a single UPDATE keyed by id and the expected
// logical state, so concurrent claimants see at most one success; there is no
// read-then-write pair visible to other transactions.
package store

import (
	"time"

	"taskforge/internal/task"

	"gorm.io/gorm"
)

// PollStore backs the direct-poll worker: single-phase claims from
// PENDING/FAILED, with an optimistic version column guarding the outcome
// writes.
type PollStore struct {
	DB *gorm.DB
}

// FindEligible returns up to limit due PENDING/FAILED tasks, oldest first.
func (s *PollStore) FindEligible(now time.Time, limit int) ([]task.Task, error) {
	var out []task.Task
	err := s.DB.
		Where("status IN ? AND (next_run_at IS NULL OR next_run_at <= ?)",
			[]task.Status{task.StatusPending, task.StatusFailed}, now).
		Order("created_at asc").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// Claim atomically transitions one due PENDING/FAILED row to PROCESSING and
// returns the post-claim snapshot, or nil when another worker got there
// first, the row is not yet due, or attempts are exhausted.
func (s *PollStore) Claim(id int64, workerID string, now time.Time) (*task.Task, error) {
	var t task.Task
	res := s.DB.Raw(`
UPDATE tasks
   SET status = 'PROCESSING',
       attempt_count = attempt_count + 1,
       last_error = NULL,
       next_run_at = NULL,
       worker_id = ?,
       processing_started_at = ?,
       version = version + 1,
       updated_at = ?
 WHERE id = ?
   AND status IN ('PENDING', 'FAILED')
   AND (next_run_at IS NULL OR next_run_at <= ?)
   AND attempt_count < max_attempts
RETURNING *
`, workerID, now, now, id, now).Scan(&t)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return &t, nil
}

// MarkSucceeded completes a claimed attempt. The version guard makes a
// concurrent writer visible as task.ErrVersionConflict instead of a lost
// update.
func (s *PollStore) MarkSucceeded(id, version int64, now time.Time) error {
	res := s.DB.Exec(`
UPDATE tasks
   SET status = 'SUCCEEDED',
       completed_at = ?,
       last_error = NULL,
       version = version + 1,
       updated_at = ?
 WHERE id = ?
   AND status = 'PROCESSING'
   AND version = ?
`, now, now, id, version)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return task.ErrVersionConflict
	}
	return nil
}

// MarkFailed records a failed attempt. A nil nextRunAt means retries are
// exhausted and the row goes DEAD; otherwise it returns to FAILED, released
// and due again at nextRunAt.
func (s *PollStore) MarkFailed(id, version int64, errMsg string, nextRunAt *time.Time, now time.Time) error {
	if errMsg == "" {
		errMsg = "Unknown error"
	}
	status := task.StatusFailed
	var completedAt *time.Time
	if nextRunAt == nil {
		status = task.StatusDead
		completedAt = &now
	}
	res := s.DB.Exec(`
UPDATE tasks
   SET status = ?,
       last_error = ?,
       next_run_at = ?,
       completed_at = ?,
       worker_id = NULL,
       processing_started_at = NULL,
       version = version + 1,
       updated_at = ?
 WHERE id = ?
   AND status = 'PROCESSING'
   AND version = ?
`, status, errMsg, nextRunAt, completedAt, now, id, version)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return task.ErrVersionConflict
	}
	return nil
}
