package task

import "time"

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusEnqueued   Status = "ENQUEUED"
	StatusProcessing Status = "PROCESSING"
	StatusSucceeded  Status = "SUCCEEDED"
	StatusFailed     Status = "FAILED" // retryable, next_run_at gates re-claim
	StatusDead       Status = "DEAD"   // terminal, retries exhausted
	StatusCanceled   Status = "CANCELED"
)

type Task struct {
	ID      int64  `gorm:"primaryKey"`
	Type    string `gorm:"type:text;not null"`
	Payload string `gorm:"type:text;not null"`
	Status  Status `gorm:"type:text;index;not null"`

	AttemptCount int `gorm:"not null;default:0"`
	MaxAttempts  int `gorm:"not null;default:3"`

	// ScheduledFor is the earliest eligible processing time. In queue mode it
	// is also the retry due time the enqueue bridge watches.
	ScheduledFor *time.Time
	// NextRunAt gates re-claim after a failure in poll mode, and doubles as
	// the enqueue-lock timestamp in queue mode.
	NextRunAt *time.Time

	LastError           *string `gorm:"type:text"`
	ProcessingStartedAt *time.Time
	CompletedAt         *time.Time
	WorkerID            *string `gorm:"type:text"`

	// Version detects lost updates in poll mode; every write bumps it.
	Version int64 `gorm:"not null;default:0"`

	CreatedAt time.Time `gorm:"index;not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// Terminal reports whether no further transitions are legal.
func (t *Task) Terminal() bool {
	return t.Status == StatusSucceeded || t.Status == StatusDead || t.Status == StatusCanceled
}

// Cancel moves a PENDING task to CANCELED. Any other source state is an
// invalid-state error and the record is left untouched.
func (t *Task) Cancel() error {
	if t.Status != StatusPending {
		return &InvalidStateError{Op: "cancel", Status: t.Status}
	}
	t.Status = StatusCanceled
	return nil
}

// MarkEnqueued hands a PENDING or retryable FAILED task to the queue path.
func (t *Task) MarkEnqueued(scheduledFor time.Time) error {
	if t.Status != StatusPending && t.Status != StatusFailed {
		return &InvalidStateError{Op: "enqueue", Status: t.Status}
	}
	if t.AttemptCount >= t.MaxAttempts {
		return &InvalidStateError{Op: "enqueue", Status: t.Status}
	}
	t.Status = StatusEnqueued
	t.ScheduledFor = &scheduledFor
	t.WorkerID = nil
	t.ProcessingStartedAt = nil
	return nil
}

// Claim grants workerID the current attempt. The stores execute the same
// guards and effects as a single conditional UPDATE; this in-memory form
// backs the service layer and the tests.
func (t *Task) Claim(workerID string, now time.Time) error {
	if t.Status != StatusPending && t.Status != StatusFailed && t.Status != StatusEnqueued {
		return &InvalidStateError{Op: "claim", Status: t.Status}
	}
	if t.AttemptCount >= t.MaxAttempts {
		return &InvalidStateError{Op: "claim", Status: t.Status}
	}
	if t.NextRunAt != nil && t.NextRunAt.After(now) {
		return &InvalidStateError{Op: "claim", Status: t.Status}
	}
	t.Status = StatusProcessing
	t.AttemptCount++
	t.LastError = nil
	t.NextRunAt = nil
	t.WorkerID = &workerID
	t.ProcessingStartedAt = &now
	return nil
}

func (t *Task) MarkSucceeded(now time.Time) error {
	if t.Status != StatusProcessing {
		return &InvalidStateError{Op: "succeed", Status: t.Status}
	}
	t.Status = StatusSucceeded
	t.CompletedAt = &now
	t.LastError = nil
	return nil
}

// MarkFailed records the outcome of a failed attempt: FAILED with a future
// next_run_at while attempts remain, DEAD once they are exhausted.
func (t *Task) MarkFailed(errMsg string, backoff time.Duration, now time.Time) error {
	if t.Status != StatusProcessing {
		return &InvalidStateError{Op: "fail", Status: t.Status}
	}
	if errMsg == "" {
		errMsg = "Unknown error"
	}
	t.LastError = &errMsg
	if t.AttemptCount >= t.MaxAttempts {
		t.Status = StatusDead
		t.NextRunAt = nil
		t.CompletedAt = &now
	} else {
		t.Status = StatusFailed
		next := now.Add(backoff)
		t.NextRunAt = &next
	}
	return nil
}
