package task

import (
	"context"
	"errors"
	"log"
	"strconv"
	"time"

	"gorm.io/gorm"
)

// Enqueuer is the slice of the queue client the service needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, taskID string, dueMillis int64) error
}

type Service struct {
	DB                 *gorm.DB
	Queue              Enqueuer // nil in poll mode
	QueueMode          bool
	DefaultMaxAttempts int
}

type CreateInput struct {
	Type        string
	Payload     string
	MaxAttempts int // 0 means DefaultMaxAttempts
}

// Create persists a new task, then (queue mode) pushes its id to the queue.
// The push happens strictly after the insert committed; if it fails the row
// stays ENQUEUED and due, so the bridge re-issues it on its next tick.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Task, error) {
	now := time.Now()

	maxAttempts := in.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = s.DefaultMaxAttempts
	}

	t := &Task{
		Type:         in.Type,
		Payload:      in.Payload,
		Status:       StatusPending,
		MaxAttempts:  maxAttempts,
		ScheduledFor: &now,
	}
	if s.QueueMode {
		t.Status = StatusEnqueued
	}

	if err := s.DB.WithContext(ctx).Create(t).Error; err != nil {
		return nil, err
	}

	if s.QueueMode && s.Queue != nil {
		if err := s.Queue.Enqueue(ctx, strconv.FormatInt(t.ID, 10), now.UnixMilli()); err != nil {
			log.Printf("enqueue_failed id=%d err=%v", t.ID, err)
		}
	}
	return t, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*Task, error) {
	var t Task
	if err := s.DB.WithContext(ctx).First(&t, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{ID: id}
		}
		return nil, err
	}
	return &t, nil
}

// Cancel is guarded to PENDING. The update is conditional on the current
// status so a concurrent claim can never be silently overwritten; zero rows
// means the task moved on, and the reload names its actual state.
func (s *Service) Cancel(ctx context.Context, id int64) (*Task, error) {
	res := s.DB.WithContext(ctx).Model(&Task{}).
		Where("id = ? AND status = ?", id, StatusPending).
		Updates(map[string]any{
			"status":  StatusCanceled,
			"version": gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		t, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, &InvalidStateError{Op: "cancel", Status: t.Status}
	}
	return s.Get(ctx, id)
}
