package task

import (
	"errors"
	"fmt"
)

// ErrVersionConflict signals that a version-guarded update matched no row:
// another writer intervened since the task was read. Expected under
// contention; callers skip rather than overwrite.
var ErrVersionConflict = errors.New("task version conflict")

type NotFoundError struct {
	ID int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("task %d not found", e.ID)
}

// InvalidStateError reports a transition attempted from a disallowed state.
type InvalidStateError struct {
	Op     string
	Status Status
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s task in state %s", e.Op, e.Status)
}
