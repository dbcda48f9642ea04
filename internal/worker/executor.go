// Package worker contains the execution engines: the direct-poll loop, the
// queue-mediated loop, and the executor registry both dispatch through.
package worker

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ExecTask is the slice of a claimed task the body sees.
type ExecTask struct {
	ID      int64
	Type    string
	Payload string
}

// ExecutorFunc runs a task body. Any returned error feeds the retry /
// dead-letter machinery; there is no other failure channel.
type ExecutorFunc func(t ExecTask) error

// Registry maps task types to executors.
type Registry struct {
	handlers map[string]ExecutorFunc
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]ExecutorFunc)}
}

func (r *Registry) Register(taskType string, fn ExecutorFunc) {
	r.handlers[taskType] = fn
}

// Execute dispatches on the task type. An unregistered type is an ordinary
// body failure and goes through the same retry path.
func (r *Registry) Execute(t ExecTask) error {
	fn, ok := r.handlers[t.Type]
	if !ok {
		return fmt.Errorf("no executor registered for task type %q", t.Type)
	}
	return fn(t)
}

// SimulatedExecutor stands in for real task logic. A payload containing
// "fail" forces a failure; that marker is a testing hook only.
func SimulatedExecutor(t ExecTask) error {
	time.Sleep(50 * time.Millisecond)
	if strings.Contains(t.Payload, "fail") {
		return errors.New("Simulated failure")
	}
	return nil
}
