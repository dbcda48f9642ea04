// Package queue is the message transport between the enqueue bridge and the
// queue-mediated workers. The transport is at-least-once and may duplicate
// or reorder; the claim store is the source of truth for task state, never
// the queue.
package queue

import "context"

// Message is one received queue entry. Body is a task id as a decimal
// string; Receipt is the opaque handle Delete needs.
type Message struct {
	Body    string
	Receipt string
}

type Queue interface {
	// Enqueue pushes a task id onto the queue. dueMillis is carried for
	// logging only; scheduling is the store's job.
	Enqueue(ctx context.Context, taskID string, dueMillis int64) error

	// ReceiveBatch long-polls for up to max messages, waiting at most
	// waitSeconds. Received messages stay invisible to other consumers for
	// visibilitySeconds, then become redeliverable unless deleted.
	ReceiveBatch(ctx context.Context, max, waitSeconds, visibilitySeconds int) ([]Message, error)

	// Delete acknowledges a received message by its receipt.
	Delete(ctx context.Context, receipt string) error
}
