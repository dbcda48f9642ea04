package worker

import (
	"context"
	"log"
	"strconv"
	"strings"
	"time"

	"taskforge/internal/queue"
	"taskforge/internal/store"
	"taskforge/internal/task"
)

// QueueLoop is the queue-mediated execution engine. The queue delivers task
// ids at least once; ClaimEnqueued is the idempotency gate, and a message is
// deleted only after the store recorded the attempt's outcome.
type QueueLoop struct {
	Store    *store.QueueStore
	Queue    queue.Queue
	DLQ      queue.DeadLetterPublisher
	Registry *Registry
	Metrics  *Metrics

	// WorkerID scopes the claim: only the holder may record the outcome.
	WorkerID string

	BatchSize         int
	WaitSeconds       int
	VisibilitySeconds int
}

func (w *QueueLoop) Run(ctx context.Context) {
	log.Printf("queue worker started workerId=%s", w.WorkerID)

	for ctx.Err() == nil {
		msgs, err := w.Queue.ReceiveBatch(ctx, w.BatchSize, w.WaitSeconds, w.VisibilitySeconds)

		// Whatever made it into the batch is in flight: finish it even when
		// the receive ended with an error or a shutdown signal.
		for _, m := range msgs {
			w.Metrics.Received.Add(1)
			w.ProcessMessage(m)
		}

		if err != nil && ctx.Err() == nil {
			log.Printf("queue worker receive error, will retry: %v", err)
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
	}

	log.Printf("queue worker stopped workerId=%s", w.WorkerID)
}

// RunOnce receives and processes a single batch.
func (w *QueueLoop) RunOnce(ctx context.Context) error {
	msgs, err := w.Queue.ReceiveBatch(ctx, w.BatchSize, w.WaitSeconds, w.VisibilitySeconds)
	for _, m := range msgs {
		w.Metrics.Received.Add(1)
		w.ProcessMessage(m)
	}
	return err
}

func (w *QueueLoop) ProcessMessage(msg queue.Message) {
	// Queue operations after this point must outlive a shutdown signal: an
	// in-flight claim finishes its mark-outcome and delete before the loop
	// exits.
	ctx := context.Background()

	id, err := strconv.ParseInt(strings.TrimSpace(msg.Body), 10, 64)
	if err != nil {
		// Poison message: nothing can ever process it, drop it now.
		w.Metrics.Poison.Add(1)
		log.Printf("bad message body=%q, deleting", msg.Body)
		w.deleteMessage(ctx, msg)
		return
	}

	claimed, err := w.Store.ClaimEnqueued(id, w.WorkerID, time.Now())
	if err != nil {
		log.Printf("task_claim_error id=%d err=%v", id, err)
		return // leave the message for redelivery
	}
	if claimed == nil {
		// Another worker holds it, it is not due, or it already finished.
		// Redelivery after the visibility timeout sorts it out.
		w.Metrics.ClaimConflicts.Add(1)
		log.Printf("task_not_claimed id=%d, leaving message for retry", id)
		return
	}
	w.Metrics.Processed.Add(1)

	if scheduledFor, err := w.Store.ScheduledFor(id); err == nil && scheduledFor != nil {
		w.Metrics.ObserveScheduleLag(time.Since(*scheduledFor))
	}

	execErr := w.Registry.Execute(ExecTask{ID: claimed.ID, Type: claimed.Type, Payload: claimed.Payload})
	if execErr == nil {
		updated, err := w.Store.MarkSucceeded(id, w.WorkerID, time.Now())
		if err != nil || !updated {
			// The store is the source of truth; without its confirmation the
			// message stays for redelivery.
			log.Printf("markSucceeded did not update row, not deleting message id=%d workerId=%s err=%v",
				id, w.WorkerID, err)
			return
		}
		w.Metrics.Succeeded.Add(1)
		w.deleteMessage(ctx, msg)
		return
	}

	w.Metrics.Failed.Add(1)
	log.Printf("task_processing_failed id=%d attempt=%d err=%v", id, claimed.AttemptCount, execErr)

	backoff := task.Backoff(claimed.AttemptCount)
	outcome, err := w.Store.MarkFailedAndReschedule(id, w.WorkerID, execErr.Error(), backoff, time.Now())
	if err != nil || outcome == nil {
		log.Printf("markFailedAndReschedule did not update row, not deleting message id=%d workerId=%s err=%v",
			id, w.WorkerID, err)
		return
	}

	if outcome.BecameDead() {
		w.Metrics.DeadLettered.Add(1)
		if w.DLQ != nil {
			ev := queue.DeadTaskEvent{
				TaskID:       id,
				WorkerID:     w.WorkerID,
				AttemptCount: outcome.AttemptCount,
				MaxAttempts:  outcome.MaxAttempts,
				Error:        execErr.Error(),
				DeadAt:       time.Now(),
			}
			if dlqErr := w.DLQ.PublishDeadTask(ctx, ev); dlqErr != nil {
				// Deleting anyway beats infinite redelivery while the dead
				// letter sink is down.
				w.Metrics.DeadLetterErrors.Add(1)
				log.Printf("dead letter publish failed id=%d err=%v, deleting message anyway", id, dlqErr)
			}
		}
	}

	// The store already recorded retry-vs-dead; redelivery would either
	// no-op against a non-PROCESSING row or duplicate a retry the bridge
	// re-issues itself.
	w.deleteMessage(ctx, msg)
}

func (w *QueueLoop) deleteMessage(ctx context.Context, msg queue.Message) {
	if err := w.Queue.Delete(ctx, msg.Receipt); err != nil {
		log.Printf("message delete failed receipt=%s err=%v", msg.Receipt, err)
		return
	}
	w.Metrics.Deleted.Add(1)
}
