package worker

import (
	"context"
	"errors"
	"log"
	"time"

	"taskforge/internal/store"
	"taskforge/internal/task"
)

// Poller is the direct-poll execution engine: it selects due PENDING/FAILED
// rows and claims them in place. Correctness under concurrent pollers is
// enforced by the store's conditional updates, not by anything in here.
type Poller struct {
	Store     *store.PollStore
	Registry  *Registry
	Metrics   *Metrics
	WorkerID  string
	Interval  time.Duration
	BatchSize int
}

func (p *Poller) Run(ctx context.Context) {
	log.Printf("poll worker started workerId=%s interval=%s", p.WorkerID, p.Interval)
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("poll worker stopped workerId=%s", p.WorkerID)
			return
		case <-ticker.C:
			p.RunOnce()
		}
	}
}

// RunOnce processes one batch of eligible tasks.
func (p *Poller) RunOnce() {
	tasks, err := p.Store.FindEligible(time.Now(), p.BatchSize)
	if err != nil {
		log.Printf("poll worker find error: %v", err)
		return
	}

	for _, t := range tasks {
		p.processTask(t.ID)
	}
}

func (p *Poller) processTask(id int64) {
	claimed, err := p.Store.Claim(id, p.WorkerID, time.Now())
	if err != nil {
		log.Printf("task_claim_error id=%d err=%v", id, err)
		return
	}
	if claimed == nil {
		p.Metrics.ClaimConflicts.Add(1)
		log.Printf("task_skipped id=%d reason=already_claimed_or_not_due", id)
		return
	}
	log.Printf("task_claimed id=%d attempt=%d maxAttempts=%d",
		claimed.ID, claimed.AttemptCount, claimed.MaxAttempts)

	startedAt := time.Now()
	execErr := p.Registry.Execute(ExecTask{ID: claimed.ID, Type: claimed.Type, Payload: claimed.Payload})
	p.Metrics.Processed.Add(1)

	if execErr == nil {
		if err := p.Store.MarkSucceeded(claimed.ID, claimed.Version, time.Now()); err != nil {
			p.swallowMarkError(claimed.ID, "markSucceeded", err)
			return
		}
		p.Metrics.Succeeded.Add(1)
		log.Printf("task_succeeded id=%d attempt=%d durationMs=%d",
			claimed.ID, claimed.AttemptCount, time.Since(startedAt).Milliseconds())
		return
	}

	log.Printf("task_processing_failed id=%d attempt=%d err=%v durationMs=%d",
		claimed.ID, claimed.AttemptCount, execErr, time.Since(startedAt).Milliseconds())

	// Backoff for the attempt that just failed (post-increment count). A nil
	// nextRunAt tells the store the row is out of attempts and goes DEAD.
	var nextRunAt *time.Time
	if claimed.AttemptCount < claimed.MaxAttempts {
		nr := time.Now().Add(task.Backoff(claimed.AttemptCount))
		nextRunAt = &nr
	}
	if err := p.Store.MarkFailed(claimed.ID, claimed.Version, execErr.Error(), nextRunAt, time.Now()); err != nil {
		p.swallowMarkError(claimed.ID, "markFailed", err)
		return
	}
	p.Metrics.Failed.Add(1)
	log.Printf("task_retry_state_updated id=%d attempt=%d maxAttempts=%d nextRunAt=%v",
		claimed.ID, claimed.AttemptCount, claimed.MaxAttempts, nextRunAt)
}

// A version conflict means another writer intervened; this worker must not
// overwrite, so the mark is dropped after counting it.
func (p *Poller) swallowMarkError(id int64, phase string, err error) {
	if errors.Is(err, task.ErrVersionConflict) {
		p.Metrics.ClaimConflicts.Add(1)
		log.Printf("task_conflict_optimistic_lock id=%d phase=%s", id, phase)
		return
	}
	log.Printf("task_mark_error id=%d phase=%s err=%v", id, phase, err)
}
