package worker

import (
	"sync/atomic"
	"time"
)

// Metrics is a set of process-local counters shared by both loops. Claim
// conflicts are expected under concurrency and are counted here rather than
// logged as errors.
type Metrics struct {
	Received         atomic.Int64
	Deleted          atomic.Int64
	Poison           atomic.Int64
	ClaimConflicts   atomic.Int64
	Processed        atomic.Int64
	Succeeded        atomic.Int64
	Failed           atomic.Int64
	DeadLettered     atomic.Int64
	DeadLetterErrors atomic.Int64

	lagCount  atomic.Int64
	lagMillis atomic.Int64
}

// ObserveScheduleLag records the gap between a task's due time and its
// actual claim. Negative lags (clock skew) are dropped.
func (m *Metrics) ObserveScheduleLag(lag time.Duration) {
	if lag < 0 {
		return
	}
	m.lagCount.Add(1)
	m.lagMillis.Add(lag.Milliseconds())
}

// Snapshot returns the counters for the /stats endpoint.
func (m *Metrics) Snapshot() map[string]int64 {
	return map[string]int64{
		"messages_received":   m.Received.Load(),
		"messages_deleted":    m.Deleted.Load(),
		"messages_poison":     m.Poison.Load(),
		"claim_conflicts":     m.ClaimConflicts.Load(),
		"tasks_processed":     m.Processed.Load(),
		"tasks_succeeded":     m.Succeeded.Load(),
		"tasks_failed":        m.Failed.Load(),
		"tasks_dead_lettered": m.DeadLettered.Load(),
		"dead_letter_errors":  m.DeadLetterErrors.Load(),
		"schedule_lag_count":  m.lagCount.Load(),
		"schedule_lag_millis": m.lagMillis.Load(),
	}
}
