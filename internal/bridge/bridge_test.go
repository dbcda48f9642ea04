package bridge

import (
	"context"
	"errors"
	"testing"
	"time"

	"taskforge/internal/queue"
	"taskforge/internal/store"
)

type fakeStore struct {
	due      []store.TaskToEnqueue
	claims   int
	released []int64
	claimErr error
}

func (f *fakeStore) ClaimDueForEnqueue(limit int, lock time.Duration) ([]store.TaskToEnqueue, error) {
	f.claims++
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	if limit < len(f.due) {
		return f.due[:limit], nil
	}
	return f.due, nil
}

func (f *fakeStore) ReleaseEnqueueLock(id int64) error {
	f.released = append(f.released, id)
	return nil
}

type fakeQueue struct {
	enqueued []string
	failOn   string
}

func (f *fakeQueue) Enqueue(ctx context.Context, taskID string, dueMillis int64) error {
	if taskID == f.failOn {
		return errors.New("queue unavailable")
	}
	f.enqueued = append(f.enqueued, taskID)
	return nil
}

func (f *fakeQueue) ReceiveBatch(ctx context.Context, max, waitSeconds, visibilitySeconds int) ([]queue.Message, error) {
	return nil, nil
}

func (f *fakeQueue) Delete(ctx context.Context, receipt string) error { return nil }

func due(ids ...int64) []store.TaskToEnqueue {
	now := time.Now()
	out := make([]store.TaskToEnqueue, 0, len(ids))
	for _, id := range ids {
		out = append(out, store.TaskToEnqueue{ID: id, ScheduledFor: &now})
	}
	return out
}

func TestBridgeTickEnqueuesBatch(t *testing.T) {
	st := &fakeStore{due: due(1, 2, 3)}
	q := &fakeQueue{}
	b := &Bridge{Store: st, Queue: q, BatchSize: 50, Lock: 30 * time.Second}

	b.Tick(context.Background())

	if len(q.enqueued) != 3 {
		t.Fatalf("want 3 enqueued, got %v", q.enqueued)
	}
	if len(st.released) != 0 {
		t.Fatalf("no locks should be released on success, got %v", st.released)
	}
}

func TestBridgeTickRespectsBatchSize(t *testing.T) {
	st := &fakeStore{due: due(1, 2, 3, 4, 5)}
	q := &fakeQueue{}
	b := &Bridge{Store: st, Queue: q, BatchSize: 2, Lock: 30 * time.Second}

	b.Tick(context.Background())

	if len(q.enqueued) != 2 {
		t.Fatalf("want 2 enqueued, got %v", q.enqueued)
	}
}

func TestBridgeEnqueueFailureReleasesOnlyThatLock(t *testing.T) {
	st := &fakeStore{due: due(1, 2, 3)}
	q := &fakeQueue{failOn: "2"}
	b := &Bridge{Store: st, Queue: q, BatchSize: 50, Lock: 30 * time.Second}

	b.Tick(context.Background())

	if len(q.enqueued) != 2 {
		t.Fatalf("remaining batch must proceed past the failure, got %v", q.enqueued)
	}
	if len(st.released) != 1 || st.released[0] != 2 {
		t.Fatalf("only the failed row's lock is released, got %v", st.released)
	}
}

func TestBridgeClaimErrorSkipsTick(t *testing.T) {
	st := &fakeStore{claimErr: errors.New("db down")}
	q := &fakeQueue{}
	b := &Bridge{Store: st, Queue: q, BatchSize: 50, Lock: 30 * time.Second}

	b.Tick(context.Background())

	if len(q.enqueued) != 0 || len(st.released) != 0 {
		t.Fatalf("failed claim must enqueue nothing: enqueued=%v released=%v", q.enqueued, st.released)
	}
}
