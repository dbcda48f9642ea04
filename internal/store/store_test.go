package store

import (
	"errors"
	"sync"
	"testing"
	"time"

	"taskforge/internal/task"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := gdb.AutoMigrate(&task.Task{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return gdb
}

func seedTask(t *testing.T, gdb *gorm.DB, mutate func(*task.Task)) *task.Task {
	t.Helper()
	now := time.Now()
	tk := &task.Task{
		Type:         "default",
		Payload:      "{}",
		Status:       task.StatusPending,
		MaxAttempts:  3,
		ScheduledFor: &now,
	}
	if mutate != nil {
		mutate(tk)
	}
	if err := gdb.Create(tk).Error; err != nil {
		t.Fatalf("seed task: %v", err)
	}
	return tk
}

func reload(t *testing.T, gdb *gorm.DB, id int64) *task.Task {
	t.Helper()
	var got task.Task
	if err := gdb.First(&got, id).Error; err != nil {
		t.Fatalf("reload %d: %v", id, err)
	}
	return &got
}

func TestPollClaimSingleWinner(t *testing.T) {
	gdb := openTestDB(t)
	s := &PollStore{DB: gdb}
	tk := seedTask(t, gdb, nil)

	const workers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	won := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := s.Claim(tk.ID, "w-1", time.Now())
			if err != nil {
				t.Errorf("claim: %v", err)
				return
			}
			if claimed != nil {
				mu.Lock()
				won++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if won != 1 {
		t.Fatalf("want exactly 1 successful claim, got %d", won)
	}
	got := reload(t, gdb, tk.ID)
	if got.AttemptCount != 1 {
		t.Fatalf("attempt_count must increase once per successful claim, got %d", got.AttemptCount)
	}
	if got.Status != task.StatusProcessing {
		t.Fatalf("want PROCESSING got %s", got.Status)
	}
}

func TestPollNotDueExcluded(t *testing.T) {
	gdb := openTestDB(t)
	s := &PollStore{DB: gdb}
	future := time.Now().Add(10 * time.Minute)
	tk := seedTask(t, gdb, func(tk *task.Task) {
		tk.Status = task.StatusFailed
		tk.NextRunAt = &future
	})

	eligible, err := s.FindEligible(time.Now(), 10)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(eligible) != 0 {
		t.Fatalf("not-due task must be excluded, got %d", len(eligible))
	}
	if claimed, _ := s.Claim(tk.ID, "w-1", time.Now()); claimed != nil {
		t.Fatal("claim before next_run_at must fail")
	}

	// Once the clock reaches next_run_at the task is eligible again.
	later := future.Add(time.Second)
	eligible, err = s.FindEligible(later, 10)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(eligible) != 1 {
		t.Fatalf("due task must be included, got %d", len(eligible))
	}
	if claimed, _ := s.Claim(tk.ID, "w-1", later); claimed == nil {
		t.Fatal("claim at next_run_at must succeed")
	}
}

func TestPollFindEligibleOrderAndLimit(t *testing.T) {
	gdb := openTestDB(t)
	s := &PollStore{DB: gdb}

	base := time.Now().Add(-time.Hour)
	var ids []int64
	for i := 0; i < 3; i++ {
		tk := seedTask(t, gdb, func(tk *task.Task) {
			tk.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		})
		ids = append(ids, tk.ID)
	}

	eligible, err := s.FindEligible(time.Now(), 2)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(eligible) != 2 {
		t.Fatalf("want 2 got %d", len(eligible))
	}
	if eligible[0].ID != ids[0] || eligible[1].ID != ids[1] {
		t.Fatalf("want oldest first %v, got %d,%d", ids, eligible[0].ID, eligible[1].ID)
	}
}

func TestPollRetryProgressionToDead(t *testing.T) {
	gdb := openTestDB(t)
	s := &PollStore{DB: gdb}
	tk := seedTask(t, gdb, func(tk *task.Task) { tk.MaxAttempts = 2 })

	// Attempt 1 fails with a retry.
	claimed, err := s.Claim(tk.ID, "w-1", time.Now())
	if err != nil || claimed == nil {
		t.Fatalf("claim 1: %v %v", claimed, err)
	}
	retryAt := time.Now().Add(task.Backoff(claimed.AttemptCount))
	if err := s.MarkFailed(claimed.ID, claimed.Version, "boom", &retryAt, time.Now()); err != nil {
		t.Fatalf("fail 1: %v", err)
	}
	got := reload(t, gdb, tk.ID)
	if got.Status != task.StatusFailed || got.NextRunAt == nil {
		t.Fatalf("want FAILED with next_run_at, got %s %v", got.Status, got.NextRunAt)
	}
	if got.WorkerID != nil {
		t.Fatal("failed-with-retry must release the worker")
	}

	// Attempt 2 exhausts the budget.
	claimed, err = s.Claim(tk.ID, "w-2", retryAt.Add(time.Second))
	if err != nil || claimed == nil {
		t.Fatalf("claim 2: %v %v", claimed, err)
	}
	if claimed.AttemptCount != 2 {
		t.Fatalf("want attempt 2, got %d", claimed.AttemptCount)
	}
	if err := s.MarkFailed(claimed.ID, claimed.Version, "boom", nil, time.Now()); err != nil {
		t.Fatalf("fail 2: %v", err)
	}
	got = reload(t, gdb, tk.ID)
	if got.Status != task.StatusDead {
		t.Fatalf("want DEAD got %s", got.Status)
	}
	if got.NextRunAt != nil {
		t.Fatalf("DEAD must have nil next_run_at, got %v", got.NextRunAt)
	}

	// Never eligible again, even far in the future.
	eligible, err := s.FindEligible(time.Now().Add(24*time.Hour), 10)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(eligible) != 0 {
		t.Fatalf("DEAD task must never be eligible, got %d", len(eligible))
	}
	if claimed, _ := s.Claim(tk.ID, "w-3", time.Now().Add(24*time.Hour)); claimed != nil {
		t.Fatal("DEAD task must never be claimable")
	}
}

func TestPollMarkVersionConflict(t *testing.T) {
	gdb := openTestDB(t)
	s := &PollStore{DB: gdb}
	tk := seedTask(t, gdb, nil)

	claimed, err := s.Claim(tk.ID, "w-1", time.Now())
	if err != nil || claimed == nil {
		t.Fatalf("claim: %v %v", claimed, err)
	}

	stale := claimed.Version - 1
	if err := s.MarkSucceeded(claimed.ID, stale, time.Now()); !errors.Is(err, task.ErrVersionConflict) {
		t.Fatalf("want ErrVersionConflict got %v", err)
	}
	if err := s.MarkFailed(claimed.ID, stale, "boom", nil, time.Now()); !errors.Is(err, task.ErrVersionConflict) {
		t.Fatalf("want ErrVersionConflict got %v", err)
	}

	if err := s.MarkSucceeded(claimed.ID, claimed.Version, time.Now()); err != nil {
		t.Fatalf("mark with current version: %v", err)
	}
	got := reload(t, gdb, tk.ID)
	if got.Status != task.StatusSucceeded {
		t.Fatalf("want SUCCEEDED got %s", got.Status)
	}
}

func TestQueueClaimEnqueuedOnce(t *testing.T) {
	gdb := openTestDB(t)
	s := &QueueStore{DB: gdb}
	tk := seedTask(t, gdb, func(tk *task.Task) { tk.Status = task.StatusEnqueued })

	claimed, err := s.ClaimEnqueued(tk.ID, "w-1", time.Now())
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed == nil || claimed.AttemptCount != 1 {
		t.Fatalf("unexpected claim result: %+v", claimed)
	}

	// A redelivered message hits a non-ENQUEUED row and no-ops.
	dup, err := s.ClaimEnqueued(tk.ID, "w-2", time.Now())
	if err != nil {
		t.Fatalf("dup claim: %v", err)
	}
	if dup != nil {
		t.Fatal("second claim must fail")
	}
	got := reload(t, gdb, tk.ID)
	if got.AttemptCount != 1 || got.WorkerID == nil || *got.WorkerID != "w-1" {
		t.Fatalf("unexpected row after duplicate claim: %+v", got)
	}
}

func TestQueueClaimEnqueuedNotDue(t *testing.T) {
	gdb := openTestDB(t)
	s := &QueueStore{DB: gdb}
	future := time.Now().Add(time.Hour)
	tk := seedTask(t, gdb, func(tk *task.Task) {
		tk.Status = task.StatusEnqueued
		tk.ScheduledFor = &future
	})

	if claimed, _ := s.ClaimEnqueued(tk.ID, "w-1", time.Now()); claimed != nil {
		t.Fatal("claim before scheduled_for must fail")
	}
	if claimed, _ := s.ClaimEnqueued(tk.ID, "w-1", future.Add(time.Second)); claimed == nil {
		t.Fatal("claim after scheduled_for must succeed")
	}
}

func TestQueueMarkSucceededWorkerScope(t *testing.T) {
	gdb := openTestDB(t)
	s := &QueueStore{DB: gdb}
	tk := seedTask(t, gdb, func(tk *task.Task) { tk.Status = task.StatusEnqueued })

	if claimed, _ := s.ClaimEnqueued(tk.ID, "w-1", time.Now()); claimed == nil {
		t.Fatal("claim failed")
	}

	ok, err := s.MarkSucceeded(tk.ID, "w-2", time.Now())
	if err != nil {
		t.Fatalf("mark: %v", err)
	}
	if ok {
		t.Fatal("only the claim holder may complete the task")
	}

	ok, err = s.MarkSucceeded(tk.ID, "w-1", time.Now())
	if err != nil || !ok {
		t.Fatalf("holder mark: ok=%v err=%v", ok, err)
	}
	got := reload(t, gdb, tk.ID)
	if got.Status != task.StatusSucceeded || got.CompletedAt == nil {
		t.Fatalf("unexpected row: %+v", got)
	}
}

func TestQueueMarkFailedReschedules(t *testing.T) {
	gdb := openTestDB(t)
	s := &QueueStore{DB: gdb}
	tk := seedTask(t, gdb, func(tk *task.Task) { tk.Status = task.StatusEnqueued })

	if claimed, _ := s.ClaimEnqueued(tk.ID, "w-1", time.Now()); claimed == nil {
		t.Fatal("claim failed")
	}

	before := time.Now()
	outcome, err := s.MarkFailedAndReschedule(tk.ID, "w-1", "boom", 30*time.Second, time.Now())
	if err != nil {
		t.Fatalf("fail: %v", err)
	}
	if outcome == nil || outcome.BecameDead() {
		t.Fatalf("want retry outcome, got %+v", outcome)
	}
	if outcome.AttemptCount != 1 || outcome.MaxAttempts != 3 {
		t.Fatalf("unexpected counters: %+v", outcome)
	}

	got := reload(t, gdb, tk.ID)
	if got.Status != task.StatusEnqueued {
		t.Fatalf("retry must return to ENQUEUED for the bridge, got %s", got.Status)
	}
	if got.ScheduledFor == nil || got.ScheduledFor.Before(before.Add(29*time.Second)) {
		t.Fatalf("scheduled_for must be pushed out by backoff, got %v", got.ScheduledFor)
	}
	if got.WorkerID != nil || got.NextRunAt != nil {
		t.Fatal("retry must release worker and clear next_run_at")
	}

	// The outcome write is worker-scoped too.
	if outcome, _ := s.MarkFailedAndReschedule(tk.ID, "w-9", "boom", time.Second, time.Now()); outcome != nil {
		t.Fatal("non-holder fail must not update the row")
	}
}

func TestQueueMarkFailedBecomesDead(t *testing.T) {
	gdb := openTestDB(t)
	s := &QueueStore{DB: gdb}
	tk := seedTask(t, gdb, func(tk *task.Task) {
		tk.Status = task.StatusEnqueued
		tk.MaxAttempts = 1
	})

	if claimed, _ := s.ClaimEnqueued(tk.ID, "w-1", time.Now()); claimed == nil {
		t.Fatal("claim failed")
	}

	outcome, err := s.MarkFailedAndReschedule(tk.ID, "w-1", "boom", 30*time.Second, time.Now())
	if err != nil {
		t.Fatalf("fail: %v", err)
	}
	if outcome == nil || !outcome.BecameDead() {
		t.Fatalf("want dead outcome, got %+v", outcome)
	}

	got := reload(t, gdb, tk.ID)
	if got.Status != task.StatusDead {
		t.Fatalf("want DEAD got %s", got.Status)
	}
	if got.ScheduledFor != nil || got.NextRunAt != nil {
		t.Fatal("DEAD must never be rescheduled")
	}
	if got.CompletedAt == nil {
		t.Fatal("DEAD must record completed_at")
	}
}

func TestQueueScheduledFor(t *testing.T) {
	gdb := openTestDB(t)
	s := &QueueStore{DB: gdb}
	due := time.Now().Add(time.Minute)
	tk := seedTask(t, gdb, func(tk *task.Task) {
		tk.Status = task.StatusEnqueued
		tk.ScheduledFor = &due
	})

	got, err := s.ScheduledFor(tk.ID)
	if err != nil {
		t.Fatalf("scheduledFor: %v", err)
	}
	if got == nil || got.Unix() != due.Unix() {
		t.Fatalf("want %v got %v", due, got)
	}

	missing, err := s.ScheduledFor(99999)
	if err != nil || missing != nil {
		t.Fatalf("unknown id: %v %v", missing, err)
	}
}
