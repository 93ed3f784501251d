package tasks

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func mustOpenStore(t *testing.T, opts ...StoreOption) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "tasks.db"), opts...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestEnqueueDequeueComplete(t *testing.T) {
	store := mustOpenStore(t)
	ctx := context.Background()

	id, err := store.Enqueue(ctx, TypeFinalize, map[string]int64{"job_id": 7}, 3, WithJobID(7))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	task, err := store.DequeueNext(ctx)
	if err != nil {
		t.Fatalf("DequeueNext: %v", err)
	}
	if task == nil || task.ID != id {
		t.Fatalf("expected task %d, got %+v", id, task)
	}
	if task.Status != StatusRunning {
		t.Fatalf("claimed task should be running, got %s", task.Status)
	}

	if err := store.Complete(ctx, task.ID); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	got, err := store.GetByID(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != StatusSucceeded {
		t.Fatalf("expected succeeded, got %s", got.Status)
	}
}

func TestDequeueReturnsNilWhenEmpty(t *testing.T) {
	store := mustOpenStore(t)
	task, err := store.DequeueNext(context.Background())
	if err != nil {
		t.Fatalf("DequeueNext: %v", err)
	}
	if task != nil {
		t.Fatalf("expected nil task, got %+v", task)
	}
}

func TestEnqueueWithoutDedupeKeyCreatesDistinctTasks(t *testing.T) {
	store := mustOpenStore(t)
	ctx := context.Background()

	// A NULL dedupe key never collides with the partial unique index, so
	// every keyless enqueue must insert a fresh row.
	first, err := store.Enqueue(ctx, TypeCleanupSegments, nil, 3)
	if err != nil {
		t.Fatalf("first Enqueue: %v", err)
	}
	second, err := store.Enqueue(ctx, TypeCleanupSegments, nil, 3)
	if err != nil {
		t.Fatalf("second Enqueue: %v", err)
	}
	if first == second {
		t.Fatalf("keyless enqueues must not dedupe, both got id %d", first)
	}

	all, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected two tasks, got %d", len(all))
	}
}

func TestDedupeKeyMakesEnqueueIdempotent(t *testing.T) {
	store := mustOpenStore(t)
	ctx := context.Background()

	first, err := store.Enqueue(ctx, TypeFinalize, nil, 3, WithDedupeKey(FinalizeDedupeKey(9)))
	if err != nil {
		t.Fatalf("first Enqueue: %v", err)
	}
	second, err := store.Enqueue(ctx, TypeFinalize, nil, 3, WithDedupeKey(FinalizeDedupeKey(9)))
	if err != nil {
		t.Fatalf("second Enqueue: %v", err)
	}
	if first != second {
		t.Fatalf("dedupe failed: %d != %d", first, second)
	}

	all, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected one task, got %d", len(all))
	}
}

func TestDedupeSurvivesCompletion(t *testing.T) {
	store := mustOpenStore(t)
	ctx := context.Background()

	id, err := store.Enqueue(ctx, TypeFinalize, nil, 3, WithDedupeKey(FinalizeDedupeKey(4)))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := store.DequeueNext(ctx); err != nil {
		t.Fatalf("DequeueNext: %v", err)
	}
	if err := store.Complete(ctx, id); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	again, err := store.Enqueue(ctx, TypeFinalize, nil, 3, WithDedupeKey(FinalizeDedupeKey(4)))
	if err != nil {
		t.Fatalf("re-Enqueue: %v", err)
	}
	if again != id {
		t.Fatalf("expected dedupe to return %d even after success, got %d", id, again)
	}
}

func TestFailRespectsAttemptBudget(t *testing.T) {
	store := mustOpenStore(t, WithBackoff(time.Millisecond, 10*time.Millisecond))
	ctx := context.Background()

	id, err := store.Enqueue(ctx, "probe", nil, 3)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	boom := errors.New("boom")
	for attempt := 1; attempt <= 3; attempt++ {
		status, err := store.Fail(ctx, id, boom)
		if err != nil {
			t.Fatalf("Fail attempt %d: %v", attempt, err)
		}
		if attempt < 3 && status != StatusRetrying {
			t.Fatalf("attempt %d: expected retrying, got %s", attempt, status)
		}
		if attempt == 3 && status != StatusFailed {
			t.Fatalf("attempt %d: expected failed, got %s", attempt, status)
		}
	}

	task, err := store.GetByID(ctx, id)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if task.AttemptCount != 3 || task.Status != StatusFailed {
		t.Fatalf("unexpected final task state: %+v", task)
	}
	if task.LastError != "boom" {
		t.Fatalf("last error not recorded: %q", task.LastError)
	}
}

func TestBackoffStrictlyIncreasesUntilCap(t *testing.T) {
	base := time.Second
	cap := time.Hour
	prev := time.Duration(0)
	for attempt := 1; attempt <= 8; attempt++ {
		delay := Backoff(attempt, base, cap)
		if delay <= prev {
			t.Fatalf("attempt %d: backoff %v not greater than previous %v", attempt, delay, prev)
		}
		if delay > cap {
			t.Fatalf("attempt %d: backoff %v exceeds cap", attempt, delay)
		}
		prev = delay
	}
}

func TestRetryingTaskNotRunnableBeforeNextRun(t *testing.T) {
	store := mustOpenStore(t, WithBackoff(time.Hour, 2*time.Hour))
	ctx := context.Background()

	id, err := store.Enqueue(ctx, "probe", nil, 3)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := store.DequeueNext(ctx); err != nil {
		t.Fatalf("DequeueNext: %v", err)
	}
	if _, err := store.Fail(ctx, id, errors.New("boom")); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	task, err := store.DequeueNext(ctx)
	if err != nil {
		t.Fatalf("DequeueNext after fail: %v", err)
	}
	if task != nil {
		t.Fatalf("retrying task should not run before its backoff elapses, got %+v", task)
	}
}

func TestMarkStaleForJobSkipsPendingTasks(t *testing.T) {
	store := mustOpenStore(t)
	ctx := context.Background()

	if _, err := store.Enqueue(ctx, TypeFinalize, nil, 3, WithJobID(11)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	marked, err := store.MarkStaleForJob(ctx, 11)
	if err != nil {
		t.Fatalf("MarkStaleForJob: %v", err)
	}
	if marked != 1 {
		t.Fatalf("expected 1 task marked, got %d", marked)
	}

	task, err := store.DequeueNext(ctx)
	if err != nil {
		t.Fatalf("DequeueNext: %v", err)
	}
	if task != nil {
		t.Fatalf("stale task should be skipped, got %+v", task)
	}
}

func TestRequeueResetsAttemptBudget(t *testing.T) {
	store := mustOpenStore(t, WithBackoff(time.Millisecond, 10*time.Millisecond))
	ctx := context.Background()

	id, err := store.Enqueue(ctx, "probe", nil, 1)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := store.Fail(ctx, id, errors.New("boom")); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if err := store.Requeue(ctx, id); err != nil {
		t.Fatalf("Requeue: %v", err)
	}

	task, err := store.GetByID(ctx, id)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if task.Status != StatusQueued || task.AttemptCount != 0 {
		t.Fatalf("requeue did not reset task: %+v", task)
	}
}
