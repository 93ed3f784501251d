package recording

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func mustOpenStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "creel.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func mustJob(t *testing.T, store *Store, target string) *Job {
	t.Helper()
	job, err := store.NewJob(context.Background(), target)
	if err != nil {
		t.Fatalf("NewJob: %v", err)
	}
	return job
}

func TestTransitionFollowsStateMachine(t *testing.T) {
	store := mustOpenStore(t)
	ctx := context.Background()
	job := mustJob(t, store, "channel-a")

	steps := []struct{ from, to Status }{
		{StatusPending, StatusStarting},
		{StatusStarting, StatusRecording},
		{StatusRecording, StatusRotating},
		{StatusRotating, StatusRecording},
		{StatusRecording, StatusStopping},
		{StatusStopping, StatusCompleted},
	}
	for _, step := range steps {
		if err := store.Transition(ctx, job.ID, step.from, step.to); err != nil {
			t.Fatalf("transition %s -> %s: %v", step.from, step.to, err)
		}
	}

	got, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
}

func TestTransitionRejectsIllegalEdge(t *testing.T) {
	store := mustOpenStore(t)
	job := mustJob(t, store, "channel-a")

	err := store.Transition(context.Background(), job.ID, StatusPending, StatusCompleted)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestTransitionDetectsLostRace(t *testing.T) {
	store := mustOpenStore(t)
	ctx := context.Background()
	job := mustJob(t, store, "channel-a")

	if err := store.Transition(ctx, job.ID, StatusPending, StatusStarting); err != nil {
		t.Fatalf("first transition: %v", err)
	}
	err := store.Transition(ctx, job.ID, StatusPending, StatusStarting)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestActiveUniqueIndexRejectsSecondActiveJob(t *testing.T) {
	store := mustOpenStore(t)
	ctx := context.Background()

	first := mustJob(t, store, "channel-a")
	if err := store.Transition(ctx, first.ID, StatusPending, StatusStarting); err != nil {
		t.Fatalf("start first: %v", err)
	}

	second := mustJob(t, store, "channel-a")
	err := store.Transition(ctx, second.ID, StatusPending, StatusStarting)
	if !errors.Is(err, ErrActiveJobExists) {
		t.Fatalf("expected ErrActiveJobExists, got %v", err)
	}
}

func TestActiveJobForTarget(t *testing.T) {
	store := mustOpenStore(t)
	ctx := context.Background()

	if job, err := store.ActiveJobForTarget(ctx, "channel-a"); err != nil || job != nil {
		t.Fatalf("expected no active job, got %v err=%v", job, err)
	}

	created := mustJob(t, store, "channel-a")
	if err := store.Transition(ctx, created.ID, StatusPending, StatusStarting); err != nil {
		t.Fatalf("transition: %v", err)
	}

	active, err := store.ActiveJobForTarget(ctx, "channel-a")
	if err != nil {
		t.Fatalf("ActiveJobForTarget: %v", err)
	}
	if active == nil || active.ID != created.ID {
		t.Fatalf("expected job %d, got %+v", created.ID, active)
	}
}

func TestAppendOutputPathGrowsOnly(t *testing.T) {
	store := mustOpenStore(t)
	ctx := context.Background()
	job := mustJob(t, store, "channel-a")

	job, err := store.AppendOutputPath(ctx, job.ID, "/tmp/seg-000.ts")
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if job.SegmentIndex != 1 || len(job.OutputPaths) != 1 {
		t.Fatalf("unexpected job after first append: %+v", job)
	}

	job, err = store.AppendOutputPath(ctx, job.ID, "/tmp/seg-001.ts")
	if err != nil {
		t.Fatalf("append second: %v", err)
	}
	if job.SegmentIndex != 2 || job.OutputPaths[1] != "/tmp/seg-001.ts" {
		t.Fatalf("unexpected job after second append: %+v", job)
	}
}

func TestFinishIsIdempotentViaConflict(t *testing.T) {
	store := mustOpenStore(t)
	ctx := context.Background()
	job := mustJob(t, store, "channel-a")

	if err := store.Finish(ctx, job.ID, StatusFailed, "capture crashed"); err != nil {
		t.Fatalf("finish: %v", err)
	}
	err := store.Finish(ctx, job.ID, StatusCompleted, "")
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for terminal job, got %v", err)
	}

	got, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != StatusFailed || got.ErrorMessage != "capture crashed" {
		t.Fatalf("terminal state mutated: %+v", got)
	}
}

func TestStaleActiveFindsMissedHeartbeats(t *testing.T) {
	store := mustOpenStore(t)
	ctx := context.Background()
	job := mustJob(t, store, "channel-a")
	if err := store.Transition(ctx, job.ID, StatusPending, StatusStarting); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if err := store.UpdateHeartbeat(ctx, job.ID); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}

	stale, err := store.StaleActive(ctx, time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("StaleActive: %v", err)
	}
	if len(stale) != 0 {
		t.Fatalf("fresh heartbeat reported stale: %+v", stale)
	}

	stale, err = store.StaleActive(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("StaleActive: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != job.ID {
		t.Fatalf("expected job %d stale, got %+v", job.ID, stale)
	}
}
