package rotation_test

import (
	"context"
	"errors"
	"testing"

	"creel/internal/config"
	"creel/internal/recording"
	"creel/internal/rotation"
	"creel/internal/testsupport"
)

func newRecordingJob(t *testing.T, store *recording.Store, targetID string) *recording.Job {
	t.Helper()

	ctx := context.Background()
	job := testsupport.NewJob(t, store, targetID)
	if err := store.Transition(ctx, job.ID, recording.StatusPending, recording.StatusStarting); err != nil {
		t.Fatalf("to starting: %v", err)
	}
	if err := store.Transition(ctx, job.ID, recording.StatusStarting, recording.StatusRecording); err != nil {
		t.Fatalf("to recording: %v", err)
	}
	fresh, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("reload job: %v", err)
	}
	return fresh
}

func TestRotateRestartClosesSegmentAndRelaunches(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	launcher := testsupport.NewFakeLauncher()
	rotator := rotation.New(cfg, store, launcher, nil)
	ctx := context.Background()

	job := newRecordingJob(t, store, "chan-a")
	firstPath := recording.SegmentPath(cfg.StagingDir, job, cfg.Capture.SegmentExt, job.SegmentIndex)
	handle := testsupport.NewFakeHandle(4242, firstPath)

	newHandle, updated, err := rotator.Rotate(ctx, job.ID, "https://cdn.example.test/stream.m3u8", handle)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if newHandle == nil || newHandle == handle {
		t.Fatal("expected a fresh capture handle after restart rotation")
	}
	if !handle.Stopped() {
		t.Fatal("expected the old capture to be stopped")
	}
	if updated.Status != recording.StatusRecording {
		t.Fatalf("expected job back in recording, got %s", updated.Status)
	}
	if updated.SegmentIndex != 1 {
		t.Fatalf("expected segment index 1, got %d", updated.SegmentIndex)
	}
	if len(updated.OutputPaths) != 1 || updated.OutputPaths[0] != firstPath {
		t.Fatalf("expected closed segment %s, got %v", firstPath, updated.OutputPaths)
	}

	requests := launcher.Requests()
	if len(requests) != 1 {
		t.Fatalf("expected one relaunch, got %d", len(requests))
	}
	wantNext := recording.SegmentPath(cfg.StagingDir, updated, cfg.Capture.SegmentExt, 1)
	if requests[0].OutputPath != wantNext {
		t.Fatalf("relaunch output %s, want %s", requests[0].OutputPath, wantNext)
	}
}

func TestRotateLiveSwitchKeepsProcess(t *testing.T) {
	cfg := testsupport.NewConfig(t, func(cfg *config.Config) {
		cfg.Capture.LiveSwitch = true
	})
	store := testsupport.MustOpenStore(t, cfg)
	launcher := testsupport.NewFakeLauncher()
	rotator := rotation.New(cfg, store, launcher, nil)
	ctx := context.Background()

	job := newRecordingJob(t, store, "chan-a")
	firstPath := recording.SegmentPath(cfg.StagingDir, job, cfg.Capture.SegmentExt, job.SegmentIndex)
	handle := testsupport.NewFakeHandle(4242, firstPath)
	handle.EnableLiveSwitch()

	newHandle, updated, err := rotator.Rotate(ctx, job.ID, "https://cdn.example.test/stream.m3u8", handle)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if newHandle != handle {
		t.Fatal("live switch must keep the running process")
	}
	if handle.Stopped() {
		t.Fatal("live switch must not stop the capture")
	}
	if len(launcher.Requests()) != 0 {
		t.Fatal("live switch must not relaunch")
	}

	switched := handle.Switched()
	wantNext := recording.SegmentPath(cfg.StagingDir, job, cfg.Capture.SegmentExt, job.SegmentIndex+1)
	if len(switched) != 1 || switched[0] != wantNext {
		t.Fatalf("expected switch to %s, got %v", wantNext, switched)
	}
	if updated.SegmentIndex != 1 || len(updated.OutputPaths) != 1 || updated.OutputPaths[0] != firstPath {
		t.Fatalf("unexpected job after live rotation: %+v", updated)
	}
	if updated.Status != recording.StatusRecording {
		t.Fatalf("expected recording after rotation, got %s", updated.Status)
	}
}

func TestRotateFailureLeavesJobRotatingForRetry(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	launcher := testsupport.NewFakeLauncher()
	rotator := rotation.New(cfg, store, launcher, nil)
	ctx := context.Background()

	job := newRecordingJob(t, store, "chan-a")
	firstPath := recording.SegmentPath(cfg.StagingDir, job, cfg.Capture.SegmentExt, job.SegmentIndex)
	handle := testsupport.NewFakeHandle(4242, firstPath)

	launcher.FailStarts(errors.New("upstream gone"))
	newHandle, _, err := rotator.Rotate(ctx, job.ID, "https://cdn.example.test/stream.m3u8", handle)
	if !errors.Is(err, rotation.ErrRotationFailure) {
		t.Fatalf("expected rotation failure, got %v", err)
	}
	if newHandle != nil {
		t.Fatal("failed relaunch must report a nil handle")
	}

	stuck, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("reload job: %v", err)
	}
	if stuck.Status != recording.StatusRotating {
		t.Fatalf("expected job left rotating for retry, got %s", stuck.Status)
	}

	// A later tick retries the relaunch without a handle to close.
	launcher.FailStarts(nil)
	retryHandle, updated, err := rotator.Rotate(ctx, job.ID, "https://cdn.example.test/stream.m3u8", nil)
	if err != nil {
		t.Fatalf("retry rotate: %v", err)
	}
	if retryHandle == nil {
		t.Fatal("expected a live handle after retry")
	}
	if updated.Status != recording.StatusRecording {
		t.Fatalf("expected recording after retry, got %s", updated.Status)
	}
}
