package supervisor_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"creel/internal/config"
	"creel/internal/guard"
	"creel/internal/recording"
	"creel/internal/supervisor"
	"creel/internal/tasks"
	"creel/internal/testsupport"
)

type harness struct {
	cfg       *config.Config
	store     *recording.Store
	taskStore *tasks.Store
	launcher  *testsupport.FakeLauncher
	resolver  *testsupport.StaticResolver
	notifier  *testsupport.Notifier
	sup       *supervisor.Supervisor
}

func newHarness(t *testing.T, opts ...testsupport.ConfigOption) *harness {
	t.Helper()

	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenStore(t, cfg)
	taskStore := testsupport.MustOpenTaskStore(t, cfg)

	h := &harness{
		cfg:       cfg,
		store:     store,
		taskStore: taskStore,
		launcher:  testsupport.NewFakeLauncher(),
		resolver:  testsupport.NewStaticResolver("https://cdn.example.test/stream.m3u8"),
		notifier:  testsupport.NewNotifier(),
	}
	h.sup = supervisor.New(cfg, store, taskStore, guard.New(), h.launcher, h.resolver, h.notifier, nil)
	if err := h.sup.Start(context.Background()); err != nil {
		t.Fatalf("start supervisor: %v", err)
	}
	t.Cleanup(h.sup.Stop)
	return h
}

func waitForStatus(t *testing.T, store *recording.Store, jobID int64, want recording.Status) *recording.Job {
	t.Helper()

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		job, err := store.GetByID(context.Background(), jobID)
		if err != nil {
			t.Fatalf("get job: %v", err)
		}
		if job != nil && job.Status == want {
			return job
		}
		time.Sleep(20 * time.Millisecond)
	}
	job, _ := store.GetByID(context.Background(), jobID)
	t.Fatalf("job %d never reached %s, last seen %+v", jobID, want, job)
	return nil
}

func writeSegment(t *testing.T, path string, size int) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir segment dir: %v", err)
	}
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatalf("write segment: %v", err)
	}
}

func TestStartRecordingLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	job, err := h.sup.StartRecording(ctx, "chan-a")
	if err != nil {
		t.Fatalf("start recording: %v", err)
	}
	if job.Status != recording.StatusRecording {
		t.Fatalf("expected recording status, got %s", job.Status)
	}
	if job.PID == 0 {
		t.Fatal("expected capture pid to be recorded")
	}
	if !h.sup.Managed(job.ID) {
		t.Fatal("expected job to be managed")
	}

	var dup *guard.ErrDuplicate
	if _, err := h.sup.StartRecording(ctx, "chan-a"); !errors.As(err, &dup) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	if dup.JobID != job.ID {
		t.Fatalf("duplicate error names job %d, want %d", dup.JobID, job.ID)
	}

	writeSegment(t, h.launcher.Requests()[0].OutputPath, 2048)

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := h.sup.StopRecording(stopCtx, job.ID); err != nil {
		t.Fatalf("stop recording: %v", err)
	}

	finished := waitForStatus(t, h.store, job.ID, recording.StatusCompleted)
	if len(finished.OutputPaths) != 1 {
		t.Fatalf("expected final segment recorded, got %v", finished.OutputPaths)
	}
	if !h.launcher.LastHandle().Stopped() {
		t.Fatal("expected capture process to receive stop")
	}

	queued, err := h.taskStore.List(ctx, tasks.StatusQueued)
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if len(queued) != 1 || queued[0].Type != tasks.TypeFinalize || queued[0].JobID != job.ID {
		t.Fatalf("expected one finalize task for job %d, got %+v", job.ID, queued)
	}

	counts := h.notifier.Counts()
	if counts.Started != 1 || counts.Completed != 1 {
		t.Fatalf("unexpected notification counts: %+v", counts)
	}

	// Terminal job releases the claim, so the target can record again.
	again, err := h.sup.StartRecording(ctx, "chan-a")
	if err != nil {
		t.Fatalf("restart after completion: %v", err)
	}
	if again.ID == job.ID {
		t.Fatal("expected a fresh job for the second recording")
	}
}

func TestStopErrorStillFinishesJob(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	job, err := h.sup.StartRecording(ctx, "chan-a")
	if err != nil {
		t.Fatalf("start recording: %v", err)
	}
	writeSegment(t, h.launcher.Requests()[0].OutputPath, 2048)

	// The graceful stop reports an error; cleanup must still run.
	h.launcher.LastHandle().FailStops(errors.New("signal delivery failed"))

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := h.sup.StopRecording(stopCtx, job.ID); err != nil {
		t.Fatalf("stop recording: %v", err)
	}

	finished := waitForStatus(t, h.store, job.ID, recording.StatusCompleted)
	if len(finished.OutputPaths) != 1 {
		t.Fatalf("expected final segment recorded despite stop error, got %v", finished.OutputPaths)
	}

	queued, err := h.taskStore.List(ctx, tasks.StatusQueued)
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if len(queued) != 1 || queued[0].Type != tasks.TypeFinalize || queued[0].JobID != job.ID {
		t.Fatalf("expected exactly one finalize task for job %d, got %+v", job.ID, queued)
	}

	// The claim is released, so the target can record again.
	if _, err := h.sup.StartRecording(ctx, "chan-a"); err != nil {
		t.Fatalf("restart after stop error: %v", err)
	}
}

func TestHeartbeatCheckIgnoredAfterShutdown(t *testing.T) {
	// Park the periodic loop so only the explicit check below can stamp.
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Workflow.HeartbeatInterval = 3600
	})
	ctx := context.Background()

	job, err := h.sup.StartRecording(ctx, "chan-a")
	if err != nil {
		t.Fatalf("start recording: %v", err)
	}

	before, err := h.store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	h.sup.HeartbeatCheck(canceled)
	time.Sleep(100 * time.Millisecond)

	after, err := h.store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if before.LastHeartbeat == nil {
		if after.LastHeartbeat != nil {
			t.Fatal("canceled heartbeat check must not stamp a heartbeat")
		}
	} else if !after.LastHeartbeat.Equal(*before.LastHeartbeat) {
		t.Fatal("canceled heartbeat check must not advance the heartbeat")
	}
}

func TestStartRecordingUnknownTarget(t *testing.T) {
	h := newHarness(t)

	_, err := h.sup.StartRecording(context.Background(), "nope")
	if !errors.Is(err, supervisor.ErrUnknownTarget) {
		t.Fatalf("expected unknown target error, got %v", err)
	}
}

func TestResolverFailureFailsJob(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.resolver.Fail(errors.New("channel offline"))
	_, err := h.sup.StartRecording(ctx, "chan-a")
	if !errors.Is(err, supervisor.ErrSpawnFailure) {
		t.Fatalf("expected spawn failure, got %v", err)
	}

	failed, err := h.store.List(ctx, recording.StatusFailed)
	if err != nil {
		t.Fatalf("list failed jobs: %v", err)
	}
	if len(failed) != 1 {
		t.Fatalf("expected one failed job, got %d", len(failed))
	}
	if h.notifier.Counts().Failed != 1 {
		t.Fatal("expected failure notification")
	}

	// The failed start must not leave a claim behind.
	h.resolver.Fail(nil)
	if _, err := h.sup.StartRecording(ctx, "chan-a"); err != nil {
		t.Fatalf("start after resolver recovery: %v", err)
	}
}

func TestCaptureCrashMarksJobFailed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	job, err := h.sup.StartRecording(ctx, "chan-a")
	if err != nil {
		t.Fatalf("start recording: %v", err)
	}
	writeSegment(t, h.launcher.Requests()[0].OutputPath, 4096)

	h.launcher.LastHandle().Exit(errors.New("exit status 1"))

	finished := waitForStatus(t, h.store, job.ID, recording.StatusFailed)
	if !strings.Contains(finished.ErrorMessage, "crashed") {
		t.Fatalf("expected crash recorded in error message, got %q", finished.ErrorMessage)
	}
	if len(finished.OutputPaths) != 1 {
		t.Fatalf("expected partial segment salvaged, got %v", finished.OutputPaths)
	}

	// Salvaged output still earns a finalize task.
	queued, err := h.taskStore.List(ctx, tasks.StatusQueued)
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if len(queued) != 1 || queued[0].Type != tasks.TypeFinalize {
		t.Fatalf("expected finalize task, got %+v", queued)
	}
	if h.notifier.Counts().Failed != 1 {
		t.Fatal("expected failure notification")
	}
}

func TestCaptureCleanExitCompletes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	job, err := h.sup.StartRecording(ctx, "chan-a")
	if err != nil {
		t.Fatalf("start recording: %v", err)
	}
	writeSegment(t, h.launcher.Requests()[0].OutputPath, 1024)

	// Stream ended on its own: process exits zero without a stop request.
	h.launcher.LastHandle().Exit(nil)

	finished := waitForStatus(t, h.store, job.ID, recording.StatusCompleted)
	if finished.ErrorMessage != "" {
		t.Fatalf("clean exit should not record an error, got %q", finished.ErrorMessage)
	}
	if h.notifier.Counts().Completed != 1 {
		t.Fatal("expected completion notification")
	}
}

func TestLivenessTimeoutKillsStalledCapture(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Capture.LivenessTimeout = 1
	})
	ctx := context.Background()

	job, err := h.sup.StartRecording(ctx, "chan-a")
	if err != nil {
		t.Fatalf("start recording: %v", err)
	}

	// Output never grows; the heartbeat check kills the capture once the
	// liveness window lapses.
	time.Sleep(1100 * time.Millisecond)
	h.sup.HeartbeatCheck(ctx)

	finished := waitForStatus(t, h.store, job.ID, recording.StatusFailed)
	if !strings.Contains(finished.ErrorMessage, "liveness") {
		t.Fatalf("expected liveness timeout in error message, got %q", finished.ErrorMessage)
	}
	if !h.launcher.LastHandle().Stopped() {
		t.Fatal("expected stalled capture to be stopped")
	}
}

func TestPeriodicRotationRestartsCapture(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Rotation.Interval = 1
	})
	ctx := context.Background()

	job, err := h.sup.StartRecording(ctx, "chan-a")
	if err != nil {
		t.Fatalf("start recording: %v", err)
	}
	firstOutput := h.launcher.Requests()[0].OutputPath
	writeSegment(t, firstOutput, 4096)

	deadline := time.Now().Add(8 * time.Second)
	for time.Now().Before(deadline) && len(h.launcher.Requests()) < 2 {
		time.Sleep(50 * time.Millisecond)
	}
	requests := h.launcher.Requests()
	if len(requests) < 2 {
		t.Fatal("rotation never relaunched the capture")
	}
	if requests[1].OutputPath == firstOutput {
		t.Fatal("rotation reused the previous segment path")
	}

	rotated := waitForStatus(t, h.store, job.ID, recording.StatusRecording)
	if rotated.SegmentIndex < 1 {
		t.Fatalf("expected segment index to advance, got %d", rotated.SegmentIndex)
	}
	if len(rotated.OutputPaths) < 1 || rotated.OutputPaths[0] != firstOutput {
		t.Fatalf("expected closed segment %s recorded, got %v", firstOutput, rotated.OutputPaths)
	}
}

func TestRotationFailureBudgetStopsRecording(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Rotation.Interval = 1
		cfg.Rotation.MaxFailures = 2
	})
	ctx := context.Background()

	job, err := h.sup.StartRecording(ctx, "chan-a")
	if err != nil {
		t.Fatalf("start recording: %v", err)
	}
	writeSegment(t, h.launcher.Requests()[0].OutputPath, 2048)

	h.launcher.FailStarts(errors.New("upstream gone"))

	finished := waitForStatus(t, h.store, job.ID, recording.StatusFailed)
	if !strings.Contains(finished.ErrorMessage, "rotation failures") {
		t.Fatalf("expected rotation budget in error message, got %q", finished.ErrorMessage)
	}
	// The first failed rotation already closed the initial segment.
	if len(finished.OutputPaths) == 0 {
		t.Fatal("expected the closed segment to be preserved")
	}
}
