package daemon_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"creel/internal/config"
	"creel/internal/daemon"
	"creel/internal/logging"
	"creel/internal/recording"
	"creel/internal/supervisor"
	"creel/internal/tasks"
	"creel/internal/testsupport"
)

func newTestDaemon(t *testing.T, cfg *config.Config, store *recording.Store, taskStore *tasks.Store) *daemon.Daemon {
	t.Helper()

	d, err := daemon.New(cfg, store, taskStore, logging.NewNop(), daemon.Options{
		Launcher: testsupport.NewFakeLauncher(),
		Resolver: testsupport.NewStaticResolver("https://cdn.example.test/stream.m3u8"),
		Notifier: testsupport.NewNotifier(),
	})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	return d
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
	t.Fatalf("job %d never reached %s", jobID, want)
	return nil
}

func TestDaemonLifecycle(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	taskStore := testsupport.MustOpenTaskStore(t, cfg)
	d := newTestDaemon(t, cfg, store, taskStore)
	ctx := context.Background()

	if _, err := d.StartRecording(ctx, "chan-a"); err == nil {
		t.Fatal("recording must be refused before the daemon starts")
	}

	if err := d.Start(ctx); err != nil {
		t.Fatalf("start daemon: %v", err)
	}
	t.Cleanup(d.Stop)

	if !d.Running() {
		t.Fatal("daemon should report running")
	}

	status, err := d.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !status.Running || status.PID == 0 {
		t.Fatalf("unexpected status: %+v", status)
	}
	if status.DatabasePath != cfg.DatabasePath() {
		t.Fatalf("status database path %s, want %s", status.DatabasePath, cfg.DatabasePath())
	}
	if !strings.HasSuffix(status.LockFilePath, "creeld.lock") {
		t.Fatalf("unexpected lock path %s", status.LockFilePath)
	}

	if _, err := d.StartRecording(ctx, "missing"); !errors.Is(err, supervisor.ErrUnknownTarget) {
		t.Fatalf("expected unknown target error, got %v", err)
	}

	job, err := d.StartRecording(ctx, "chan-a")
	if err != nil {
		t.Fatalf("start recording: %v", err)
	}
	if job.Status != recording.StatusRecording {
		t.Fatalf("expected recording, got %s", job.Status)
	}

	targets, err := d.Targets(ctx)
	if err != nil {
		t.Fatalf("targets: %v", err)
	}
	if len(targets) != 1 || targets[0].ActiveJobID != job.ID {
		t.Fatalf("expected active job on target, got %+v", targets)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := d.StopRecording(stopCtx, job.ID); err != nil {
		t.Fatalf("stop recording: %v", err)
	}
	waitForStatus(t, store, job.ID, recording.StatusCompleted)

	d.Stop()
	if d.Running() {
		t.Fatal("daemon should report stopped")
	}
}

func TestSecondDaemonInstanceRefused(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	taskStore := testsupport.MustOpenTaskStore(t, cfg)
	ctx := context.Background()

	first := newTestDaemon(t, cfg, store, taskStore)
	if err := first.Start(ctx); err != nil {
		t.Fatalf("start first daemon: %v", err)
	}
	t.Cleanup(first.Stop)

	second := newTestDaemon(t, cfg, store, taskStore)
	if err := second.Start(ctx); err == nil {
		second.Stop()
		t.Fatal("second instance must be refused while the lock is held")
	}

	first.Stop()
	if err := second.Start(ctx); err != nil {
		t.Fatalf("start after lock release: %v", err)
	}
	second.Stop()
}

func TestDaemonAdminSurfaces(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	taskStore := testsupport.MustOpenTaskStore(t, cfg)
	d := newTestDaemon(t, cfg, store, taskStore)
	ctx := context.Background()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("start daemon: %v", err)
	}
	t.Cleanup(d.Stop)

	issues, err := d.ListIssues(ctx)
	if err != nil {
		t.Fatalf("list issues: %v", err)
	}
	if len(issues.StuckJobs)+len(issues.OrphanedJobs)+len(issues.MislabeledTasks) != 0 {
		t.Fatalf("fresh daemon should have no issues, got %+v", issues)
	}

	plan, err := d.RetryFinalize(ctx, 0, true)
	if err != nil {
		t.Fatalf("retry finalize: %v", err)
	}
	if len(plan) != 0 {
		t.Fatalf("nothing to retry expected, got %+v", plan)
	}

	marked, err := d.StopOrphanRecovery(ctx, 777)
	if err != nil {
		t.Fatalf("stop recovery: %v", err)
	}
	if marked != 0 {
		t.Fatalf("no recovery tasks expected, got %d", marked)
	}

	sent, message, err := d.TestNotification(ctx)
	if err != nil {
		t.Fatalf("test notification: %v", err)
	}
	if sent || !strings.Contains(message, "not configured") {
		t.Fatalf("expected unconfigured topic report, got sent=%v message=%q", sent, message)
	}
}

func TestStopOrphanRecoverySchedulesCleanup(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	taskStore := testsupport.MustOpenTaskStore(t, cfg)
	d := newTestDaemon(t, cfg, store, taskStore)
	ctx := context.Background()

	const jobID = int64(42)
	if _, err := taskStore.Enqueue(ctx, tasks.TypeFinalize, tasks.FinalizePayload{JobID: jobID}, 3,
		tasks.WithDedupeKey(tasks.FinalizeDedupeKey(jobID)),
		tasks.WithJobID(jobID),
	); err != nil {
		t.Fatalf("enqueue finalize: %v", err)
	}

	marked, err := d.StopOrphanRecovery(ctx, jobID)
	if err != nil {
		t.Fatalf("stop recovery: %v", err)
	}
	if marked != 1 {
		t.Fatalf("expected one finalize retry marked stale, got %d", marked)
	}

	jobTasks, err := taskStore.ForJob(ctx, jobID)
	if err != nil {
		t.Fatalf("list job tasks: %v", err)
	}
	var cleanup *tasks.Task
	for _, task := range jobTasks {
		if task.Type == tasks.TypeCleanupSegments {
			cleanup = task
		}
	}
	if cleanup == nil {
		t.Fatalf("expected a staging cleanup task, got %+v", jobTasks)
	}
	if cleanup.Stale {
		t.Fatal("cleanup task must not be born stale")
	}
}
