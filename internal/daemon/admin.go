package daemon

import (
	"context"
	"fmt"
	"time"

	"creel/internal/logging"
	"creel/internal/recording"
	"creel/internal/tasks"
)

// Issues collects jobs and tasks that need operator attention.
type Issues struct {
	// StuckJobs are active jobs without a live session whose heartbeat
	// has gone stale, plus jobs lingering in stopping.
	StuckJobs []*recording.Job
	// OrphanedJobs are jobs settled as orphaned by the reconciler.
	OrphanedJobs []*recording.Job
	// MislabeledTasks are tasks whose recorded status no longer matches
	// reality: stuck in running across a restart, or terminally failed
	// finalize work awaiting a retry decision.
	MislabeledTasks []*tasks.Task
}

// ListIssues inspects stores for inconsistencies worth surfacing.
func (d *Daemon) ListIssues(ctx context.Context) (*Issues, error) {
	issues := &Issues{}

	heartbeatTimeout := 3 * time.Duration(d.cfg.Workflow.HeartbeatInterval) * time.Second
	if heartbeatTimeout <= 0 {
		heartbeatTimeout = time.Minute
	}
	stale, err := d.store.StaleActive(ctx, time.Now().Add(-heartbeatTimeout))
	if err != nil {
		return nil, fmt.Errorf("find stale jobs: %w", err)
	}
	for _, job := range stale {
		if d.supervisor.Managed(job.ID) {
			continue
		}
		issues.StuckJobs = append(issues.StuckJobs, job)
	}

	stopping, err := d.store.List(ctx, recording.StatusStopping)
	if err != nil {
		return nil, fmt.Errorf("find stopping jobs: %w", err)
	}
	for _, job := range stopping {
		if d.supervisor.Managed(job.ID) {
			continue
		}
		if time.Since(job.UpdatedAt) > heartbeatTimeout {
			issues.StuckJobs = append(issues.StuckJobs, job)
		}
	}

	orphaned, err := d.store.List(ctx, recording.StatusOrphaned)
	if err != nil {
		return nil, fmt.Errorf("find orphaned jobs: %w", err)
	}
	issues.OrphanedJobs = orphaned

	stuckCutoff := time.Now().Add(-10 * time.Minute)
	stuckTasks, err := d.taskStore.StuckRunning(ctx, stuckCutoff)
	if err != nil {
		return nil, fmt.Errorf("find stuck tasks: %w", err)
	}
	issues.MislabeledTasks = append(issues.MislabeledTasks, stuckTasks...)

	failedTasks, err := d.taskStore.List(ctx, tasks.StatusFailed)
	if err != nil {
		return nil, fmt.Errorf("find failed tasks: %w", err)
	}
	issues.MislabeledTasks = append(issues.MislabeledTasks, failedTasks...)

	return issues, nil
}

// ForceFixStuck reconciles one stuck job immediately: a dead capture is
// settled as orphaned or failed, a live unmanaged one is adopted or
// terminated. Stuck-running tasks for the job are requeued.
func (d *Daemon) ForceFixStuck(ctx context.Context, jobID int64) (string, error) {
	result, err := d.reconciler.FixJob(ctx, jobID)
	if err != nil {
		return "", err
	}

	jobTasks, err := d.taskStore.ForJob(ctx, jobID)
	if err != nil {
		return result, fmt.Errorf("inspect job tasks: %w", err)
	}
	requeued := 0
	for _, task := range jobTasks {
		if task.Status != tasks.StatusRunning {
			continue
		}
		if err := d.taskStore.Requeue(ctx, task.ID); err != nil {
			return result, fmt.Errorf("requeue task %d: %w", task.ID, err)
		}
		requeued++
	}
	if requeued > 0 {
		result = fmt.Sprintf("%s; requeued %d stuck task(s)", result, requeued)
	}

	d.logger.Info("force-fixed stuck job",
		logging.Int64(logging.FieldJobID, jobID),
		logging.String("result", result),
		logging.String(logging.FieldEventType, "force_fix_stuck"),
	)
	return result, nil
}

// StopOrphanRecovery marks the job's pending finalize retries stale so
// workers skip them, then schedules a cleanup_segments task to drop the
// abandoned staging files. The job row itself is left untouched.
func (d *Daemon) StopOrphanRecovery(ctx context.Context, jobID int64) (int64, error) {
	marked, err := d.taskStore.MarkStaleForJob(ctx, jobID)
	if err != nil {
		return 0, err
	}
	if marked > 0 {
		if _, err := d.taskStore.Enqueue(ctx, tasks.TypeCleanupSegments, tasks.FinalizePayload{JobID: jobID}, d.cfg.Tasks.MaxAttempts,
			tasks.WithDedupeKey(tasks.CleanupDedupeKey(jobID)),
			tasks.WithJobID(jobID),
		); err != nil {
			return marked, fmt.Errorf("enqueue staging cleanup: %w", err)
		}
	}
	d.logger.Info("orphan recovery stopped",
		logging.Int64(logging.FieldJobID, jobID),
		logging.Int64("tasks_marked_stale", marked),
		logging.String(logging.FieldEventType, "orphan_recovery_stopped"),
	)
	return marked, nil
}

// RetryEntry is one task covered by a RetryFinalize request.
type RetryEntry struct {
	Task   *tasks.Task
	Action string
}

// RetryFinalize requeues failed finalize tasks, for one job or for all
// jobs when jobID is zero. With dryRun set it only reports what would
// be requeued.
func (d *Daemon) RetryFinalize(ctx context.Context, jobID int64, dryRun bool) ([]RetryEntry, error) {
	var candidates []*tasks.Task
	if jobID > 0 {
		jobTasks, err := d.taskStore.ForJob(ctx, jobID)
		if err != nil {
			return nil, err
		}
		candidates = jobTasks
	} else {
		all, err := d.taskStore.List(ctx, tasks.StatusFailed)
		if err != nil {
			return nil, err
		}
		candidates = all
	}

	var entries []RetryEntry
	for _, task := range candidates {
		if task.Type != tasks.TypeFinalize {
			continue
		}
		if task.Status != tasks.StatusFailed && !task.Stale {
			continue
		}
		action := "requeue"
		if dryRun {
			entries = append(entries, RetryEntry{Task: task, Action: action})
			continue
		}
		if err := d.taskStore.Requeue(ctx, task.ID); err != nil {
			return entries, fmt.Errorf("requeue task %d: %w", task.ID, err)
		}
		entries = append(entries, RetryEntry{Task: task, Action: action})
	}

	if !dryRun && len(entries) > 0 {
		d.logger.Info("finalize tasks requeued",
			logging.Int("count", len(entries)),
			logging.Int64(logging.FieldJobID, jobID),
			logging.String(logging.FieldEventType, "finalize_retry"),
		)
	}
	return entries, nil
}
