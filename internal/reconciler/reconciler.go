// Package reconciler repairs the divergence between persisted job state
// and reality after crashes and restarts. It classifies every active
// job that no supervisor session is driving: still-running processes
// are adopted or terminated, dead ones are settled as orphaned (output
// worth salvaging) or failed (nothing to keep). Every action is
// idempotent, so overlapping or repeated passes converge.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"creel/internal/capture"
	"creel/internal/config"
	"creel/internal/logging"
	"creel/internal/notifications"
	"creel/internal/recording"
	"creel/internal/tasks"
)

// Adopter is the supervisor surface the reconciler needs: session
// membership checks and adoption of still-running captures.
type Adopter interface {
	Managed(jobID int64) bool
	Adopt(ctx context.Context, job *recording.Job, streamURL string) error
}

// Summary reports what one reconcile pass did.
type Summary struct {
	Examined   int
	Adopted    int
	Terminated int
	Orphaned   int
	Failed     int
}

// Reconciler runs the startup and periodic reconcile passes.
type Reconciler struct {
	cfg       *config.Config
	store     *recording.Store
	taskStore *tasks.Store
	adopter   Adopter
	notifier  notifications.Service
	logger    *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New constructs a reconciler.
func New(
	cfg *config.Config,
	store *recording.Store,
	taskStore *tasks.Store,
	adopter Adopter,
	notifier notifications.Service,
	logger *slog.Logger,
) *Reconciler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Reconciler{
		cfg:       cfg,
		store:     store,
		taskStore: taskStore,
		adopter:   adopter,
		notifier:  notifier,
		logger:    logger.With(logging.String(logging.FieldComponent, "reconciler")),
	}
}

// Start launches the periodic reconcile loop.
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return errors.New("reconciler already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true
	r.wg.Add(1)
	r.mu.Unlock()

	go r.loop(runCtx)
	return nil
}

// Stop terminates the periodic loop and waits for an in-flight pass.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	cancel := r.cancel
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	cancel()
	r.wg.Wait()
}

func (r *Reconciler) loop(ctx context.Context) {
	defer r.wg.Done()

	interval := time.Duration(r.cfg.Reconciler.Interval) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Reconcile(ctx); err != nil && !errors.Is(err, context.Canceled) {
				r.logger.Error("periodic reconcile failed", logging.Error(err))
			}
		}
	}
}

// Reconcile runs one pass over all active and stopping jobs, fanning
// the per-job work out across a bounded worker group.
func (r *Reconciler) Reconcile(ctx context.Context) (Summary, error) {
	statuses := append(recording.ActiveStatuses(), recording.StatusStopping, recording.StatusPending)
	jobs, err := r.store.List(ctx, statuses...)
	if err != nil {
		return Summary{}, fmt.Errorf("list active jobs: %w", err)
	}

	var (
		mu      sync.Mutex
		summary Summary
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(4)

	for _, job := range jobs {
		if r.adopter != nil && r.adopter.Managed(job.ID) {
			continue
		}
		group.Go(func() error {
			outcome, err := r.reconcileJob(groupCtx, job)
			if err != nil {
				r.logger.Error("reconcile job failed",
					logging.Int64(logging.FieldJobID, job.ID),
					logging.Error(err),
				)
				return nil
			}
			mu.Lock()
			summary.Examined++
			switch outcome {
			case outcomeAdopted:
				summary.Adopted++
			case outcomeTerminated:
				summary.Terminated++
				summary.Orphaned++
			case outcomeOrphaned:
				summary.Orphaned++
			case outcomeFailed:
				summary.Failed++
			}
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return summary, err
	}

	if summary.Orphaned > 0 || summary.Adopted > 0 || summary.Failed > 0 {
		r.logger.Info("reconcile pass finished",
			logging.String(logging.FieldEventType, "reconcile_finished"),
			logging.Int("examined", summary.Examined),
			logging.Int("adopted", summary.Adopted),
			logging.Int("terminated", summary.Terminated),
			logging.Int("orphaned", summary.Orphaned),
			logging.Int("failed", summary.Failed),
		)
		if err := r.notifier.NotifyOrphansRecovered(ctx, summary.Orphaned); err != nil {
			r.logger.Warn("orphan notification failed", logging.Error(err))
		}
	}
	return summary, nil
}

// FixJob force-reconciles one job on operator request, regardless of
// the periodic schedule. Jobs with a live session are refused.
func (r *Reconciler) FixJob(ctx context.Context, jobID int64) (string, error) {
	job, err := r.store.GetByID(ctx, jobID)
	if err != nil {
		return "", err
	}
	if job == nil {
		return "", fmt.Errorf("job %d not found", jobID)
	}
	if job.IsTerminal() {
		return "already terminal", nil
	}
	if r.adopter != nil && r.adopter.Managed(job.ID) {
		return "", fmt.Errorf("job %d has a live capture session", jobID)
	}
	out, err := r.reconcileJob(ctx, job)
	if err != nil {
		return "", err
	}
	switch out {
	case outcomeAdopted:
		return "adopted running capture", nil
	case outcomeTerminated:
		return "terminated stalled capture, output salvaged", nil
	case outcomeOrphaned:
		return "orphaned, finalize scheduled", nil
	case outcomeFailed:
		return "failed, no usable output", nil
	default:
		return "no action needed", nil
	}
}

type outcome int

const (
	outcomeNone outcome = iota
	outcomeAdopted
	outcomeTerminated
	outcomeOrphaned
	outcomeFailed
)

func (r *Reconciler) reconcileJob(ctx context.Context, job *recording.Job) (outcome, error) {
	logger := r.logger.With(
		logging.Int64(logging.FieldJobID, job.ID),
		logging.String(logging.FieldTargetID, job.TargetID),
		logging.String("status", string(job.Status)),
	)

	// A pending job with no session will never progress; nobody is
	// driving it anymore.
	if job.Status == recording.StatusPending {
		logger.Info("settling abandoned pending job")
		return r.settle(ctx, logger, job)
	}

	if capture.ProcessAlive(job.PID) {
		return r.reconcileZombie(ctx, logger, job)
	}
	return r.settle(ctx, logger, job)
}

// reconcileZombie handles a capture process that outlived its daemon.
// Progressing output earns adoption; a stalled process is terminated
// and its job settled like any other orphan.
func (r *Reconciler) reconcileZombie(ctx context.Context, logger *slog.Logger, job *recording.Job) (outcome, error) {
	current := recording.SegmentPath(r.cfg.StagingDir, job, r.cfg.Capture.SegmentExt, job.SegmentIndex)

	if r.adopter != nil && job.Status != recording.StatusStopping && outputProgressing(current, time.Duration(r.cfg.Capture.LivenessTimeout)*time.Second) {
		if err := r.adopter.Adopt(ctx, job, ""); err != nil {
			logger.Warn("adopt running capture failed, terminating instead", logging.Error(err))
		} else {
			logger.Info("adopted running capture from previous run",
				logging.Int("pid", job.PID),
				logging.String(logging.FieldEventType, "zombie_adopted"),
			)
			return outcomeAdopted, nil
		}
	}

	logger.Info("terminating stalled capture from previous run",
		logging.Int("pid", job.PID),
		logging.String(logging.FieldEventType, "zombie_terminated"),
	)
	if err := capture.TerminatePID(job.PID); err != nil {
		logger.Warn("terminate signal failed", logging.Error(err))
	}
	grace := time.Duration(r.cfg.Capture.TerminateGrace) * time.Second
	if grace <= 0 {
		grace = 5 * time.Second
	}
	deadline := time.Now().Add(grace)
	for capture.ProcessAlive(job.PID) && time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return outcomeNone, ctx.Err()
		case <-time.After(250 * time.Millisecond):
		}
	}
	if capture.ProcessAlive(job.PID) {
		if err := capture.KillPID(job.PID); err != nil {
			logger.Warn("kill signal failed", logging.Error(err))
		}
	}

	out, err := r.settle(ctx, logger, job)
	if err != nil {
		return out, err
	}
	if out == outcomeOrphaned {
		return outcomeTerminated, nil
	}
	return out, nil
}

// settle drives a dead job to its terminal state: orphaned with a
// finalize task when output is worth salvaging, failed otherwise.
func (r *Reconciler) settle(ctx context.Context, logger *slog.Logger, job *recording.Job) (outcome, error) {
	fresh, err := r.store.GetByID(ctx, job.ID)
	if err != nil {
		return outcomeNone, err
	}
	if fresh == nil || fresh.IsTerminal() {
		return outcomeNone, nil
	}
	job = fresh

	current := recording.SegmentPath(r.cfg.StagingDir, job, r.cfg.Capture.SegmentExt, job.SegmentIndex)
	if capture.FileSize(current) > 0 {
		if updated, err := r.store.AppendOutputPath(ctx, job.ID, current); err != nil {
			if !errors.Is(err, recording.ErrConflict) {
				logger.Warn("record salvaged segment failed", logging.Error(err))
			}
		} else {
			job = updated
		}
	}

	if len(job.OutputPaths) == 0 {
		if err := r.store.Finish(ctx, job.ID, recording.StatusFailed, "no usable output after crash"); err != nil && !errors.Is(err, recording.ErrConflict) {
			return outcomeNone, err
		}
		logger.Info("job failed with no salvageable output",
			logging.String(logging.FieldEventType, "orphan_discarded"))
		return outcomeFailed, nil
	}

	if err := r.store.Finish(ctx, job.ID, recording.StatusOrphaned, "recovered by reconciler"); err != nil && !errors.Is(err, recording.ErrConflict) {
		return outcomeNone, err
	}
	if _, err := r.taskStore.Enqueue(ctx, tasks.TypeFinalize, tasks.FinalizePayload{JobID: job.ID}, r.cfg.Tasks.MaxAttempts,
		tasks.WithDedupeKey(tasks.FinalizeDedupeKey(job.ID)),
		tasks.WithJobID(job.ID),
	); err != nil {
		return outcomeOrphaned, fmt.Errorf("enqueue finalize for orphan: %w", err)
	}
	logger.Info("job orphaned, finalize scheduled",
		logging.Int("segments", len(job.OutputPaths)),
		logging.String(logging.FieldEventType, "orphan_recovered"),
	)
	return outcomeOrphaned, nil
}

// outputProgressing reports whether the segment file was written to
// recently enough to consider the capture healthy.
func outputProgressing(path string, window time.Duration) bool {
	if window <= 0 {
		window = 90 * time.Second
	}
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Size() > 0 && time.Since(info.ModTime()) < window
}
