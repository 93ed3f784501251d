package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"creel/internal/capture"
	"creel/internal/config"
	"creel/internal/guard"
	"creel/internal/logging"
	"creel/internal/notifications"
	"creel/internal/postproc"
	"creel/internal/reconciler"
	"creel/internal/recording"
	"creel/internal/supervisor"
	"creel/internal/tasks"
)

// Daemon coordinates the recorder services and enforces
// single-instance execution.
type Daemon struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      *recording.Store
	taskStore  *tasks.Store
	guard      *guard.Guard
	supervisor *supervisor.Supervisor
	runner     *tasks.Runner
	reconciler *reconciler.Reconciler
	notifier   notifications.Service
	logPath    string

	lockPath string
	lock     *flock.Flock

	running    atomic.Bool
	reconciled atomic.Bool
	cancel     context.CancelFunc
}

// Options allows tests to substitute the process-facing collaborators.
type Options struct {
	Launcher capture.Launcher
	Resolver capture.Resolver
	Notifier notifications.Service
	Uploader postproc.Uploader
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *recording.Store, taskStore *tasks.Store, logger *slog.Logger, opts Options) (*Daemon, error) {
	if cfg == nil || store == nil || taskStore == nil || logger == nil {
		return nil, errors.New("daemon requires config, stores, and logger")
	}

	launcher := opts.Launcher
	if launcher == nil {
		l, err := capture.NewFFmpegLauncher(cfg.Capture.Binary, cfg.Capture.ReadyGrace, cfg.Capture.TerminateGrace)
		if err != nil {
			return nil, fmt.Errorf("build capture launcher: %w", err)
		}
		launcher = l
	}
	resolver := opts.Resolver
	if resolver == nil {
		if strings.TrimSpace(cfg.Capture.ResolverBinary) == "" {
			resolver = capture.PassthroughResolver{}
		} else {
			r, err := capture.NewStreamlinkResolver(cfg.Capture.ResolverBinary, cfg.Capture.ResolverTimeout)
			if err != nil {
				return nil, fmt.Errorf("build stream resolver: %w", err)
			}
			resolver = r
		}
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}
	uploader := opts.Uploader
	if uploader == nil {
		u, err := postproc.NewMinioUploader(cfg)
		if err != nil {
			return nil, fmt.Errorf("build uploader: %w", err)
		}
		if u != nil {
			uploader = u
		}
	}

	g := guard.New()
	sup := supervisor.New(cfg, store, taskStore, g, launcher, resolver, notifier, logger)
	rec := reconciler.New(cfg, store, taskStore, sup, notifier, logger)

	runner := tasks.NewRunner(taskStore, logger, cfg.Tasks.Workers, time.Duration(cfg.Tasks.PollInterval)*time.Second)
	finalizer := postproc.New(cfg, store, logger, postproc.WithUploader(uploader))
	finalizer.Register(runner)

	lockPath := filepath.Join(cfg.LogDir, "creeld.lock")
	return &Daemon{
		cfg:        cfg,
		logger:     logger.With(logging.String(logging.FieldComponent, "daemon")),
		store:      store,
		taskStore:  taskStore,
		guard:      g,
		supervisor: sup,
		runner:     runner,
		reconciler: rec,
		notifier:   notifier,
		logPath:    filepath.Join(cfg.LogDir, logging.LogFileName),
		lockPath:   lockPath,
		lock:       flock.New(lockPath),
	}, nil
}

// Start acquires the single-instance lock, runs the startup reconcile
// pass, and launches the background services. Recording starts are
// refused until the first reconcile pass completes.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another creel daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if err := d.supervisor.Start(runCtx); err != nil {
		return d.abortStart(err)
	}

	summary, err := d.reconciler.Reconcile(runCtx)
	if err != nil {
		d.supervisor.Stop()
		return d.abortStart(fmt.Errorf("startup reconcile: %w", err))
	}
	d.reconciled.Store(true)

	if err := d.runner.Start(runCtx); err != nil {
		d.supervisor.Stop()
		return d.abortStart(err)
	}
	if err := d.reconciler.Start(runCtx); err != nil {
		d.runner.Stop()
		d.supervisor.Stop()
		return d.abortStart(err)
	}

	d.running.Store(true)
	d.logger.Info("creel daemon started",
		logging.String("lock", d.lockPath),
		logging.Int("orphans_recovered", summary.Orphaned),
		logging.Int("captures_adopted", summary.Adopted),
	)
	return nil
}

func (d *Daemon) abortStart(err error) error {
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	_ = d.lock.Unlock()
	d.reconciled.Store(false)
	return err
}

// Stop winds down background services and releases the daemon lock.
// Active captures are stopped gracefully and finalized.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	d.reconciler.Stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.supervisor.Stop()
	d.runner.Stop()

	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.reconciled.Store(false)
	d.logger.Info("creel daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	var errs []error
	if d.store != nil {
		errs = append(errs, d.store.Close())
	}
	if d.taskStore != nil {
		errs = append(errs, d.taskStore.Close())
	}
	return errors.Join(errs...)
}

// Running reports whether the daemon services are up.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// StartRecording begins a capture for the target.
func (d *Daemon) StartRecording(ctx context.Context, targetID string) (*recording.Job, error) {
	if !d.running.Load() {
		return nil, errors.New("daemon not running")
	}
	if !d.reconciled.Load() {
		return nil, errors.New("startup reconcile still in progress")
	}
	return d.supervisor.StartRecording(ctx, targetID)
}

// StopRecording stops the capture for a job gracefully.
func (d *Daemon) StopRecording(ctx context.Context, jobID int64) error {
	if !d.running.Load() {
		return errors.New("daemon not running")
	}
	return d.supervisor.StopRecording(ctx, jobID)
}

// ListJobs returns jobs filtered by optional statuses.
func (d *Daemon) ListJobs(ctx context.Context, statuses []recording.Status) ([]*recording.Job, error) {
	return d.store.List(ctx, statuses...)
}

// GetJob fetches one job.
func (d *Daemon) GetJob(ctx context.Context, id int64) (*recording.Job, error) {
	return d.store.GetByID(ctx, id)
}

// ListTasks returns background tasks filtered by optional statuses.
func (d *Daemon) ListTasks(ctx context.Context, statuses []tasks.Status) ([]*tasks.Task, error) {
	return d.taskStore.List(ctx, statuses...)
}

// Targets returns the configured targets with their active job, if any.
func (d *Daemon) Targets(ctx context.Context) ([]TargetStatus, error) {
	out := make([]TargetStatus, 0, len(d.cfg.Targets))
	for _, target := range d.cfg.Targets {
		status := TargetStatus{Target: target}
		job, err := d.store.ActiveJobForTarget(ctx, target.ID)
		if err != nil {
			return nil, err
		}
		if job != nil {
			status.ActiveJobID = job.ID
		}
		out = append(out, status)
	}
	return out, nil
}

// TargetStatus pairs a configured target with its active job.
type TargetStatus struct {
	Target      config.Target
	ActiveJobID int64
}

// Status reports daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	DatabasePath string
	LockFilePath string
	JobStats     map[recording.Status]int
	TaskStats    map[tasks.Status]int
	ActiveJobs   []*recording.Job
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) (Status, error) {
	jobStats, err := d.store.Stats(ctx)
	if err != nil {
		return Status{}, err
	}
	taskStats, err := d.taskStore.Stats(ctx)
	if err != nil {
		return Status{}, err
	}
	active, err := d.store.List(ctx, append(recording.ActiveStatuses(), recording.StatusStopping)...)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		DatabasePath: d.cfg.DatabasePath(),
		LockFilePath: d.lockPath,
		JobStats:     jobStats,
		TaskStats:    taskStats,
		ActiveJobs:   active,
	}, nil
}

// TestNotification sends a test message through the configured notifier.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	if err := d.notifier.TestNotification(ctx); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}

// LogPath returns the path to the daemon log file.
func (d *Daemon) LogPath() string {
	return d.logPath
}
