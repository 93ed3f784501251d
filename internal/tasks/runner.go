package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"creel/internal/logging"
)

// Handler executes one task. A nil return marks the task succeeded; an
// error counts against the task's attempt budget.
type Handler func(ctx context.Context, task *Task) error

// Runner drains the task queue with a fixed-size worker pool.
type Runner struct {
	store        *Store
	logger       *slog.Logger
	workers      int
	pollInterval time.Duration

	mu       sync.RWMutex
	handlers map[string]Handler
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewRunner constructs a task runner.
func NewRunner(store *Store, logger *slog.Logger, workers int, pollInterval time.Duration) *Runner {
	if logger == nil {
		logger = logging.NewNop()
	}
	if workers <= 0 {
		workers = 1
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Runner{
		store:        store,
		logger:       logger.With(logging.String(logging.FieldComponent, "tasks")),
		workers:      workers,
		pollInterval: pollInterval,
		handlers:     make(map[string]Handler),
	}
}

// Register installs the handler for a task type. Registering twice for
// the same type replaces the previous handler.
func (r *Runner) Register(taskType string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[taskType] = handler
}

// Start launches the worker pool.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return errors.New("task runner already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true
	r.wg.Add(r.workers)
	r.mu.Unlock()

	for i := 0; i < r.workers; i++ {
		go r.runWorker(runCtx, i)
	}
	return nil
}

// Stop terminates the worker pool and waits for in-flight handlers.
func (r *Runner) Stop() {
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

func (r *Runner) runWorker(ctx context.Context, worker int) {
	defer r.wg.Done()
	logger := r.logger.With(logging.Int("worker", worker))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		task, err := r.store.DequeueNext(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			logger.Error("dequeue failed", logging.Error(err))
			r.waitOrShutdown(ctx)
			continue
		}
		if task == nil {
			r.waitOrShutdown(ctx)
			continue
		}

		r.runTask(ctx, logger, task)
	}
}

func (r *Runner) runTask(ctx context.Context, logger *slog.Logger, task *Task) {
	taskLogger := logger.With(
		logging.Int64(logging.FieldTaskID, task.ID),
		logging.String(logging.FieldTaskType, task.Type),
		logging.Int(logging.FieldAttempt, task.AttemptCount+1),
	)
	if task.JobID != 0 {
		taskLogger = taskLogger.With(logging.Int64(logging.FieldJobID, task.JobID))
	}

	r.mu.RLock()
	handler, ok := r.handlers[task.Type]
	r.mu.RUnlock()
	if !ok {
		taskLogger.Error("no handler registered for task type")
		r.recordFailure(ctx, taskLogger, task, fmt.Errorf("no handler for task type %q", task.Type))
		return
	}

	taskLogger.Info("task started", logging.String(logging.FieldEventType, "task_start"))

	taskCtx := ctx
	if task.JobID != 0 {
		taskCtx = logging.WithJobID(ctx, task.JobID)
	}
	if err := handler(taskCtx, task); err != nil {
		if errors.Is(err, context.Canceled) {
			// Shutdown mid-task: leave the row running; the stuck-task
			// sweep surfaces it for operator retry if the daemon never
			// comes back to it.
			taskLogger.Debug("task interrupted by shutdown")
			return
		}
		r.recordFailure(ctx, taskLogger, task, err)
		return
	}

	if err := r.store.Complete(ctx, task.ID); err != nil {
		taskLogger.Error("failed to persist task completion", logging.Error(err))
		return
	}
	taskLogger.Info("task succeeded", logging.String(logging.FieldEventType, "task_complete"))
}

func (r *Runner) recordFailure(ctx context.Context, logger *slog.Logger, task *Task, failure error) {
	status, err := r.store.Fail(ctx, task.ID, failure)
	if err != nil {
		logger.Error("failed to persist task failure", logging.Error(err))
		return
	}
	switch status {
	case StatusFailed:
		logger.Error("task failed permanently",
			logging.Error(failure),
			logging.String(logging.FieldEventType, "task_retry_exhausted"),
			logging.Int("max_attempts", task.MaxAttempts),
		)
	default:
		logger.Warn("task failed, will retry",
			logging.Error(failure),
			logging.String(logging.FieldEventType, "task_retry_scheduled"),
		)
	}
}

func (r *Runner) waitOrShutdown(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(r.pollInterval):
	}
}
