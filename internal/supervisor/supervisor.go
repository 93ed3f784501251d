package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"creel/internal/capture"
	"creel/internal/config"
	"creel/internal/guard"
	"creel/internal/logging"
	"creel/internal/notifications"
	"creel/internal/recording"
	"creel/internal/rotation"
	"creel/internal/tasks"
)

// Supervisor coordinates capture sessions for active recording jobs.
type Supervisor struct {
	cfg       *config.Config
	store     *recording.Store
	taskStore *tasks.Store
	guard     *guard.Guard
	launcher  capture.Launcher
	resolver  capture.Resolver
	rotator   *rotation.Rotator
	notifier  notifications.Service
	logger    *slog.Logger

	mu       sync.RWMutex
	sessions map[int64]*session
	running  bool
	runCtx   context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New constructs a supervisor. The rotator is built internally from the
// same launcher so restart-style rotation reuses the capture settings.
func New(
	cfg *config.Config,
	store *recording.Store,
	taskStore *tasks.Store,
	g *guard.Guard,
	launcher capture.Launcher,
	resolver capture.Resolver,
	notifier notifications.Service,
	logger *slog.Logger,
) *Supervisor {
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logger.With(logging.String(logging.FieldComponent, "supervisor"))
	return &Supervisor{
		cfg:       cfg,
		store:     store,
		taskStore: taskStore,
		guard:     g,
		launcher:  launcher,
		resolver:  resolver,
		rotator:   rotation.New(cfg, store, launcher, logger),
		notifier:  notifier,
		logger:    logger,
		sessions:  make(map[int64]*session),
	}
}

// Start launches the heartbeat loop. Sessions spawned later inherit the
// supervisor's run context so daemon shutdown stops them all.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("supervisor already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.runCtx = runCtx
	s.cancel = cancel
	s.running = true
	s.wg.Add(1)
	s.mu.Unlock()

	go s.heartbeatLoop(runCtx)
	return nil
}

// Stop terminates all capture sessions gracefully and waits for them.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	s.running = false
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
}

// StartRecording begins a capture for the target, enforcing the
// one-active-recording-per-target invariant. It returns once the
// capture has produced output and the job is in the recording state.
func (s *Supervisor) StartRecording(ctx context.Context, targetID string) (*recording.Job, error) {
	s.mu.RLock()
	running := s.running
	runCtx := s.runCtx
	s.mu.RUnlock()
	if !running {
		return nil, errors.New("supervisor not running")
	}

	target, ok := s.cfg.TargetByID(targetID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTarget, targetID)
	}

	// Fast duplicate checks before creating a row. The partial unique
	// index on active jobs remains the backstop for races.
	if holder, held := s.guard.Holder(targetID); held {
		return nil, &guard.ErrDuplicate{TargetID: targetID, JobID: holder}
	}
	if existing, err := s.store.ActiveJobForTarget(ctx, targetID); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, &guard.ErrDuplicate{TargetID: targetID, JobID: existing.ID}
	}

	job, err := s.store.NewJob(ctx, targetID)
	if err != nil {
		return nil, err
	}
	logger := s.logger.With(
		logging.Int64(logging.FieldJobID, job.ID),
		logging.String(logging.FieldTargetID, targetID),
	)

	if err := s.guard.TryClaim(targetID, job.ID); err != nil {
		_ = s.store.Finish(ctx, job.ID, recording.StatusFailed, err.Error())
		return nil, err
	}
	if err := s.store.Transition(ctx, job.ID, recording.StatusPending, recording.StatusStarting); err != nil {
		s.guard.Release(targetID, job.ID)
		if errors.Is(err, recording.ErrActiveJobExists) {
			_ = s.store.Finish(ctx, job.ID, recording.StatusFailed, "duplicate recording for target")
			existing, lookupErr := s.store.ActiveJobForTarget(ctx, targetID)
			if lookupErr == nil && existing != nil {
				return nil, &guard.ErrDuplicate{TargetID: targetID, JobID: existing.ID}
			}
			return nil, &guard.ErrDuplicate{TargetID: targetID}
		}
		return nil, err
	}

	streamURL, err := s.resolver.Resolve(ctx, target.URL, target.Quality)
	if err != nil {
		return nil, s.failStart(ctx, logger, job, fmt.Errorf("%w: %v", ErrSpawnFailure, err))
	}

	job, err = s.store.GetByID(ctx, job.ID)
	if err != nil {
		return nil, s.failStart(ctx, logger, job, err)
	}
	outputPath := recording.SegmentPath(s.cfg.StagingDir, job, s.cfg.Capture.SegmentExt, job.SegmentIndex)

	handle, err := s.launcher.Start(ctx, capture.StartRequest{
		TargetID:   targetID,
		StreamURL:  streamURL,
		OutputPath: outputPath,
	})
	if err != nil {
		return nil, s.failStart(ctx, logger, job, fmt.Errorf("%w: %v", ErrSpawnFailure, err))
	}

	if err := s.store.SetPID(ctx, job.ID, handle.PID()); err != nil {
		logger.Warn("record capture pid failed", logging.Error(err))
	}
	if err := s.store.Transition(ctx, job.ID, recording.StatusStarting, recording.StatusRecording); err != nil {
		_ = handle.Stop(context.WithoutCancel(ctx))
		return nil, s.failStart(ctx, logger, job, err)
	}

	sess := newSession(job.ID, target, streamURL, handle)
	s.register(sess)
	s.wg.Add(1)
	go s.runSession(runCtx, sess)

	logger.Info("recording started",
		logging.String(logging.FieldEventType, "recording_started"),
		logging.String(logging.FieldCorrelationID, sess.correlationID),
		logging.Int("pid", handle.PID()),
		logging.String("output", outputPath),
	)
	if err := s.notifier.NotifyRecordingStarted(ctx, target.Name, outputPath); err != nil {
		logger.Warn("start notification failed", logging.Error(err))
	}

	return s.store.GetByID(ctx, job.ID)
}

// StopRecording requests a graceful stop and waits for the session to
// wind down or the context to expire.
func (s *Supervisor) StopRecording(ctx context.Context, jobID int64) error {
	sess := s.session(jobID)
	if sess == nil {
		return fmt.Errorf("%w: job %d", ErrNotManaged, jobID)
	}
	sess.requestStop()
	select {
	case <-sess.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Adopt registers a session around a still-running capture process from
// a previous daemon run. Used by the reconciler for zombie jobs whose
// output is progressing.
func (s *Supervisor) Adopt(ctx context.Context, job *recording.Job, streamURL string) error {
	s.mu.RLock()
	running := s.running
	runCtx := s.runCtx
	s.mu.RUnlock()
	if !running {
		return errors.New("supervisor not running")
	}
	target, ok := s.cfg.TargetByID(job.TargetID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTarget, job.TargetID)
	}
	if err := s.guard.TryClaim(job.TargetID, job.ID); err != nil {
		return err
	}

	outputPath := recording.SegmentPath(s.cfg.StagingDir, job, s.cfg.Capture.SegmentExt, job.SegmentIndex)
	grace := time.Duration(s.cfg.Capture.TerminateGrace) * time.Second
	handle := capture.AdoptPID(job.PID, outputPath, grace)

	sess := newSession(job.ID, target, streamURL, handle)
	s.register(sess)
	s.wg.Add(1)
	go s.runSession(runCtx, sess)

	s.logger.Info("adopted running capture",
		logging.Int64(logging.FieldJobID, job.ID),
		logging.String(logging.FieldTargetID, job.TargetID),
		logging.String(logging.FieldCorrelationID, sess.correlationID),
		logging.Int("pid", job.PID),
		logging.String(logging.FieldEventType, "capture_adopted"),
	)
	return nil
}

// Managed reports whether this supervisor holds a session for the job.
func (s *Supervisor) Managed(jobID int64) bool {
	return s.session(jobID) != nil
}

// ManagedJobs returns the ids of all jobs with live sessions.
func (s *Supervisor) ManagedJobs() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]int64, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	return ids
}

func (s *Supervisor) failStart(ctx context.Context, logger *slog.Logger, job *recording.Job, cause error) error {
	logger.Error("recording start failed", logging.Error(cause),
		logging.String(logging.FieldEventType, "recording_start_failed"))
	if err := s.store.Finish(ctx, job.ID, recording.StatusFailed, cause.Error()); err != nil && !errors.Is(err, recording.ErrConflict) {
		logger.Error("persist start failure", logging.Error(err))
	}
	s.guard.Release(job.TargetID, job.ID)
	if err := s.notifier.NotifyRecordingFailed(ctx, job.TargetID, cause); err != nil {
		logger.Warn("failure notification failed", logging.Error(err))
	}
	return cause
}

func (s *Supervisor) register(sess *session) {
	s.mu.Lock()
	s.sessions[sess.jobID] = sess
	s.mu.Unlock()
}

func (s *Supervisor) forget(sess *session) {
	s.mu.Lock()
	delete(s.sessions, sess.jobID)
	s.mu.Unlock()
}

func (s *Supervisor) session(jobID int64) *session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[jobID]
}

func (s *Supervisor) snapshotSessions() []*session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}
