package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"creel/internal/capture"
	"creel/internal/config"
	"creel/internal/logging"
	"creel/internal/recording"
	"creel/internal/tasks"
)

// session tracks one live capture. The supervisor goroutine that owns
// it is the only writer of the handle; heartbeat checks read it.
type session struct {
	jobID     int64
	target    config.Target
	streamURL string

	// correlationID ties every log line of one capture session together,
	// across rotations and adoption by a new daemon process.
	correlationID string

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	mu             sync.Mutex
	handle         capture.Handle
	lastSize       int64
	lastGrowth     time.Time
	rotateFailures int
	stopRequested  bool
	forcedErr      error
}

func newSession(jobID int64, target config.Target, streamURL string, handle capture.Handle) *session {
	return &session{
		jobID:         jobID,
		target:        target,
		streamURL:     streamURL,
		correlationID: uuid.NewString(),
		stopCh:        make(chan struct{}),
		done:          make(chan struct{}),
		handle:        handle,
		lastGrowth:    time.Now(),
	}
}

func (sess *session) currentHandle() capture.Handle {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.handle
}

func (sess *session) setHandle(handle capture.Handle) {
	sess.mu.Lock()
	sess.handle = handle
	sess.lastSize = 0
	sess.lastGrowth = time.Now()
	sess.mu.Unlock()
}

func (sess *session) requestStop() {
	sess.stopOnce.Do(func() {
		sess.mu.Lock()
		sess.stopRequested = true
		sess.mu.Unlock()
		close(sess.stopCh)
	})
}

func (sess *session) setForcedErr(err error) {
	sess.mu.Lock()
	if sess.forcedErr == nil {
		sess.forcedErr = err
	}
	sess.mu.Unlock()
}

func (sess *session) takeForcedErr() error {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.forcedErr
}

// runSession is the per-job event loop: it reacts to process exit,
// stop requests, rotation ticks, and daemon shutdown.
func (s *Supervisor) runSession(ctx context.Context, sess *session) {
	defer s.wg.Done()
	defer close(sess.done)
	defer s.forget(sess)

	ctx = logging.WithJobID(ctx, sess.jobID)
	ctx = logging.WithTargetID(ctx, sess.target.ID)
	ctx = logging.WithCorrelationID(ctx, sess.correlationID)
	logger := logging.WithContext(ctx, s.logger)

	var rotateC <-chan time.Time
	if interval := time.Duration(s.cfg.Rotation.Interval) * time.Second; interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		rotateC = ticker.C
	}

	for {
		var exitC <-chan struct{}
		if handle := sess.currentHandle(); handle != nil {
			exitC = handle.Done()
		}

		select {
		case <-ctx.Done():
			// Daemon shutdown: stop gracefully on a fresh context.
			s.terminate(context.WithoutCancel(ctx), logger, sess)
			return
		case <-sess.stopCh:
			s.terminate(ctx, logger, sess)
			return
		case <-exitC:
			s.handleExit(ctx, logger, sess)
			return
		case <-rotateC:
			if stop := s.rotateSession(ctx, logger, sess); stop {
				s.terminate(ctx, logger, sess)
				return
			}
		}
	}
}

// rotateSession runs one rotation attempt and reports whether the job
// should degrade to a stop after too many consecutive failures.
func (s *Supervisor) rotateSession(ctx context.Context, logger *slog.Logger, sess *session) bool {
	if sess.streamURL == "" {
		// Adopted sessions start without a resolved URL; restart-style
		// rotation needs one.
		url, err := s.resolver.Resolve(ctx, sess.target.URL, sess.target.Quality)
		if err != nil {
			logger.Warn("resolve stream url for rotation failed", logging.Error(err))
		} else {
			sess.streamURL = url
		}
	}

	newHandle, job, err := s.rotator.Rotate(ctx, sess.jobID, sess.streamURL, sess.currentHandle())
	if newHandle != sess.currentHandle() {
		sess.setHandle(newHandle)
	}
	if err != nil {
		sess.mu.Lock()
		sess.rotateFailures++
		failures := sess.rotateFailures
		sess.mu.Unlock()

		logger.Warn("segment rotation failed",
			logging.Error(err),
			logging.Int("consecutive_failures", failures),
			logging.String(logging.FieldEventType, "rotation_failed"),
		)
		if s.cfg.Rotation.MaxFailures > 0 && failures >= s.cfg.Rotation.MaxFailures {
			logger.Error("rotation failure budget exhausted, stopping recording",
				logging.String(logging.FieldEventType, "rotation_budget_exhausted"))
			sess.setForcedErr(fmt.Errorf("%d consecutive rotation failures: %w", failures, err))
			sess.requestStop()
			return true
		}
		return false
	}

	sess.mu.Lock()
	sess.rotateFailures = 0
	sess.mu.Unlock()

	if job != nil {
		if err := s.notifier.NotifySegmentRotated(ctx, sess.target.Name, job.SegmentIndex); err != nil {
			logger.Warn("rotation notification failed", logging.Error(err))
		}
	}
	return false
}

// terminate drives a graceful stop: stopping transition, process stop,
// then the guaranteed cleanup block. Cleanup steps fail forward: each
// runs regardless of earlier errors.
func (s *Supervisor) terminate(ctx context.Context, logger *slog.Logger, sess *session) {
	job, err := s.store.GetByID(ctx, sess.jobID)
	if err != nil || job == nil {
		logger.Error("load job for termination failed", logging.Error(err))
	} else if recording.CanTransition(job.Status, recording.StatusStopping) {
		if err := s.store.Transition(ctx, job.ID, job.Status, recording.StatusStopping); err != nil {
			logger.Warn("enter stopping failed", logging.Error(err))
		}
	}

	if handle := sess.currentHandle(); handle != nil {
		if err := handle.Stop(ctx); err != nil {
			// Fail forward: cleanup below must still run.
			logger.Warn("capture stop reported error", logging.Error(err))
		}
	}

	cause := sess.takeForcedErr()
	status := recording.StatusCompleted
	message := ""
	if cause != nil {
		status = recording.StatusFailed
		message = cause.Error()
	}
	s.finish(ctx, logger, sess, status, message, cause)
}

// handleExit runs when the capture process ends without a stop request:
// a crash, a liveness kill, or the stream simply ending.
func (s *Supervisor) handleExit(ctx context.Context, logger *slog.Logger, sess *session) {
	handle := sess.currentHandle()

	cause := sess.takeForcedErr()
	if cause == nil && handle != nil {
		if exitErr := handle.Err(); exitErr != nil {
			cause = fmt.Errorf("%w: %v", ErrProcessCrashed, exitErr)
		}
	}

	status := recording.StatusCompleted
	message := ""
	if cause != nil {
		status = recording.StatusFailed
		message = cause.Error()
		logger.Error("capture exited unexpectedly",
			logging.Error(cause),
			logging.String(logging.FieldEventType, "capture_crashed"),
		)
	} else {
		logger.Info("capture ended",
			logging.String(logging.FieldEventType, "capture_ended"))
	}

	if job, err := s.store.GetByID(ctx, sess.jobID); err == nil && job != nil {
		if recording.CanTransition(job.Status, recording.StatusStopping) {
			if err := s.store.Transition(ctx, job.ID, job.Status, recording.StatusStopping); err != nil {
				logger.Warn("enter stopping failed", logging.Error(err))
			}
		}
	}
	s.finish(ctx, logger, sess, status, message, cause)
}

// finish is the guaranteed cleanup block shared by every termination
// path: record the in-progress segment, schedule finalize, reach a
// terminal status, release the guard claim, notify. Steps fail forward.
func (s *Supervisor) finish(ctx context.Context, logger *slog.Logger, sess *session, status recording.Status, message string, cause error) {
	job, err := s.store.GetByID(ctx, sess.jobID)
	if err != nil || job == nil {
		logger.Error("load job for cleanup failed", logging.Error(err))
	}

	if job != nil && !job.IsTerminal() {
		current := recording.SegmentPath(s.cfg.StagingDir, job, s.cfg.Capture.SegmentExt, job.SegmentIndex)
		if capture.FileSize(current) > 0 {
			if updated, err := s.store.AppendOutputPath(ctx, job.ID, current); err != nil {
				logger.Warn("record final segment failed", logging.Error(err))
			} else {
				job = updated
			}
		}
	}

	if job != nil && len(job.OutputPaths) > 0 {
		if _, err := s.taskStore.Enqueue(ctx, tasks.TypeFinalize, tasks.FinalizePayload{JobID: job.ID}, s.cfg.Tasks.MaxAttempts,
			tasks.WithDedupeKey(tasks.FinalizeDedupeKey(job.ID)),
			tasks.WithJobID(job.ID),
		); err != nil {
			logger.Error("enqueue finalize task failed", logging.Error(err))
		}
	}

	if err := s.store.Finish(ctx, sess.jobID, status, message); err != nil && !errors.Is(err, recording.ErrConflict) {
		logger.Error("persist terminal status failed", logging.Error(err))
	}

	s.guard.Release(sess.target.ID, sess.jobID)

	segments := 0
	var totalBytes int64
	var duration time.Duration
	if job != nil {
		segments = len(job.OutputPaths)
		for _, path := range job.OutputPaths {
			totalBytes += capture.FileSize(path)
		}
		if job.StartedAt != nil {
			duration = time.Since(*job.StartedAt)
		}
	}

	logger.Info("recording finished",
		logging.String(logging.FieldEventType, "recording_finished"),
		logging.String("status", string(status)),
		logging.Int("segments", segments),
	)

	var notifyErr error
	if status == recording.StatusCompleted {
		notifyErr = s.notifier.NotifyRecordingCompleted(ctx, sess.target.Name, segments, totalBytes, duration)
	} else {
		notifyErr = s.notifier.NotifyRecordingFailed(ctx, sess.target.Name, cause)
	}
	if notifyErr != nil {
		logger.Warn("finish notification failed", logging.Error(notifyErr))
	}
}
