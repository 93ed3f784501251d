package supervisor

import (
	"context"
	"time"

	"creel/internal/capture"
	"creel/internal/logging"
)

func (s *Supervisor) heartbeatLoop(ctx context.Context) {
	defer s.wg.Done()

	interval := time.Duration(s.cfg.Workflow.HeartbeatInterval) * time.Second
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.HeartbeatCheck(ctx)
		}
	}
}

// HeartbeatCheck stamps heartbeats for every live session and verifies
// capture liveness. Each session is checked in its own goroutine so a
// slow filesystem cannot stall the others.
func (s *Supervisor) HeartbeatCheck(ctx context.Context) {
	for _, sess := range s.snapshotSessions() {
		s.wg.Add(1)
		go s.checkSession(ctx, sess)
	}
}

func (s *Supervisor) checkSession(ctx context.Context, sess *session) {
	defer s.wg.Done()

	select {
	case <-ctx.Done():
		return
	default:
	}

	logger := s.logger.With(
		logging.Int64(logging.FieldJobID, sess.jobID),
		logging.String(logging.FieldTargetID, sess.target.ID),
	)

	if err := s.store.UpdateHeartbeat(ctx, sess.jobID); err != nil {
		logger.Warn("heartbeat update failed", logging.Error(err))
	}

	handle := sess.currentHandle()
	if handle == nil {
		return
	}
	select {
	case <-handle.Done():
		return
	default:
	}

	timeout := time.Duration(s.cfg.Capture.LivenessTimeout) * time.Second
	if timeout <= 0 {
		return
	}

	size := capture.FileSize(handle.OutputPath())
	sess.mu.Lock()
	if size > sess.lastSize {
		sess.lastSize = size
		sess.lastGrowth = time.Now()
		sess.mu.Unlock()
		return
	}
	stalled := time.Since(sess.lastGrowth)
	sess.mu.Unlock()

	if stalled < timeout {
		return
	}

	// Output has not grown inside the liveness window. Kill the capture;
	// the session loop observes the exit and records the failure.
	logger.Warn("capture output stalled, killing process",
		logging.Duration("stalled_for", stalled),
		logging.Int("pid", handle.PID()),
		logging.String(logging.FieldEventType, "liveness_kill"),
	)
	sess.setForcedErr(ErrLivenessTimeout)
	if err := handle.Stop(ctx); err != nil {
		logger.Error("liveness kill failed", logging.Error(err))
	}
}
