// Package rotation closes the current segment of an active recording
// and begins the next one on a fixed interval, bounding data loss when
// a capture later crashes.
package rotation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"creel/internal/capture"
	"creel/internal/config"
	"creel/internal/logging"
	"creel/internal/recording"
)

// ErrRotationFailure tags rotation errors so callers can count
// consecutive failures against the configured budget.
var ErrRotationFailure = errors.New("rotation failure")

// Rotator performs segment rotation for one capture at a time.
type Rotator struct {
	store      *recording.Store
	launcher   capture.Launcher
	logger     *slog.Logger
	stagingDir string
	segmentExt string
	maxGap     time.Duration
	liveSwitch bool
}

// New constructs a rotator from daemon configuration.
func New(cfg *config.Config, store *recording.Store, launcher capture.Launcher, logger *slog.Logger) *Rotator {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Rotator{
		store:      store,
		launcher:   launcher,
		logger:     logger.With(logging.String(logging.FieldComponent, "rotation")),
		stagingDir: cfg.StagingDir,
		segmentExt: cfg.Capture.SegmentExt,
		maxGap:     time.Duration(cfg.Rotation.MaxGap) * time.Second,
		liveSwitch: cfg.Capture.LiveSwitch,
	}
}

// Rotate closes the in-progress segment and starts the next one,
// returning the handle that is recording afterwards. A nil handle means
// a previous rotation lost the capture process; only the relaunch step
// runs then. On error the job is left in rotating so the caller can
// retry on its next tick.
func (r *Rotator) Rotate(ctx context.Context, jobID int64, streamURL string, handle capture.Handle) (capture.Handle, *recording.Job, error) {
	job, err := r.store.GetByID(ctx, jobID)
	if err != nil {
		return handle, nil, fmt.Errorf("%w: %v", ErrRotationFailure, err)
	}
	if job == nil {
		return handle, nil, fmt.Errorf("%w: job %d not found", ErrRotationFailure, jobID)
	}

	logger := r.logger.With(
		logging.Int64(logging.FieldJobID, job.ID),
		logging.String(logging.FieldTargetID, job.TargetID),
	)

	switch job.Status {
	case recording.StatusRecording:
		if err := r.store.Transition(ctx, job.ID, recording.StatusRecording, recording.StatusRotating); err != nil {
			return handle, nil, fmt.Errorf("%w: enter rotating: %v", ErrRotationFailure, err)
		}
	case recording.StatusRotating:
		// Retry of a rotation that failed partway through.
	default:
		return handle, nil, fmt.Errorf("%w: job %d is %s", ErrRotationFailure, job.ID, job.Status)
	}

	if handle != nil && r.liveSwitch && handle.SupportsLiveSwitch() {
		return r.rotateLive(ctx, logger, job, streamURL, handle)
	}
	return r.rotateRestart(ctx, logger, job, streamURL, handle)
}

// rotateLive switches the running process to the next output file
// without restarting it, so no capture gap exists.
func (r *Rotator) rotateLive(ctx context.Context, logger *slog.Logger, job *recording.Job, streamURL string, handle capture.Handle) (capture.Handle, *recording.Job, error) {
	closing := recording.SegmentPath(r.stagingDir, job, r.segmentExt, job.SegmentIndex)
	next := recording.SegmentPath(r.stagingDir, job, r.segmentExt, job.SegmentIndex+1)

	if err := handle.SwitchOutput(ctx, next); err != nil {
		if !errors.Is(err, capture.ErrLiveSwitchUnsupported) {
			return handle, nil, fmt.Errorf("%w: live switch: %v", ErrRotationFailure, err)
		}
		return r.rotateRestart(ctx, logger, job, streamURL, handle)
	}

	updated, err := r.store.AppendOutputPath(ctx, job.ID, closing)
	if err != nil {
		return handle, nil, fmt.Errorf("%w: record closed segment: %v", ErrRotationFailure, err)
	}
	if err := r.store.Transition(ctx, job.ID, recording.StatusRotating, recording.StatusRecording); err != nil {
		return handle, updated, fmt.Errorf("%w: leave rotating: %v", ErrRotationFailure, err)
	}
	refreshed, err := r.store.GetByID(ctx, job.ID)
	if err != nil || refreshed == nil {
		refreshed = updated
	}

	logger.Info("segment rotated",
		logging.String(logging.FieldEventType, "segment_rotated"),
		logging.Int("segment_index", refreshed.SegmentIndex),
	)
	return handle, refreshed, nil
}

// rotateRestart stops the current process and launches a new one on the
// next segment path. The stop-to-ready gap is measured against the
// configured budget; exceeding it is logged, not fatal.
func (r *Rotator) rotateRestart(ctx context.Context, logger *slog.Logger, job *recording.Job, streamURL string, handle capture.Handle) (capture.Handle, *recording.Job, error) {
	gapStart := time.Now()

	current := job
	if handle != nil {
		closing := handle.OutputPath()
		if err := handle.Stop(ctx); err != nil {
			logger.Warn("stop before rotation reported error", logging.Error(err))
		}
		updated, err := r.store.AppendOutputPath(ctx, job.ID, closing)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: record closed segment: %v", ErrRotationFailure, err)
		}
		current = updated
	}

	next := recording.SegmentPath(r.stagingDir, current, r.segmentExt, current.SegmentIndex)
	newHandle, err := r.launcher.Start(ctx, capture.StartRequest{
		TargetID:   current.TargetID,
		StreamURL:  streamURL,
		OutputPath: next,
	})
	if err != nil {
		// The old process is gone; the job stays rotating for retry.
		return nil, current, fmt.Errorf("%w: relaunch capture: %v", ErrRotationFailure, err)
	}
	if err := r.store.SetPID(ctx, current.ID, newHandle.PID()); err != nil {
		logger.Warn("record rotated capture pid failed", logging.Error(err))
	}

	gap := time.Since(gapStart)
	if r.maxGap > 0 && gap > r.maxGap {
		logger.Warn("rotation gap exceeded budget",
			logging.String(logging.FieldEventType, "rotation_gap_exceeded"),
			logging.Duration("gap", gap),
			logging.Duration("budget", r.maxGap),
		)
	}

	if err := r.store.Transition(ctx, current.ID, recording.StatusRotating, recording.StatusRecording); err != nil {
		return newHandle, current, fmt.Errorf("%w: leave rotating: %v", ErrRotationFailure, err)
	}

	refreshed, err := r.store.GetByID(ctx, current.ID)
	if err != nil || refreshed == nil {
		refreshed = current
	}
	logger.Info("segment rotated",
		logging.String(logging.FieldEventType, "segment_rotated"),
		logging.Int("segment_index", refreshed.SegmentIndex),
		logging.Duration("gap", gap),
	)
	return newHandle, refreshed, nil
}
