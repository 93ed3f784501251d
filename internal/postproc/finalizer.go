// Package postproc finishes recordings after their capture process is
// gone: finalize tasks move segment files from staging into the
// library, optionally archive them to S3-compatible storage, and
// cleanup tasks drop leftover staging files.
package postproc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"creel/internal/config"
	"creel/internal/fileutil"
	"creel/internal/logging"
	"creel/internal/recording"
	"creel/internal/tasks"
)

// Uploader archives a finished recording file to remote storage.
type Uploader interface {
	Upload(ctx context.Context, localPath, objectName string) error
}

// Finalizer implements the finalize and cleanup_segments task handlers.
type Finalizer struct {
	cfg      *config.Config
	store    *recording.Store
	uploader Uploader
	logger   *slog.Logger
}

// Option configures a Finalizer.
type Option func(*Finalizer)

// WithUploader injects the archival backend (nil disables uploads).
func WithUploader(uploader Uploader) Option {
	return func(f *Finalizer) { f.uploader = uploader }
}

// New constructs a finalizer.
func New(cfg *config.Config, store *recording.Store, logger *slog.Logger, opts ...Option) *Finalizer {
	if logger == nil {
		logger = logging.NewNop()
	}
	f := &Finalizer{
		cfg:    cfg,
		store:  store,
		logger: logger.With(logging.String(logging.FieldComponent, "postproc")),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Register installs the finalizer's handlers on the task runner.
func (f *Finalizer) Register(runner *tasks.Runner) {
	runner.Register(tasks.TypeFinalize, f.HandleFinalize)
	runner.Register(tasks.TypeCleanupSegments, f.HandleCleanup)
}

// HandleFinalize moves a job's segments into the library directory.
// Retries are safe: segments already moved are detected by the library
// copy existing and the staging file being gone.
func (f *Finalizer) HandleFinalize(ctx context.Context, task *tasks.Task) error {
	job, err := f.jobFromTask(ctx, task)
	if err != nil {
		return err
	}
	if job == nil {
		return nil
	}

	// The runner stamps the job id onto the task context.
	logger := logging.WithContext(ctx, f.logger).With(
		logging.String(logging.FieldTargetID, job.TargetID),
	)

	destDir := filepath.Join(f.cfg.LibraryDir, recording.SanitizeTargetID(job.TargetID))
	var finalPaths []string
	for _, src := range job.OutputPaths {
		dst := filepath.Join(destDir, filepath.Base(src))
		if _, err := os.Stat(src); errors.Is(err, os.ErrNotExist) {
			if _, err := os.Stat(dst); err == nil {
				// Moved by an earlier attempt.
				finalPaths = append(finalPaths, dst)
				continue
			}
			logger.Warn("segment missing from staging", logging.String("path", src))
			continue
		}
		dst = fileutil.UniquePath(dst)
		if err := fileutil.MoveFile(src, dst); err != nil {
			return fmt.Errorf("move segment to library: %w", err)
		}
		finalPaths = append(finalPaths, dst)
	}

	if len(finalPaths) == 0 {
		logger.Warn("finalize found no segments to move")
		return nil
	}

	if f.uploader != nil {
		for _, path := range finalPaths {
			objectName := filepath.Join(recording.SanitizeTargetID(job.TargetID), filepath.Base(path))
			if err := f.uploader.Upload(ctx, path, objectName); err != nil {
				return fmt.Errorf("upload %s: %w", filepath.Base(path), err)
			}
		}
	}

	logger.Info("recording finalized",
		logging.String(logging.FieldEventType, "recording_finalized"),
		logging.Int("segments", len(finalPaths)),
		logging.String("library_dir", destDir),
	)
	return nil
}

// HandleCleanup removes any staging leftovers for a job whose segments
// are already settled.
func (f *Finalizer) HandleCleanup(ctx context.Context, task *tasks.Task) error {
	job, err := f.jobFromTask(ctx, task)
	if err != nil {
		return err
	}
	if job == nil {
		return nil
	}

	removed := 0
	for _, path := range job.OutputPaths {
		if err := os.Remove(path); err == nil {
			removed++
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove staging segment: %w", err)
		}
	}
	f.logger.Info("staging segments cleaned",
		logging.Int64(logging.FieldJobID, job.ID),
		logging.Int("removed", removed),
	)
	return nil
}

func (f *Finalizer) jobFromTask(ctx context.Context, task *tasks.Task) (*recording.Job, error) {
	var payload tasks.FinalizePayload
	if err := json.Unmarshal([]byte(task.Payload), &payload); err != nil {
		return nil, fmt.Errorf("decode task payload: %w", err)
	}
	if payload.JobID == 0 {
		return nil, errors.New("task payload missing job_id")
	}
	job, err := f.store.GetByID(ctx, payload.JobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		f.logger.Warn("task references unknown job", logging.Int64(logging.FieldJobID, payload.JobID))
		return nil, nil
	}
	return job, nil
}
