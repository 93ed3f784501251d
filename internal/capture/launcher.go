package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ErrLiveSwitchUnsupported is returned by SwitchOutput on handles that
// cannot rotate the output file without restarting the process.
var ErrLiveSwitchUnsupported = errors.New("live output switch unsupported")

// StartRequest describes one capture to launch.
type StartRequest struct {
	TargetID   string
	StreamURL  string
	OutputPath string
}

// Handle is a running capture under supervisor control.
type Handle interface {
	PID() int
	OutputPath() string
	// Done is closed when the process exits; Err reports the exit
	// result afterwards, with recent diagnostic output attached.
	Done() <-chan struct{}
	Err() error
	// Stop requests graceful shutdown and escalates to SIGKILL after
	// the terminate grace period.
	Stop(ctx context.Context) error
	// SupportsLiveSwitch reports whether SwitchOutput can rotate the
	// output file while the process keeps running.
	SupportsLiveSwitch() bool
	SwitchOutput(ctx context.Context, path string) error
}

// Launcher starts capture processes.
type Launcher interface {
	Start(ctx context.Context, req StartRequest) (Handle, error)
}

// FFmpegLauncher drives ffmpeg in stream-copy mode, one output file
// per invocation. Rotation is a stop/start pair at a higher layer.
type FFmpegLauncher struct {
	binary         string
	readyGrace     time.Duration
	terminateGrace time.Duration
	starter        Starter
}

// LauncherOption configures an FFmpegLauncher.
type LauncherOption func(*FFmpegLauncher)

// WithStarter injects a custom process starter (primarily for tests).
func WithStarter(starter Starter) LauncherOption {
	return func(l *FFmpegLauncher) {
		if starter != nil {
			l.starter = starter
		}
	}
}

// NewFFmpegLauncher constructs a launcher around the given binary.
func NewFFmpegLauncher(binary string, readyGraceSeconds, terminateGraceSeconds int, opts ...LauncherOption) (*FFmpegLauncher, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return nil, errors.New("capture binary required")
	}
	launcher := &FFmpegLauncher{
		binary:         binary,
		readyGrace:     time.Duration(readyGraceSeconds) * time.Second,
		terminateGrace: time.Duration(terminateGraceSeconds) * time.Second,
		starter:        osStarter{},
	}
	for _, opt := range opts {
		opt(launcher)
	}
	return launcher, nil
}

// Start launches ffmpeg and waits for the output file to show data
// before returning. A process that exits or produces nothing within
// the ready grace period is treated as a failed start.
func (l *FFmpegLauncher) Start(ctx context.Context, req StartRequest) (Handle, error) {
	if req.StreamURL == "" {
		return nil, errors.New("stream url required")
	}
	if req.OutputPath == "" {
		return nil, errors.New("output path required")
	}
	if err := os.MkdirAll(filepath.Dir(req.OutputPath), 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	args := []string{
		"-hide_banner",
		"-loglevel", "warning",
		"-nostdin",
		"-i", req.StreamURL,
		"-c", "copy",
		"-y", req.OutputPath,
	}

	tail := newErrTail(8)
	proc, err := l.starter.Start(ctx, l.binary, args, tail.append)
	if err != nil {
		return nil, fmt.Errorf("launch capture for %s: %w", req.TargetID, err)
	}

	handle := &ffmpegHandle{
		proc:           proc,
		outputPath:     req.OutputPath,
		terminateGrace: l.terminateGrace,
		tail:           tail,
	}

	if err := handle.waitReady(ctx, l.readyGrace); err != nil {
		_ = handle.Stop(context.WithoutCancel(ctx))
		return nil, err
	}
	return handle, nil
}

type ffmpegHandle struct {
	proc           Process
	outputPath     string
	terminateGrace time.Duration
	tail           *errTail
}

func (h *ffmpegHandle) PID() int            { return h.proc.PID() }
func (h *ffmpegHandle) OutputPath() string  { return h.outputPath }
func (h *ffmpegHandle) Done() <-chan struct{} { return h.proc.Done() }

func (h *ffmpegHandle) Err() error {
	err := h.proc.Err()
	if err == nil {
		return nil
	}
	if lines := h.tail.lines(); len(lines) > 0 {
		return fmt.Errorf("%w: %s", err, strings.Join(lines, " | "))
	}
	return err
}

func (h *ffmpegHandle) SupportsLiveSwitch() bool { return false }

func (h *ffmpegHandle) SwitchOutput(context.Context, string) error {
	return ErrLiveSwitchUnsupported
}

// Stop sends SIGTERM so ffmpeg finishes the container cleanly, then
// SIGKILLs if it lingers past the grace period.
func (h *ffmpegHandle) Stop(ctx context.Context) error {
	select {
	case <-h.proc.Done():
		return nil
	default:
	}

	if err := h.proc.Terminate(); err != nil {
		_ = h.proc.Kill()
	}

	grace := h.terminateGrace
	if grace <= 0 {
		grace = 5 * time.Second
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-h.proc.Done():
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}

	if err := h.proc.Kill(); err != nil {
		return fmt.Errorf("kill capture pid %d: %w", h.proc.PID(), err)
	}
	<-h.proc.Done()
	return nil
}

func (h *ffmpegHandle) waitReady(ctx context.Context, grace time.Duration) error {
	if grace <= 0 {
		return nil
	}
	deadline := time.After(grace)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-h.proc.Done():
			return fmt.Errorf("capture exited before producing output: %w", h.Err())
		case <-deadline:
			return fmt.Errorf("capture produced no output within %s", grace)
		case <-ticker.C:
			if FileSize(h.outputPath) > 0 {
				return nil
			}
		}
	}
}

// FileSize returns the current size of path, or 0 if it cannot be
// statted. Growth of the segment file doubles as the liveness signal.
func FileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// errTail keeps the most recent stderr lines for error reporting.
type errTail struct {
	mu    sync.Mutex
	max   int
	saved []string
}

func newErrTail(max int) *errTail {
	return &errTail{max: max}
}

func (t *errTail) append(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.saved = append(t.saved, line)
	if len(t.saved) > t.max {
		t.saved = t.saved[len(t.saved)-t.max:]
	}
}

func (t *errTail) lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.saved...)
}
