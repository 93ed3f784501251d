package capture

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeProcess struct {
	pid  int
	done chan struct{}

	mu         sync.Mutex
	exitErr    error
	terminated bool
	killed     bool

	onTerminate func(*fakeProcess)
}

func newFakeProcess(pid int) *fakeProcess {
	return &fakeProcess{pid: pid, done: make(chan struct{})}
}

func (p *fakeProcess) PID() int { return p.pid }

func (p *fakeProcess) Terminate() error {
	p.mu.Lock()
	p.terminated = true
	hook := p.onTerminate
	p.mu.Unlock()
	if hook != nil {
		hook(p)
	}
	return nil
}

func (p *fakeProcess) Kill() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.killed = true
	select {
	case <-p.done:
	default:
		close(p.done)
	}
	return nil
}

func (p *fakeProcess) Done() <-chan struct{} { return p.done }

func (p *fakeProcess) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

func (p *fakeProcess) exit(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.exitErr = err
	select {
	case <-p.done:
	default:
		close(p.done)
	}
}

type fakeStarter struct {
	proc     *fakeProcess
	onStart  func(binary string, args []string, onStderr func(string))
	startErr error
}

func (s *fakeStarter) Start(_ context.Context, binary string, args []string, onStderr func(string)) (Process, error) {
	if s.onStart != nil {
		s.onStart(binary, args, onStderr)
	}
	if s.startErr != nil {
		return nil, s.startErr
	}
	return s.proc, nil
}

type fakeExecutor struct {
	lines []string
	err   error
	args  []string
}

func (e *fakeExecutor) Run(_ context.Context, _ string, args []string, onStdout func(string)) error {
	e.args = args
	for _, line := range e.lines {
		onStdout(line)
	}
	return e.err
}

func TestResolverReturnsLastStreamURL(t *testing.T) {
	exec := &fakeExecutor{lines: []string{
		"[cli][info] Found matching plugin",
		"https://edge.example.com/live/alice.m3u8",
	}}
	resolver, err := NewStreamlinkResolver("streamlink", 10, WithResolverExecutor(exec))
	if err != nil {
		t.Fatalf("NewStreamlinkResolver: %v", err)
	}

	url, err := resolver.Resolve(context.Background(), "https://twitch.tv/alice", "best")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if url != "https://edge.example.com/live/alice.m3u8" {
		t.Fatalf("unexpected url: %s", url)
	}
	if len(exec.args) != 3 || exec.args[0] != "--stream-url" {
		t.Fatalf("unexpected resolver args: %v", exec.args)
	}
}

func TestResolverOfflineStream(t *testing.T) {
	exec := &fakeExecutor{err: errors.New("exit status 1")}
	resolver, err := NewStreamlinkResolver("streamlink", 10, WithResolverExecutor(exec))
	if err != nil {
		t.Fatalf("NewStreamlinkResolver: %v", err)
	}

	if _, err := resolver.Resolve(context.Background(), "https://twitch.tv/alice", "best"); !errors.Is(err, ErrStreamOffline) {
		t.Fatalf("expected ErrStreamOffline, got %v", err)
	}
}

func TestResolverNoURLPrinted(t *testing.T) {
	exec := &fakeExecutor{lines: []string{"[cli][info] nothing"}}
	resolver, err := NewStreamlinkResolver("streamlink", 10, WithResolverExecutor(exec))
	if err != nil {
		t.Fatalf("NewStreamlinkResolver: %v", err)
	}
	if _, err := resolver.Resolve(context.Background(), "https://twitch.tv/alice", "best"); !errors.Is(err, ErrStreamOffline) {
		t.Fatalf("expected ErrStreamOffline, got %v", err)
	}
}

func TestStartWaitsForOutputGrowth(t *testing.T) {
	dir := t.TempDir()
	output := filepath.Join(dir, "alice-000.ts")
	proc := newFakeProcess(4242)
	starter := &fakeStarter{
		proc: proc,
		onStart: func(_ string, _ []string, _ func(string)) {
			if err := os.WriteFile(output, []byte("payload"), 0o644); err != nil {
				t.Fatalf("write output: %v", err)
			}
		},
	}

	launcher, err := NewFFmpegLauncher("ffmpeg", 5, 1, WithStarter(starter))
	if err != nil {
		t.Fatalf("NewFFmpegLauncher: %v", err)
	}

	handle, err := launcher.Start(context.Background(), StartRequest{
		TargetID:   "twitch:alice",
		StreamURL:  "https://edge.example.com/live/alice.m3u8",
		OutputPath: output,
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if handle.PID() != 4242 {
		t.Fatalf("unexpected pid %d", handle.PID())
	}
	if handle.SupportsLiveSwitch() {
		t.Fatal("ffmpeg handle must not claim live switch support")
	}
}

func TestStartFailsWhenProcessDiesEarly(t *testing.T) {
	dir := t.TempDir()
	proc := newFakeProcess(4242)
	starter := &fakeStarter{
		proc: proc,
		onStart: func(_ string, _ []string, onStderr func(string)) {
			onStderr("Connection refused")
			proc.exit(errors.New("exit status 1"))
		},
	}

	launcher, err := NewFFmpegLauncher("ffmpeg", 5, 1, WithStarter(starter))
	if err != nil {
		t.Fatalf("NewFFmpegLauncher: %v", err)
	}

	_, err = launcher.Start(context.Background(), StartRequest{
		TargetID:   "twitch:alice",
		StreamURL:  "https://edge.example.com/live/alice.m3u8",
		OutputPath: filepath.Join(dir, "alice-000.ts"),
	})
	if err == nil {
		t.Fatal("expected start failure")
	}
	if got := err.Error(); !strings.Contains(got, "Connection refused") {
		t.Fatalf("error should carry stderr tail, got %q", got)
	}
}

func TestStopEscalatesToKill(t *testing.T) {
	dir := t.TempDir()
	output := filepath.Join(dir, "alice-000.ts")
	proc := newFakeProcess(4242)
	starter := &fakeStarter{
		proc: proc,
		onStart: func(_ string, _ []string, _ func(string)) {
			if err := os.WriteFile(output, []byte("payload"), 0o644); err != nil {
				t.Fatalf("write output: %v", err)
			}
		},
	}

	launcher, err := NewFFmpegLauncher("ffmpeg", 5, 0, WithStarter(starter))
	if err != nil {
		t.Fatalf("NewFFmpegLauncher: %v", err)
	}
	handle, err := launcher.Start(context.Background(), StartRequest{
		TargetID:   "twitch:alice",
		StreamURL:  "https://edge.example.com/live/alice.m3u8",
		OutputPath: output,
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	// The fake ignores SIGTERM, so Stop must fall through to Kill.
	if err := handle.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	proc.mu.Lock()
	defer proc.mu.Unlock()
	if !proc.terminated || !proc.killed {
		t.Fatalf("expected terminate then kill, got terminated=%v killed=%v", proc.terminated, proc.killed)
	}
}

func TestStopReturnsAfterGracefulExit(t *testing.T) {
	dir := t.TempDir()
	output := filepath.Join(dir, "alice-000.ts")
	proc := newFakeProcess(4242)
	proc.onTerminate = func(p *fakeProcess) { p.exit(nil) }
	starter := &fakeStarter{
		proc: proc,
		onStart: func(_ string, _ []string, _ func(string)) {
			if err := os.WriteFile(output, []byte("payload"), 0o644); err != nil {
				t.Fatalf("write output: %v", err)
			}
		},
	}

	launcher, err := NewFFmpegLauncher("ffmpeg", 5, 10, WithStarter(starter))
	if err != nil {
		t.Fatalf("NewFFmpegLauncher: %v", err)
	}
	handle, err := launcher.Start(context.Background(), StartRequest{
		TargetID:   "twitch:alice",
		StreamURL:  "https://edge.example.com/live/alice.m3u8",
		OutputPath: output,
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- handle.Stop(context.Background()) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Stop: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after graceful exit")
	}
	proc.mu.Lock()
	defer proc.mu.Unlock()
	if proc.killed {
		t.Fatal("graceful exit should not be followed by kill")
	}
}
