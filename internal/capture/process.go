package capture

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"golang.org/x/sys/unix"
)

// Process is a started capture process the supervisor can signal.
type Process interface {
	PID() int
	// Terminate requests a graceful shutdown (SIGTERM).
	Terminate() error
	// Kill forcibly ends the process (SIGKILL).
	Kill() error
	// Done is closed once the process has exited; Err reports the exit
	// result afterwards.
	Done() <-chan struct{}
	Err() error
}

// Starter launches capture processes. The stderr callback receives the
// process's diagnostic output line by line.
type Starter interface {
	Start(ctx context.Context, binary string, args []string, onStderr func(string)) (Process, error)
}

// Executor runs short-lived helper commands to completion, forwarding
// stdout lines. Used for URL resolution, not for captures.
type Executor interface {
	Run(ctx context.Context, binary string, args []string, onStdout func(string)) error
}

type osStarter struct{}

// NewStarter returns the production Starter backed by os/exec.
func NewStarter() Starter { return osStarter{} }

func (osStarter) Start(ctx context.Context, binary string, args []string, onStderr func(string)) (Process, error) {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", binary, err)
	}

	proc := &osProcess{cmd: cmd, done: make(chan struct{})}
	go proc.drain(stderr, onStderr)
	go proc.wait()
	return proc, nil
}

type osProcess struct {
	cmd  *exec.Cmd
	done chan struct{}

	mu      sync.Mutex
	exitErr error
}

func (p *osProcess) PID() int { return p.cmd.Process.Pid }

func (p *osProcess) Terminate() error {
	return p.cmd.Process.Signal(unix.SIGTERM)
}

func (p *osProcess) Kill() error {
	return p.cmd.Process.Kill()
}

func (p *osProcess) Done() <-chan struct{} { return p.done }

func (p *osProcess) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

func (p *osProcess) drain(r io.Reader, forward func(string)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for scanner.Scan() {
		if forward != nil {
			forward(scanner.Text())
		}
	}
}

func (p *osProcess) wait() {
	err := p.cmd.Wait()
	p.mu.Lock()
	p.exitErr = err
	p.mu.Unlock()
	close(p.done)
}

// ProcessAlive reports whether a PID refers to a live process this
// daemon may signal. Used by the reconciler to classify jobs left
// active by a previous daemon run.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	if err == nil {
		return true
	}
	// EPERM means the PID exists but belongs to another user.
	return err == unix.EPERM
}

// TerminatePID sends SIGTERM to a process by PID. The reconciler uses
// this for zombie captures whose handles did not survive a restart.
func TerminatePID(pid int) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d", pid)
	}
	return unix.Kill(pid, unix.SIGTERM)
}

// KillPID sends SIGKILL to a process by PID.
func KillPID(pid int) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d", pid)
	}
	return unix.Kill(pid, unix.SIGKILL)
}

type commandExecutor struct{}

// NewExecutor returns the production Executor backed by os/exec.
func NewExecutor() Executor { return commandExecutor{} }

func (commandExecutor) Run(ctx context.Context, binary string, args []string, onStdout func(string)) error {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", binary, err)
	}

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		if onStdout != nil {
			onStdout(scanner.Text())
		}
	}
	scanErr := scanner.Err()

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("%s: %w", binary, err)
	}
	if scanErr != nil {
		return fmt.Errorf("scan %s output: %w", binary, scanErr)
	}
	return nil
}
