package capture

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// AdoptPID wraps a capture process left over from a previous daemon run
// so the supervisor can manage it like one it started itself. The
// process handle did not survive the restart, so exit detection falls
// back to signal-0 polling and the exit status is unknowable.
func AdoptPID(pid int, outputPath string, terminateGrace time.Duration) Handle {
	h := &adoptedHandle{
		pid:            pid,
		outputPath:     outputPath,
		terminateGrace: terminateGrace,
		done:           make(chan struct{}),
		quit:           make(chan struct{}),
	}
	go h.poll()
	return h
}

type adoptedHandle struct {
	pid            int
	outputPath     string
	terminateGrace time.Duration

	done     chan struct{}
	quit     chan struct{}
	quitOnce sync.Once
}

func (h *adoptedHandle) PID() int              { return h.pid }
func (h *adoptedHandle) OutputPath() string    { return h.outputPath }
func (h *adoptedHandle) Done() <-chan struct{} { return h.done }

// Err always reports nil: the adopted process is not our child, so its
// exit status cannot be collected.
func (h *adoptedHandle) Err() error { return nil }

func (h *adoptedHandle) SupportsLiveSwitch() bool { return false }

func (h *adoptedHandle) SwitchOutput(context.Context, string) error {
	return ErrLiveSwitchUnsupported
}

func (h *adoptedHandle) Stop(ctx context.Context) error {
	select {
	case <-h.done:
		return nil
	default:
	}

	if err := TerminatePID(h.pid); err != nil {
		_ = KillPID(h.pid)
	}

	grace := h.terminateGrace
	if grace <= 0 {
		grace = 5 * time.Second
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-h.done:
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}

	if err := KillPID(h.pid); err != nil {
		return fmt.Errorf("kill adopted capture pid %d: %w", h.pid, err)
	}
	h.quitOnce.Do(func() { close(h.quit) })
	<-h.done
	return nil
}

func (h *adoptedHandle) poll() {
	defer close(h.done)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-h.quit:
			return
		case <-ticker.C:
			if !ProcessAlive(h.pid) {
				return
			}
		}
	}
}
