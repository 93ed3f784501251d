package testsupport

import (
	"context"
	"sync"

	"creel/internal/capture"
)

// FakeHandle is a controllable capture.Handle. Tests drive the process
// lifecycle by calling Exit.
type FakeHandle struct {
	pid int

	mu         sync.Mutex
	output     string
	liveSwitch bool
	exitErr    error
	stopErr    error
	stopped    bool
	switched   []string
	done       chan struct{}
}

// NewFakeHandle builds a handle that looks like a running capture.
func NewFakeHandle(pid int, output string) *FakeHandle {
	return &FakeHandle{pid: pid, output: output, done: make(chan struct{})}
}

func (h *FakeHandle) PID() int { return h.pid }

func (h *FakeHandle) OutputPath() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.output
}

func (h *FakeHandle) Done() <-chan struct{} { return h.done }

func (h *FakeHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitErr
}

// Stop records the request and exits the fake process cleanly. With
// FailStops set the configured error is returned, but the process still
// ends, matching a real capture that dies to the force kill after the
// graceful signal failed.
func (h *FakeHandle) Stop(context.Context) error {
	h.mu.Lock()
	h.stopped = true
	stopErr := h.stopErr
	h.mu.Unlock()
	h.Exit(nil)
	return stopErr
}

// FailStops makes subsequent Stop calls return err; nil restores
// normal behavior.
func (h *FakeHandle) FailStops(err error) {
	h.mu.Lock()
	h.stopErr = err
	h.mu.Unlock()
}

func (h *FakeHandle) SupportsLiveSwitch() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.liveSwitch
}

// EnableLiveSwitch makes SwitchOutput succeed instead of reporting
// capture.ErrLiveSwitchUnsupported.
func (h *FakeHandle) EnableLiveSwitch() {
	h.mu.Lock()
	h.liveSwitch = true
	h.mu.Unlock()
}

func (h *FakeHandle) SwitchOutput(_ context.Context, path string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.liveSwitch {
		return capture.ErrLiveSwitchUnsupported
	}
	h.switched = append(h.switched, path)
	h.output = path
	return nil
}

// Exit ends the fake process with the given exit error. Safe to call
// more than once; only the first call takes effect.
func (h *FakeHandle) Exit(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	select {
	case <-h.done:
	default:
		h.exitErr = err
		close(h.done)
	}
}

// Stopped reports whether Stop was requested.
func (h *FakeHandle) Stopped() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopped
}

// Switched returns the output paths passed to SwitchOutput.
func (h *FakeHandle) Switched() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.switched...)
}

// FakeLauncher hands out FakeHandles and records every start request.
type FakeLauncher struct {
	mu         sync.Mutex
	err        error
	liveSwitch bool
	nextPID    int
	requests   []capture.StartRequest
	handles    []*FakeHandle
}

// NewFakeLauncher builds a launcher whose starts succeed.
func NewFakeLauncher() *FakeLauncher {
	return &FakeLauncher{nextPID: 40000}
}

func (l *FakeLauncher) Start(_ context.Context, req capture.StartRequest) (capture.Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	l.nextPID++
	handle := NewFakeHandle(l.nextPID, req.OutputPath)
	if l.liveSwitch {
		handle.EnableLiveSwitch()
	}
	l.requests = append(l.requests, req)
	l.handles = append(l.handles, handle)
	return handle, nil
}

// FailStarts makes subsequent Start calls return err; nil restores
// normal behavior.
func (l *FakeLauncher) FailStarts(err error) {
	l.mu.Lock()
	l.err = err
	l.mu.Unlock()
}

// EnableLiveSwitch makes handles from future starts support live output
// switching.
func (l *FakeLauncher) EnableLiveSwitch() {
	l.mu.Lock()
	l.liveSwitch = true
	l.mu.Unlock()
}

// Requests returns a copy of the recorded start requests.
func (l *FakeLauncher) Requests() []capture.StartRequest {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]capture.StartRequest(nil), l.requests...)
}

// Handles returns all handles the launcher produced.
func (l *FakeLauncher) Handles() []*FakeHandle {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*FakeHandle(nil), l.handles...)
}

// LastHandle returns the most recently produced handle, or nil.
func (l *FakeLauncher) LastHandle() *FakeHandle {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.handles) == 0 {
		return nil
	}
	return l.handles[len(l.handles)-1]
}

// StaticResolver resolves every page URL to a fixed stream URL.
type StaticResolver struct {
	mu  sync.Mutex
	url string
	err error
}

// NewStaticResolver builds a resolver answering with url.
func NewStaticResolver(url string) *StaticResolver {
	return &StaticResolver{url: url}
}

func (r *StaticResolver) Resolve(_ context.Context, _, _ string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return "", r.err
	}
	return r.url, nil
}

// Fail makes subsequent Resolve calls return err; nil restores success.
func (r *StaticResolver) Fail(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}
