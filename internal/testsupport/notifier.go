package testsupport

import (
	"context"
	"sync"
	"time"
)

// NotifierCounts is a snapshot of the events a Notifier observed.
type NotifierCounts struct {
	Started   int
	Rotated   int
	Completed int
	Failed    int
	Orphans   int
	Tests     int
}

// Notifier implements notifications.Service and counts each event.
type Notifier struct {
	mu     sync.Mutex
	counts NotifierCounts
}

// NewNotifier builds an event-counting notifier.
func NewNotifier() *Notifier {
	return &Notifier{}
}

// Counts returns the events observed so far.
func (n *Notifier) Counts() NotifierCounts {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.counts
}

func (n *Notifier) NotifyRecordingStarted(context.Context, string, string) error {
	n.mu.Lock()
	n.counts.Started++
	n.mu.Unlock()
	return nil
}

func (n *Notifier) NotifySegmentRotated(context.Context, string, int) error {
	n.mu.Lock()
	n.counts.Rotated++
	n.mu.Unlock()
	return nil
}

func (n *Notifier) NotifyRecordingCompleted(context.Context, string, int, int64, time.Duration) error {
	n.mu.Lock()
	n.counts.Completed++
	n.mu.Unlock()
	return nil
}

func (n *Notifier) NotifyRecordingFailed(context.Context, string, error) error {
	n.mu.Lock()
	n.counts.Failed++
	n.mu.Unlock()
	return nil
}

func (n *Notifier) NotifyOrphansRecovered(_ context.Context, recovered int) error {
	n.mu.Lock()
	n.counts.Orphans += recovered
	n.mu.Unlock()
	return nil
}

func (n *Notifier) TestNotification(context.Context) error {
	n.mu.Lock()
	n.counts.Tests++
	n.mu.Unlock()
	return nil
}
