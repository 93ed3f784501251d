// Package guard enforces the one-active-recording-per-target rule.
//
// Claims are tracked in memory for the fast path; callers consult the
// job store as a fallback after a crash, and the store's partial unique
// index on active jobs is the final backstop.
package guard

import (
	"fmt"
	"sync"
)

// ErrDuplicate reports a claim attempt against a target that already
// has an active recording.
type ErrDuplicate struct {
	TargetID string
	JobID    int64
}

func (e *ErrDuplicate) Error() string {
	return fmt.Sprintf("target %s already has active recording job %d", e.TargetID, e.JobID)
}

// Guard maps target IDs to the job currently holding the claim.
type Guard struct {
	mu     sync.Mutex
	claims map[string]int64
}

func New() *Guard {
	return &Guard{claims: make(map[string]int64)}
}

// TryClaim reserves the target for jobID. It fails with *ErrDuplicate
// when another job holds the claim, reporting that job's ID.
func (g *Guard) TryClaim(targetID string, jobID int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if holder, ok := g.claims[targetID]; ok && holder != jobID {
		return &ErrDuplicate{TargetID: targetID, JobID: holder}
	}
	g.claims[targetID] = jobID
	return nil
}

// Release drops the claim on targetID if jobID holds it. Releasing a
// claim held by another job is a no-op so a late release from a dead
// job cannot free a live one's reservation.
func (g *Guard) Release(targetID string, jobID int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if holder, ok := g.claims[targetID]; ok && holder == jobID {
		delete(g.claims, targetID)
	}
}

// Holder returns the job holding the claim on targetID, if any.
func (g *Guard) Holder(targetID string) (int64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	holder, ok := g.claims[targetID]
	return holder, ok
}

// Active returns a snapshot of all claims keyed by target ID.
func (g *Guard) Active() map[string]int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	snapshot := make(map[string]int64, len(g.claims))
	for target, job := range g.claims {
		snapshot[target] = job
	}
	return snapshot
}
