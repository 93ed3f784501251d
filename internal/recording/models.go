package recording

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a recording job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusStarting  Status = "starting"
	StatusRecording Status = "recording"
	StatusRotating  Status = "rotating"
	StatusStopping  Status = "stopping"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusOrphaned  Status = "orphaned"
)

var allStatuses = []Status{
	StatusPending,
	StatusStarting,
	StatusRecording,
	StatusRotating,
	StatusStopping,
	StatusCompleted,
	StatusFailed,
	StatusOrphaned,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// activeStatuses are the states during which the duplicate-guard claim
// must be held: at most one job per target may be in any of them.
var activeStatuses = map[Status]struct{}{
	StatusStarting:  {},
	StatusRecording: {},
	StatusRotating:  {},
}

var terminalStatuses = map[Status]struct{}{
	StatusCompleted: {},
	StatusFailed:    {},
	StatusOrphaned:  {},
}

// legalTransitions is the job state machine edge set. Transitions to
// orphaned are handled separately: the reconciler may orphan any
// non-terminal job.
var legalTransitions = map[Status][]Status{
	StatusPending:   {StatusStarting},
	StatusStarting:  {StatusRecording, StatusStopping, StatusFailed},
	StatusRecording: {StatusRotating, StatusStopping, StatusFailed},
	StatusRotating:  {StatusRecording, StatusStopping, StatusFailed},
	StatusStopping:  {StatusCompleted, StatusFailed},
}

// Job represents one capture attempt for one target, persisted in SQLite.
type Job struct {
	ID            int64
	TargetID      string
	Status        Status
	SegmentIndex  int
	OutputPaths   []string
	PID           int
	ErrorMessage  string
	StartedAt     *time.Time
	LastHeartbeat *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ActiveStatuses returns the statuses covered by the duplicate-guard invariant.
func ActiveStatuses() []Status {
	return []Status{StatusStarting, StatusRecording, StatusRotating}
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsActive reports whether the job holds the duplicate-guard claim.
func (j Job) IsActive() bool {
	_, ok := activeStatuses[j.Status]
	return ok
}

// IsTerminal reports whether the job has reached an immutable final state.
func (j Job) IsTerminal() bool {
	return IsTerminalStatus(j.Status)
}

// IsTerminalStatus reports whether a status is final.
func IsTerminalStatus(status Status) bool {
	_, ok := terminalStatuses[status]
	return ok
}

// IsActiveStatus reports whether a status is covered by the guard invariant.
func IsActiveStatus(status Status) bool {
	_, ok := activeStatuses[status]
	return ok
}

// CanTransition reports whether from→to is a legal state-machine edge.
// Orphaning is legal from any non-terminal state.
func CanTransition(from, to Status) bool {
	if to == StatusOrphaned {
		return !IsTerminalStatus(from)
	}
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CurrentOutputPath returns the most recently closed segment, or empty
// when no segment has been finished yet.
func (j Job) CurrentOutputPath() string {
	if len(j.OutputPaths) == 0 {
		return ""
	}
	return j.OutputPaths[len(j.OutputPaths)-1]
}
