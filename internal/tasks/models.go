package tasks

import (
	"strconv"
	"strings"
	"time"
)

// Status represents the lifecycle of a background task.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusRetrying  Status = "retrying"
)

// Well-known task types scheduled by the core components.
const (
	TypeFinalize        = "finalize"
	TypeCleanupSegments = "cleanup_segments"
)

// Task is a unit of background work persisted in SQLite.
type Task struct {
	ID           int64
	Type         string
	Payload      string
	Status       Status
	Priority     int
	AttemptCount int
	MaxAttempts  int
	NextRunAt    time.Time
	LastError    string
	DedupeKey    string
	JobID        int64
	Stale        bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsTerminal reports whether the task reached a final state.
func (t Task) IsTerminal() bool {
	return t.Status == StatusSucceeded || t.Status == StatusFailed
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	switch Status(strings.ToLower(strings.TrimSpace(value))) {
	case StatusQueued:
		return StatusQueued, true
	case StatusRunning:
		return StatusRunning, true
	case StatusSucceeded:
		return StatusSucceeded, true
	case StatusFailed:
		return StatusFailed, true
	case StatusRetrying:
		return StatusRetrying, true
	default:
		return "", false
	}
}

// FinalizeDedupeKey builds the dedupe key guaranteeing exactly one
// finalize task per job.
func FinalizeDedupeKey(jobID int64) string {
	return "finalize-job-" + strconv.FormatInt(jobID, 10)
}

// CleanupDedupeKey builds the dedupe key guaranteeing exactly one
// cleanup_segments task per job.
func CleanupDedupeKey(jobID int64) string {
	return "cleanup-job-" + strconv.FormatInt(jobID, 10)
}

// FinalizePayload is the JSON payload carried by finalize and
// cleanup_segments tasks.
type FinalizePayload struct {
	JobID int64 `json:"job_id"`
}
