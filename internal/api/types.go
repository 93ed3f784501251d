package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Job describes a recording job in a transport-friendly format.
type Job struct {
	ID            int64    `json:"id"`
	TargetID      string   `json:"targetId"`
	TargetName    string   `json:"targetName,omitempty"`
	Status        string   `json:"status"`
	SegmentIndex  int      `json:"segmentIndex"`
	OutputPaths   []string `json:"outputPaths,omitempty"`
	PID           int      `json:"pid,omitempty"`
	ErrorMessage  string   `json:"errorMessage,omitempty"`
	StartedAt     string   `json:"startedAt,omitempty"`
	LastHeartbeat string   `json:"lastHeartbeat,omitempty"`
	CreatedAt     string   `json:"createdAt,omitempty"`
	UpdatedAt     string   `json:"updatedAt,omitempty"`
}

// Task describes a background task in a transport-friendly format.
type Task struct {
	ID           int64  `json:"id"`
	Type         string `json:"type"`
	Status       string `json:"status"`
	Priority     int    `json:"priority"`
	AttemptCount int    `json:"attemptCount"`
	MaxAttempts  int    `json:"maxAttempts"`
	NextRunAt    string `json:"nextRunAt,omitempty"`
	LastError    string `json:"lastError,omitempty"`
	JobID        int64  `json:"jobId,omitempty"`
	Stale        bool   `json:"stale"`
	CreatedAt    string `json:"createdAt,omitempty"`
	UpdatedAt    string `json:"updatedAt,omitempty"`
}

// Target describes a configured recording target.
type Target struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	URL       string `json:"url"`
	Quality   string `json:"quality,omitempty"`
	ActiveJob int64  `json:"activeJob,omitempty"`
}

// DaemonStatus aggregates daemon runtime information.
type DaemonStatus struct {
	Running      bool           `json:"running"`
	PID          int            `json:"pid"`
	DatabasePath string         `json:"databasePath"`
	LockFilePath string         `json:"lockFilePath"`
	JobStats     map[string]int `json:"jobStats"`
	TaskStats    map[string]int `json:"taskStats"`
	ActiveJobs   []Job          `json:"activeJobs,omitempty"`
}

// Issues summarizes jobs and tasks needing operator attention.
type Issues struct {
	StuckJobs       []Job  `json:"stuckJobs,omitempty"`
	OrphanedJobs    []Job  `json:"orphanedJobs,omitempty"`
	MislabeledTasks []Task `json:"mislabeledTasks,omitempty"`
}

// RetryPlan reports what a finalize retry would (or did) touch.
type RetryPlan struct {
	DryRun bool         `json:"dryRun"`
	Tasks  []RetryEntry `json:"tasks"`
}

// RetryEntry is one task covered by a retry request.
type RetryEntry struct {
	TaskID int64  `json:"taskId"`
	JobID  int64  `json:"jobId,omitempty"`
	Status string `json:"status"`
	Action string `json:"action"`
}
