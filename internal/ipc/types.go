package ipc

import "creel/internal/api"

// Job mirrors the API job DTO for IPC callers.
type Job = api.Job

// Task mirrors the API task DTO for IPC callers.
type Task = api.Task

// Target mirrors the API target DTO for IPC callers.
type Target = api.Target

// StartRequest triggers daemon startup.
type StartRequest struct{}

// StartResponse indicates whether the daemon was started.
type StartResponse struct {
	Started bool   `json:"started"`
	Message string `json:"message"`
}

// StopRequest stops the daemon services.
type StopRequest struct{}

// StopResponse indicates stop result.
type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse represents daemon runtime status.
type StatusResponse struct {
	Running      bool           `json:"running"`
	PID          int            `json:"pid"`
	DatabasePath string         `json:"database_path"`
	LockPath     string         `json:"lock_path"`
	JobStats     map[string]int `json:"job_stats"`
	TaskStats    map[string]int `json:"task_stats"`
	ActiveJobs   []Job          `json:"active_jobs"`
}

// RecordStartRequest begins a capture for a configured target.
type RecordStartRequest struct {
	TargetID string `json:"target_id"`
}

// RecordStartResponse carries the created job.
type RecordStartResponse struct {
	Job Job `json:"job"`
}

// RecordStopRequest stops the capture for a job.
type RecordStopRequest struct {
	JobID int64 `json:"job_id"`
}

// RecordStopResponse indicates stop result.
type RecordStopResponse struct {
	Stopped bool `json:"stopped"`
}

// JobListRequest filters job listing by status.
type JobListRequest struct {
	Statuses []string `json:"statuses"`
}

// JobListResponse contains job entries.
type JobListResponse struct {
	Jobs []Job `json:"jobs"`
}

// JobDescribeRequest fetches a single job by id.
type JobDescribeRequest struct {
	ID int64 `json:"id"`
}

// JobDescribeResponse contains a single job.
type JobDescribeResponse struct {
	Job Job `json:"job"`
}

// TaskListRequest filters task listing by status.
type TaskListRequest struct {
	Statuses []string `json:"statuses"`
}

// TaskListResponse contains task entries.
type TaskListResponse struct {
	Tasks []Task `json:"tasks"`
}

// TargetListRequest fetches the configured targets.
type TargetListRequest struct{}

// TargetListResponse contains configured targets with active jobs.
type TargetListResponse struct {
	Targets []Target `json:"targets"`
}

// IssuesRequest fetches jobs and tasks needing attention.
type IssuesRequest struct{}

// IssuesResponse reports detected inconsistencies.
type IssuesResponse struct {
	Issues api.Issues `json:"issues"`
}

// FixStuckRequest force-reconciles one stuck job.
type FixStuckRequest struct {
	JobID int64 `json:"job_id"`
}

// FixStuckResponse reports what the fix did.
type FixStuckResponse struct {
	Result string `json:"result"`
}

// StopRecoveryRequest abandons pending recovery retries for a job.
type StopRecoveryRequest struct {
	JobID int64 `json:"job_id"`
}

// StopRecoveryResponse reports how many tasks were marked stale.
type StopRecoveryResponse struct {
	TasksMarkedStale int64 `json:"tasks_marked_stale"`
}

// RetryFinalizeRequest requeues failed finalize tasks. JobID zero
// means all jobs.
type RetryFinalizeRequest struct {
	JobID  int64 `json:"job_id"`
	DryRun bool  `json:"dry_run"`
}

// RetryFinalizeResponse reports the retry plan.
type RetryFinalizeResponse struct {
	Plan api.RetryPlan `json:"plan"`
}

// LogTailRequest fetches log lines based on offset and follow semantics.
type LogTailRequest struct {
	Offset     int64 `json:"offset"`
	Limit      int   `json:"limit"`
	Follow     bool  `json:"follow"`
	WaitMillis int   `json:"wait_millis"`
}

// LogTailResponse returns log lines and the next offset.
type LogTailResponse struct {
	Lines  []string `json:"lines"`
	Offset int64    `json:"offset"`
}

// TestNotificationRequest triggers a notification test.
type TestNotificationRequest struct{}

// TestNotificationResponse reports notification test outcome.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}
