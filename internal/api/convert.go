package api

import (
	"creel/internal/recording"
	"creel/internal/tasks"
)

// FromJob converts a job record to its API representation.
func FromJob(job *recording.Job) Job {
	if job == nil {
		return Job{}
	}
	dto := Job{
		ID:           job.ID,
		TargetID:     job.TargetID,
		Status:       string(job.Status),
		SegmentIndex: job.SegmentIndex,
		OutputPaths:  append([]string(nil), job.OutputPaths...),
		PID:          job.PID,
		ErrorMessage: job.ErrorMessage,
	}
	if job.StartedAt != nil {
		dto.StartedAt = job.StartedAt.UTC().Format(dateTimeFormat)
	}
	if job.LastHeartbeat != nil {
		dto.LastHeartbeat = job.LastHeartbeat.UTC().Format(dateTimeFormat)
	}
	if !job.CreatedAt.IsZero() {
		dto.CreatedAt = job.CreatedAt.UTC().Format(dateTimeFormat)
	}
	if !job.UpdatedAt.IsZero() {
		dto.UpdatedAt = job.UpdatedAt.UTC().Format(dateTimeFormat)
	}
	return dto
}

// FromTask converts a task record to its API representation.
func FromTask(task *tasks.Task) Task {
	if task == nil {
		return Task{}
	}
	dto := Task{
		ID:           task.ID,
		Type:         task.Type,
		Status:       string(task.Status),
		Priority:     task.Priority,
		AttemptCount: task.AttemptCount,
		MaxAttempts:  task.MaxAttempts,
		LastError:    task.LastError,
		JobID:        task.JobID,
		Stale:        task.Stale,
	}
	if !task.NextRunAt.IsZero() {
		dto.NextRunAt = task.NextRunAt.UTC().Format(dateTimeFormat)
	}
	if !task.CreatedAt.IsZero() {
		dto.CreatedAt = task.CreatedAt.UTC().Format(dateTimeFormat)
	}
	if !task.UpdatedAt.IsZero() {
		dto.UpdatedAt = task.UpdatedAt.UTC().Format(dateTimeFormat)
	}
	return dto
}
