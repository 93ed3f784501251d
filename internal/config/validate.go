package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks configuration invariants the daemon relies on.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.StagingDir) == "" {
		problems = append(problems, "staging_dir is required")
	}
	if strings.TrimSpace(c.LibraryDir) == "" {
		problems = append(problems, "library_dir is required")
	}
	if strings.TrimSpace(c.LogDir) == "" {
		problems = append(problems, "log_dir is required")
	}
	if strings.TrimSpace(c.Capture.Binary) == "" {
		problems = append(problems, "capture.binary is required")
	}
	if c.Capture.ReadyGrace <= 0 {
		problems = append(problems, "capture.ready_grace must be positive")
	}
	if c.Capture.LivenessTimeout <= 0 {
		problems = append(problems, "capture.liveness_timeout must be positive")
	}
	if c.Capture.TerminateGrace <= 0 {
		problems = append(problems, "capture.terminate_grace must be positive")
	}
	if c.Rotation.Interval <= 0 {
		problems = append(problems, "rotation.interval must be positive")
	}
	if c.Rotation.MaxFailures <= 0 {
		problems = append(problems, "rotation.max_failures must be positive")
	}
	if c.Tasks.Workers <= 0 {
		problems = append(problems, "tasks.workers must be positive")
	}
	if c.Tasks.MaxAttempts <= 0 {
		problems = append(problems, "tasks.max_attempts must be positive")
	}
	if c.Tasks.BackoffBase <= 0 || c.Tasks.BackoffCap < c.Tasks.BackoffBase {
		problems = append(problems, "tasks.backoff_base must be positive and no greater than tasks.backoff_cap")
	}
	if c.Reconciler.Interval <= 0 {
		problems = append(problems, "reconciler.interval must be positive")
	}
	if c.Workflow.HeartbeatInterval <= 0 {
		problems = append(problems, "workflow.heartbeat_interval must be positive")
	}
	if c.Upload.Enabled {
		if strings.TrimSpace(c.Upload.Endpoint) == "" || strings.TrimSpace(c.Upload.Bucket) == "" {
			problems = append(problems, "upload.endpoint and upload.bucket are required when upload is enabled")
		}
	}

	seen := make(map[string]struct{}, len(c.Targets))
	for i, target := range c.Targets {
		if target.ID == "" {
			problems = append(problems, fmt.Sprintf("targets[%d]: id is required", i))
			continue
		}
		if _, dup := seen[target.ID]; dup {
			problems = append(problems, fmt.Sprintf("targets[%d]: duplicate id %q", i, target.ID))
		}
		seen[target.ID] = struct{}{}
		if target.URL == "" {
			problems = append(problems, fmt.Sprintf("targets[%d] (%s): url is required", i, target.ID))
		}
	}

	if len(problems) == 0 {
		return nil
	}
	return errors.New("invalid configuration: " + strings.Join(problems, "; "))
}
