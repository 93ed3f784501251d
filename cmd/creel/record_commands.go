package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"creel/internal/ipc"
)

func newRecordCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "record <target-id>",
		Short: "Start recording a configured target",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			targetID := strings.TrimSpace(args[0])
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.RecordStart(targetID)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp.Job)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Recording started: job %d for target %s\n", resp.Job.ID, resp.Job.TargetID)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output the created job as JSON")

	stopCmd := &cobra.Command{
		Use:   "stop <job-id>",
		Short: "Stop a running recording gracefully",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				if _, err := client.RecordStop(jobID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Recording %d stopped\n", jobID)
				return nil
			})
		},
	}
	cmd.AddCommand(stopCmd)

	return cmd
}

func newTargetsCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "targets",
		Short: "List configured recording targets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.TargetList()
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp.Targets)
				}
				if len(resp.Targets) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No targets configured")
					return nil
				}
				rows := make([][]string, 0, len(resp.Targets))
				for _, target := range resp.Targets {
					active := "-"
					if target.ActiveJob > 0 {
						active = fmt.Sprintf("job %d", target.ActiveJob)
					}
					rows = append(rows, []string{target.ID, target.Name, target.URL, target.Quality, active})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Name", "URL", "Quality", "Recording"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output targets as JSON")
	return cmd
}

func newJobsCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List recording jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.JobList(statuses)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp.Jobs)
				}
				rows := buildJobListRows(resp.Jobs)
				if len(rows) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No jobs found")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Target", "Status", "Segments", "Created", "Heartbeat"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Filter by job status (repeatable)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output jobs as JSON")

	showCmd := &cobra.Command{
		Use:   "show <job-id>",
		Short: "Describe one recording job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.JobDescribe(jobID)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp.Job)
				}
				printJobDetail(cmd, resp.Job)
				return nil
			})
		},
	}
	cmd.AddCommand(showCmd)

	return cmd
}

func newTasksCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List background tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.TaskList(statuses)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp.Tasks)
				}
				rows := buildTaskListRows(resp.Tasks)
				if len(rows) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No tasks found")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Type", "Status", "Job", "Attempts", "Next Run"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Filter by task status (repeatable)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output tasks as JSON")
	return cmd
}

func printJobDetail(cmd *cobra.Command, job ipc.Job) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Job %d\n", job.ID)
	fmt.Fprintf(out, "  Target:       %s\n", job.TargetID)
	fmt.Fprintf(out, "  Status:       %s\n", formatStatusLabel(job.Status))
	fmt.Fprintf(out, "  Segment:      %d\n", job.SegmentIndex)
	if job.PID > 0 {
		fmt.Fprintf(out, "  PID:          %d\n", job.PID)
	}
	fmt.Fprintf(out, "  Created:      %s\n", formatDisplayTime(job.CreatedAt))
	if job.StartedAt != "" {
		fmt.Fprintf(out, "  Started:      %s\n", formatDisplayTime(job.StartedAt))
	}
	if job.LastHeartbeat != "" {
		fmt.Fprintf(out, "  Heartbeat:    %s\n", formatRelativeTime(job.LastHeartbeat))
	}
	if job.ErrorMessage != "" {
		fmt.Fprintf(out, "  Error:        %s\n", job.ErrorMessage)
	}
	if len(job.OutputPaths) > 0 {
		fmt.Fprintf(out, "  Segments (%d):\n", len(job.OutputPaths))
		for _, path := range job.OutputPaths {
			fmt.Fprintf(out, "    %s\n", path)
		}
	}
}

func parseJobID(arg string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid job id %q", arg)
	}
	return id, nil
}
