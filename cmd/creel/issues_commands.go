package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"creel/internal/ipc"
)

func newIssuesCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "issues",
		Short: "List jobs and tasks needing attention",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Issues()
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp.Issues)
				}
				printIssues(cmd, resp)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output issues as JSON")

	cmd.AddCommand(newIssuesFixCommand(ctx))
	cmd.AddCommand(newIssuesStopRecoveryCommand(ctx))
	cmd.AddCommand(newIssuesRetryFinalizeCommand(ctx))
	return cmd
}

func printIssues(cmd *cobra.Command, resp *ipc.IssuesResponse) {
	stdout := cmd.OutOrStdout()
	colorize := shouldColorize(stdout)

	total := len(resp.Issues.StuckJobs) + len(resp.Issues.OrphanedJobs) + len(resp.Issues.MislabeledTasks)
	if total == 0 {
		fmt.Fprintln(stdout, "No issues found")
		return
	}

	if len(resp.Issues.StuckJobs) > 0 {
		for _, line := range renderSectionHeader("Stuck Jobs", colorize) {
			fmt.Fprintln(stdout, line)
		}
		rows := buildJobListRows(resp.Issues.StuckJobs)
		fmt.Fprintln(stdout, renderTable(
			[]string{"ID", "Target", "Status", "Segments", "Created", "Heartbeat"},
			rows,
			[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
		))
		fmt.Fprintln(stdout, "Run `creel issues fix <job-id>` to reconcile a stuck job")
		fmt.Fprintln(stdout)
	}

	if len(resp.Issues.OrphanedJobs) > 0 {
		for _, line := range renderSectionHeader("Orphaned Jobs", colorize) {
			fmt.Fprintln(stdout, line)
		}
		rows := buildJobListRows(resp.Issues.OrphanedJobs)
		fmt.Fprintln(stdout, renderTable(
			[]string{"ID", "Target", "Status", "Segments", "Created", "Heartbeat"},
			rows,
			[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
		))
		fmt.Fprintln(stdout)
	}

	if len(resp.Issues.MislabeledTasks) > 0 {
		for _, line := range renderSectionHeader("Tasks Needing Attention", colorize) {
			fmt.Fprintln(stdout, line)
		}
		rows := buildTaskListRows(resp.Issues.MislabeledTasks)
		fmt.Fprintln(stdout, renderTable(
			[]string{"ID", "Type", "Status", "Job", "Attempts", "Next Run"},
			rows,
			[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
		))
		fmt.Fprintln(stdout, "Run `creel issues retry-finalize` to requeue failed finalize tasks")
	}
}

func newIssuesFixCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "fix <job-id>",
		Short: "Force-reconcile one stuck job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.FixStuck(jobID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %d: %s\n", jobID, resp.Result)
				return nil
			})
		},
	}
}

func newIssuesStopRecoveryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stop-recovery <job-id>",
		Short: "Abandon pending recovery retries for a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.StopRecovery(jobID)
				if err != nil {
					return err
				}
				if resp.TasksMarkedStale == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "Job %d has no pending recovery tasks\n", jobID)
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %d: %d recovery task(s) marked stale\n", jobID, resp.TasksMarkedStale)
				return nil
			})
		},
	}
}

func newIssuesRetryFinalizeCommand(ctx *commandContext) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "retry-finalize [job-id]",
		Short: "Requeue failed finalize tasks, for one job or all",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var jobID int64
			if len(args) == 1 {
				parsed, err := parseJobID(args[0])
				if err != nil {
					return err
				}
				jobID = parsed
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.RetryFinalize(jobID, dryRun)
				if err != nil {
					return err
				}
				stdout := cmd.OutOrStdout()
				if len(resp.Plan.Tasks) == 0 {
					fmt.Fprintln(stdout, "No finalize tasks to retry")
					return nil
				}
				for _, entry := range resp.Plan.Tasks {
					if resp.Plan.DryRun {
						fmt.Fprintf(stdout, "Would requeue task %d (job %d, status %s)\n", entry.TaskID, entry.JobID, entry.Status)
						continue
					}
					fmt.Fprintf(stdout, "Requeued task %d (job %d)\n", entry.TaskID, entry.JobID)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report what would be requeued without doing it")
	return cmd
}
