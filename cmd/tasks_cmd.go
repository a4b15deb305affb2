package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/automator/internal/executor"
	"github.com/nextlevelbuilder/automator/internal/schedule"
	"github.com/nextlevelbuilder/automator/internal/store"
)

func tasksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Manage scheduled tasks",
	}
	cmd.AddCommand(tasksListCmd())
	cmd.AddCommand(tasksToggleCmd())
	cmd.AddCommand(tasksRunCmd())
	cmd.AddCommand(tasksPreflightCmd())
	return cmd
}

func tasksListCmd() *cobra.Command {
	var jsonOutput bool
	var disabledOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all tasks",
		Run: func(cmd *cobra.Command, args []string) {
			sv, err := openServices()
			if err != nil {
				fatal(err)
			}
			defer sv.Close()

			filter := store.TaskFilter{}
			if disabledOnly {
				enabled := false
				filter.Enabled = &enabled
			}
			tasks, err := sv.store.ListTasks(context.Background(), filter)
			if err != nil {
				fatal(err)
			}
			printTasks(tasks, jsonOutput)
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	cmd.Flags().BoolVar(&disabledOnly, "disabled", false, "show only disabled tasks")
	return cmd
}

func printTasks(tasks []store.Task, jsonOutput bool) {
	if jsonOutput {
		out, _ := json.MarshalIndent(tasks, "", "  ")
		fmt.Println(string(out))
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSCHEDULE\tENABLED\tLAST RUN\tNEXT RUN")
	for _, t := range tasks {
		last, next := "-", "-"
		if t.LastRunAt != nil {
			last = t.LastRunAt.Format("2006-01-02 15:04")
		}
		if t.NextRunAt != nil {
			next = t.NextRunAt.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%d\t%s\t%s %s\t%t\t%s\t%s\n",
			t.ID, t.Name, t.ScheduleType, t.ScheduleValue, t.Enabled, last, next)
	}
	w.Flush()
}

func tasksToggleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "toggle <task-id>",
		Short: "Flip a task's enabled flag",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			sv, err := openServices()
			if err != nil {
				fatal(err)
			}
			defer sv.Close()

			id, err := parseTaskID(args[0])
			if err != nil {
				fatal(err)
			}
			ctx := context.Background()
			enabled, err := sv.store.ToggleTask(ctx, id)
			if err != nil {
				fatal(err)
			}

			// Keep next_run_at in step with the flag so a running daemon's
			// catch-up sweep can adopt the task.
			var nextRunAt *store.Time
			if enabled {
				task, err := sv.store.GetTask(ctx, id)
				if err != nil {
					fatal(err)
				}
				next, err := schedule.NextRun(task.ScheduleType, task.ScheduleValue, time.Now())
				if err != nil {
					fatal(err)
				}
				if next != nil {
					at := store.At(*next)
					nextRunAt = &at
				}
			}
			if err := sv.store.SetTaskNextRun(ctx, id, nextRunAt); err != nil {
				fatal(err)
			}
			fmt.Printf("Task %d enabled=%t\n", id, enabled)
		},
	}
}

func tasksRunCmd() *cobra.Command {
	var timeoutMs int
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "run <task-id>",
		Short: "Run a task immediately, ignoring its schedule",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			sv, err := openServices()
			if err != nil {
				fatal(err)
			}
			defer sv.Close()

			id, err := parseTaskID(args[0])
			if err != nil {
				fatal(err)
			}
			result, err := sv.executor.Run(context.Background(), id,
				executor.RunOptions{TimeoutMs: timeoutMs})
			if err != nil {
				fatal(err)
			}

			if jsonOutput {
				out, _ := json.MarshalIndent(result, "", "  ")
				fmt.Println(string(out))
				return
			}
			fmt.Printf("Execution %d: %s (%dms)\n", result.ExecutionID, result.Status, result.DurationMs)
			if result.Output != nil {
				for _, line := range result.Output.Console {
					fmt.Println(line)
				}
			}
			if result.Error != "" {
				fmt.Fprintf(os.Stderr, "Error: %s\n", result.Error)
				os.Exit(1)
			}
		},
	}
	cmd.Flags().IntVar(&timeoutMs, "timeout-ms", 0, "override execution timeout")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func tasksPreflightCmd() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "preflight <task-id>",
		Short: "Check whether a task can run without executing it",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			sv, err := openServices()
			if err != nil {
				fatal(err)
			}
			defer sv.Close()

			id, err := parseTaskID(args[0])
			if err != nil {
				fatal(err)
			}
			report, err := sv.executor.Preflight(context.Background(), id)
			if err != nil {
				fatal(err)
			}

			if jsonOutput {
				out, _ := json.MarshalIndent(report, "", "  ")
				fmt.Println(string(out))
				return
			}
			if report.Valid {
				fmt.Println("OK")
			} else {
				fmt.Println("NOT READY")
			}
			for _, e := range report.Errors {
				fmt.Printf("  error: %s\n", e)
			}
			for _, warning := range report.Warnings {
				fmt.Printf("  warning: %s\n", warning)
			}
			if !report.Valid {
				os.Exit(1)
			}
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func parseTaskID(arg string) (int64, error) {
	var id int64
	if _, err := fmt.Sscanf(arg, "%d", &id); err != nil {
		return 0, fmt.Errorf("invalid task id %q", arg)
	}
	return id, nil
}
