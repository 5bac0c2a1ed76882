// Package main task ledger commands.
package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/prism/atelier/internal/task"
)

func tasksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Task ledger commands",
		Long:  "Inspect and manage the durable task ledger",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Show all tasks, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			tasks, err := eng.Tasks(cmd.Context())
			if err != nil {
				return err
			}
			if len(tasks) == 0 {
				fmt.Println("no tasks")
				return nil
			}
			for _, t := range tasks {
				printTask(t)
			}
			return nil
		},
	}

	cancelCmd := &cobra.Command{
		Use:   "cancel <task-id>",
		Short: "Cancel a live task",
		Long:  "Cancel a task in this process; the record and any pending asset are removed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := eng.Cancel(args[0]); err != nil {
				return fmt.Errorf("%w (tasks from earlier runs were already reclassified at startup)", err)
			}
			fmt.Printf("cancelled %s\n", args[0])
			return nil
		},
	}

	pruneCmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete completed and failed tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := eng.Prune(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("pruned %d terminal tasks\n", n)
			return nil
		},
	}

	assetsCmd := &cobra.Command{
		Use:   "assets",
		Short: "Show stored assets, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			assets, err := eng.Assets(cmd.Context())
			if err != nil {
				return err
			}
			if len(assets) == 0 {
				fmt.Println("no assets")
				return nil
			}
			for _, a := range assets {
				ref := a.Path
				if ref == "" {
					ref = a.URI
				}
				fmt.Printf("%s  %-5s %-8s %s\n", a.ID, a.Kind, a.Status, ref)
			}
			return nil
		},
	}

	cmd.AddCommand(listCmd, cancelCmd, pruneCmd, assetsCmd)
	return cmd
}

func printTask(t *task.Task) {
	var badge string
	switch t.Status {
	case task.StatusCompleted:
		badge = color.GreenString("completed")
	case task.StatusFailed:
		badge = color.RedString("failed")
	case task.StatusGenerating:
		badge = color.CyanString("generating")
	default:
		badge = color.YellowString("queued")
	}

	prompt, _ := t.Request["prompt"].(string)
	fmt.Printf("%s  %-5s %-10s %s\n", t.ID, t.ResourceClass, badge, truncateStr(prompt, 50))
	if t.ErrorDetail != "" {
		fmt.Printf("  %s\n", color.RedString(t.ErrorDetail))
	}
}

func truncateStr(s string, n int) string {
	if n < 4 {
		n = 4
	}
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
