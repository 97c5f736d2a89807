package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tanq16/segload/internal/history"
	"github.com/tanq16/segload/internal/scheduler"
	"github.com/tanq16/segload/internal/utils"
)

func newResumeCmd() *cobra.Command {
	var target s3Target

	cmd := &cobra.Command{
		Use:   "resume [JOB_ID]",
		Short: "Re-run a recorded download with its original segment plan",
		Long: `Re-run a recorded download using the connection count, segment cap,
directory and filename it was started with, so the existing part files are
found again and only the missing ranges are fetched.`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			id, err := uuid.Parse(args[0])
			exitOnError(err, "Invalid job ID")
			store, err := history.Open(cfg.HistoryPath)
			exitOnError(err, "Error opening history")
			entry, err := store.Find(id)
			store.Close()
			exitOnError(err, "Error reading history")

			task, err := taskFromEntry(entry, target)
			exitOnError(err, "Cannot resume job")
			if err := runTasks([]scheduler.Task{task}); err != nil {
				os.Exit(1)
			}
		},
	}
	cmd.Flags().StringVar(&target.region, "region", "us-east-1", "AWS region for an s3 job")
	cmd.Flags().StringVar(&target.endpoint, "endpoint", "", "S3-compatible endpoint URL for an s3 job")
	return cmd
}

func taskFromEntry(entry history.Entry, target s3Target) (scheduler.Task, error) {
	client := utils.NewHTTPClient(cfg.HTTPClientConfig())
	var task scheduler.Task
	var err error
	switch entry.Kind {
	case "http":
		task, err = buildHTTPTask(client, entry.URL, entry.Filename)
	case "s3":
		task, err = buildS3Task(context.Background(), client, target, entry.URL, entry.Filename)
	default:
		return task, fmt.Errorf("unknown job kind %q", entry.Kind)
	}
	if err != nil {
		return task, err
	}
	task.Job.ID = entry.ID
	task.Job.Dir = entry.Dir
	task.Job.Connections = entry.Connections
	task.Job.MaxSegmentSize = entry.MaxSegmentSize
	task.Job.SplitOversized = entry.SplitOversized
	return task, nil
}
