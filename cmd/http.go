package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/tanq16/segload/internal/scheduler"
	"github.com/tanq16/segload/internal/utils"
)

func newHTTPCmd() *cobra.Command {
	var outputName string

	cmd := &cobra.Command{
		Use:     "http [URL] [--output NAME]",
		Aliases: []string{"get"},
		Short:   "Download a file over HTTP/HTTPS in parallel segments",
		Long: `Download a file over HTTP/HTTPS in parallel segments.

Re-running the same command resumes from the part files left by an
interrupted or failed run.

Examples:
  segload http https://example.com/disk.iso
  segload http https://example.com/disk.iso -o disk.iso -d downloads -c 16
  segload get https://example.com/disk.iso --retries 3 --limit-rate 5MiB`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			client := utils.NewHTTPClient(cfg.HTTPClientConfig())
			task, err := buildHTTPTask(client, args[0], outputName)
			exitOnError(err, "Invalid download")
			if err := runTasks([]scheduler.Task{task}); err != nil {
				os.Exit(1)
			}
		},
	}

	cmd.Flags().StringVarP(&outputName, "output", "o", "", "Output file name (defaults to the last URL path element)")
	return cmd
}
