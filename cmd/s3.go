package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/tanq16/segload/internal/scheduler"
	"github.com/tanq16/segload/internal/utils"
)

func newS3Cmd() *cobra.Command {
	var outputName string
	var target s3Target

	cmd := &cobra.Command{
		Use:   "s3 [s3://BUCKET/KEY]",
		Short: "Download a public S3 object in parallel segments",
		Long: `Download a publicly readable S3 object with ranged GetObject requests.

Examples:
  segload s3 s3://mybucket/path/to/file.zip --region us-east-1
  segload s3 s3://data/dump.tar --endpoint http://localhost:9000`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			client := utils.NewHTTPClient(cfg.HTTPClientConfig())
			task, err := buildS3Task(context.Background(), client, target, args[0], outputName)
			exitOnError(err, "Invalid download")
			if err := runTasks([]scheduler.Task{task}); err != nil {
				os.Exit(1)
			}
		},
	}

	cmd.Flags().StringVarP(&outputName, "output", "o", "", "Output file name (defaults to the last key element)")
	cmd.Flags().StringVar(&target.region, "region", "us-east-1", "AWS region of the bucket")
	cmd.Flags().StringVar(&target.endpoint, "endpoint", "", "S3-compatible endpoint URL")
	return cmd
}
