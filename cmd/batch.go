package cmd

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tanq16/segload/internal/output"
	"github.com/tanq16/segload/internal/scheduler"
	"github.com/tanq16/segload/internal/utils"
)

type BatchEntry struct {
	OutputName string `yaml:"op,omitempty"`
	Link       string `yaml:"link"`
}

type BatchFile map[string][]BatchEntry

func newBatchCmd() *cobra.Command {
	var target s3Target

	cmd := &cobra.Command{
		Use:   "batch [YAML_FILE]",
		Short: "Process multiple downloads from a YAML file",
		Long: `Process multiple downloads from a YAML file grouped by type:

  http:
    - link: https://example.com/a.iso
      op: a.iso
  s3:
    - link: s3://bucket/b.tar`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			data, err := os.ReadFile(args[0])
			exitOnError(err, "Error reading YAML file")
			var batchFile BatchFile
			exitOnError(yaml.Unmarshal(data, &batchFile), "Error parsing YAML file")

			client := utils.NewHTTPClient(cfg.HTTPClientConfig())
			tasks := buildTasksFromBatch(batchFile, func(kind, link, name string) (scheduler.Task, error) {
				if kind == "s3" {
					return buildS3Task(context.Background(), client, target, link, name)
				}
				return buildHTTPTask(client, link, name)
			})
			if len(tasks) == 0 {
				output.PrintError("No valid jobs found in the batch file")
				os.Exit(1)
			}
			if err := runTasks(tasks); err != nil {
				os.Exit(1)
			}
		},
	}
	cmd.Flags().StringVar(&target.region, "region", "us-east-1", "AWS region for s3 entries")
	cmd.Flags().StringVar(&target.endpoint, "endpoint", "", "S3-compatible endpoint URL for s3 entries")
	return cmd
}

type taskBuilder func(kind, link, name string) (scheduler.Task, error)

// buildTasksFromBatch skips unknown sections, invalid entries and entries whose
// output path is already taken, each with a warning. Two jobs with one output
// would write the same part files. Sections are processed in name order so job
// order is stable.
func buildTasksFromBatch(batchFile BatchFile, build taskBuilder) []scheduler.Task {
	log := utils.GetLogger("batch")
	sections := make([]string, 0, len(batchFile))
	for section := range batchFile {
		sections = append(sections, section)
	}
	sort.Strings(sections)

	var tasks []scheduler.Task
	seen := make(map[string]string)
	for _, section := range sections {
		kind := normalizeJobType(section)
		if kind == "" {
			log.Warn().Str("section", section).Msg("Unknown job type, skipping")
			continue
		}
		for _, entry := range batchFile[section] {
			if entry.Link == "" {
				log.Warn().Str("section", section).Msg("Empty link, skipping")
				continue
			}
			task, err := build(kind, entry.Link, entry.OutputName)
			if err != nil {
				log.Warn().Err(err).Str("link", entry.Link).Msg("Invalid entry, skipping")
				continue
			}
			target := filepath.Join(task.Job.Dir, task.Job.Filename)
			if first, ok := seen[target]; ok {
				log.Warn().Str("link", entry.Link).Str("output", target).Str("firstLink", first).Msg("Output already used by another entry, skipping")
				continue
			}
			seen[target] = entry.Link
			tasks = append(tasks, task)
		}
	}
	return tasks
}

func normalizeJobType(jobType string) string {
	switch strings.ToLower(jobType) {
	case "http", "https":
		return "http"
	case "s3":
		return "s3"
	}
	return ""
}
