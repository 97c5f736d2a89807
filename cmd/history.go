package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tanq16/segload/internal/history"
	"github.com/tanq16/segload/internal/output"
	"github.com/tanq16/segload/internal/utils"
)

func newHistoryCmd() *cobra.Command {
	var failedOnly bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded downloads",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			store, err := history.Open(cfg.HistoryPath)
			exitOnError(err, "Error opening history")
			defer store.Close()

			var entries []history.Entry
			if failedOnly {
				entries, err = store.Failed()
			} else {
				entries, err = store.List()
			}
			exitOnError(err, "Error reading history")
			if len(entries) == 0 {
				output.PrintInfo("No recorded downloads")
				return
			}
			title := "Recorded downloads"
			if failedOnly {
				title = "Failed downloads"
			}
			output.PrintHeader(fmt.Sprintf("%s (%d)", title, len(entries)))
			for _, e := range entries {
				fmt.Println(formatEntry(e))
			}
		},
	}
	cmd.Flags().BoolVar(&failedOnly, "failed", false, "Only show failed downloads (re-run them with 'segload resume ID')")
	return cmd
}

func formatEntry(e history.Entry) string {
	status := output.FSuccess(string(e.Status))
	detail := utils.FormatBytes(uint64(max(e.TotalSize, 0)))
	if e.Status == history.StatusFailed {
		status = output.FError(string(e.Status))
		segments := make([]string, len(e.FailedSegments))
		for i, idx := range e.FailedSegments {
			segments[i] = fmt.Sprint(idx)
		}
		detail = "segments [" + strings.Join(segments, ",") + "]"
	}
	return fmt.Sprintf("%s  %s  %-9s %s  %s %s",
		output.FDebug(e.FinishedAt.Format("2006-01-02 15:04:05")),
		output.FDetail(e.ID.String()),
		status,
		e.URL,
		output.FDebug(detail),
		output.FDebug(e.Error),
	)
}
