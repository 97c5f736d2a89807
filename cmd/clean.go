package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tanq16/segload/internal/output"
	"github.com/tanq16/segload/internal/partstore"
)

func newCleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean [NAME]",
		Short: "Remove part files left by unfinished downloads of NAME",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			removed, err := partstore.Clean(outputDir, args[0])
			exitOnError(err, "Error cleaning up part files")
			if removed == 0 {
				output.PrintWarning(fmt.Sprintf("No part files found for %s in %s", args[0], outputDir))
				return
			}
			output.PrintSuccess(fmt.Sprintf("Removed %d part file(s) for %s", removed, args[0]))
		},
	}
}
