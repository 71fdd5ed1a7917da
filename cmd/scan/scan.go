// Package scan provides the scan command
package scan

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/muvis-xrh/xrhms-core/internal/logger"
	"github.com/muvis-xrh/xrhms-core/internal/runtime"
)

// Command creates and returns the scan command
func Command(rc *runtime.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan <dir>...",
		Short: "Reconcile dataset files below the directories with the database",
		Long: `Scan walks each directory, parses every dataset file it finds and creates or
updates the matching database record. Sidecar files link a dataset to its record
so moved and copied datasets are recognised.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd, rc, args)
		},
	}

	return cmd
}

func runScan(cmd *cobra.Command, rc *runtime.Context, dirs []string) error {
	ctx := cmd.Context()
	failed := 0
	for _, dir := range dirs {
		ok, err := rc.Processor.ProcessDirectory(ctx, dir)
		if err != nil {
			rc.Log.Error("directory scan failed", logger.String("dir", dir), logger.Error(err))
		}
		if err != nil || !ok {
			failed++
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	rc.Counts["directories"] = len(dirs)
	rc.Counts["failed"] = failed

	if failed > 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "Errors occurred during processing")
		return runtime.WithExitCode(1, nil)
	}
	return nil
}
