// Package usercopies provides the user-copies command
package usercopies

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/muvis-xrh/xrhms-core/internal/conf"
	"github.com/muvis-xrh/xrhms-core/internal/logger"
	"github.com/muvis-xrh/xrhms-core/internal/runtime"
	"github.com/muvis-xrh/xrhms-core/internal/usercopy"
)

type options struct {
	copies    bool
	deletions bool
	threshold string
}

// Command creates and returns the user-copies command
func Command(rc *runtime.Context) *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "user-copies",
		Short: "Copy requested datasets to user folders and remove expired copies",
		Long: `User-copies processes the queue of dataset copies requested by users and
deletes copies whose retention period has passed.

Exit status: 0 every action succeeded, 2 none succeeded, 3 some failed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserCopies(cmd, rc, opts)
		},
	}

	setupFlags(cmd, opts, rc.Settings)

	return cmd
}

func setupFlags(cmd *cobra.Command, opts *options, settings *conf.Settings) {
	cmd.Flags().BoolVarP(&opts.copies, "copies", "c", false, "Process new copies in the queue")
	cmd.Flags().BoolVarP(&opts.deletions, "deletions", "x", false, "Delete eligible copies")
	cmd.Flags().StringVarP(&opts.threshold, "threshold", "t", settings.Storage.UsageThreshold,
		"Only delete when free space on the user share is below this percentage, e.g. 20%")

	cmd.MarkFlagsOneRequired("copies", "deletions")
}

func runUserCopies(cmd *cobra.Command, rc *runtime.Context, opts *options) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	var copied, copyTotal, deleted, deleteTotal int

	if opts.copies {
		var err error
		copied, copyTotal, err = rc.UserCopies.ProcessCopyQueue(ctx)
		if err != nil {
			return runtime.WithExitCode(2, err)
		}
		rc.Log.Info("copies processed",
			logger.Int("copied", copied),
			logger.Int("total", copyTotal),
			logger.Float64("percent", percent(copied, copyTotal)))
	}

	if opts.deletions {
		run, err := deletionsDue(rc, opts.threshold)
		if err != nil {
			return runtime.WithExitCode(2, err)
		}
		if run {
			deleted, deleteTotal, err = rc.UserCopies.CleanupUserSpace(ctx)
			if err != nil {
				return runtime.WithExitCode(2, err)
			}
		}
		rc.Log.Info("deletions processed",
			logger.Int("deleted", deleted),
			logger.Int("total", deleteTotal),
			logger.Float64("percent", percent(deleted, deleteTotal)))
	}

	rc.Counts["copied"] = copied
	rc.Counts["copy_total"] = copyTotal
	rc.Counts["deleted"] = deleted
	rc.Counts["delete_total"] = deleteTotal

	ok, attempted := copied+deleted, copyTotal+deleteTotal
	switch {
	case ok == attempted:
		fmt.Fprintf(out, "OK: Copied: %d Deleted: %d Overall: 100%%\n", copied, deleted)
		return nil
	case ok == 0:
		fmt.Fprintln(out, "CRITICAL: 0 actions succeeded")
		return runtime.WithExitCode(2, nil)
	}
	fmt.Fprintf(out, "WARNING: Only %d/%d %.0f%% actions succeeded\n", ok, attempted, percent(ok, attempted))
	return runtime.WithExitCode(3, nil)
}

// deletionsDue reports whether cleanup should run. Without a threshold it
// always does.
func deletionsDue(rc *runtime.Context, threshold string) (bool, error) {
	if threshold == "" {
		return true, nil
	}
	value, err := conf.ParsePercentage(threshold)
	if err != nil {
		return false, err
	}
	exceeded, err := usercopy.UsageThresholdExceeded(value, rc.Settings.Storage.UserDataFolder)
	if err != nil {
		return false, err
	}
	rc.Log.Debug("usage threshold checked",
		logger.Float64("threshold", value),
		logger.Bool("exceeded", exceeded))
	return exceeded, nil
}

func percent(n, total int) float64 {
	if total == 0 {
		return 100
	}
	return float64(n) / float64(total) * 100
}
