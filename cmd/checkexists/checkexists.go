// Package checkexists provides the check-exists command
package checkexists

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/muvis-xrh/xrhms-core/internal/processor"
	"github.com/muvis-xrh/xrhms-core/internal/runtime"
)

// Command creates and returns the check-exists command. Output and exit
// status follow the monitoring plugin convention.
func Command(rc *runtime.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check-exists",
		Short: "Check every dataset record against the filesystem",
		Long: `Check-exists compares every dataset record with the filesystem and marks
records whose file has disappeared as missing, or reappeared as online.

Exit status: 0 all match, 1 records corrected, 2 error, 3 move in progress.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd, rc)
		},
	}

	return cmd
}

func runCheck(cmd *cobra.Command, rc *runtime.Context) error {
	out := cmd.OutOrStdout()
	changed, err := rc.Processor.CheckAllExist(cmd.Context())
	rc.Counts["changed"] = max(changed, 0)

	switch {
	case changed == processor.CheckMoveInProgress:
		fmt.Fprintln(out, "UNKNOWN: Moving operation in progress unable to run")
		return runtime.WithExitCode(3, nil)
	case changed == processor.CheckLockTimeout:
		fmt.Fprintln(out, "CRITICAL: Unable to acquire the dataset lock")
		return runtime.WithExitCode(2, err)
	case err != nil:
		fmt.Fprintln(out, "CRITICAL: An exception occurred")
		return runtime.WithExitCode(2, err)
	case changed > 0:
		fmt.Fprintf(out, "WARNING: %d files don't match database\n", changed)
		return runtime.WithExitCode(1, nil)
	}
	fmt.Fprintln(out, "OK: Database and filesystem match")
	return nil
}
