// Package move provides the move command
package move

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/muvis-xrh/xrhms-core/internal/logger"
	"github.com/muvis-xrh/xrhms-core/internal/runtime"
)

type options struct {
	sources     []string
	destination string
	extra       bool
	queue       bool
	count       int
}

// Command creates and returns the move command
func Command(rc *runtime.Context) *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "move",
		Short: "Move dataset trees between shares",
		Long: `Move relocates dataset folders and updates their records. Either give
--src and --dst to move directly, or --queue to execute scheduled moves.

Exits with 2 when datasets are still marked as moving afterwards.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMove(cmd, rc, opts)
		},
	}

	setupFlags(cmd, opts)

	return cmd
}

func setupFlags(cmd *cobra.Command, opts *options) {
	cmd.Flags().StringSliceVarP(&opts.sources, "src", "s", nil, "Directories to move")
	cmd.Flags().StringVarP(&opts.destination, "dst", "t", "", "Directory to move into")
	cmd.Flags().BoolVar(&opts.extra, "extra", false, "Generate the extra folder for moved datasets")
	cmd.Flags().BoolVarP(&opts.queue, "queue", "p", false, "Process the scheduled move queue")
	cmd.Flags().IntVarP(&opts.count, "count", "c", 0, "Maximum number of queued moves to process, 0 for all")

	cmd.MarkFlagsRequiredTogether("src", "dst")
	cmd.MarkFlagsMutuallyExclusive("src", "queue")
	cmd.MarkFlagsMutuallyExclusive("dst", "queue")
	cmd.MarkFlagsMutuallyExclusive("extra", "queue")
	cmd.MarkFlagsOneRequired("src", "queue")
}

func runMove(cmd *cobra.Command, rc *runtime.Context, opts *options) error {
	ctx := cmd.Context()
	var failed int

	if opts.queue {
		result, err := rc.Processor.ProcessMoveQueue(ctx, opts.count)
		rc.Counts["processed"] = result.Processed
		rc.Counts["moved"] = result.Succeeded
		if err != nil {
			return err
		}
		failed = result.Processed - result.Succeeded
	} else {
		rc.Log.Info("sources to move", logger.Int("count", len(opts.sources)))
		for _, src := range opts.sources {
			ok, err := rc.Processor.MoveSubtree(ctx, src, opts.destination, opts.extra)
			if err != nil {
				rc.Log.Error("move failed",
					logger.String("src", src),
					logger.String("dst", opts.destination),
					logger.Error(err))
			}
			if !ok {
				failed++
			}
		}
		rc.Counts["processed"] = len(opts.sources)
		rc.Counts["moved"] = len(opts.sources) - failed
	}

	moving, err := rc.Processor.CountMoving(ctx)
	if err != nil {
		return runtime.WithExitCode(2, err)
	}
	if moving > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "ERROR: %d files still marked as moving\n", moving)
		return runtime.WithExitCode(2, nil)
	}
	if failed > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "WARNING: %d moves failed\n", failed)
		return runtime.WithExitCode(1, nil)
	}
	return nil
}
