package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/muvis-xrh/xrhms-core/cmd/archive"
	"github.com/muvis-xrh/xrhms-core/cmd/checkexists"
	"github.com/muvis-xrh/xrhms-core/cmd/config"
	"github.com/muvis-xrh/xrhms-core/cmd/move"
	"github.com/muvis-xrh/xrhms-core/cmd/scan"
	"github.com/muvis-xrh/xrhms-core/cmd/usercopies"
	"github.com/muvis-xrh/xrhms-core/cmd/validatename"
	"github.com/muvis-xrh/xrhms-core/internal/logger"
	"github.com/muvis-xrh/xrhms-core/internal/runtime"
)

// skipInit marks commands that only need the settings.
const skipInit = "xrhms/skip-init"

// RootCommand creates and returns the root command
func RootCommand(rc *runtime.Context) *cobra.Command {
	var quiet bool

	rootCmd := &cobra.Command{
		Use:           "xrhms",
		Short:         "XRH dataset lifecycle tools",
		Version:       rc.Build.GetVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Set up the global flags for the root command.
	rootCmd.PersistentFlags().BoolVarP(&rc.Settings.Debug, "debug", "d", rc.Settings.Debug, "Enable debug output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Only log errors on the console")
	rootCmd.MarkFlagsMutuallyExclusive("debug", "quiet")

	configCmd := config.Command(rc.Settings)
	configCmd.Annotations = map[string]string{skipInit: "true"}

	subcommands := []*cobra.Command{
		scan.Command(rc),
		move.Command(rc),
		checkexists.Command(rc),
		usercopies.Command(rc),
		archive.Command(rc),
		validatename.Command(rc),
		configCmd,
	}

	rootCmd.AddCommand(subcommands...)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		for c := cmd; c != nil; c = c.Parent() {
			if c.Annotations[skipInit] != "" {
				return nil
			}
		}

		if quiet {
			if rc.Settings.Logging.Console == nil {
				rc.Settings.Logging.Console = &logger.ConsoleOutput{Enabled: true}
			}
			rc.Settings.Logging.Console.Level = "error"
		}

		ctx, err := rc.Init(cmd.Context(), jobName(cmd))
		if err != nil {
			return err
		}
		cmd.SetContext(ctx)
		return nil
	}

	return rootCmd
}

// jobName turns "xrhms archive register" into "archive_register".
func jobName(cmd *cobra.Command) string {
	path := strings.Fields(cmd.CommandPath())
	if len(path) > 1 {
		path = path[1:]
	}
	return strings.ReplaceAll(strings.Join(path, "_"), "-", "_")
}
