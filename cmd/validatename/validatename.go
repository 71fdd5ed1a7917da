// Package validatename provides the validate-name command
package validatename

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/muvis-xrh/xrhms-core/internal/runtime"
)

// Command creates and returns the validate-name command
func Command(rc *runtime.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate-name <name>",
		Short: "Check a dataset name against the naming convention",
		Long: `Validate-name checks DATE_SCANNER_BUGID_OPERATOR_SAMPLEID[_FREETEXT] and
looks up the scanner, bug and sample in the database. Every problem is logged.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if rc.Validator.Validate(cmd.Context(), args[0]) {
				fmt.Fprintln(cmd.OutOrStdout(), "Name is valid")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Name is invalid")
			return runtime.WithExitCode(1, nil)
		},
	}

	return cmd
}
