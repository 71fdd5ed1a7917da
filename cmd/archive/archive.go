// Package archive provides the archive command and its subcommands
package archive

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/muvis-xrh/xrhms-core/internal/runtime"
)

// Command creates and returns the archive command
func Command(rc *runtime.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Manage the archive drive mounted at the archive path",
	}

	cmd.AddCommand(
		infoCommand(rc),
		registerCommand(rc),
		updateCommand(rc),
		indexCommand(rc),
	)

	return cmd
}

func infoCommand(rc *runtime.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show the SMART identity of the inserted drive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			details, err := rc.Archive.DriveDetails(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Path:         %s\n", rc.Archive.Path())
			fmt.Fprintf(out, "Serial:       %s\n", details.Serial)
			fmt.Fprintf(out, "Manufacturer: %s\n", details.Manufacturer)
			fmt.Fprintf(out, "Capacity:     %s\n", humanize.IBytes(uint64(details.CapacityGB*(1<<30))))
			return nil
		},
	}
}

func registerCommand(rc *runtime.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "register",
		Short: "Register the inserted drive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			drive, created, err := rc.Archive.CreateDrive(cmd.Context())
			if err != nil {
				return err
			}
			if created {
				fmt.Fprintf(cmd.OutOrStdout(), "Registered drive %s (id %d)\n", drive.SerialNumber, drive.ID)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Drive %s already registered (id %d)\n", drive.SerialNumber, drive.ID)
			}
			return nil
		},
	}
}

func updateCommand(rc *runtime.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "update",
		Short: "Refresh the usage of the inserted drive and index its datasets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			created, existing, err := rc.Archive.UpdateDrive(cmd.Context())
			return report(cmd, rc, created, existing, err)
		},
	}
}

func indexCommand(rc *runtime.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "index",
		Short: "Index the datasets on the inserted drive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			drive, err := rc.Archive.LookupDrive(cmd.Context())
			if err != nil {
				return err
			}
			created, existing, err := rc.Archive.IndexDatasets(cmd.Context(), drive)
			return report(cmd, rc, created, existing, err)
		},
	}
}

func report(cmd *cobra.Command, rc *runtime.Context, created, existing int, err error) error {
	rc.Counts["created"] = created
	rc.Counts["existing"] = existing
	fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d new datasets, %d already indexed\n", created, existing)
	return err
}
