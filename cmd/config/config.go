// Package config provides the config command
package config

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/muvis-xrh/xrhms-core/internal/conf"
)

// Command creates and returns the config command
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration",
	}

	cmd.AddCommand(showCommand(settings))

	return cmd
}

func showCommand(settings *conf.Settings) *cobra.Command {
	var defaults bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective settings as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s := settings
			if defaults {
				var err error
				if s, err = conf.DefaultSettings(); err != nil {
					return err
				}
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(redact(*s)); err != nil {
				return err
			}
			return enc.Close()
		},
	}

	cmd.Flags().BoolVar(&defaults, "defaults", false, "Print the built-in defaults instead")

	return cmd
}

const mask = "********"

// redact hides credentials before settings are printed.
func redact(s conf.Settings) conf.Settings {
	for _, secret := range []*string{
		&s.Output.MySQL.Password,
		&s.Output.Postgres.DSN,
		&s.MQTT.Password,
		&s.Sentry.DSN,
	} {
		if *secret != "" {
			*secret = mask
		}
	}
	return s
}
