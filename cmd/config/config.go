// Package config prints the effective configuration.
package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tphakala/streamhub/internal/conf"
)

// Command creates the config command.
func Command(configFile *string) *cobra.Command {
	var showSecrets bool

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Long:  "Load the config file, environment and flags, validate them and print the result. Secrets are masked unless --show-secrets is given.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, warnings, err := conf.Load(*configFile, cmd.Flags())
			if err != nil {
				return err
			}
			if !showSecrets {
				settings = settings.Redacted()
			}
			out, err := settings.YAML()
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if src := configSource(*configFile); src != "" {
				fmt.Fprintf(w, "# loaded from %s\n", src)
			}
			for _, warning := range warnings {
				fmt.Fprintf(w, "# warning: %s\n", warning)
			}
			_, err = w.Write(out)
			return err
		},
	}

	cmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "Print passwords and DSNs unmasked")
	return cmd
}

func configSource(explicit string) string {
	if explicit != "" {
		return explicit
	}
	return conf.ConfigFileUsed()
}
