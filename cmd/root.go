// Package cmd holds the streamhub command line.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/tphakala/streamhub/cmd/config"
	"github.com/tphakala/streamhub/cmd/serve"
	"github.com/tphakala/streamhub/cmd/version"
	"github.com/tphakala/streamhub/internal/buildinfo"
	"github.com/tphakala/streamhub/internal/conf"
)

// RootCommand creates the root command and its subcommands.
func RootCommand(bi *buildinfo.Context) *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:           "streamhub",
		Short:         "Real-time audio streaming hub",
		Long:          "streamhub plays one PCM source and serves it to many HTTP listeners as MP3 or WAV, encoding once per format and quality.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Config file (default: config.yaml in ., ~/.config/streamhub or /etc/streamhub)")
	conf.RegisterFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(
		serve.Command(&configFile, bi),
		config.Command(&configFile),
		version.Command(bi),
	)

	return rootCmd
}
