// Package serve runs the streaming server.
package serve

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tphakala/streamhub/internal/buildinfo"
	"github.com/tphakala/streamhub/internal/conf"
	"github.com/tphakala/streamhub/internal/hub"
	"github.com/tphakala/streamhub/internal/logger"
	"github.com/tphakala/streamhub/internal/telemetry"
)

// Command creates the serve command.
func Command(configFile *string, bi *buildinfo.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the streaming server",
		Long:  "Start the player, the fan-out encoder and the HTTP server. Runs until interrupted.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, warnings, err := conf.Load(*configFile, cmd.Flags())
			if err != nil {
				return err
			}

			log, err := newLogger(settings)
			if err != nil {
				return err
			}
			logger.SetGlobal(log)
			defer func() { _ = log.Close() }()

			for _, w := range warnings {
				log.Module("conf").Warn(w)
			}

			flush, err := telemetry.Init(settings.Sentry, bi, log.Module("telemetry"))
			if err != nil {
				log.Module("telemetry").Warn("telemetry disabled", logger.Error(err))
			}
			defer flush()

			h, err := hub.New(settings, bi, log)
			if err != nil {
				return err
			}
			return h.Run(cmd.Context())
		},
	}
}

func newLogger(settings *conf.Settings) (*logger.CentralLogger, error) {
	cfg := settings.Logging
	if settings.Debug {
		cfg.DefaultLevel = "debug"
		if cfg.Console != nil {
			console := *cfg.Console
			console.Level = "debug"
			cfg.Console = &console
		}
	}
	log, err := logger.NewCentralLogger(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	return log, nil
}
