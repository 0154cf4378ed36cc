package conf

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/tphakala/streamhub/internal/errors"
)

// envBinding ties a config key to its environment variable.
type envBinding struct {
	ConfigKey string
	Validate  func(string) error
}

func (b envBinding) envVar() string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(b.ConfigKey, ".", "_"))
}

func getEnvBindings() []envBinding {
	return []envBinding{
		{"debug", validateEnvBool},

		{"streaming.name", nil},
		{"streaming.samplerate", validateEnvInt},
		{"streaming.bitspersample", validateEnvInt},
		{"streaming.channels", validateEnvInt},
		{"streaming.bitrate", validateEnvInt},
		{"streaming.icymetaint", validateEnvInt},
		{"streaming.silenceticks", validateEnvInt},
		{"streaming.pipebuffer", validateEnvInt},

		{"worker.threads", validateEnvInt},
		{"worker.queuesize", validateEnvInt},

		{"player.source", nil},
		{"player.path", nil},
		{"player.device", nil},
		{"player.frequency", validateEnvFloat},
		{"player.ticks", validateEnvInt},

		{"webserver.listen", nil},
		{"codec.ffmpegpath", nil},
		{"logging.default_level", nil},

		{"mdns.enabled", validateEnvBool},

		{"mqtt.enabled", validateEnvBool},
		{"mqtt.broker", nil},
		{"mqtt.topic", nil},
		{"mqtt.username", nil},
		{"mqtt.password", nil},

		{"sentry.enabled", validateEnvBool},
		{"sentry.dsn", nil},
	}
}

// bindEnv binds every key to its STREAMHUB_ variable and rejects values
// that cannot parse.
func bindEnv(v *viper.Viper) error {
	var problems []string
	for _, b := range getEnvBindings() {
		name := b.envVar()
		if err := v.BindEnv(b.ConfigKey, name); err != nil {
			problems = append(problems, fmt.Sprintf("bind %s: %v", name, err))
			continue
		}
		if b.Validate == nil {
			continue
		}
		if value := os.Getenv(name); value != "" {
			if err := b.Validate(value); err != nil {
				problems = append(problems, fmt.Sprintf("%s=%q: %v", name, value, err))
			}
		}
	}

	if len(problems) > 0 {
		return errors.Newf("environment variable issues:\n  - %s", strings.Join(problems, "\n  - ")).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return nil
}

func validateEnvBool(value string) error {
	_, err := strconv.ParseBool(value)
	return err
}

func validateEnvInt(value string) error {
	_, err := strconv.Atoi(value)
	return err
}

func validateEnvFloat(value string) error {
	_, err := strconv.ParseFloat(value, 64)
	return err
}
