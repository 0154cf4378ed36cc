// Package conf loads streamhub settings from YAML, environment and flags.
package conf

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/streamhub/internal/errors"
	"github.com/tphakala/streamhub/internal/logger"
	"github.com/tphakala/streamhub/internal/media"
	"github.com/tphakala/streamhub/internal/player"
)

// EnvPrefix prefixes every environment variable, e.g. STREAMHUB_WORKER_THREADS.
const EnvPrefix = "STREAMHUB"

// Settings is the complete configuration.
type Settings struct {
	Debug bool `yaml:"debug" mapstructure:"debug"`

	Streaming StreamingSettings    `yaml:"streaming" mapstructure:"streaming"`
	Worker    WorkerSettings       `yaml:"worker" mapstructure:"worker"`
	Player    PlayerSettings       `yaml:"player" mapstructure:"player"`
	WebServer WebServerSettings    `yaml:"webserver" mapstructure:"webserver"`
	Codec     CodecSettings        `yaml:"codec" mapstructure:"codec"`
	Logging   logger.LoggingConfig `yaml:"logging" mapstructure:"logging"`
	MDNS      MDNSSettings         `yaml:"mdns" mapstructure:"mdns"`
	MQTT      MQTTSettings         `yaml:"mqtt" mapstructure:"mqtt"`
	Sentry    SentrySettings       `yaml:"sentry" mapstructure:"sentry"`
}

// StreamingSettings configures the default output and the fan-out core.
type StreamingSettings struct {
	Name          string `yaml:"name" mapstructure:"name"` // sent as icy-name
	SampleRate    int    `yaml:"samplerate" mapstructure:"samplerate"`
	BitsPerSample int    `yaml:"bitspersample" mapstructure:"bitspersample"`
	Channels      int    `yaml:"channels" mapstructure:"channels"`
	BitRate       int    `yaml:"bitrate" mapstructure:"bitrate"`
	ICYMetaint    int    `yaml:"icymetaint" mapstructure:"icymetaint"`
	SilenceTicks  int    `yaml:"silenceticks" mapstructure:"silenceticks"`
	PipeBuffer    int    `yaml:"pipebuffer" mapstructure:"pipebuffer"`
}

// Quality returns the default output quality.
func (s StreamingSettings) Quality() media.Quality {
	return media.Quality{
		SampleRate:    s.SampleRate,
		BitsPerSample: s.BitsPerSample,
		Channels:      s.Channels,
		BitRate:       s.BitRate,
	}
}

// WorkerSettings configures the encode worker pool.
type WorkerSettings struct {
	Threads   int `yaml:"threads" mapstructure:"threads"`
	QueueSize int `yaml:"queuesize" mapstructure:"queuesize"`
}

// PlayerSettings selects the PCM source.
type PlayerSettings struct {
	player.SourceConfig `yaml:",inline" mapstructure:",squash"`

	Ticks int `yaml:"ticks" mapstructure:"ticks"`
}

// WebServerSettings configures the HTTP facade.
type WebServerSettings struct {
	Listen       string `yaml:"listen" mapstructure:"listen"`
	WriteTimeout int    `yaml:"writetimeout" mapstructure:"writetimeout"` // seconds
}

// CodecSettings configures external encoders.
type CodecSettings struct {
	FFmpegPath string `yaml:"ffmpegpath" mapstructure:"ffmpegpath"`
}

// MDNSSettings configures service announcement.
type MDNSSettings struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
	Instance string `yaml:"instance" mapstructure:"instance"`
}

// MQTTSettings configures session event publishing.
type MQTTSettings struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
	Broker   string `yaml:"broker" mapstructure:"broker"`
	Topic    string `yaml:"topic" mapstructure:"topic"`
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
	ClientID string `yaml:"clientid" mapstructure:"clientid"`
	Retain   bool   `yaml:"retain" mapstructure:"retain"`
}

// SentrySettings configures error telemetry.
type SentrySettings struct {
	Enabled     bool   `yaml:"enabled" mapstructure:"enabled"`
	DSN         string `yaml:"dsn" mapstructure:"dsn"`
	Environment string `yaml:"environment" mapstructure:"environment"`
}

// Load reads configFile, or config.yaml from the default search paths when
// configFile is empty, applies environment and flag overrides and validates
// the result. flags may be nil. A missing config file is not an error. Out
// of range values are replaced by defaults and reported in the returned
// warnings.
func Load(configFile string, flags *pflag.FlagSet) (*Settings, []string, error) {
	v := viper.New()
	setDefaultConfig(v)

	if err := bindEnv(v); err != nil {
		return nil, nil, err
	}
	if err := bindFlags(v, flags); err != nil {
		return nil, nil, err
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		for _, p := range DefaultConfigPaths() {
			v.AddConfigPath(p)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, nil, errors.New(err).
				Component("conf").
				Category(errors.CategoryConfiguration).
				Context("config_file", configFile).
				Build()
		}
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "unmarshal").
			Build()
	}

	warnings, err := Validate(settings)
	if err != nil {
		return nil, warnings, err
	}
	return settings, warnings, nil
}

// ConfigFileUsed is the file Load would read when given no explicit path,
// or "" when none exists.
func ConfigFileUsed() string {
	for _, p := range DefaultConfigPaths() {
		f := filepath.Join(p, "config.yaml")
		if _, err := os.Stat(f); err == nil {
			return f
		}
	}
	return ""
}

// DefaultConfigPaths lists the directories searched for config.yaml.
func DefaultConfigPaths() []string {
	paths := []string{"."}
	home, err := os.UserHomeDir()

	switch runtime.GOOS {
	case "windows":
		if err == nil {
			paths = append(paths, filepath.Join(home, "AppData", "Roaming", "streamhub"))
		}
	default:
		if err == nil {
			paths = append(paths, filepath.Join(home, ".config", "streamhub"))
		}
		paths = append(paths, "/etc/streamhub")
	}
	return paths
}

// YAML renders settings as a config file.
func (s *Settings) YAML() ([]byte, error) {
	out, err := yaml.Marshal(s)
	if err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "marshal").
			Build()
	}
	return out, nil
}

// Redacted returns a copy with secrets masked.
func (s *Settings) Redacted() *Settings {
	c := *s
	if c.MQTT.Password != "" {
		c.MQTT.Password = "********"
	}
	if c.Sentry.DSN != "" {
		c.Sentry.DSN = redactDSN(c.Sentry.DSN)
	}
	return &c
}

func redactDSN(dsn string) string {
	scheme, rest, ok := strings.Cut(dsn, "://")
	if !ok {
		return "********"
	}
	if _, host, ok := strings.Cut(rest, "@"); ok {
		return scheme + "://********@" + host
	}
	return dsn
}
