package conf

import (
	"github.com/spf13/viper"

	"github.com/tphakala/streamhub/internal/logger"
	"github.com/tphakala/streamhub/internal/media"
)

// Defaults and limits for validated settings.
const (
	DefaultICYMetaint   = 16384
	MinICYMetaint       = 4096
	MaxICYMetaint       = 131072
	DefaultSilenceTicks = 100
	MinSilenceTicks     = 1
	MaxSilenceTicks     = 1000
	DefaultPipeBuffer   = 256 * 1024
	MinPipeBuffer       = 4096
	MaxPipeBuffer       = 16 * 1024 * 1024

	DefaultThreads   = 4
	MinThreads       = 1
	MaxThreads       = 64
	DefaultQueueSize = 256
	MinQueueSize     = 1
	MaxQueueSize     = 65536

	DefaultPlayerTicks  = 100
	DefaultListen       = ":8080"
	DefaultWriteTimeout = 10
	DefaultFFmpegPath   = "ffmpeg"
	DefaultMQTTTopic    = "streamhub"
)

func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("streaming.name", "streamhub")
	v.SetDefault("streaming.samplerate", media.DefaultSampleRate)
	v.SetDefault("streaming.bitspersample", media.DefaultBitsPerSample)
	v.SetDefault("streaming.channels", media.DefaultChannels)
	v.SetDefault("streaming.bitrate", media.DefaultBitRate)
	v.SetDefault("streaming.icymetaint", DefaultICYMetaint)
	v.SetDefault("streaming.silenceticks", DefaultSilenceTicks)
	v.SetDefault("streaming.pipebuffer", DefaultPipeBuffer)

	v.SetDefault("worker.threads", DefaultThreads)
	v.SetDefault("worker.queuesize", DefaultQueueSize)

	v.SetDefault("player.source", "tone")
	v.SetDefault("player.path", "")
	v.SetDefault("player.device", "default")
	v.SetDefault("player.frequency", 440.0)
	v.SetDefault("player.samplerate", media.DefaultSampleRate)
	v.SetDefault("player.channels", media.DefaultChannels)
	v.SetDefault("player.ticks", DefaultPlayerTicks)

	v.SetDefault("webserver.listen", DefaultListen)
	v.SetDefault("webserver.writetimeout", DefaultWriteTimeout)

	v.SetDefault("codec.ffmpegpath", DefaultFFmpegPath)

	v.SetDefault("logging.default_level", logger.DefaultLogLevel)
	v.SetDefault("logging.timezone", "Local")
	v.SetDefault("logging.console.enabled", true)
	v.SetDefault("logging.console.level", logger.DefaultLogLevel)
	v.SetDefault("logging.file_output.enabled", false)
	v.SetDefault("logging.file_output.path", logger.DefaultLogPath)
	v.SetDefault("logging.file_output.level", logger.DefaultLogLevel)

	v.SetDefault("mdns.enabled", false)
	v.SetDefault("mdns.instance", "streamhub")

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.topic", DefaultMQTTTopic)
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.clientid", "")
	v.SetDefault("mqtt.retain", false)

	v.SetDefault("sentry.enabled", false)
	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.environment", "production")
}
