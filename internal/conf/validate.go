package conf

import (
	"fmt"
	"slices"

	"github.com/tphakala/streamhub/internal/errors"
	"github.com/tphakala/streamhub/internal/media"
	"github.com/tphakala/streamhub/internal/player"
)

// Validate replaces out of range values with their defaults, returning one
// warning per replacement. Settings that cannot be repaired are errors.
func Validate(s *Settings) ([]string, error) {
	var w warnings

	st := &s.Streaming
	w.oneOf("streaming.samplerate", &st.SampleRate, media.SampleRates, media.DefaultSampleRate)
	w.oneOf("streaming.bitspersample", &st.BitsPerSample, []int{16, 24, 32}, media.DefaultBitsPerSample)
	w.oneOf("streaming.channels", &st.Channels, []int{1, 2}, media.DefaultChannels)
	w.oneOf("streaming.bitrate", &st.BitRate, media.BitRates, media.DefaultBitRate)
	w.inRange("streaming.icymetaint", &st.ICYMetaint, MinICYMetaint, MaxICYMetaint, DefaultICYMetaint)
	w.inRange("streaming.silenceticks", &st.SilenceTicks, MinSilenceTicks, MaxSilenceTicks, DefaultSilenceTicks)
	w.inRange("streaming.pipebuffer", &st.PipeBuffer, MinPipeBuffer, MaxPipeBuffer, DefaultPipeBuffer)

	w.inRange("worker.threads", &s.Worker.Threads, MinThreads, MaxThreads, DefaultThreads)
	w.inRange("worker.queuesize", &s.Worker.QueueSize, MinQueueSize, MaxQueueSize, DefaultQueueSize)

	w.inRange("player.ticks", &s.Player.Ticks, MinSilenceTicks, MaxSilenceTicks, DefaultPlayerTicks)
	w.oneOf("player.samplerate", &s.Player.SampleRate, media.SampleRates, media.DefaultSampleRate)
	w.oneOf("player.channels", &s.Player.Channels, []int{1, 2}, media.DefaultChannels)

	// A pipe must hold at least two of the largest deliveries, or every
	// chunk is rejected.
	minPipe := 2 * media.MaxTickBytes(min(st.SilenceTicks, s.Player.Ticks))
	if st.PipeBuffer < minPipe {
		w.add("streaming.pipebuffer %d cannot hold two deliveries at %d ticks/s, using %d",
			st.PipeBuffer, min(st.SilenceTicks, s.Player.Ticks), minPipe)
		st.PipeBuffer = minPipe
	}

	if s.WebServer.Listen == "" {
		w.add("webserver.listen is empty, using %s", DefaultListen)
		s.WebServer.Listen = DefaultListen
	}
	if s.WebServer.WriteTimeout <= 0 {
		w.add("webserver.writetimeout %d out of range, using %d", s.WebServer.WriteTimeout, DefaultWriteTimeout)
		s.WebServer.WriteTimeout = DefaultWriteTimeout
	}
	if s.MQTT.Topic == "" {
		s.MQTT.Topic = DefaultMQTTTopic
	}

	var errs []error
	if !slices.Contains(player.SourceKinds, s.Player.Kind) {
		errs = append(errs, fmt.Errorf("player.source %q is not one of %v", s.Player.Kind, player.SourceKinds))
	}
	if (s.Player.Kind == player.SourceWAV || s.Player.Kind == player.SourceFLAC) && s.Player.Path == "" {
		errs = append(errs, fmt.Errorf("player.path is required for source %q", s.Player.Kind))
	}
	if s.MQTT.Enabled && s.MQTT.Broker == "" {
		errs = append(errs, fmt.Errorf("mqtt.broker is required when mqtt is enabled"))
	}
	if s.Sentry.Enabled && s.Sentry.DSN == "" {
		errs = append(errs, fmt.Errorf("sentry.dsn is required when sentry is enabled"))
	}

	if len(errs) > 0 {
		return w, errors.New(errors.Join(errs...)).
			Component("conf").
			Category(errors.CategoryValidation).
			Build()
	}
	return w, nil
}

type warnings []string

func (w *warnings) add(format string, args ...any) {
	*w = append(*w, fmt.Sprintf(format, args...))
}

func (w *warnings) oneOf(key string, v *int, allowed []int, def int) {
	if slices.Contains(allowed, *v) {
		return
	}
	w.add("%s %d is not one of %v, using %d", key, *v, allowed, def)
	*v = def
}

func (w *warnings) inRange(key string, v *int, lo, hi, def int) {
	if *v >= lo && *v <= hi {
		return
	}
	w.add("%s %d out of range [%d, %d], using %d", key, *v, lo, hi, def)
	*v = def
}
