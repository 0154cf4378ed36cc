package conf

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/tphakala/streamhub/internal/errors"
)

// flagKeys maps command line flag names to config keys.
var flagKeys = map[string]string{
	"debug":     "debug",
	"listen":    "webserver.listen",
	"name":      "streaming.name",
	"threads":   "worker.threads",
	"source":    "player.source",
	"path":      "player.path",
	"device":    "player.device",
	"frequency": "player.frequency",
	"ffmpeg":    "codec.ffmpegpath",
	"metaint":   "streaming.icymetaint",
	"mdns":      "mdns.enabled",
}

// RegisterFlags defines the overridable flags on fs. Their defaults are
// empty so unset flags never mask the config file.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.BoolP("debug", "d", false, "Enable debug logging")
	fs.String("listen", "", "HTTP listen address (default "+DefaultListen+")")
	fs.String("name", "", "Stream name sent as icy-name")
	fs.Int("threads", 0, "Encode worker threads")
	fs.String("source", "", "Player source: tone, wav, flac or capture")
	fs.String("path", "", "Audio file for wav and flac sources")
	fs.String("device", "", "Capture device name or ID")
	fs.Float64("frequency", 0, "Test tone frequency in Hz")
	fs.String("ffmpeg", "", "Path to the ffmpeg binary")
	fs.Int("metaint", 0, "ICY metadata interval in bytes")
	fs.Bool("mdns", false, "Announce the stream over mDNS")
}

// bindFlags binds every known flag that the user actually set.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	if fs == nil {
		return nil
	}
	var err error
	fs.Visit(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok || err != nil {
			return
		}
		if bindErr := v.BindPFlag(key, f); bindErr != nil {
			err = errors.New(bindErr).
				Component("conf").
				Category(errors.CategoryConfiguration).
				Context("flag", f.Name).
				Build()
		}
	})
	return err
}
