package player

import (
	"github.com/tphakala/streamhub/internal/errors"
	"github.com/tphakala/streamhub/internal/logger"
	"github.com/tphakala/streamhub/internal/media"
)

// ErrNoData is returned by live sources when nothing has been captured
// since the last read.
var ErrNoData = errors.NewStd("no audio available")

// ErrSourceClosed is returned by Read after Close.
var ErrSourceClosed = errors.NewStd("source closed")

// Source kinds.
const (
	SourceTone    = "tone"
	SourceWAV     = "wav"
	SourceFLAC    = "flac"
	SourceCapture = "capture"
)

// SourceKinds lists every source kind.
var SourceKinds = []string{SourceTone, SourceWAV, SourceFLAC, SourceCapture}

// Source is a PCM producer. File sources loop forever.
type Source interface {
	Quality() media.Quality
	Title() string

	// Read fills p with whole frames of interleaved little-endian PCM and
	// returns how many bytes were written.
	Read(p []byte) (int, error)

	Close() error
}

// SourceConfig selects and configures a source.
type SourceConfig struct {
	Kind string `yaml:"source" mapstructure:"source"`
	Path string `yaml:"path" mapstructure:"path"`

	// Tone and capture settings.
	Frequency  float64 `yaml:"frequency" mapstructure:"frequency"`
	SampleRate int     `yaml:"samplerate" mapstructure:"samplerate"`
	Channels   int     `yaml:"channels" mapstructure:"channels"`
	Device     string  `yaml:"device" mapstructure:"device"`
}

// Open creates the source described by cfg.
func Open(cfg SourceConfig, log logger.Logger) (Source, error) {
	if log == nil {
		log = logger.Global().Module("player")
	}

	switch cfg.Kind {
	case SourceTone, "":
		return NewToneSource(cfg.Frequency, toneQuality(cfg)), nil
	case SourceWAV:
		return OpenWAV(cfg.Path)
	case SourceFLAC:
		return OpenFLAC(cfg.Path)
	case SourceCapture:
		return OpenCapture(CaptureConfig{
			Device:     cfg.Device,
			SampleRate: cfg.SampleRate,
			Channels:   cfg.Channels,
		}, log)
	default:
		return nil, errors.Newf("unknown player source %q", cfg.Kind).
			Component("player").
			Category(errors.CategoryConfiguration).
			Build()
	}
}

func toneQuality(cfg SourceConfig) media.Quality {
	q := media.Quality{
		SampleRate:    cfg.SampleRate,
		BitsPerSample: 16,
		Channels:      cfg.Channels,
	}
	if q.SampleRate <= 0 {
		q.SampleRate = media.DefaultSampleRate
	}
	if q.Channels <= 0 {
		q.Channels = media.DefaultChannels
	}
	return q
}

// putSample writes v as a little-endian sample of the given byte width.
func putSample(b []byte, v int, width int) {
	switch width {
	case 2:
		b[0], b[1] = byte(v), byte(v>>8)
	case 3:
		b[0], b[1], b[2] = byte(v), byte(v>>8), byte(v>>16)
	case 4:
		b[0], b[1], b[2], b[3] = byte(v), byte(v>>8), byte(v>>16), byte(v>>24)
	}
}
