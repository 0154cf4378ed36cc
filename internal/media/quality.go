// Package media holds the PCM audio types shared by the player, the encoder
// and the codecs.
package media

import (
	"fmt"
	"slices"

	"github.com/tphakala/streamhub/internal/errors"
)

// Default output quality for streaming clients.
const (
	DefaultSampleRate    = 44100
	DefaultBitsPerSample = 16
	DefaultChannels      = 2
	DefaultBitRate       = 128000
)

// Output sample rates and MP3 bit rates a client may request.
var (
	SampleRates = []int{22050, 32000, 44100, 48000, 88200, 96000}
	BitRates    = []int{64000, 96000, 128000, 192000, 320000}
)

// MaxBytesPerFrame is the widest PCM frame: 32 bit stereo.
const MaxBytesPerFrame = 8

// MaxTickBytes returns the largest PCM delivery a producer ticking
// ticksPerSec times a second can emit at any supported quality.
func MaxTickBytes(ticksPerSec int) int {
	if ticksPerSec < 1 {
		ticksPerSec = 1
	}
	maxRate := slices.Max(SampleRates)
	frames := (maxRate + ticksPerSec - 1) / ticksPerSec
	return frames * MaxBytesPerFrame
}

// Quality describes a PCM or encoded audio format.
// BitRate is zero for raw PCM.
type Quality struct {
	SampleRate    int `json:"sample_rate" yaml:"samplerate" mapstructure:"samplerate"`
	BitsPerSample int `json:"bits_per_sample" yaml:"bitspersample" mapstructure:"bitspersample"`
	Channels      int `json:"channels" yaml:"channels" mapstructure:"channels"`
	BitRate       int `json:"bit_rate" yaml:"bitrate" mapstructure:"bitrate"`
}

// DefaultQuality returns 44.1 kHz, 16 bit, stereo at 128 kbit/s.
func DefaultQuality() Quality {
	return Quality{
		SampleRate:    DefaultSampleRate,
		BitsPerSample: DefaultBitsPerSample,
		Channels:      DefaultChannels,
		BitRate:       DefaultBitRate,
	}
}

// IsZero reports whether q carries no audio. A quality with zero channels
// is never encoded.
func (q Quality) IsZero() bool {
	return q.Channels == 0
}

// BytesPerFrame is the size of one sample for every channel.
func (q Quality) BytesPerFrame() int {
	return q.BitsPerSample / 8 * q.Channels
}

// SamplesToBytes converts a frame count to a byte count.
func (q Quality) SamplesToBytes(samples int) int {
	return samples * q.BytesPerFrame()
}

// BytesToSamples converts a byte count to whole frames.
func (q Quality) BytesToSamples(n int) int {
	bpf := q.BytesPerFrame()
	if bpf == 0 {
		return 0
	}
	return n / bpf
}

// Validate checks that q describes PCM this server can carry.
func (q Quality) Validate() error {
	switch {
	case q.SampleRate <= 0:
		return errors.Newf("invalid sample rate %d", q.SampleRate).
			Component("media").Category(errors.CategoryValidation).Build()
	case q.BitsPerSample != 16 && q.BitsPerSample != 24 && q.BitsPerSample != 32:
		return errors.Newf("invalid bits per sample %d", q.BitsPerSample).
			Component("media").Category(errors.CategoryValidation).Build()
	case q.Channels < 1 || q.Channels > 8:
		return errors.Newf("invalid channel count %d", q.Channels).
			Component("media").Category(errors.CategoryValidation).Build()
	case q.BitRate < 0:
		return errors.Newf("invalid bit rate %d", q.BitRate).
			Component("media").Category(errors.CategoryValidation).Build()
	}
	return nil
}

func (q Quality) String() string {
	if q.BitRate > 0 {
		return fmt.Sprintf("%d/%d/%d@%dk", q.SampleRate, q.BitsPerSample, q.Channels, q.BitRate/1000)
	}
	return fmt.Sprintf("%d/%d/%d", q.SampleRate, q.BitsPerSample, q.Channels)
}

// Buffer is a block of interleaved little-endian PCM.
type Buffer struct {
	Data    []byte
	Samples int
	Quality Quality
}

// Clone returns a Buffer with its own copy of Data.
func (b Buffer) Clone() Buffer {
	b.Data = append([]byte(nil), b.Data...)
	return b
}

// Silence returns samples frames of zero-valued PCM in quality q.
func Silence(q Quality, samples int) Buffer {
	return Buffer{
		Data:    make([]byte, q.SamplesToBytes(samples)),
		Samples: samples,
		Quality: q,
	}
}
