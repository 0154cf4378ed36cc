package player

import (
	"fmt"
	"math"

	"github.com/tphakala/streamhub/internal/media"
)

// DefaultToneFrequency is A4.
const DefaultToneFrequency = 440.0

// ToneSource generates a 16 bit sine wave.
type ToneSource struct {
	freq   float64
	q      media.Quality
	phase  float64
	step   float64
	ampl   float64
	closed bool
}

// NewToneSource creates a sine generator at freq Hz.
func NewToneSource(freq float64, q media.Quality) *ToneSource {
	if freq <= 0 {
		freq = DefaultToneFrequency
	}
	q.BitsPerSample = 16
	q.BitRate = 0
	return &ToneSource{
		freq: freq,
		q:    q,
		step: 2 * math.Pi * freq / float64(q.SampleRate),
		ampl: 0.25 * math.MaxInt16,
	}
}

func (t *ToneSource) Quality() media.Quality { return t.q }

func (t *ToneSource) Title() string {
	return fmt.Sprintf("Tone %g Hz", t.freq)
}

func (t *ToneSource) Read(p []byte) (int, error) {
	if t.closed {
		return 0, ErrSourceClosed
	}
	bpf := t.q.BytesPerFrame()
	frames := len(p) / bpf
	for i := range frames {
		v := int(math.Round(t.ampl * math.Sin(t.phase)))
		for ch := range t.q.Channels {
			putSample(p[i*bpf+ch*2:], v, 2)
		}
		t.phase += t.step
		if t.phase >= 2*math.Pi {
			t.phase -= 2 * math.Pi
		}
	}
	return frames * bpf, nil
}

func (t *ToneSource) Close() error {
	t.closed = true
	return nil
}
