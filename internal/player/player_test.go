package player

import (
	"context"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/streamhub/internal/logger"
	"github.com/tphakala/streamhub/internal/media"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recorder struct {
	mu   sync.Mutex
	bufs []media.Buffer
}

func (r *recorder) Write(buf media.Buffer) {
	r.mu.Lock()
	r.bufs = append(r.bufs, buf.Clone())
	r.mu.Unlock()
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bufs)
}

func (r *recorder) first() media.Buffer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bufs[0]
}

func testLogger() logger.Logger {
	return logger.NewWriterLogger(io.Discard, logger.LogLevelError).Module("player")
}

func startPlayer(t *testing.T, p *Player) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
}

func TestPlayerDeliversTicks(t *testing.T) {
	t.Parallel()

	q := media.Quality{SampleRate: 48000, BitsPerSample: 16, Channels: 2}
	out := &recorder{}
	var titles []string
	var mu sync.Mutex
	p := New(SourceTone, NewToneSource(440, q), out, Options{
		TicksPerSec: 50,
		Logger:      testLogger(),
		OnTitle: func(title string) {
			mu.Lock()
			titles = append(titles, title)
			mu.Unlock()
		},
	})
	startPlayer(t, p)

	require.Eventually(t, func() bool { return out.count() >= 3 }, 2*time.Second, 5*time.Millisecond)
	b := out.first()
	assert.Equal(t, 48000/50, b.Samples)
	assert.Len(t, b.Data, q.SamplesToBytes(48000/50))
	assert.Equal(t, q, b.Quality)
	assert.Equal(t, StatePlaying, p.State())

	mu.Lock()
	assert.Equal(t, []string{"Tone 440 Hz"}, titles)
	mu.Unlock()

	st := p.Status()
	assert.Equal(t, SourceTone, st.Source)
	assert.Equal(t, "Tone 440 Hz", st.Title)
	assert.Positive(t, st.Delivered)
}

func TestPlayerPauseResume(t *testing.T) {
	t.Parallel()

	out := &recorder{}
	p := New(SourceTone, NewToneSource(0, media.DefaultQuality()), out, Options{TicksPerSec: 100, Logger: testLogger()})
	startPlayer(t, p)
	require.Eventually(t, func() bool { return out.count() > 0 }, time.Second, 5*time.Millisecond)

	p.Pause()
	assert.Equal(t, StatePaused, p.State())
	time.Sleep(30 * time.Millisecond)
	paused := out.count()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, paused, out.count())

	p.Resume()
	assert.Equal(t, StatePlaying, p.State())
	require.Eventually(t, func() bool { return out.count() > paused }, time.Second, 5*time.Millisecond)
}

func TestPlayerStopsOnSourceError(t *testing.T) {
	t.Parallel()

	src := NewToneSource(440, media.DefaultQuality())
	require.NoError(t, src.Close())

	p := New(SourceTone, src, &recorder{}, Options{TicksPerSec: 100, Logger: testLogger()})
	err := p.Run(context.Background())
	require.ErrorIs(t, err, ErrSourceClosed)
	assert.Equal(t, StateStopped, p.State())
}

func TestToneSource(t *testing.T) {
	t.Parallel()

	q := media.Quality{SampleRate: 8000, BitsPerSample: 16, Channels: 2}
	src := NewToneSource(1000, q)
	buf := make([]byte, q.SamplesToBytes(8)+1)
	n, err := src.Read(buf)
	require.NoError(t, err)
	require.Equal(t, q.SamplesToBytes(8), n)

	// Starts at zero phase, channels carry the same sample.
	assert.Zero(t, int16(binary.LittleEndian.Uint16(buf[0:])))
	for i := range 8 {
		l := binary.LittleEndian.Uint16(buf[i*4:])
		r := binary.LittleEndian.Uint16(buf[i*4+2:])
		assert.Equal(t, l, r)
	}
	// A quarter period in at 1 kHz / 8 kHz is frame 2, the positive peak.
	assert.InDelta(t, 0.25*32767, float64(int16(binary.LittleEndian.Uint16(buf[8:]))), 1)
}

func writeWAV(t *testing.T, samples []int, q media.Quality) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.wav")
	f, err := os.Create(path)
	require.NoError(t, err)

	enc := wav.NewEncoder(f, q.SampleRate, q.BitsPerSample, q.Channels, 1)
	require.NoError(t, enc.Write(&audio.IntBuffer{
		Data:           samples,
		Format:         &audio.Format{SampleRate: q.SampleRate, NumChannels: q.Channels},
		SourceBitDepth: q.BitsPerSample,
	}))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())
	return path
}

func TestWAVSourceLoops(t *testing.T) {
	t.Parallel()

	q := media.Quality{SampleRate: 8000, BitsPerSample: 16, Channels: 1}
	path := writeWAV(t, []int{1, 2, 3, -4}, q)

	src, err := Open(SourceConfig{Kind: SourceWAV, Path: path}, testLogger())
	require.NoError(t, err)
	defer src.Close()

	assert.Equal(t, q, src.Quality())
	assert.Equal(t, "clip", src.Title())

	buf := make([]byte, 2*6)
	n, err := src.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 12, n)

	var got []int16
	for i := 0; i < n; i += 2 {
		got = append(got, int16(binary.LittleEndian.Uint16(buf[i:])))
	}
	assert.Equal(t, []int16{1, 2, 3, -4, 1, 2}, got)
}

func TestOpenRejectsBadInput(t *testing.T) {
	t.Parallel()

	_, err := Open(SourceConfig{Kind: "radio"}, testLogger())
	require.Error(t, err)

	_, err = Open(SourceConfig{Kind: SourceWAV, Path: filepath.Join(t.TempDir(), "missing.wav")}, testLogger())
	require.Error(t, err)

	junk := filepath.Join(t.TempDir(), "junk.flac")
	require.NoError(t, os.WriteFile(junk, []byte("not flac"), 0o600))
	_, err = Open(SourceConfig{Kind: SourceFLAC, Path: junk}, testLogger())
	require.Error(t, err)
}
