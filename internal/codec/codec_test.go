package codec

import (
	"bytes"
	"encoding/binary"
	"io"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/streamhub/internal/errors"
	"github.com/tphakala/streamhub/internal/logger"
	"github.com/tphakala/streamhub/internal/media"
)

func pcm16(samples ...int16) []byte {
	b := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(b[2*i:], uint16(s))
	}
	return b
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Register(KindPCM, PCMFactory{})

	f, err := r.Factory(KindPCM)
	require.NoError(t, err)
	assert.NotNil(t, f)

	_, err = r.Factory(KindMP3)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryNotFound))
}

func TestPCMFactoryRejectsUnsupported(t *testing.T) {
	t.Parallel()

	in := media.Quality{SampleRate: 44100, BitsPerSample: 16, Channels: 2}
	tests := []struct {
		name string
		in   media.Quality
		out  media.Quality
	}{
		{"resample", in, media.Quality{SampleRate: 48000, BitsPerSample: 16, Channels: 2}},
		{"8 bit input", media.Quality{SampleRate: 44100, BitsPerSample: 8, Channels: 2}, in},
		{"5.1 downmix", media.Quality{SampleRate: 44100, BitsPerSample: 16, Channels: 6}, in},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := PCMFactory{}.NewEncoder(tt.in, tt.out)
			require.ErrorIs(t, err, ErrUnsupportedQuality)
		})
	}
}

func TestPCMPassThrough(t *testing.T) {
	t.Parallel()

	q := media.Quality{SampleRate: 44100, BitsPerSample: 16, Channels: 2}
	enc, err := PCMFactory{}.NewEncoder(q, q)
	require.NoError(t, err)
	defer enc.Close()

	data := pcm16(1, -1, 300, -300)
	var out bytes.Buffer
	require.NoError(t, enc.Encode(&out, media.Buffer{Data: data, Samples: 2, Quality: q}))
	assert.Equal(t, data, out.Bytes())
}

func TestPCMStereoToMono(t *testing.T) {
	t.Parallel()

	in := media.Quality{SampleRate: 44100, BitsPerSample: 16, Channels: 2}
	out := media.Quality{SampleRate: 44100, BitsPerSample: 16, Channels: 1}
	enc, err := PCMFactory{}.NewEncoder(in, out)
	require.NoError(t, err)

	var dst bytes.Buffer
	require.NoError(t, enc.Encode(&dst, media.Buffer{Data: pcm16(100, 300, -50, -150), Samples: 2, Quality: in}))
	assert.Equal(t, pcm16(200, -100), dst.Bytes())
}

func TestPCMMonoTo24BitStereo(t *testing.T) {
	t.Parallel()

	in := media.Quality{SampleRate: 48000, BitsPerSample: 16, Channels: 1}
	out := media.Quality{SampleRate: 48000, BitsPerSample: 24, Channels: 2}
	enc, err := PCMFactory{}.NewEncoder(in, out)
	require.NoError(t, err)

	var dst bytes.Buffer
	require.NoError(t, enc.Encode(&dst, media.Buffer{Data: pcm16(1, -1), Samples: 2, Quality: in}))

	// 1<<8 = 0x000100, -1<<8 = 0xFFFF00
	want := []byte{
		0x00, 0x01, 0x00, 0x00, 0x01, 0x00,
		0x00, 0xFF, 0xFF, 0x00, 0xFF, 0xFF,
	}
	assert.Equal(t, want, dst.Bytes())
}

func TestPCM24BitRoundTripSign(t *testing.T) {
	t.Parallel()

	in := media.Quality{SampleRate: 44100, BitsPerSample: 24, Channels: 1}
	out := media.Quality{SampleRate: 44100, BitsPerSample: 16, Channels: 1}
	enc, err := PCMFactory{}.NewEncoder(in, out)
	require.NoError(t, err)

	var dst bytes.Buffer
	// -256 in 24 bit is 0xFFFF00
	require.NoError(t, enc.Encode(&dst, media.Buffer{Data: []byte{0x00, 0xFF, 0xFF}, Samples: 1, Quality: in}))
	assert.Equal(t, pcm16(-1), dst.Bytes())
}

func TestPCMEncodeRejectsQualityChange(t *testing.T) {
	t.Parallel()

	q := media.DefaultQuality()
	enc, err := PCMFactory{}.NewEncoder(q, q)
	require.NoError(t, err)

	other := q
	other.SampleRate = 48000
	err = enc.Encode(&bytes.Buffer{}, media.Buffer{Data: pcm16(0, 0), Samples: 1, Quality: other})
	require.ErrorIs(t, err, ErrUnsupportedQuality)
}

func TestWAVHeader(t *testing.T) {
	t.Parallel()

	h := WAVHeader(media.Quality{SampleRate: 44100, BitsPerSample: 16, Channels: 2})
	require.Len(t, h, 44)
	assert.Equal(t, "RIFF", string(h[0:4]))
	assert.Equal(t, "WAVE", string(h[8:12]))
	assert.Equal(t, uint16(2), binary.LittleEndian.Uint16(h[22:]))
	assert.Equal(t, uint32(44100), binary.LittleEndian.Uint32(h[24:]))
	assert.Equal(t, uint32(176400), binary.LittleEndian.Uint32(h[28:]))
	assert.Equal(t, uint16(4), binary.LittleEndian.Uint16(h[32:]))
	assert.Equal(t, "data", string(h[36:40]))
}

func TestFFmpegRejectsUnsupportedDepth(t *testing.T) {
	t.Parallel()

	f := &FFmpegFactory{Path: "ffmpeg", Logger: logger.NewWriterLogger(io.Discard, logger.LogLevelError).Module("codec")}
	_, err := f.NewEncoder(
		media.Quality{SampleRate: 44100, BitsPerSample: 8, Channels: 2},
		media.DefaultQuality())
	require.ErrorIs(t, err, ErrUnsupportedQuality)
}

func TestFFmpegEncodesMP3(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}

	f, err := NewFFmpegFactory("", logger.NewWriterLogger(io.Discard, logger.LogLevelError).Module("codec"))
	require.NoError(t, err)

	in := media.Quality{SampleRate: 44100, BitsPerSample: 16, Channels: 2}
	enc, err := f.NewEncoder(in, media.DefaultQuality())
	require.NoError(t, err)

	var out bytes.Buffer
	block := media.Silence(in, 4410)
	deadline := time.Now().Add(5 * time.Second)
	for out.Len() == 0 && time.Now().Before(deadline) {
		require.NoError(t, enc.Encode(&out, block))
		time.Sleep(20 * time.Millisecond)
	}
	require.NoError(t, enc.Close())
	require.NoError(t, enc.Close())

	require.NotZero(t, out.Len(), "ffmpeg produced no output")
	data := out.Bytes()
	// MP3 frame sync or an ID3 tag
	assert.True(t, (data[0] == 0xFF && data[1]&0xE0 == 0xE0) || string(data[:3]) == "ID3")
}
