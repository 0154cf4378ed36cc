package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQualityArithmetic(t *testing.T) {
	t.Parallel()

	q := DefaultQuality()
	assert.Equal(t, 4, q.BytesPerFrame())
	assert.Equal(t, 1764, q.SamplesToBytes(441))
	assert.Equal(t, 441, q.BytesToSamples(1765))
	assert.Equal(t, "44100/16/2@128k", q.String())

	q24 := Quality{SampleRate: 48000, BitsPerSample: 24, Channels: 1}
	assert.Equal(t, 3, q24.BytesPerFrame())
	assert.Equal(t, "48000/24/1", q24.String())

	assert.Zero(t, Quality{}.BytesToSamples(100))
}

func TestQualityEquality(t *testing.T) {
	t.Parallel()

	a := DefaultQuality()
	b := DefaultQuality()
	assert.Equal(t, a, b)

	b.BitRate = 192000
	assert.NotEqual(t, a, b, "bit rate is part of quality identity")
}

func TestQualityValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, DefaultQuality().Validate())

	bad := []Quality{
		{SampleRate: 0, BitsPerSample: 16, Channels: 2},
		{SampleRate: 44100, BitsPerSample: 8, Channels: 2},
		{SampleRate: 44100, BitsPerSample: 16, Channels: 0},
		{SampleRate: 44100, BitsPerSample: 16, Channels: 2, BitRate: -1},
	}
	for _, q := range bad {
		assert.Error(t, q.Validate(), q.String())
	}
	assert.True(t, Quality{}.IsZero())
}

func TestSilence(t *testing.T) {
	t.Parallel()

	q := DefaultQuality()
	buf := Silence(q, q.SampleRate/100)

	assert.Equal(t, 441, buf.Samples)
	require.Len(t, buf.Data, 441*4)
	for _, b := range buf.Data {
		require.Zero(t, b)
	}
}

func TestBufferClone(t *testing.T) {
	t.Parallel()

	orig := Buffer{Data: []byte{1, 2, 3, 4}, Samples: 1, Quality: DefaultQuality()}
	clone := orig.Clone()
	orig.Data[0] = 9

	assert.Equal(t, byte(1), clone.Data[0])
	assert.Equal(t, orig.Quality, clone.Quality)
}

func TestMaxTickBytes(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 7680, MaxTickBytes(100))
	assert.Equal(t, 768000, MaxTickBytes(1))
	assert.Equal(t, 768000, MaxTickBytes(0))
	assert.Equal(t, 2912, MaxTickBytes(264), "rounds frames up")
}
