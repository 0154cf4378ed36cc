package session

import (
	"bytes"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidICYMetaint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   int
		want int
		ok   bool
	}{
		{0, DefaultICYMetaint, false},
		{4095, DefaultICYMetaint, false},
		{4096, 4096, true},
		{8192, 8192, true},
		{131072, 131072, true},
		{131073, DefaultICYMetaint, false},
		{-1, DefaultICYMetaint, false},
	}
	for _, tt := range tests {
		got, ok := ValidICYMetaint(tt.in)
		assert.Equal(t, tt.want, got, "metaint %d", tt.in)
		assert.Equal(t, tt.ok, ok, "metaint %d", tt.in)
	}
}

func TestICYBlock(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []byte{0}, ICYBlock(""))

	b := ICYBlock("Tone 440 Hz")
	payload := "StreamTitle='Tone 440 Hz';"
	require.Len(t, b, 1+32)
	assert.Equal(t, byte(2), b[0])
	assert.Equal(t, payload, string(bytes.TrimRight(b[1:], "\x00")))

	q := ICYBlock("it's")
	assert.Contains(t, string(q), "StreamTitle='it`s';")

	long := ICYBlock(strings.Repeat("x", 5000))
	assert.Len(t, long, 1+maxICYBlock)
	assert.Equal(t, byte(255), long[0])
	assert.True(t, bytes.HasSuffix(long, []byte("';")))

	// The byte limit falls inside a two byte rune and must not split it.
	accented := ICYBlock(strings.Repeat("é", 3000))
	text := bytes.TrimRight(accented[1:], "\x00")
	assert.True(t, utf8.Valid(text))
	assert.True(t, bytes.HasSuffix(text, []byte("é';")))
	assert.Equal(t, byte(255), accented[0])
}

// splitICY parses a spliced stream back into audio and metadata blocks and
// fails if a block sits anywhere but on a metaint boundary.
func splitICY(t *testing.T, stream []byte, metaint int) (audio []byte, blocks [][]byte) {
	t.Helper()
	for len(stream) > 0 {
		n := min(metaint, len(stream))
		audio = append(audio, stream[:n]...)
		stream = stream[n:]
		if len(stream) == 0 {
			break
		}
		require.Equal(t, metaint, n)
		size := 1 + int(stream[0])*16
		require.LessOrEqual(t, size, len(stream))
		blocks = append(blocks, stream[:size])
		stream = stream[size:]
	}
	return audio, blocks
}

func TestICYSplicerBoundaries(t *testing.T) {
	t.Parallel()

	const metaint = 4096
	sp := newICYSplicer(metaint)

	var src, stream []byte
	// Chunk sizes chosen to straddle boundaries in different ways.
	for i, size := range []int{1000, 3096, 1, 8191, 4096, 5000, 12288, 7} {
		chunk := bytes.Repeat([]byte{byte(i + 1)}, size)
		src = append(src, chunk...)
		out, _ := sp.Splice(chunk, "title")
		stream = append(stream, out...)
	}

	audio, blocks := splitICY(t, stream, metaint)
	assert.Equal(t, src, audio)
	assert.Len(t, blocks, len(src)/metaint)
	assert.Equal(t, ICYBlock("title"), blocks[0])
	for _, b := range blocks[1:] {
		assert.Equal(t, []byte{0}, b, "unchanged title sends an empty block")
	}
}

func TestICYSplicerExactBoundaryDefersBlock(t *testing.T) {
	t.Parallel()

	sp := newICYSplicer(4096)
	out, n := sp.Splice(make([]byte, 4096), "a")
	assert.Len(t, out, 4096)
	assert.Zero(t, n)

	out, n = sp.Splice([]byte{1}, "a")
	assert.Equal(t, 1, n)
	assert.Equal(t, append(ICYBlock("a"), 1), out)
}

func TestICYSplicerTitleChange(t *testing.T) {
	t.Parallel()

	sp := newICYSplicer(4096)
	var stream []byte
	// The first call fills the interval without a block, so each later
	// title lands in the block preceding its audio.
	for _, title := range []string{"", "one", "one", "two"} {
		out, _ := sp.Splice(make([]byte, 4096), title)
		stream = append(stream, out...)
	}
	out, _ := sp.Splice([]byte{0}, "")
	stream = append(stream, out...)

	_, blocks := splitICY(t, stream, 4096)
	require.Len(t, blocks, 4)
	assert.Equal(t, ICYBlock("one"), blocks[0])
	assert.Equal(t, []byte{0}, blocks[1])
	assert.Equal(t, ICYBlock("two"), blocks[2])
	assert.Equal(t, ICYBlock(" "), blocks[3])
}
