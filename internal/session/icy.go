package session

import (
	"strings"
	"unicode/utf8"
)

// ICY metadata interval bounds, in bytes of audio between blocks.
const (
	DefaultICYMetaint = 16384
	MinICYMetaint     = 4096
	MaxICYMetaint     = 131072
)

// maxICYBlock is the largest payload a one byte length prefix can describe.
const maxICYBlock = 255 * 16

// ValidICYMetaint returns v if it lies within bounds, otherwise the default
// and false.
func ValidICYMetaint(v int) (int, bool) {
	if v < MinICYMetaint || v > MaxICYMetaint {
		return DefaultICYMetaint, false
	}
	return v, true
}

// ICYBlock encodes title as an ICY metadata block: a length byte counting
// 16 byte units followed by the zero padded payload. An empty title yields
// the one byte empty block.
func ICYBlock(title string) []byte {
	if title == "" {
		return []byte{0}
	}

	// Quotes would terminate the value early.
	title = strings.ReplaceAll(title, "'", "`")
	payload := "StreamTitle='" + title + "';"
	if len(payload) > maxICYBlock {
		cut := maxICYBlock - 2
		for cut > 0 && !utf8.RuneStart(payload[cut]) {
			cut--
		}
		payload = payload[:cut] + "';"
	}

	units := (len(payload) + 15) / 16
	b := make([]byte, 1+units*16)
	b[0] = byte(units)
	copy(b[1:], payload)
	return b
}

// icySplicer interleaves metadata blocks into an audio byte stream so that a
// block follows every metaint bytes of audio. A full title block is sent when
// the title changed since the previous block, otherwise an empty block.
type icySplicer struct {
	metaint int
	count   int // audio bytes since the last block
	sent    string
	out     []byte
}

func newICYSplicer(metaint int) *icySplicer {
	return &icySplicer{metaint: metaint}
}

// Splice returns b with metadata blocks inserted. The result is only valid
// until the next call.
func (s *icySplicer) Splice(b []byte, title string) (out []byte, blocks int) {
	s.out = s.out[:0]
	for len(b) > 0 {
		if s.count == s.metaint {
			s.out = append(s.out, s.block(title)...)
			s.count = 0
			blocks++
		}
		n := min(s.metaint-s.count, len(b))
		s.out = append(s.out, b[:n]...)
		s.count += n
		b = b[n:]
	}
	return s.out, blocks
}

func (s *icySplicer) block(title string) []byte {
	if title == s.sent {
		return []byte{0}
	}
	s.sent = title
	if title == "" {
		// Clear a previously sent title.
		return ICYBlock(" ")
	}
	return ICYBlock(title)
}
