package streaming

import (
	"fmt"
	"strings"

	"github.com/tphakala/streamhub/internal/codec"
	"github.com/tphakala/streamhub/internal/errors"
	"github.com/tphakala/streamhub/internal/media"
)

// Format is a streaming output format.
type Format int

const (
	FormatMP3 Format = iota + 1
	FormatMP3ICY
	FormatWAV
)

// Formats lists every supported format.
var Formats = []Format{FormatMP3, FormatMP3ICY, FormatWAV}

func (f Format) String() string {
	switch f {
	case FormatMP3:
		return "mp3"
	case FormatMP3ICY:
		return "mp3-icy"
	case FormatWAV:
		return "wav"
	default:
		return fmt.Sprintf("format(%d)", int(f))
	}
}

// ParseFormat parses the String form of a Format.
func ParseFormat(s string) (Format, error) {
	for _, f := range Formats {
		if strings.EqualFold(s, f.String()) {
			return f, nil
		}
	}
	return 0, errors.Newf("unknown stream format %q", s).
		Component("streaming").
		Category(errors.CategoryValidation).
		Build()
}

// Codec returns the codec family that produces this format.
func (f Format) Codec() codec.Kind {
	if f == FormatWAV {
		return codec.KindPCM
	}
	return codec.KindMP3
}

// ContentType is the HTTP Content-Type for the format.
func (f Format) ContentType() string {
	if f == FormatWAV {
		return "audio/wav"
	}
	return "audio/mpeg"
}

// ICY reports whether sessions of this format receive interleaved metadata.
func (f Format) ICY() bool {
	return f == FormatMP3ICY
}

// Preamble returns bytes a session must receive before joining the group's
// stream, or nil. MP3 frames resynchronise on their own; WAV needs a header.
func (f Format) Preamble(q media.Quality) []byte {
	if f == FormatWAV {
		return codec.WAVHeader(q)
	}
	return nil
}

// Key identifies an encode group.
type Key struct {
	Format  Format
	Quality media.Quality
}

func (k Key) String() string {
	return k.Format.String() + "@" + k.Quality.String()
}
