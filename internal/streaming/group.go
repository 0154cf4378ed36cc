package streaming

import (
	"bytes"
	"time"

	"golang.org/x/time/rate"

	"github.com/tphakala/streamhub/internal/codec"
	"github.com/tphakala/streamhub/internal/media"
	"github.com/tphakala/streamhub/internal/pipe"
)

// group is one encode target shared by every session wanting its key.
// All fields are guarded by Encoder.mu.
type group struct {
	key     Key
	pipe    *pipe.Pipe
	enc     codec.Encoder
	inQ     media.Quality // input quality enc was built for
	out     bytes.Buffer  // encoded bytes waiting for the pipe
	keep    bool
	created time.Time

	errLimiter *rate.Limiter
}

func newGroup(key Key, bufSize int) *group {
	return &group{
		key:        key,
		pipe:       pipe.New(bufSize),
		created:    time.Now(),
		errLimiter: rate.NewLimiter(rate.Every(5*time.Second), 1),
	}
}

// GroupInfo describes an encode group for status reporting.
type GroupInfo struct {
	Format       string        `json:"format"`
	Quality      media.Quality `json:"quality"`
	Readers      int           `json:"readers"`
	CodecActive  bool          `json:"codec_active"`
	InputQuality media.Quality `json:"input_quality"`
	BytesWritten uint64        `json:"bytes_written"`
	Age          string        `json:"age"`
}

func (g *group) info() GroupInfo {
	return GroupInfo{
		Format:       g.key.Format.String(),
		Quality:      g.key.Quality,
		Readers:      g.pipe.Readers(),
		CodecActive:  g.enc != nil,
		InputQuality: g.inQ,
		BytesWritten: g.pipe.BytesWritten(),
		Age:          time.Since(g.created).Round(time.Second).String(),
	}
}
