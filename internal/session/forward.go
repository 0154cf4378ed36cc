package session

import (
	"io"

	"github.com/tphakala/streamhub/internal/errors"
	"github.com/tphakala/streamhub/internal/logger"
	"github.com/tphakala/streamhub/internal/pipe"
)

// forwarder moves bytes from one pipe reader to the client. onReady only
// runs on the request's loop.
type forwarder struct {
	reg    *Registry
	s      *Session
	reader *pipe.Reader
	buf    []byte
}

func (f *forwarder) onReady() {
	if !f.s.preambleSent.Load() {
		if pre := f.s.key.Format.Preamble(f.s.key.Quality); len(pre) > 0 && !f.send(pre) {
			return
		}
		f.s.preambleSent.Store(true)
	}

	for {
		n, err := f.reader.Read(f.buf)
		if n > 0 {
			out := f.buf[:n]
			if f.s.icy != nil {
				var blocks int
				out, blocks = f.s.icy.Splice(out, f.reg.Title())
				for range blocks {
					f.reg.metrics.RecordICYMetadata()
				}
			}
			if !f.send(out) {
				return
			}
		}

		switch {
		case err == nil:
		case errors.Is(err, pipe.ErrNoData):
			return
		case errors.Is(err, io.EOF):
			f.reg.detachIfCurrent(f.s, f)
			return
		default:
			// Reader was replaced or released.
			return
		}
	}
}

// send writes b to the client. A failed write is left to the facade's close
// notification.
func (f *forwarder) send(b []byte) bool {
	if err := f.s.req.SendChunk(b); err != nil {
		f.reg.log.Debug("chunk write failed",
			logger.String("session_id", f.s.id),
			logger.Error(err))
		return false
	}
	f.s.sent.Add(uint64(len(b)))
	f.reg.metrics.AddForwardedBytes(len(b))
	return true
}
