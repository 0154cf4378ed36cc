// Package pipe implements the byte channel between an encode group and the
// sessions that read from it.
//
// A Pipe has one write end, owned by the group, and any number of read
// ends, one per attached session. Every reader gets its own copy of each
// write. Neither end ever blocks: a write that does not fit into a slow
// reader's buffer is dropped for that reader, and a read with nothing
// buffered returns ErrNoData. Closing the write end makes every reader see
// io.EOF once its buffer is drained.
package pipe

import (
	"io"
	"sync"
	"sync/atomic"

	"github.com/smallnest/ringbuffer"

	"github.com/tphakala/streamhub/internal/errors"
)

// DefaultBufferSize is the per-reader buffer capacity.
const DefaultBufferSize = 256 * 1024

var (
	// ErrClosedPipe is returned by Write once the write end is closed or
	// every read end has gone away.
	ErrClosedPipe = errors.NewStd("pipe: write on closed pipe")

	// ErrNoData is returned by Reader.Read when nothing is buffered yet.
	ErrNoData = errors.NewStd("pipe: no data available")

	// ErrChunkTooLarge is returned by Write when b exceeds the per-reader
	// buffer capacity and could never be delivered.
	ErrChunkTooLarge = errors.NewStd("pipe: chunk larger than reader buffer")
)

// Pipe is a non-blocking one-to-many byte channel.
type Pipe struct {
	mu       sync.Mutex
	readers  map[*Reader]struct{}
	attached bool // a reader has been attached at least once
	closed   bool
	bufSize  int
	written  atomic.Uint64
}

// New creates a pipe whose readers buffer up to bufSize bytes each.
func New(bufSize int) *Pipe {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	return &Pipe{
		readers: make(map[*Reader]struct{}),
		bufSize: bufSize,
	}
}

// Attach opens a new read end. Attaching to a closed pipe returns a reader
// that reports io.EOF immediately.
func (p *Pipe) Attach() *Reader {
	r := &Reader{
		pipe:  p,
		rb:    ringbuffer.New(p.bufSize),
		ready: make(chan struct{}, 1),
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		r.eof = true
		r.signal()
		return r
	}
	p.readers[r] = struct{}{}
	p.attached = true
	return r
}

// Write copies b to every attached reader. It fails with ErrClosedPipe when
// the pipe is closed, or when it had readers and all of them are gone, and
// with ErrChunkTooLarge when b can never fit a reader's buffer.
func (p *Pipe) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || (p.attached && len(p.readers) == 0) {
		return 0, ErrClosedPipe
	}
	if len(b) > p.bufSize {
		return 0, ErrChunkTooLarge
	}

	for r := range p.readers {
		r.push(b)
	}
	p.written.Add(uint64(len(b)))
	return len(b), nil
}

// Close closes the write end. Readers drain what they hold, then see io.EOF.
func (p *Pipe) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	for r := range p.readers {
		r.finish()
	}
	clear(p.readers)
	return nil
}

// BufferSize returns the per-reader buffer capacity.
func (p *Pipe) BufferSize() int {
	return p.bufSize
}

// Readers returns the number of attached read ends.
func (p *Pipe) Readers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.readers)
}

// Closed reports whether the write end has been closed.
func (p *Pipe) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// BytesWritten returns the total accepted by Write.
func (p *Pipe) BytesWritten() uint64 {
	return p.written.Load()
}

func (p *Pipe) detach(r *Reader) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.readers, r)
}

// Reader is one read end of a Pipe.
type Reader struct {
	pipe    *Pipe
	mu      sync.Mutex
	rb      *ringbuffer.RingBuffer
	ready   chan struct{}
	eof     bool
	closed  bool
	dropped atomic.Uint64
}

// Ready returns a channel that receives a value whenever new data, or EOF,
// becomes available. Callers drain with Read until ErrNoData after each
// signal.
func (r *Reader) Ready() <-chan struct{} {
	return r.ready
}

// Read copies buffered bytes into b. It returns ErrNoData when nothing is
// buffered, and io.EOF once the write end is closed and the buffer is empty.
func (r *Reader) Read(b []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return 0, io.ErrClosedPipe
	}
	if r.rb.Length() == 0 {
		if r.eof {
			return 0, io.EOF
		}
		return 0, ErrNoData
	}
	n, err := r.rb.Read(b)
	if errors.Is(err, ringbuffer.ErrIsEmpty) {
		err = nil
	}
	return n, err
}

// Buffered returns the number of bytes waiting to be read.
func (r *Reader) Buffered() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rb.Length()
}

// Dropped returns how many bytes were discarded because this reader's
// buffer was full.
func (r *Reader) Dropped() uint64 {
	return r.dropped.Load()
}

// Close detaches the read end. When the last reader detaches, further
// writes fail with ErrClosedPipe.
func (r *Reader) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.rb.Reset()
	r.mu.Unlock()

	r.pipe.detach(r)
	return nil
}

// push is called with the pipe lock held. A chunk that does not fit is
// dropped whole so encoded frames are never split.
func (r *Reader) push(b []byte) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	if r.rb.Free() < len(b) {
		r.mu.Unlock()
		r.dropped.Add(uint64(len(b)))
		return
	}
	_, _ = r.rb.Write(b)
	r.mu.Unlock()
	r.signal()
}

func (r *Reader) finish() {
	r.mu.Lock()
	r.eof = true
	r.mu.Unlock()
	r.signal()
}

func (r *Reader) signal() {
	select {
	case r.ready <- struct{}{}:
	default:
	}
}
