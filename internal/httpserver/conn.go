package httpserver

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// conn is the event loop of one streaming response. The handler goroutine
// runs the loop; read watches and other goroutines hand it work through
// tasks.
type conn struct {
	id           string
	c            echo.Context
	rc           *http.ResponseController
	writeTimeout time.Duration

	tasks  chan func()
	done   chan struct{} // loop exited
	closed chan struct{} // Close called
	once   sync.Once

	mu      sync.Mutex
	closeCb func()

	// Touched only by the loop.
	ended  bool
	failed bool

	watches sync.WaitGroup
}

func newConn(c echo.Context, writeTimeout time.Duration) *conn {
	return &conn{
		id:           uuid.NewString(),
		c:            c,
		rc:           http.NewResponseController(c.Response().Writer),
		writeTimeout: writeTimeout,
		tasks:        make(chan func(), 16),
		done:         make(chan struct{}),
		closed:       make(chan struct{}),
	}
}

func (c *conn) ID() string         { return c.id }
func (c *conn) RemoteAddr() string { return c.c.RealIP() }
func (c *conn) UserAgent() string  { return c.c.Request().UserAgent() }

func (c *conn) StartChunked(status int, header http.Header) error {
	h := c.c.Response().Header()
	for k, v := range header {
		h[k] = v
	}
	c.c.Response().WriteHeader(status)
	return c.rc.Flush()
}

func (c *conn) SendChunk(b []byte) error {
	if c.writeTimeout > 0 {
		// Not every writer supports deadlines.
		_ = c.rc.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if _, err := c.c.Response().Write(b); err != nil {
		c.failed = true
		return err
	}
	if err := c.rc.Flush(); err != nil {
		c.failed = true
		return err
	}
	return nil
}

func (c *conn) End() {
	c.ended = true
}

func (c *conn) SetCloseCallback(fn func()) {
	c.mu.Lock()
	c.closeCb = fn
	c.mu.Unlock()
}

func (c *conn) Close() {
	c.once.Do(func() { close(c.closed) })
}

func (c *conn) AddReadWatch(ready <-chan struct{}, fn func()) func() {
	stop := make(chan struct{})
	var stopOnce sync.Once
	var queued atomic.Bool

	run := func() {
		queued.Store(false)
		select {
		case <-stop:
			return
		default:
		}
		fn()
	}
	post := func() {
		if !queued.CompareAndSwap(false, true) {
			return
		}
		select {
		case c.tasks <- run:
		case <-stop:
		case <-c.done:
		}
	}

	c.watches.Add(1)
	go func() {
		defer c.watches.Done()
		post()
		for {
			select {
			case <-ready:
				post()
			case <-stop:
				return
			case <-c.done:
				return
			}
		}
	}()

	return func() { stopOnce.Do(func() { close(stop) }) }
}

// run serves the loop until the client leaves, the response ends or Close
// is called.
func (c *conn) run(ctx context.Context) {
	defer c.watches.Wait()
	defer close(c.done)

	for {
		select {
		case fn := <-c.tasks:
			fn()
			if c.failed {
				c.fireClose()
				return
			}
			if c.ended {
				return
			}
		case <-ctx.Done():
			c.fireClose()
			return
		case <-c.closed:
			return
		}
	}
}

func (c *conn) fireClose() {
	c.mu.Lock()
	cb := c.closeCb
	c.closeCb = nil
	c.mu.Unlock()

	if cb != nil {
		cb()
	}
}
