// Package session tracks live streaming sessions and forwards their encode
// group's bytes to the client.
//
// A session is alive exactly as long as it is linked in the registry list.
// Every asynchronous path (close callbacks, read watches) checks membership
// under the registry lock before touching session state.
package session

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/tphakala/streamhub/internal/errors"
	"github.com/tphakala/streamhub/internal/logger"
	"github.com/tphakala/streamhub/internal/media"
	"github.com/tphakala/streamhub/internal/observability/metrics"
	"github.com/tphakala/streamhub/internal/pipe"
	"github.com/tphakala/streamhub/internal/streaming"
)

// ErrUnknownSession is returned for sessions no longer in the registry.
var ErrUnknownSession = errors.NewStd("session not registered")

// Notifier is told whenever the set of sessions changes.
type Notifier interface {
	NotifyClientsChanged()
}

// Config configures a Registry.
type Config struct {
	// ICYMetaint is the number of audio bytes between ICY metadata blocks.
	ICYMetaint int
}

// Session is one connected streaming client.
type Session struct {
	id        string
	req       Request
	key       streaming.Key
	connected time.Time
	sent      atomic.Uint64

	// Set by the request's loop once the format preamble reached the client.
	preambleSent atomic.Bool

	// Guarded by Registry.mu.
	pipe    *pipe.Pipe
	fwd     *forwarder
	release func()
	icy     *icySplicer
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// StreamKey implements streaming.Subscriber.
func (s *Session) StreamKey() streaming.Key { return s.key }

// Info describes a session for status reporting.
type Info struct {
	ID         string        `json:"id"`
	Format     string        `json:"format"`
	Quality    media.Quality `json:"quality"`
	RemoteAddr string        `json:"remote_addr"`
	UserAgent  string        `json:"user_agent,omitempty"`
	Connected  time.Time     `json:"connected"`
	BytesSent  uint64        `json:"bytes_sent"`
	Attached   bool          `json:"attached"`
}

// EventType tells observers what happened.
type EventType string

const (
	EventConnected    EventType = "connected"
	EventDisconnected EventType = "disconnected"
)

// Event is delivered to registry observers.
type Event struct {
	Type    EventType `json:"type"`
	Session Info      `json:"session"`
	Count   int       `json:"count"`
}

// Registry is the session registry.
type Registry struct {
	cfg     Config
	log     logger.Logger
	metrics *metrics.StreamingMetrics

	notifier atomic.Pointer[Notifier]
	title    atomic.Pointer[string]

	mu       sync.Mutex
	sessions []*Session

	obsMu     sync.RWMutex
	observers []func(Event)

	staleLimiter *rate.Limiter
}

// NewRegistry creates an empty registry. An out of range ICYMetaint is
// replaced by the default.
func NewRegistry(cfg Config, log logger.Logger, m *metrics.StreamingMetrics) *Registry {
	if log == nil {
		log = logger.Global().Module("session")
	}
	if v, ok := ValidICYMetaint(cfg.ICYMetaint); !ok {
		if cfg.ICYMetaint != 0 {
			log.Warn("icy metaint out of range, using default",
				logger.Int("configured", cfg.ICYMetaint),
				logger.Int("default", v))
		}
		cfg.ICYMetaint = v
	}

	r := &Registry{
		cfg:          cfg,
		log:          log,
		metrics:      m,
		staleLimiter: rate.NewLimiter(rate.Every(time.Second), 5),
	}
	empty := ""
	r.title.Store(&empty)
	return r
}

// SetNotifier connects the registry to the fan-out encoder.
func (r *Registry) SetNotifier(n Notifier) {
	r.notifier.Store(&n)
}

func (r *Registry) notify() {
	if n := r.notifier.Load(); n != nil && *n != nil {
		(*n).NotifyClientsChanged()
	}
}

// SetTitle sets the title sent in ICY metadata.
func (r *Registry) SetTitle(title string) {
	r.title.Store(&title)
}

// Title returns the current ICY title.
func (r *Registry) Title() string {
	return *r.title.Load()
}

// ICYMetaint returns the effective metadata interval.
func (r *Registry) ICYMetaint() int {
	return r.cfg.ICYMetaint
}

// Observe registers fn for connect and disconnect events. fn runs on the
// goroutine that changed the registry and must not block.
func (r *Registry) Observe(fn func(Event)) {
	r.obsMu.Lock()
	r.observers = append(r.observers, fn)
	r.obsMu.Unlock()
}

func (r *Registry) emit(ev Event) {
	r.obsMu.RLock()
	defer r.obsMu.RUnlock()
	for _, fn := range r.observers {
		fn(ev)
	}
}

// Create registers a session for req. No read watch is armed until the
// encoder attaches the session to a pipe.
func (r *Registry) Create(req Request, format streaming.Format, quality media.Quality) *Session {
	s := &Session{
		id:        uuid.NewString(),
		req:       req,
		key:       streaming.Key{Format: format, Quality: quality},
		connected: time.Now(),
	}
	if format.ICY() {
		s.icy = newICYSplicer(r.cfg.ICYMetaint)
	}

	r.mu.Lock()
	r.sessions = append(r.sessions, s)
	count := len(r.sessions)
	r.mu.Unlock()

	req.SetCloseCallback(func() { r.handleClose(s) })

	r.metrics.SessionOpened(format.String())
	r.log.Info("streaming session created",
		logger.String("session_id", s.id),
		logger.String("stream", s.key.String()),
		logger.String("remote_addr", req.RemoteAddr()),
		logger.Int("sessions", count))

	r.emit(Event{Type: EventConnected, Session: s.info(false), Count: count})
	r.notify()
	return s
}

// IsValid reports whether s is still registered.
func (r *Registry) IsValid(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.indexLocked(s) >= 0
}

func (r *Registry) indexLocked(s *Session) int {
	return slices.Index(r.sessions, s)
}

// AttachPipe points sub at p: the previous reader and watch are released, a
// reader is attached to p and a read watch is armed on the request's loop.
// The forwarder sends the format preamble first until one send succeeds. It is a no-op when sub already
// reads p. Called by the encoder with its group lock held.
func (r *Registry) AttachPipe(sub streaming.Subscriber, p *pipe.Pipe) error {
	s, ok := sub.(*Session)
	if !ok {
		return errors.Newf("unexpected subscriber type %T", sub).
			Component("session").
			Category(errors.CategoryValidation).
			Build()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.indexLocked(s) < 0 {
		r.warnStale("attach for removed session", s)
		return ErrUnknownSession
	}
	if s.pipe == p {
		return nil
	}

	r.detachLocked(s)

	fwd := &forwarder{
		reg:    r,
		s:      s,
		reader: p.Attach(),
		buf:    make([]byte, 16*1024),
	}
	s.pipe = p
	s.fwd = fwd
	s.release = s.req.AddReadWatch(fwd.reader.Ready(), fwd.onReady)

	r.log.Debug("session attached to encode group",
		logger.String("session_id", s.id),
		logger.String("stream", s.key.String()))
	return nil
}

// detachLocked releases the session's watch and reader.
func (r *Registry) detachLocked(s *Session) {
	if s.release != nil {
		s.release()
		s.release = nil
	}
	if s.fwd != nil {
		_ = s.fwd.reader.Close()
		s.fwd = nil
	}
	s.pipe = nil
}

// detachIfCurrent handles EOF from the session's pipe. The session stays
// registered and is attached to a fresh group on the next reconciliation.
func (r *Registry) detachIfCurrent(s *Session, f *forwarder) {
	r.mu.Lock()
	if r.indexLocked(s) < 0 || s.fwd != f {
		r.mu.Unlock()
		return
	}
	r.detachLocked(s)
	r.mu.Unlock()

	r.log.Debug("encode group closed under session",
		logger.String("session_id", s.id))
	r.notify()
}

// Remove unregisters s and releases its watch and reader. Removing an
// unknown session is a logged no-op.
func (r *Registry) Remove(s *Session) {
	r.mu.Lock()
	i := r.indexLocked(s)
	if i < 0 {
		r.mu.Unlock()
		r.warnStale("remove for unknown session", s)
		return
	}
	r.sessions = slices.Delete(r.sessions, i, i+1)
	r.detachLocked(s)
	info := s.info(false)
	count := len(r.sessions)
	r.mu.Unlock()

	r.metrics.SessionClosed(s.key.Format.String())
	r.log.Info("streaming session removed",
		logger.String("session_id", s.id),
		logger.String("stream", s.key.String()),
		logger.Uint64("bytes_sent", s.sent.Load()),
		logger.Duration("duration", time.Since(s.connected)),
		logger.Int("sessions", count))

	r.emit(Event{Type: EventDisconnected, Session: info, Count: count})
	r.notify()
}

// handleClose runs on the request's loop when the client goes away.
func (r *Registry) handleClose(s *Session) {
	if !r.IsValid(s) {
		r.warnStale("close callback for removed session", s)
		return
	}
	s.req.End()
	r.Remove(s)
}

// Shutdown closes every session without running their close callbacks.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	closing := r.sessions
	r.sessions = nil
	infos := make([]Info, 0, len(closing))
	for _, s := range closing {
		r.detachLocked(s)
		infos = append(infos, s.info(false))
	}
	r.mu.Unlock()

	for _, s := range closing {
		s.req.SetCloseCallback(nil)
		s.req.Close()
		r.metrics.SessionClosed(s.key.Format.String())
	}
	for _, info := range infos {
		r.emit(Event{Type: EventDisconnected, Session: info, Count: 0})
	}

	if len(closing) > 0 {
		r.log.Info("streaming sessions closed for shutdown", logger.Int("sessions", len(closing)))
	}
	r.notify()
}

// Subscribers returns a snapshot of the registered sessions.
func (r *Registry) Subscribers() []streaming.Subscriber {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]streaming.Subscriber, len(r.sessions))
	for i, s := range r.sessions {
		out[i] = s
	}
	return out
}

// Sessions returns status information for every session.
func (r *Registry) Sessions() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Info, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.info(s.pipe != nil))
	}
	return out
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) warnStale(msg string, s *Session) {
	if r.staleLimiter.Allow() {
		r.log.Warn(msg, logger.String("session_id", s.id))
	}
}

func (s *Session) info(attached bool) Info {
	return Info{
		ID:         s.id,
		Format:     s.key.Format.String(),
		Quality:    s.key.Quality,
		RemoteAddr: s.req.RemoteAddr(),
		UserAgent:  s.req.UserAgent(),
		Connected:  s.connected,
		BytesSent:  s.sent.Load(),
		Attached:   attached,
	}
}
