// Package streaming fans the player's PCM out to every connected client.
//
// Clients wanting the same format and quality share one encode group: one
// codec context and one pipe. Membership is reconciled with mark and sweep
// whenever the set of clients changes, and every delivery is encoded once
// per group on a worker goroutine.
package streaming

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/tphakala/streamhub/internal/codec"
	"github.com/tphakala/streamhub/internal/errors"
	"github.com/tphakala/streamhub/internal/logger"
	"github.com/tphakala/streamhub/internal/media"
	"github.com/tphakala/streamhub/internal/observability/metrics"
	"github.com/tphakala/streamhub/internal/pipe"
	"github.com/tphakala/streamhub/internal/worker"
)

// DefaultSilenceTicksPerSec matches the player's tick rate.
const DefaultSilenceTicksPerSec = 100

// Subscriber is a client that wants a stream.
type Subscriber interface {
	StreamKey() Key
}

// ClientProvider is the session side of reconciliation.
type ClientProvider interface {
	// Subscribers returns a snapshot of the connected clients.
	Subscribers() []Subscriber

	// AttachPipe makes sub read from p. It is a no-op when sub already
	// reads from p and fails when sub is no longer registered.
	AttachPipe(sub Subscriber, p *pipe.Pipe) error
}

// Dispatcher runs encode jobs off the player goroutine.
type Dispatcher interface {
	Execute(cb worker.Callback, arg []byte, delay time.Duration)
}

// Config configures an Encoder.
type Config struct {
	// SilenceTicksPerSec is how often silence is injected while the player
	// is idle. Defaults to DefaultSilenceTicksPerSec.
	SilenceTicksPerSec int

	// PipeBufferSize is the per-session pipe buffer. Defaults to
	// pipe.DefaultBufferSize.
	PipeBufferSize int
}

// Encoder is the fan-out encoder.
type Encoder struct {
	cfg     Config
	tick    time.Duration
	log     logger.Logger
	pool    Dispatcher
	codecs  *codec.Registry
	metrics *metrics.StreamingMetrics

	clients atomic.Pointer[ClientProvider]

	mu     sync.Mutex // group list lock
	groups []*group
	active atomic.Int32

	qmu         sync.Mutex
	lastQuality media.Quality

	notify chan struct{}
	arm    chan struct{}
	disarm chan struct{}

	warnLimiter *rate.Limiter
}

// New creates an Encoder. Run must be started for reconciliation and
// silence injection to happen.
func New(cfg Config, pool Dispatcher, codecs *codec.Registry, log logger.Logger, m *metrics.StreamingMetrics) *Encoder {
	if cfg.SilenceTicksPerSec <= 0 {
		cfg.SilenceTicksPerSec = DefaultSilenceTicksPerSec
	}
	if cfg.PipeBufferSize <= 0 {
		cfg.PipeBufferSize = pipe.DefaultBufferSize
	}
	if log == nil {
		log = logger.Global().Module("streaming")
	}

	return &Encoder{
		cfg:         cfg,
		tick:        time.Second / time.Duration(cfg.SilenceTicksPerSec),
		log:         log,
		pool:        pool,
		codecs:      codecs,
		metrics:     m,
		notify:      make(chan struct{}, 1),
		arm:         make(chan struct{}, 1),
		disarm:      make(chan struct{}, 1),
		warnLimiter: rate.NewLimiter(rate.Every(10*time.Second), 1),
	}
}

// SetClientProvider connects the encoder to the session registry.
func (e *Encoder) SetClientProvider(p ClientProvider) {
	e.clients.Store(&p)
}

func (e *Encoder) clientProvider() ClientProvider {
	if p := e.clients.Load(); p != nil {
		return *p
	}
	return nil
}

// NotifyClientsChanged asks the event loop to reconcile. Bursts of
// notifications collapse into one pass.
func (e *Encoder) NotifyClientsChanged() {
	signal(e.notify)
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Run is the encoder's event loop. It owns the silence timer and performs
// reconciliation on notification. It returns when ctx is done.
func (e *Encoder) Run(ctx context.Context) error {
	timer := time.NewTimer(e.tick)
	timer.Stop()
	defer timer.Stop()
	armed := false

	e.log.Info("fan-out encoder started",
		logger.Int("silence_ticks_per_sec", e.cfg.SilenceTicksPerSec))

	for {
		var timerC <-chan time.Time
		if armed {
			timerC = timer.C
		}

		select {
		case <-ctx.Done():
			return nil

		case <-e.notify:
			e.Reconcile()

		case <-e.arm:
			if e.active.Load() > 0 {
				timer.Reset(e.tick)
				armed = true
			}

		case <-e.disarm:
			timer.Stop()
			armed = false

		case <-timerC:
			armed = false
			if e.injectSilence() {
				timer.Reset(e.tick)
				armed = true
			}
		}
	}
}

// Write is the player's entry point. It never blocks on encoding: the PCM
// is copied into a worker job and encoded there. buf.Data may be reused as
// soon as Write returns.
func (e *Encoder) Write(buf media.Buffer) {
	if e.active.Load() == 0 {
		return
	}
	if buf.Quality.IsZero() {
		if e.warnLimiter.Allow() {
			e.log.Error("player delivered audio with zero channels",
				logger.String("quality", buf.Quality.String()))
		}
		return
	}

	signal(e.arm)
	e.setLastQuality(buf.Quality)
	e.metrics.RecordDelivery()
	e.dispatch(buf)
}

func (e *Encoder) dispatch(buf media.Buffer) {
	q, samples := buf.Quality, buf.Samples
	e.pool.Execute(func(data []byte) {
		e.encodeAll(media.Buffer{Data: data, Samples: samples, Quality: q})
	}, buf.Data, 0)
}

func (e *Encoder) setLastQuality(q media.Quality) {
	e.qmu.Lock()
	e.lastQuality = q
	e.qmu.Unlock()
}

// LastQuality returns the quality of the most recent player delivery.
func (e *Encoder) LastQuality() media.Quality {
	e.qmu.Lock()
	defer e.qmu.Unlock()
	return e.lastQuality
}

// injectSilence sends one tick of silence through the encode path. It
// reports whether the timer should be re-armed.
func (e *Encoder) injectSilence() bool {
	if e.active.Load() == 0 {
		return false
	}
	q := e.LastQuality()
	if q.IsZero() {
		return false
	}

	samples := q.SampleRate / e.cfg.SilenceTicksPerSec
	e.metrics.RecordSilence()
	e.dispatch(media.Silence(q, samples))
	return true
}

// Reconcile brings the group set in line with the connected clients:
// every wanted key gets a group, every client is attached to its group's
// pipe, and groups nobody wants are destroyed.
func (e *Encoder) Reconcile() {
	provider := e.clientProvider()

	var closing []codec.Encoder

	e.mu.Lock()
	if provider != nil {
		for _, sub := range provider.Subscribers() {
			key := sub.StreamKey()
			g := e.findLocked(key)
			if g == nil {
				g = newGroup(key, e.cfg.PipeBufferSize)
				e.groups = append(e.groups, g)
				e.log.Info("encode group created", logger.String("group", key.String()))
			}
			g.keep = true

			if err := provider.AttachPipe(sub, g.pipe); err != nil {
				e.log.Debug("client left before attach",
					logger.String("group", key.String()),
					logger.Error(err))
			}
		}
	}

	kept := e.groups[:0]
	for _, g := range e.groups {
		if !g.keep {
			closing = e.destroyLocked(g, metrics.ReasonUnwanted, closing)
			continue
		}
		g.keep = false
		kept = append(kept, g)
	}
	clear(e.groups[len(kept):])
	e.groups = kept
	count := len(e.groups)
	e.active.Store(int32(count))
	e.mu.Unlock()

	e.closeEncoders(closing)
	e.metrics.SetEncodeGroups(count)

	if count == 0 {
		signal(e.disarm)
	}
}

func (e *Encoder) findLocked(key Key) *group {
	for _, g := range e.groups {
		if g.key == key {
			return g
		}
	}
	return nil
}

// destroyLocked closes the group's pipe, which readers see as EOF, and
// queues its codec for closing once the lock is released.
func (e *Encoder) destroyLocked(g *group, reason string, closing []codec.Encoder) []codec.Encoder {
	_ = g.pipe.Close()
	if g.enc != nil {
		closing = append(closing, g.enc)
		g.enc = nil
	}
	e.metrics.RecordGroupDestroyed(reason)
	e.log.Info("encode group destroyed",
		logger.String("group", g.key.String()),
		logger.String("reason", reason),
		logger.Uint64("bytes_written", g.pipe.BytesWritten()))
	return closing
}

func (e *Encoder) closeEncoders(encs []codec.Encoder) {
	for _, enc := range encs {
		if err := enc.Close(); err != nil {
			e.log.Warn("codec close failed", logger.Error(err))
		}
	}
}

// encodeAll runs on a worker: one encode pass over every group.
func (e *Encoder) encodeAll(buf media.Buffer) {
	start := time.Now()
	var closing []codec.Encoder

	e.mu.Lock()
	kept := e.groups[:0]
	for _, g := range e.groups {
		var broken bool
		broken, closing = e.encodeGroupLocked(g, buf, closing)
		if broken {
			closing = e.destroyLocked(g, metrics.ReasonBrokenConsumer, closing)
			continue
		}
		kept = append(kept, g)
	}
	clear(e.groups[len(kept):])
	e.groups = kept
	count := len(e.groups)
	e.active.Store(int32(count))
	e.mu.Unlock()

	e.closeEncoders(closing)
	e.metrics.SetEncodeGroups(count)
	e.metrics.ObserveEncodePass(time.Since(start))
}

// encodeGroupLocked encodes buf for one group and writes the result to its
// pipe. It reports whether the pipe is broken and the group must go.
func (e *Encoder) encodeGroupLocked(g *group, buf media.Buffer, closing []codec.Encoder) (bool, []codec.Encoder) {
	format := g.key.Format.String()

	if g.enc == nil || g.inQ != buf.Quality {
		if g.enc != nil {
			closing = append(closing, g.enc)
			g.enc = nil
		}

		enc, err := e.buildEncoder(g, buf.Quality)
		if err != nil {
			e.metrics.RecordCodecError(format, "build")
			if g.errLimiter.Allow() {
				e.log.Error("cannot build codec, skipping group",
					logger.String("group", g.key.String()),
					logger.String("input", buf.Quality.String()),
					logger.Error(err))
			}
			return false, closing
		}
		g.enc = enc
		g.inQ = buf.Quality
		e.metrics.RecordCodecReset(format)
		e.log.Debug("codec context built",
			logger.String("group", g.key.String()),
			logger.String("input", buf.Quality.String()))
	}

	if err := g.enc.Encode(&g.out, buf); err != nil {
		e.metrics.RecordCodecError(format, "encode")
		if g.errLimiter.Allow() {
			e.log.Error("encode failed, resetting codec",
				logger.String("group", g.key.String()),
				logger.Error(err))
		}
		closing = append(closing, g.enc)
		g.enc = nil
		g.out.Reset()
		return false, closing
	}

	if g.out.Len() == 0 {
		return false, closing
	}

	pending := g.out.Len()
	n, err := g.pipe.Write(g.out.Bytes())
	g.out.Reset()
	if errors.Is(err, pipe.ErrChunkTooLarge) {
		e.metrics.RecordCodecError(format, "write")
		if g.errLimiter.Allow() {
			e.log.Error("encoded chunk exceeds pipe buffer, dropping it",
				logger.String("group", g.key.String()),
				logger.Int("chunk_bytes", pending),
				logger.Int("pipe_buffer", g.pipe.BufferSize()))
		}
		return false, closing
	}
	if err != nil {
		return errors.Is(err, pipe.ErrClosedPipe), closing
	}
	e.metrics.AddEncodedBytes(format, n)
	return false, closing
}

func (e *Encoder) buildEncoder(g *group, in media.Quality) (codec.Encoder, error) {
	factory, err := e.codecs.Factory(g.key.Format.Codec())
	if err != nil {
		return nil, err
	}
	return factory.NewEncoder(in, g.key.Quality)
}

// Groups returns a snapshot of the encode groups.
func (e *Encoder) Groups() []GroupInfo {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]GroupInfo, 0, len(e.groups))
	for _, g := range e.groups {
		out = append(out, g.info())
	}
	return out
}

// GroupCount returns the number of encode groups.
func (e *Encoder) GroupCount() int {
	return int(e.active.Load())
}

// Shutdown destroys every group. Sessions still attached see EOF.
func (e *Encoder) Shutdown() {
	var closing []codec.Encoder

	e.mu.Lock()
	for _, g := range e.groups {
		closing = e.destroyLocked(g, metrics.ReasonShutdown, closing)
	}
	clear(e.groups)
	e.groups = nil
	e.active.Store(0)
	e.mu.Unlock()

	e.closeEncoders(closing)
	e.metrics.SetEncodeGroups(0)
	signal(e.disarm)
}
