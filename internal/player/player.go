// Package player produces the continuous PCM stream fed to the fan-out
// encoder.
package player

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tphakala/streamhub/internal/errors"
	"github.com/tphakala/streamhub/internal/logger"
	"github.com/tphakala/streamhub/internal/media"
)

// DefaultTicksPerSec is how many deliveries the player makes per second.
const DefaultTicksPerSec = 100

// Output receives the player's audio. Write must not block and must not
// retain buf.Data after returning.
type Output interface {
	Write(buf media.Buffer)
}

// State is the player's run state.
type State string

const (
	StateStopped State = "stopped"
	StatePlaying State = "playing"
	StatePaused  State = "paused"
)

// Status describes the player for the status endpoint.
type Status struct {
	State     State         `json:"state"`
	Source    string        `json:"source"`
	Title     string        `json:"title"`
	Quality   media.Quality `json:"quality"`
	Delivered uint64        `json:"delivered"`
	Underruns uint64        `json:"underruns"`
}

// Options configures a Player.
type Options struct {
	TicksPerSec int
	Logger      logger.Logger

	// OnTitle is called whenever the source's title changes.
	OnTitle func(title string)
}

// Player paces a Source in real time.
type Player struct {
	src  Source
	kind string
	out  Output
	opts Options
	log  logger.Logger

	mu     sync.Mutex
	state  State
	paused bool
	title  string

	delivered atomic.Uint64
	underruns atomic.Uint64
}

// New creates a stopped player reading src.
func New(kind string, src Source, out Output, opts Options) *Player {
	if opts.TicksPerSec <= 0 {
		opts.TicksPerSec = DefaultTicksPerSec
	}
	if opts.Logger == nil {
		opts.Logger = logger.Global().Module("player")
	}
	return &Player{
		src:   src,
		kind:  kind,
		out:   out,
		opts:  opts,
		log:   opts.Logger,
		state: StateStopped,
	}
}

// Run delivers audio every tick until ctx is done or the source fails. The
// source is closed on return.
func (p *Player) Run(ctx context.Context) error {
	defer func() {
		if err := p.src.Close(); err != nil {
			p.log.Warn("source close failed", logger.Error(err))
		}
	}()

	q := p.src.Quality()
	if err := q.Validate(); err != nil {
		return errors.New(err).
			Component("player").
			Category(errors.CategoryAudioSource).
			Context("source", p.kind).
			Build()
	}

	frames := q.SampleRate / p.opts.TicksPerSec
	buf := make([]byte, q.SamplesToBytes(frames))
	bpf := q.BytesPerFrame()

	ticker := time.NewTicker(time.Second / time.Duration(p.opts.TicksPerSec))
	defer ticker.Stop()

	p.setState(StatePlaying)
	defer p.setState(StateStopped)

	p.log.Info("player started",
		logger.String("source", p.kind),
		logger.String("quality", q.String()),
		logger.Int("ticks_per_sec", p.opts.TicksPerSec))
	p.updateTitle()

	for {
		select {
		case <-ctx.Done():
			p.log.Info("player stopped", logger.Uint64("delivered", p.delivered.Load()))
			return nil
		case <-ticker.C:
		}

		if p.isPaused() {
			continue
		}

		n, err := p.src.Read(buf)
		n -= n % bpf
		if n > 0 {
			p.out.Write(media.Buffer{Data: buf[:n], Samples: n / bpf, Quality: q})
			p.delivered.Add(1)
		}

		switch {
		case err == nil:
		case errors.Is(err, ErrNoData):
			p.underruns.Add(1)
		default:
			return errors.New(err).
				Component("player").
				Category(errors.CategoryAudioSource).
				Context("source", p.kind).
				Build()
		}

		p.updateTitle()
	}
}

func (p *Player) updateTitle() {
	title := p.src.Title()

	p.mu.Lock()
	changed := title != p.title
	p.title = title
	p.mu.Unlock()

	if changed {
		p.log.Debug("title changed", logger.String("title", title))
		if p.opts.OnTitle != nil {
			p.opts.OnTitle(title)
		}
	}
}

// Pause stops deliveries. Clients keep receiving encoded silence.
func (p *Player) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = true
	if p.state == StatePlaying {
		p.state = StatePaused
	}
}

// Resume restarts deliveries after Pause.
func (p *Player) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = false
	if p.state == StatePaused {
		p.state = StatePlaying
	}
}

func (p *Player) isPaused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

func (p *Player) setState(s State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s == StatePlaying && p.paused {
		s = StatePaused
	}
	p.state = s
}

// State returns the current run state.
func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Status returns a snapshot for reporting.
func (p *Player) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Status{
		State:     p.state,
		Source:    p.kind,
		Title:     p.title,
		Quality:   p.src.Quality(),
		Delivered: p.delivered.Load(),
		Underruns: p.underruns.Load(),
	}
}
