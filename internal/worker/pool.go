// Package worker runs short jobs on a fixed set of long-lived goroutines so
// that the audio producer never waits on encoding.
//
// Dispatch is best effort. A job that cannot be queued is logged, counted
// and dropped; the caller is not told and nothing is retried.
package worker

import (
	"container/heap"
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/tphakala/streamhub/internal/errors"
	"github.com/tphakala/streamhub/internal/logger"
	"github.com/tphakala/streamhub/internal/observability/metrics"
)

const (
	// DefaultWorkers is the number of worker goroutines.
	DefaultWorkers = 4

	// DefaultQueueSize bounds jobs waiting for a free worker.
	DefaultQueueSize = 256
)

var (
	// ErrPoolStopped is logged for jobs submitted after Stop.
	ErrPoolStopped = errors.NewStd("worker pool is stopped")

	// ErrQueueFull is logged for jobs dropped because every worker is busy
	// and the queue is at capacity.
	ErrQueueFull = errors.NewStd("worker queue is full")
)

// Callback is the body of a job. arg is the job's private copy of the
// argument passed to Execute.
type Callback func(arg []byte)

// Options configures a Pool.
type Options struct {
	// Workers is the number of goroutines. Defaults to DefaultWorkers.
	Workers int

	// QueueSize bounds pending immediate jobs. Defaults to DefaultQueueSize.
	QueueSize int

	// Init runs once on each worker before it accepts jobs.
	Init func(workerID int) error

	// Exit runs once on each worker after it stops accepting jobs.
	Exit func(workerID int)

	Logger  logger.Logger
	Metrics *metrics.WorkerMetrics
}

// Stats is a snapshot of pool counters.
type Stats struct {
	Workers  int    `json:"workers"`
	Queued   int    `json:"queued"`
	Pending  int64  `json:"pending_delayed"`
	Executed uint64 `json:"executed"`
	Delayed  uint64 `json:"delayed"`
	Dropped  uint64 `json:"dropped"`
	Panicked uint64 `json:"panicked"`
}

type job struct {
	cb    Callback
	arg   []byte
	delay time.Duration
	due   time.Time
	seq   uint64
}

// Pool is a fixed-size worker pool.
type Pool struct {
	opts    Options
	log     logger.Logger
	metrics *metrics.WorkerMetrics

	jobs chan *job

	mu      sync.RWMutex // guards stopped and sends on jobs
	stopped bool

	wg   sync.WaitGroup
	done chan struct{}

	seq      atomic.Uint64
	executed atomic.Uint64
	delayed  atomic.Uint64
	dropped  atomic.Uint64
	panicked atomic.Uint64
	pending  atomic.Int64

	dropLimiter *rate.Limiter
}

// New starts a pool. Workers are running when New returns.
func New(opts Options) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	log := opts.Logger
	if log == nil {
		log = logger.Global().Module("worker")
	}

	p := &Pool{
		opts:        opts,
		log:         log,
		metrics:     opts.Metrics,
		jobs:        make(chan *job, opts.QueueSize),
		done:        make(chan struct{}),
		dropLimiter: rate.NewLimiter(rate.Every(time.Second), 5),
	}

	for id := range opts.Workers {
		w := &worker{id: id, pool: p}
		p.wg.Go(w.run)
	}
	go func() {
		p.wg.Wait()
		close(p.done)
	}()

	p.log.Info("worker pool started",
		logger.Int("workers", opts.Workers),
		logger.Int("queue_size", opts.QueueSize))

	return p
}

// Execute schedules cb to run on a worker with a private copy of arg.
// The caller may reuse arg as soon as Execute returns. With delay > 0 the
// worker that picks the job up holds it on its own timer until due.
func (p *Pool) Execute(cb Callback, arg []byte, delay time.Duration) {
	if cb == nil {
		return
	}

	j := &job{
		cb:    cb,
		delay: delay,
		seq:   p.seq.Add(1),
	}
	if arg != nil {
		j.arg = append(make([]byte, 0, len(arg)), arg...)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped {
		p.drop(ErrPoolStopped)
		return
	}

	select {
	case p.jobs <- j:
	default:
		p.drop(ErrQueueFull)
	}
}

func (p *Pool) drop(reason error) {
	n := p.dropped.Add(1)
	p.metrics.RecordJob(metrics.JobStatusDropped)
	if p.dropLimiter.Allow() {
		p.log.Warn("job dropped",
			logger.Error(reason),
			logger.Uint64("dropped_total", n),
			logger.Int("queue_size", p.opts.QueueSize))
	}
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Workers:  p.opts.Workers,
		Queued:   len(p.jobs),
		Pending:  p.pending.Load(),
		Executed: p.executed.Load(),
		Delayed:  p.delayed.Load(),
		Dropped:  p.dropped.Load(),
		Panicked: p.panicked.Load(),
	}
}

// Stop stops accepting jobs and waits for the workers to exit. Jobs already
// queued still run; delayed jobs that are not yet due are discarded.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		close(p.jobs)
	}
	p.mu.Unlock()

	select {
	case <-p.done:
		p.log.Info("worker pool stopped",
			logger.Uint64("executed", p.executed.Load()),
			logger.Uint64("dropped", p.dropped.Load()))
		return nil
	case <-ctx.Done():
		return errors.New(fmt.Errorf("waiting for workers: %w", ctx.Err())).
			Component("worker").
			Category(errors.CategoryTimeout).
			Build()
	}
}

// worker owns a private timer and a heap of its delayed jobs.
type worker struct {
	id      int
	pool    *Pool
	pending jobHeap
	timer   *time.Timer
}

func (w *worker) run() {
	p := w.pool
	log := p.log.With(logger.Int("worker_id", w.id))

	if p.opts.Init != nil {
		if err := p.opts.Init(w.id); err != nil {
			log.Error("worker init failed", logger.Error(err))
		}
	}
	p.metrics.WorkerStarted()
	defer func() {
		if p.opts.Exit != nil {
			p.opts.Exit(w.id)
		}
		p.metrics.WorkerStopped()
	}()

	w.timer = time.NewTimer(time.Hour)
	w.timer.Stop()

	for {
		var timerC <-chan time.Time
		if w.pending.Len() > 0 {
			timerC = w.timer.C
		}

		select {
		case j, ok := <-p.jobs:
			if !ok {
				w.discardPending(log)
				return
			}
			if j.delay > 0 {
				j.due = time.Now().Add(j.delay)
				heap.Push(&w.pending, j)
				p.pending.Add(1)
				p.delayed.Add(1)
				p.metrics.RecordJob(metrics.JobStatusDelayed)
				w.rearm()
				continue
			}
			w.execute(j, log)

		case <-timerC:
			now := time.Now()
			for w.pending.Len() > 0 && !w.pending[0].due.After(now) {
				j := heap.Pop(&w.pending).(*job) //nolint:forcetypeassert // heap only holds *job
				p.pending.Add(-1)
				w.execute(j, log)
			}
			w.rearm()
		}
	}
}

func (w *worker) rearm() {
	if w.pending.Len() == 0 {
		w.timer.Stop()
		return
	}
	w.timer.Reset(max(time.Until(w.pending[0].due), 0))
}

func (w *worker) discardPending(log logger.Logger) {
	w.timer.Stop()
	if n := w.pending.Len(); n > 0 {
		w.pool.pending.Add(int64(-n))
		for range n {
			w.pool.metrics.RecordJob(metrics.JobStatusExpired)
		}
		log.Debug("discarding delayed jobs on stop", logger.Int("count", n))
		w.pending = nil
	}
}

func (w *worker) execute(j *job, log logger.Logger) {
	p := w.pool
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			p.panicked.Add(1)
			p.metrics.RecordJob(metrics.JobStatusPanicked)
			log.Error("job panicked",
				logger.Any("panic", r),
				logger.String("stack", string(debug.Stack())))
			return
		}
		p.executed.Add(1)
		p.metrics.RecordJob(metrics.JobStatusExecuted)
		p.metrics.ObserveJobDuration(time.Since(start))
	}()

	j.cb(j.arg)
	j.arg = nil
}

// jobHeap orders delayed jobs by due time, then submission order.
type jobHeap []*job

func (h jobHeap) Len() int { return len(h) }
func (h jobHeap) Less(i, j int) bool {
	if h[i].due.Equal(h[j].due) {
		return h[i].seq < h[j].seq
	}
	return h[i].due.Before(h[j].due)
}
func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *jobHeap) Push(x any)   { *h = append(*h, x.(*job)) } //nolint:forcetypeassert // heap only holds *job
func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	j := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return j
}
