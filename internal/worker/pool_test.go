package worker

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/streamhub/internal/logger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestPool(t *testing.T, opts Options) *Pool {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = logger.NewWriterLogger(io.Discard, logger.LogLevelError).Module("worker")
	}
	p := New(opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = p.Stop(ctx)
	})
	return p
}

func TestExecuteCopiesArgument(t *testing.T) {
	release := make(chan struct{})
	got := make(chan []byte, 1)

	p := newTestPool(t, Options{Workers: 1})

	// occupy the only worker so the second job is still queued when the
	// caller overwrites its buffer
	p.Execute(func([]byte) { <-release }, nil, 0)

	buf := []byte("pcm-block")
	p.Execute(func(arg []byte) { got <- arg }, buf, 0)
	copy(buf, "XXXXXXXXX")
	close(release)

	select {
	case arg := <-got:
		assert.Equal(t, "pcm-block", string(arg))
	case <-time.After(2 * time.Second):
		t.Fatal("job did not run")
	}
}

func TestEveryQueuedJobRunsExactlyOnce(t *testing.T) {
	const jobs = 200

	var mu sync.Mutex
	seen := make(map[byte]int)
	var wg sync.WaitGroup
	wg.Add(jobs)

	p := newTestPool(t, Options{Workers: 4, QueueSize: jobs})
	for i := range jobs {
		p.Execute(func(arg []byte) {
			mu.Lock()
			seen[arg[0]]++
			mu.Unlock()
			wg.Done()
		}, []byte{byte(i)}, 0)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, jobs)
	for k, n := range seen {
		assert.Equal(t, 1, n, "job %d", k)
	}
	assert.Equal(t, uint64(jobs), p.Stats().Executed)
	assert.Zero(t, p.Stats().Dropped)
}

func TestQueueFullDropsWithoutBlocking(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var ran atomic.Int32

	p := newTestPool(t, Options{Workers: 1, QueueSize: 1})
	p.Execute(func([]byte) { close(started); <-release }, nil, 0)
	<-started

	p.Execute(func([]byte) { ran.Add(1) }, nil, 0) // fills the queue

	done := make(chan struct{})
	go func() {
		for range 5 {
			p.Execute(func([]byte) { ran.Add(1) }, nil, 0)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Execute blocked on a full queue")
	}
	close(release)

	assert.Eventually(t, func() bool { return ran.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(5), p.Stats().Dropped)
}

func TestDelayedJobRunsAfterDelay(t *testing.T) {
	p := newTestPool(t, Options{Workers: 2})

	start := time.Now()
	ranAt := make(chan time.Time, 1)
	p.Execute(func([]byte) { ranAt <- time.Now() }, nil, 50*time.Millisecond)

	select {
	case at := <-ranAt:
		assert.GreaterOrEqual(t, at.Sub(start), 50*time.Millisecond)
	case <-time.After(2 * time.Second):
		t.Fatal("delayed job did not run")
	}
	assert.Equal(t, uint64(1), p.Stats().Delayed)
}

func TestDelayedJobsRunInDueOrder(t *testing.T) {
	p := newTestPool(t, Options{Workers: 1})

	order := make(chan byte, 3)
	cb := func(arg []byte) { order <- arg[0] }
	p.Execute(cb, []byte{3}, 60*time.Millisecond)
	p.Execute(cb, []byte{1}, 20*time.Millisecond)
	p.Execute(cb, []byte{2}, 40*time.Millisecond)

	var got []byte
	for range 3 {
		select {
		case b := <-order:
			got = append(got, b)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out")
		}
	}
	assert.Equal(t, []byte{1, 2, 3}, got)
}

func TestInitAndExitHooksRunPerWorker(t *testing.T) {
	var inits, exits atomic.Int32

	p := New(Options{
		Workers: 3,
		Init:    func(int) error { inits.Add(1); return nil },
		Exit:    func(int) { exits.Add(1) },
		Logger:  logger.NewWriterLogger(io.Discard, logger.LogLevelError).Module("worker"),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, p.Stop(ctx))

	assert.Equal(t, int32(3), inits.Load())
	assert.Equal(t, int32(3), exits.Load())
}

func TestStopDiscardsPendingDelayedAndRejectsNewJobs(t *testing.T) {
	var ran atomic.Int32

	p := New(Options{
		Workers: 1,
		Logger:  logger.NewWriterLogger(io.Discard, logger.LogLevelError).Module("worker"),
	})
	p.Execute(func([]byte) { ran.Add(1) }, nil, time.Hour)
	require.Eventually(t, func() bool { return p.Stats().Pending == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, p.Stop(ctx))

	p.Execute(func([]byte) { ran.Add(1) }, nil, 0)

	assert.Zero(t, ran.Load())
	assert.Zero(t, p.Stats().Pending)
	assert.Equal(t, uint64(1), p.Stats().Dropped)
}

func TestPanickingJobDoesNotKillWorker(t *testing.T) {
	p := newTestPool(t, Options{Workers: 1})

	p.Execute(func([]byte) { panic("boom") }, nil, 0)

	done := make(chan struct{})
	p.Execute(func([]byte) { close(done) }, nil, 0)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker died after panic")
	}
	assert.Equal(t, uint64(1), p.Stats().Panicked)
}
