package streaming

import (
	"bytes"
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/streamhub/internal/codec"
	"github.com/tphakala/streamhub/internal/errors"
	"github.com/tphakala/streamhub/internal/logger"
	"github.com/tphakala/streamhub/internal/media"
	"github.com/tphakala/streamhub/internal/pipe"
	"github.com/tphakala/streamhub/internal/worker"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// syncDispatcher runs jobs inline so tests are deterministic.
type syncDispatcher struct {
	calls atomic.Int64
}

func (d *syncDispatcher) Execute(cb worker.Callback, arg []byte, _ time.Duration) {
	d.calls.Add(1)
	cb(bytes.Clone(arg))
}

type fakeEncoder struct {
	factory *fakeFactory
	in      media.Quality
	closed  atomic.Bool
}

func (e *fakeEncoder) Encode(dst *bytes.Buffer, buf media.Buffer) error {
	e.factory.mu.Lock()
	defer e.factory.mu.Unlock()
	if e.factory.failEncode {
		return errors.NewStd("encode failed")
	}
	e.factory.encoded = append(e.factory.encoded, buf.Clone())
	dst.Write(buf.Data)
	return nil
}

func (e *fakeEncoder) Close() error {
	e.closed.Store(true)
	return nil
}

type fakeFactory struct {
	mu         sync.Mutex
	built      []*fakeEncoder
	encoded    []media.Buffer
	failBuild  bool
	failEncode bool
}

func (f *fakeFactory) NewEncoder(in, _ media.Quality) (codec.Encoder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failBuild {
		return nil, codec.ErrUnsupportedQuality
	}
	enc := &fakeEncoder{factory: f, in: in}
	f.built = append(f.built, enc)
	return enc, nil
}

func (f *fakeFactory) builds() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.built)
}

func (f *fakeFactory) encodes() []media.Buffer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]media.Buffer(nil), f.encoded...)
}

type fakeSub struct {
	key Key
}

func (s *fakeSub) StreamKey() Key { return s.key }

type fakeProvider struct {
	mu      sync.Mutex
	subs    []*fakeSub
	readers map[*fakeSub]*pipe.Reader
	pipes   map[*fakeSub]*pipe.Pipe
	attachN int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		readers: make(map[*fakeSub]*pipe.Reader),
		pipes:   make(map[*fakeSub]*pipe.Pipe),
	}
}

func (p *fakeProvider) add(key Key) *fakeSub {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := &fakeSub{key: key}
	p.subs = append(p.subs, s)
	return s
}

func (p *fakeProvider) remove(s *fakeSub) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, x := range p.subs {
		if x == s {
			p.subs = append(p.subs[:i], p.subs[i+1:]...)
			break
		}
	}
	if r := p.readers[s]; r != nil {
		_ = r.Close()
	}
	delete(p.readers, s)
	delete(p.pipes, s)
}

func (p *fakeProvider) Subscribers() []Subscriber {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Subscriber, 0, len(p.subs))
	for _, s := range p.subs {
		out = append(out, s)
	}
	return out
}

func (p *fakeProvider) AttachPipe(sub Subscriber, pp *pipe.Pipe) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := sub.(*fakeSub) //nolint:forcetypeassert // test provider only hands out *fakeSub
	if p.pipes[s] == pp {
		return nil
	}
	if r := p.readers[s]; r != nil {
		_ = r.Close()
	}
	p.pipes[s] = pp
	p.readers[s] = pp.Attach()
	p.attachN++
	return nil
}

func (p *fakeProvider) reader(s *fakeSub) *pipe.Reader {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.readers[s]
}

func (p *fakeProvider) pipe(s *fakeSub) *pipe.Pipe {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pipes[s]
}

type fixture struct {
	enc      *Encoder
	factory  *fakeFactory
	provider *fakeProvider
	disp     *syncDispatcher
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	factory := &fakeFactory{}
	reg := codec.NewRegistry()
	reg.Register(codec.KindMP3, factory)
	reg.Register(codec.KindPCM, factory)

	disp := &syncDispatcher{}
	log := logger.NewWriterLogger(io.Discard, logger.LogLevelError).Module("streaming")
	enc := New(cfg, disp, reg, log, nil)
	provider := newFakeProvider()
	enc.SetClientProvider(provider)

	return &fixture{enc: enc, factory: factory, provider: provider, disp: disp}
}

func pcm(q media.Quality, samples int, fill byte) media.Buffer {
	b := media.Silence(q, samples)
	for i := range b.Data {
		b.Data[i] = fill
	}
	return b
}

func readAll(t *testing.T, r *pipe.Reader) []byte {
	t.Helper()
	var out []byte
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		out = append(out, buf[:n]...)
		if err != nil {
			return out
		}
	}
}

func mp3Key() Key {
	return Key{Format: FormatMP3, Quality: media.DefaultQuality()}
}

func TestSessionsWithSameKeyShareGroup(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})

	a := f.provider.add(mp3Key())
	b := f.provider.add(mp3Key())
	f.enc.Reconcile()

	require.Equal(t, 1, f.enc.GroupCount())
	assert.Same(t, f.provider.pipe(a), f.provider.pipe(b))

	q := media.DefaultQuality()
	f.enc.Write(pcm(q, 64, 7))

	assert.Equal(t, 1, f.factory.builds(), "one codec for both sessions")
	require.Len(t, f.factory.encodes(), 1, "one encode pass for both sessions")

	want := bytes.Repeat([]byte{7}, q.SamplesToBytes(64))
	assert.Equal(t, want, readAll(t, f.provider.reader(a))[:len(want)])
	assert.Equal(t, want, readAll(t, f.provider.reader(b))[:len(want)])
}

func TestDistinctKeysGetDistinctGroups(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})

	low := media.DefaultQuality()
	low.BitRate = 64000

	f.provider.add(mp3Key())
	f.provider.add(Key{Format: FormatMP3, Quality: low})
	f.provider.add(Key{Format: FormatWAV, Quality: media.DefaultQuality()})
	f.enc.Reconcile()

	assert.Equal(t, 3, f.enc.GroupCount())
	assert.Len(t, f.enc.Groups(), 3)
}

func TestReconcileIsIdempotent(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})

	s := f.provider.add(mp3Key())
	f.enc.Reconcile()
	p := f.provider.pipe(s)
	f.enc.Reconcile()
	f.enc.Reconcile()

	assert.Equal(t, 1, f.enc.GroupCount())
	assert.Same(t, p, f.provider.pipe(s))
	assert.Equal(t, 1, f.provider.attachN)
}

func TestRemovingLastSessionDestroysGroup(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})

	a := f.provider.add(mp3Key())
	b := f.provider.add(mp3Key())
	f.enc.Reconcile()
	p := f.provider.pipe(a)

	f.provider.remove(a)
	f.enc.Reconcile()
	assert.Equal(t, 1, f.enc.GroupCount())
	assert.False(t, p.Closed())

	rb := f.provider.reader(b)
	f.provider.mu.Lock()
	f.provider.subs = nil
	f.provider.mu.Unlock()
	f.enc.Reconcile()

	assert.Zero(t, f.enc.GroupCount())
	assert.True(t, p.Closed())
	_, err := rb.Read(make([]byte, 16))
	assert.ErrorIs(t, err, io.EOF)
}

func TestJoiningExistingGroupBuildsNoCodec(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	q := media.DefaultQuality()

	f.provider.add(mp3Key())
	f.enc.Reconcile()
	f.enc.Write(pcm(q, 32, 1))
	require.Equal(t, 1, f.factory.builds())

	late := f.provider.add(mp3Key())
	f.enc.Reconcile()
	f.enc.Write(pcm(q, 32, 2))

	assert.Equal(t, 1, f.factory.builds())
	got := readAll(t, f.provider.reader(late))
	assert.Equal(t, bytes.Repeat([]byte{2}, q.SamplesToBytes(32)), got)
}

func TestQualityChangeRebuildsCodec(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})

	f.provider.add(mp3Key())
	f.enc.Reconcile()

	q := media.DefaultQuality()
	f.enc.Write(pcm(q, 16, 1))
	f.enc.Write(pcm(q, 16, 1))
	require.Equal(t, 1, f.factory.builds())

	q48 := q
	q48.SampleRate = 48000
	f.enc.Write(pcm(q48, 16, 1))

	require.Equal(t, 2, f.factory.builds())
	f.factory.mu.Lock()
	first, second := f.factory.built[0], f.factory.built[1]
	f.factory.mu.Unlock()
	assert.True(t, first.closed.Load())
	assert.False(t, second.closed.Load())
	assert.Equal(t, q48, second.in)
	assert.Equal(t, q48, f.enc.LastQuality())
}

func TestBuildFailureSkipsGroup(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	f.factory.failBuild = true

	s := f.provider.add(mp3Key())
	f.enc.Reconcile()
	f.enc.Write(pcm(media.DefaultQuality(), 16, 1))

	assert.Equal(t, 1, f.enc.GroupCount(), "group survives a build failure")
	assert.Zero(t, f.provider.reader(s).Buffered())

	f.factory.mu.Lock()
	f.factory.failBuild = false
	f.factory.mu.Unlock()
	f.enc.Write(pcm(media.DefaultQuality(), 16, 1))
	assert.Positive(t, f.provider.reader(s).Buffered())
}

func TestEncodeFailureResetsCodec(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})

	f.provider.add(mp3Key())
	f.enc.Reconcile()

	f.factory.failEncode = true
	f.enc.Write(pcm(media.DefaultQuality(), 16, 1))
	require.Equal(t, 1, f.factory.builds())
	f.factory.mu.Lock()
	assert.True(t, f.factory.built[0].closed.Load())
	f.factory.failEncode = false
	f.factory.mu.Unlock()

	f.enc.Write(pcm(media.DefaultQuality(), 16, 1))
	assert.Equal(t, 2, f.factory.builds())
	assert.Equal(t, 1, f.enc.GroupCount())
}

func TestBrokenConsumerDestroysGroup(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})

	s := f.provider.add(mp3Key())
	f.enc.Reconcile()
	p := f.provider.pipe(s)

	// Reader goes away without the registry noticing yet.
	require.NoError(t, f.provider.reader(s).Close())
	f.enc.Write(pcm(media.DefaultQuality(), 16, 1))

	assert.Zero(t, f.enc.GroupCount())
	assert.True(t, p.Closed())
}

func TestOversizeChunkKeepsGroup(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{PipeBufferSize: 4096})

	s := f.provider.add(Key{Format: FormatWAV, Quality: media.DefaultQuality()})
	f.enc.Reconcile()
	p := f.provider.pipe(s)

	// 1920 frames of 16 bit stereo is 7680 bytes, more than the pipe holds.
	f.enc.Write(pcm(media.DefaultQuality(), 1920, 3))
	assert.Equal(t, 1, f.enc.GroupCount())
	assert.False(t, p.Closed())
	assert.Zero(t, p.BytesWritten())

	f.enc.Write(pcm(media.DefaultQuality(), 256, 3))
	assert.Len(t, readAll(t, f.provider.reader(s)), 1024)
}

func TestWriteWithoutGroupsIsNoop(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})

	f.enc.Write(pcm(media.DefaultQuality(), 16, 1))
	assert.Zero(t, f.disp.calls.Load())
	assert.True(t, f.enc.LastQuality().IsZero())
}

func TestWriteRejectsZeroQuality(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})

	f.provider.add(mp3Key())
	f.enc.Reconcile()
	f.enc.Write(media.Buffer{Data: []byte{1, 2}, Samples: 1})

	assert.Zero(t, f.disp.calls.Load())
}

func TestShutdownClosesEveryPipe(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})

	a := f.provider.add(mp3Key())
	b := f.provider.add(Key{Format: FormatWAV, Quality: media.DefaultQuality()})
	f.enc.Reconcile()
	f.enc.Write(pcm(media.DefaultQuality(), 16, 1))

	f.enc.Shutdown()

	assert.Zero(t, f.enc.GroupCount())
	assert.True(t, f.provider.pipe(a).Closed())
	assert.True(t, f.provider.pipe(b).Closed())
	f.factory.mu.Lock()
	for _, e := range f.factory.built {
		assert.True(t, e.closed.Load())
	}
	f.factory.mu.Unlock()
}

func TestSilenceInjectedWhilePlayerIdle(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{SilenceTicksPerSec: 50})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = f.enc.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	f.provider.add(mp3Key())
	f.enc.NotifyClientsChanged()
	require.Eventually(t, func() bool { return f.enc.GroupCount() == 1 }, time.Second, 5*time.Millisecond)

	q := media.DefaultQuality()
	f.enc.Write(pcm(q, 16, 9))

	require.Eventually(t, func() bool { return len(f.factory.encodes()) >= 4 }, 2*time.Second, 10*time.Millisecond)

	encoded := f.factory.encodes()
	for _, b := range encoded[1:] {
		assert.Equal(t, q, b.Quality)
		assert.Equal(t, q.SampleRate/50, b.Samples)
		assert.Equal(t, make([]byte, q.SamplesToBytes(q.SampleRate/50)), b.Data)
	}
}

func TestNoSilenceWithoutGroups(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{SilenceTicksPerSec: 100})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = f.enc.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	s := f.provider.add(mp3Key())
	f.enc.NotifyClientsChanged()
	require.Eventually(t, func() bool { return f.enc.GroupCount() == 1 }, time.Second, 5*time.Millisecond)
	f.enc.Write(pcm(media.DefaultQuality(), 16, 9))

	f.provider.remove(s)
	f.enc.NotifyClientsChanged()
	require.Eventually(t, func() bool { return f.enc.GroupCount() == 0 }, time.Second, 5*time.Millisecond)

	settled := f.disp.calls.Load()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, settled, f.disp.calls.Load())
}

func TestEncoderWithWorkerPool(t *testing.T) {
	t.Parallel()

	log := logger.NewWriterLogger(io.Discard, logger.LogLevelError).Module("worker")
	pool := worker.New(worker.Options{Workers: 2, QueueSize: 16, Logger: log})
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = pool.Stop(ctx)
	}()

	reg := codec.NewRegistry()
	reg.Register(codec.KindPCM, codec.PCMFactory{})
	enc := New(Config{}, pool, reg, log, nil)
	provider := newFakeProvider()
	enc.SetClientProvider(provider)

	q := media.Quality{SampleRate: 44100, BitsPerSample: 16, Channels: 2}
	s := provider.add(Key{Format: FormatWAV, Quality: q})
	enc.Reconcile()

	buf := pcm(q, 128, 3)
	enc.Write(buf)
	// The caller may reuse its buffer right away.
	clear(buf.Data)

	r := provider.reader(s)
	select {
	case <-r.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("no data from worker")
	}
	got := make([]byte, q.SamplesToBytes(128))
	n, err := r.Read(got)
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{3}, n), got[:n])

	enc.Shutdown()
}
