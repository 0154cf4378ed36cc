package codec

import (
	"bytes"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/smallnest/ringbuffer"

	"github.com/tphakala/streamhub/internal/errors"
	"github.com/tphakala/streamhub/internal/logger"
	"github.com/tphakala/streamhub/internal/media"
)

const (
	// DefaultFFmpegPath is looked up in PATH.
	DefaultFFmpegPath = "ffmpeg"

	ffmpegOutputBuffer = 512 * 1024
	ffmpegWriteTimeout = 500 * time.Millisecond
	ffmpegStopTimeout  = 2 * time.Second
	maxStderrBytes     = 4096
)

// FFmpegFactory encodes MP3 by running one ffmpeg process per encoder.
// Raw PCM goes in on stdin and MP3 frames come out on stdout.
type FFmpegFactory struct {
	Path   string
	Logger logger.Logger
}

// NewFFmpegFactory resolves path (or "ffmpeg" when empty) in PATH.
func NewFFmpegFactory(path string, log logger.Logger) (*FFmpegFactory, error) {
	if path == "" {
		path = DefaultFFmpegPath
	}
	resolved, err := exec.LookPath(path)
	if err != nil {
		return nil, errors.New(err).
			Component("codec").
			Category(errors.CategoryConfiguration).
			Context("operation", "lookup_ffmpeg").
			Context("path", path).
			Build()
	}
	if log == nil {
		log = logger.Global().Module("codec")
	}
	return &FFmpegFactory{Path: resolved, Logger: log.Module("ffmpeg")}, nil
}

func pcmInputFormat(bits int) (string, bool) {
	switch bits {
	case 16:
		return "s16le", true
	case 24:
		return "s24le", true
	case 32:
		return "s32le", true
	default:
		return "", false
	}
}

func (f *FFmpegFactory) args(in, out media.Quality, inputFormat string) []string {
	bitRate := out.BitRate
	if bitRate <= 0 {
		bitRate = media.DefaultBitRate
	}
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", inputFormat,
		"-ar", strconv.Itoa(in.SampleRate),
		"-ac", strconv.Itoa(in.Channels),
		"-i", "pipe:0",
		"-c:a", "libmp3lame",
		"-b:a", strconv.Itoa(bitRate),
		"-ar", strconv.Itoa(out.SampleRate),
		"-ac", strconv.Itoa(out.Channels),
		"-flush_packets", "1",
		"-f", "mp3",
		"pipe:1",
	}
}

// NewEncoder starts an ffmpeg process converting in to MP3 at out.
func (f *FFmpegFactory) NewEncoder(in, out media.Quality) (Encoder, error) {
	inputFormat, ok := pcmInputFormat(in.BitsPerSample)
	if !ok {
		return nil, unsupported(in, out, "input bit depth")
	}
	if in.SampleRate <= 0 || in.Channels <= 0 || out.SampleRate <= 0 || out.Channels <= 0 {
		return nil, unsupported(in, out, "empty quality")
	}

	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return nil, f.systemError(err, "create_ffmpeg_stdin")
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		_ = stdinR.Close()
		_ = stdinW.Close()
		return nil, f.systemError(err, "create_ffmpeg_stdout")
	}

	stderr := &limitedBuffer{max: maxStderrBytes}
	cmd := exec.Command(f.Path, f.args(in, out, inputFormat)...) //nolint:gosec // path is resolved from config
	cmd.Stdin = stdinR
	cmd.Stdout = stdoutW
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		for _, c := range []io.Closer{stdinR, stdinW, stdoutR, stdoutW} {
			_ = c.Close()
		}
		return nil, errors.New(err).
			Component("codec").
			Category(errors.CategoryCommand).
			Context("operation", "start_ffmpeg").
			Context("stderr", stderr.String()).
			Build()
	}
	// the child holds its own copies
	_ = stdinR.Close()
	_ = stdoutW.Close()

	e := &ffmpegEncoder{
		cmd:     cmd,
		stdin:   stdinW,
		stdout:  stdoutR,
		stderr:  stderr,
		out:     ringbuffer.New(ffmpegOutputBuffer),
		done:    make(chan struct{}),
		log:     f.Logger.With(logger.String("output", out.String())),
		in:      in,
		started: time.Now(),
	}
	go e.drain()

	e.log.Debug("ffmpeg encoder started",
		logger.Int("pid", cmd.Process.Pid),
		logger.String("input", in.String()))

	return e, nil
}

func (f *FFmpegFactory) systemError(err error, op string) error {
	return errors.New(err).
		Component("codec").
		Category(errors.CategorySystem).
		Context("operation", op).
		Build()
}

type ffmpegEncoder struct {
	cmd    *exec.Cmd
	stdin  *os.File
	stdout *os.File
	stderr *limitedBuffer
	log    logger.Logger
	in     media.Quality

	mu      sync.Mutex
	out     *ringbuffer.RingBuffer
	readErr error
	dropped int

	done    chan struct{}
	closed  bool
	started time.Time
}

// drain moves ffmpeg output into the ring buffer until stdout closes.
func (e *ffmpegEncoder) drain() {
	defer close(e.done)

	buf := make([]byte, 16*1024)
	for {
		n, err := e.stdout.Read(buf)
		if n > 0 {
			e.mu.Lock()
			if e.out.Free() >= n {
				_, _ = e.out.Write(buf[:n])
			} else {
				e.dropped += n
			}
			e.mu.Unlock()
		}
		if err != nil {
			if err != io.EOF {
				e.mu.Lock()
				e.readErr = err
				e.mu.Unlock()
			}
			return
		}
	}
}

// Encode writes PCM to ffmpeg and appends the MP3 bytes produced so far.
func (e *ffmpegEncoder) Encode(dst *bytes.Buffer, buf media.Buffer) error {
	if buf.Quality != e.in {
		return unsupported(buf.Quality, e.in, "input quality changed")
	}

	if len(buf.Data) > 0 {
		_ = e.stdin.SetWriteDeadline(time.Now().Add(ffmpegWriteTimeout))
		if _, err := e.stdin.Write(buf.Data); err != nil {
			return errors.New(err).
				Component("codec").
				Category(errors.CategoryCodec).
				Context("operation", "write_pcm_to_ffmpeg").
				Context("stderr", e.stderr.String()).
				Build()
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.readErr != nil {
		return errors.New(e.readErr).
			Component("codec").
			Category(errors.CategoryCodec).
			Context("operation", "read_ffmpeg_output").
			Build()
	}
	if e.dropped > 0 {
		e.log.Warn("ffmpeg output overflowed", logger.Int("dropped_bytes", e.dropped))
		e.dropped = 0
	}
	if n := e.out.Length(); n > 0 {
		dst.Grow(n)
		chunk := make([]byte, n)
		read, _ := e.out.Read(chunk)
		dst.Write(chunk[:read])
	}
	return nil
}

// Close ends ffmpeg's input and reaps the process, killing it if it does
// not exit in time.
func (e *ffmpegEncoder) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	_ = e.stdin.Close()

	select {
	case <-e.done:
	case <-time.After(ffmpegStopTimeout):
		_ = e.cmd.Process.Kill()
		<-e.done
	}
	_ = e.stdout.Close()
	err := e.cmd.Wait()

	e.log.Debug("ffmpeg encoder stopped",
		logger.Duration("uptime", time.Since(e.started)),
		logger.Error(err))

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && !exitErr.Exited() {
			// killed by us
			return nil
		}
		return errors.New(err).
			Component("codec").
			Category(errors.CategoryCommand).
			Context("operation", "wait_ffmpeg").
			Context("stderr", e.stderr.String()).
			Build()
	}
	return nil
}

// limitedBuffer keeps the first max bytes written to it.
type limitedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
	max int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if room := b.max - b.buf.Len(); room > 0 {
		b.buf.Write(p[:min(room, len(p))])
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
