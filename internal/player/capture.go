package player

import (
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
	"github.com/smallnest/ringbuffer"

	"github.com/tphakala/streamhub/internal/errors"
	"github.com/tphakala/streamhub/internal/logger"
	"github.com/tphakala/streamhub/internal/media"
)

// CaptureConfig configures sound card capture.
type CaptureConfig struct {
	Device     string
	SampleRate int
	Channels   int
}

// CaptureSource records 16 bit PCM from a sound card into a ring buffer
// that the player drains every tick.
type CaptureSource struct {
	cfg    CaptureConfig
	q      media.Quality
	log    logger.Logger
	name   string
	ctx    *malgo.AllocatedContext
	device *malgo.Device

	mu      sync.Mutex
	rb      *ringbuffer.RingBuffer
	dropped atomic.Uint64
	closed  bool
}

// OpenCapture starts capturing from the named device, or the default device
// when the name is empty or "default".
func OpenCapture(cfg CaptureConfig, log logger.Logger) (*CaptureSource, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = media.DefaultSampleRate
	}
	if cfg.Channels <= 0 {
		cfg.Channels = media.DefaultChannels
	}
	q := media.Quality{SampleRate: cfg.SampleRate, BitsPerSample: 16, Channels: cfg.Channels}

	malgoCtx, err := malgo.InitContext([]malgo.Backend{captureBackend()}, malgo.ContextConfig{}, func(message string) {
		log.Debug("malgo", logger.String("message", strings.TrimSpace(message)))
	})
	if err != nil {
		return nil, captureError(err, cfg.Device, "init_context")
	}

	infos, err := malgoCtx.Devices(malgo.Capture)
	if err != nil {
		_ = malgoCtx.Uninit()
		return nil, captureError(err, cfg.Device, "enumerate_devices")
	}
	info, err := selectDevice(infos, cfg.Device)
	if err != nil {
		_ = malgoCtx.Uninit()
		return nil, err
	}

	s := &CaptureSource{
		cfg:  cfg,
		q:    q,
		log:  log,
		name: info.Name(),
		ctx:  malgoCtx,
		// One second of audio.
		rb: ringbuffer.New(q.SamplesToBytes(q.SampleRate)),
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(q.Channels)
	deviceConfig.Capture.DeviceID = info.ID.Pointer()
	deviceConfig.SampleRate = uint32(q.SampleRate)
	deviceConfig.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(malgoCtx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: s.onFrames,
		Stop: func() { log.Warn("capture device stopped", logger.String("device", s.name)) },
	})
	if err != nil {
		_ = malgoCtx.Uninit()
		return nil, captureError(err, cfg.Device, "init_device")
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = malgoCtx.Uninit()
		return nil, captureError(err, cfg.Device, "start_device")
	}
	s.device = device

	log.Info("capture started",
		logger.String("device", s.name),
		logger.String("quality", q.String()))
	return s, nil
}

func captureBackend() malgo.Backend {
	switch runtime.GOOS {
	case "linux":
		return malgo.BackendAlsa
	case "windows":
		return malgo.BackendWasapi
	case "darwin":
		return malgo.BackendCoreaudio
	default:
		return malgo.BackendNull
	}
}

func selectDevice(infos []malgo.DeviceInfo, name string) (*malgo.DeviceInfo, error) {
	if name == "" || name == "default" {
		for i := range infos {
			if infos[i].IsDefault == 1 {
				return &infos[i], nil
			}
		}
		if len(infos) > 0 {
			return &infos[0], nil
		}
	}
	for i := range infos {
		if strings.Contains(infos[i].Name(), name) {
			return &infos[i], nil
		}
	}
	return nil, errors.Newf("capture device %q not found", name).
		Component("player").
		Category(errors.CategoryNotFound).
		Context("available", len(infos)).
		Build()
}

func captureError(err error, device, op string) error {
	return errors.New(err).
		Component("player").
		Category(errors.CategoryAudioSource).
		Context("device", device).
		Context("operation", op).
		Build()
}

// onFrames runs on the malgo callback thread.
func (s *CaptureSource) onFrames(_, samples []byte, _ uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.rb.Free() < len(samples) {
		s.dropped.Add(uint64(len(samples)))
		return
	}
	_, _ = s.rb.Write(samples)
}

func (s *CaptureSource) Quality() media.Quality { return s.q }
func (s *CaptureSource) Title() string          { return "Live: " + s.name }

// Read returns whatever whole frames have been captured, or ErrNoData.
func (s *CaptureSource) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrSourceClosed
	}

	n := min(len(p), s.rb.Length())
	n -= n % s.q.BytesPerFrame()
	if n == 0 {
		return 0, ErrNoData
	}
	return s.rb.Read(p[:n])
}

func (s *CaptureSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	_ = s.device.Stop()
	s.device.Uninit()
	err := s.ctx.Uninit()
	s.ctx.Free()

	if d := s.dropped.Load(); d > 0 {
		s.log.Warn("capture buffer overflowed", logger.Uint64("dropped_bytes", d))
	}
	return err
}
