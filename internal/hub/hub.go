// Package hub assembles the streaming server from its settings and runs it.
package hub

import (
	"context"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tphakala/streamhub/internal/buildinfo"
	"github.com/tphakala/streamhub/internal/codec"
	"github.com/tphakala/streamhub/internal/conf"
	"github.com/tphakala/streamhub/internal/errors"
	"github.com/tphakala/streamhub/internal/httpserver"
	"github.com/tphakala/streamhub/internal/logger"
	"github.com/tphakala/streamhub/internal/mdns"
	"github.com/tphakala/streamhub/internal/mqtt"
	"github.com/tphakala/streamhub/internal/observability"
	"github.com/tphakala/streamhub/internal/player"
	"github.com/tphakala/streamhub/internal/session"
	"github.com/tphakala/streamhub/internal/streaming"
	"github.com/tphakala/streamhub/internal/worker"
)

// ShutdownTimeout bounds the graceful stop of the HTTP server and pool.
const ShutdownTimeout = 10 * time.Second

// Hub owns every long-running component.
type Hub struct {
	settings *conf.Settings
	bi       *buildinfo.Context
	log      logger.Logger

	metrics  *observability.Metrics
	pool     *worker.Pool
	encoder  *streaming.Encoder
	registry *session.Registry
	player   *player.Player
	server   *httpserver.Server

	publisher *mqtt.Publisher
	announcer *mdns.Announcer

	ready    chan struct{}
	addrOnce sync.Once
	addr     net.Addr
}

// New builds the component graph. Nothing runs until Run.
func New(settings *conf.Settings, bi *buildinfo.Context, log logger.Logger) (*Hub, error) {
	if log == nil {
		log = logger.Global()
	}
	h := &Hub{
		settings: settings,
		bi:       bi,
		log:      log.Module("hub"),
		ready:    make(chan struct{}),
	}

	m, err := observability.NewMetrics()
	if err != nil {
		return nil, errors.New(err).
			Component("hub").
			Category(errors.CategorySystem).
			Context("operation", "metrics_init").
			Build()
	}
	h.metrics = m

	codecs := codec.NewRegistry()
	codecs.Register(codec.KindPCM, codec.PCMFactory{})
	if ff, err := codec.NewFFmpegFactory(settings.Codec.FFmpegPath, log.Module("codec")); err != nil {
		h.log.Warn("MP3 encoder unavailable, MP3 listeners will receive nothing",
			logger.String("ffmpeg", settings.Codec.FFmpegPath),
			logger.Error(err))
	} else {
		codecs.Register(codec.KindMP3, ff)
	}

	h.pool = worker.New(worker.Options{
		Workers:   settings.Worker.Threads,
		QueueSize: settings.Worker.QueueSize,
		Logger:    log.Module("worker"),
		Metrics:   m.Worker,
	})

	st := settings.Streaming
	h.encoder = streaming.New(streaming.Config{
		SilenceTicksPerSec: st.SilenceTicks,
		PipeBufferSize:     st.PipeBuffer,
	}, h.pool, codecs, log.Module("streaming"), m.Streaming)

	h.registry = session.NewRegistry(session.Config{ICYMetaint: st.ICYMetaint}, log.Module("session"), m.Streaming)
	h.registry.SetNotifier(h.encoder)
	h.encoder.SetClientProvider(h.registry)

	src, err := player.Open(settings.Player.SourceConfig, log.Module("player"))
	if err != nil {
		_ = h.pool.Stop(context.Background())
		return nil, err
	}
	h.player = player.New(settings.Player.Kind, src, h.encoder, player.Options{
		TicksPerSec: settings.Player.Ticks,
		Logger:      log.Module("player"),
		OnTitle:     h.registry.SetTitle,
	})

	h.server = httpserver.New(httpserver.Options{
		Listen:         settings.WebServer.Listen,
		Name:           st.Name,
		DefaultQuality: st.Quality(),
		WriteTimeout:   time.Duration(settings.WebServer.WriteTimeout) * time.Second,
		Registry:       h.registry,
		Groups:         h.encoder,
		Pool:           h.pool,
		Player:         h.player,
		Metrics:        m.Handler(),
		Logger:         log.Module("http"),
	})

	if settings.MQTT.Enabled {
		client := mqtt.NewClient(mqtt.Config{
			Broker:   settings.MQTT.Broker,
			ClientID: mqttClientID(settings),
			Username: settings.MQTT.Username,
			Password: settings.MQTT.Password,
		}, log.Module("mqtt"), m.MQTT)
		h.publisher = mqtt.NewPublisher(client, mqtt.PublisherOptions{
			Topic:   settings.MQTT.Topic,
			Retain:  settings.MQTT.Retain,
			Logger:  log.Module("mqtt"),
			Metrics: m.MQTT,
		})
		h.registry.Observe(h.publisher.Handle)
	}

	if settings.MDNS.Enabled {
		port, err := mdns.PortFromListen(settings.WebServer.Listen)
		if err != nil {
			h.log.Warn("mDNS disabled", logger.Error(err))
		} else {
			h.announcer = mdns.New(settings.MDNS.Instance, port, log.Module("mdns"))
		}
	}

	return h, nil
}

func mqttClientID(s *conf.Settings) string {
	if s.MQTT.ClientID != "" {
		return s.MQTT.ClientID
	}
	return "streamhub-" + s.Streaming.Name
}

// Ready is closed once the HTTP listener is bound.
func (h *Hub) Ready() <-chan struct{} { return h.ready }

// Addr is the bound HTTP address, valid after Ready.
func (h *Hub) Addr() net.Addr { return h.addr }

// Run serves until ctx is done or a core component fails, then shuts
// everything down in dependency order.
func (h *Hub) Run(ctx context.Context) error {
	l, err := net.Listen("tcp", h.settings.WebServer.Listen)
	if err != nil {
		_ = h.pool.Stop(context.Background())
		return errors.New(err).
			Component("hub").
			Category(errors.CategoryNetwork).
			Context("listen", h.settings.WebServer.Listen).
			Build()
	}
	h.addrOnce.Do(func() {
		h.addr = l.Addr()
		close(h.ready)
	})

	h.log.Info("starting streamhub",
		logger.String("version", h.bi.Version()),
		logger.String("listen", l.Addr().String()),
		logger.String("source", h.settings.Player.Kind))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return h.encoder.Run(gctx) })
	g.Go(func() error { return h.server.Serve(l) })

	g.Go(func() error {
		// Playback failure leaves listeners on silence rather than
		// taking the server down.
		if err := h.player.Run(gctx); err != nil {
			h.log.Error("player stopped", logger.Error(err))
		}
		return nil
	})

	if h.publisher != nil {
		g.Go(func() error {
			if err := h.publisher.Run(gctx); err != nil {
				h.log.Warn("MQTT publishing disabled", logger.Error(err))
			}
			return nil
		})
	}
	if h.announcer != nil {
		g.Go(func() error {
			if err := h.announcer.Run(gctx); err != nil {
				h.log.Warn("mDNS announcement failed", logger.Error(err))
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return h.server.Shutdown(sctx)
	})

	err = g.Wait()

	h.encoder.Shutdown()
	sctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if perr := h.pool.Stop(sctx); perr != nil {
		h.log.Warn("worker pool did not stop cleanly", logger.Error(perr))
	}

	h.log.Info("streamhub stopped")
	return err
}
