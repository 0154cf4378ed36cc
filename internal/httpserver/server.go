// Package httpserver is the HTTP facade: streaming endpoints backed by the
// session registry, plus status and metrics.
package httpserver

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/tphakala/streamhub/internal/errors"
	"github.com/tphakala/streamhub/internal/logger"
	"github.com/tphakala/streamhub/internal/media"
	"github.com/tphakala/streamhub/internal/player"
	"github.com/tphakala/streamhub/internal/session"
	"github.com/tphakala/streamhub/internal/streaming"
	"github.com/tphakala/streamhub/internal/worker"
)

// DefaultWriteTimeout bounds a single chunk write to a client.
const DefaultWriteTimeout = 10 * time.Second

// GroupLister reports encode groups.
type GroupLister interface {
	Groups() []streaming.GroupInfo
}

// PoolStats reports worker pool counters.
type PoolStats interface {
	Stats() worker.Stats
}

// PlayerStatus reports the player state.
type PlayerStatus interface {
	Status() player.Status
}

// Options configures the server.
type Options struct {
	Listen         string
	Name           string
	DefaultQuality media.Quality
	WriteTimeout   time.Duration

	Registry *session.Registry
	Groups   GroupLister
	Pool     PoolStats
	Player   PlayerStatus
	Metrics  http.Handler
	Logger   logger.Logger
}

// Server wraps the echo instance.
type Server struct {
	Echo    *echo.Echo
	opts    Options
	log     logger.Logger
	started time.Time
}

// New creates the server and registers its routes.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logger.Global().Module("http")
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.DefaultQuality.IsZero() {
		opts.DefaultQuality = media.DefaultQuality()
	}
	if opts.Name == "" {
		opts.Name = "streamhub"
	}

	s := &Server{
		Echo:    echo.New(),
		opts:    opts,
		log:     opts.Logger,
		started: time.Now(),
	}
	s.Echo.HideBanner = true
	s.Echo.HidePort = true
	s.Echo.IPExtractor = echo.ExtractIPFromXFFHeader()
	s.Echo.Use(middleware.Recover())
	s.Echo.Use(s.loggingMiddleware())
	s.initRoutes()
	return s
}

func (s *Server) initRoutes() {
	s.Echo.GET("/stream.mp3", s.handleStream(streaming.FormatMP3))
	s.Echo.GET("/stream.wav", s.handleStream(streaming.FormatWAV))
	s.Echo.GET("/api/v1/status", s.handleStatus)
	if s.opts.Metrics != nil {
		s.Echo.GET("/metrics", echo.WrapHandler(s.opts.Metrics))
	}
}

// ListenAndServe serves until Shutdown. A closed server is not an error.
func (s *Server) ListenAndServe() error {
	s.log.Info("http server listening", logger.String("listen", s.opts.Listen))
	if err := s.Echo.Start(s.opts.Listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.New(err).
			Component("http").
			Category(errors.CategoryNetwork).
			Context("listen", s.opts.Listen).
			Build()
	}
	return nil
}

// Serve serves on an existing listener.
func (s *Server) Serve(l net.Listener) error {
	s.Echo.Listener = l
	return s.ListenAndServe()
}

// Shutdown closes every streaming session first so their handlers return,
// then stops the listener and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.opts.Registry != nil {
		s.opts.Registry.Shutdown()
	}
	if err := s.Echo.Shutdown(ctx); err != nil {
		return errors.New(err).
			Component("http").
			Category(errors.CategoryNetwork).
			Build()
	}
	s.log.Info("http server stopped")
	return nil
}

func (s *Server) loggingMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			req := c.Request()
			res := c.Response()
			fields := []logger.Field{
				logger.String("method", req.Method),
				logger.String("path", req.URL.Path),
				logger.Int("status", res.Status),
				logger.String("ip", c.RealIP()),
				logger.Int64("bytes_out", res.Size),
				logger.Duration("latency", time.Since(start)),
			}

			switch {
			case err != nil:
				s.log.Warn("http request", append(fields, logger.Error(err))...)
			case res.Status >= http.StatusBadRequest:
				s.log.Warn("http request", fields...)
			default:
				s.log.Debug("http request", fields...)
			}
			return err
		}
	}
}
