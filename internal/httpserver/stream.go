package httpserver

import (
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/streamhub/internal/logger"
	"github.com/tphakala/streamhub/internal/media"
	"github.com/tphakala/streamhub/internal/streaming"
)

func (s *Server) handleStream(base streaming.Format) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.opts.Registry == nil {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "streaming not available")
		}

		q, err := s.requestQuality(c, base)
		if err != nil {
			return err
		}

		format := base
		if base == streaming.FormatMP3 && c.Request().Header.Get("Icy-MetaData") == "1" {
			format = streaming.FormatMP3ICY
		}

		header := http.Header{}
		header.Set(echo.HeaderContentType, format.ContentType())
		header.Set(echo.HeaderCacheControl, "no-cache, no-store")
		header.Set("Pragma", "no-cache")
		if format.ICY() {
			header.Set("icy-name", s.opts.Name)
			header.Set("icy-metaint", strconv.Itoa(s.opts.Registry.ICYMetaint()))
		}

		conn := newConn(c, s.opts.WriteTimeout)
		if err := conn.StartChunked(http.StatusOK, header); err != nil {
			return err
		}

		sess := s.opts.Registry.Create(conn, format, q)
		start := time.Now()
		conn.run(c.Request().Context())

		s.log.Debug("stream handler finished",
			logger.String("session_id", sess.ID()),
			logger.Duration("duration", time.Since(start)))
		return nil
	}
}

// requestQuality applies the samplerate, channels and bitrate query
// parameters to the configured default. PCM output cannot be resampled, so
// its sample rate follows the player's source.
func (s *Server) requestQuality(c echo.Context, format streaming.Format) (media.Quality, error) {
	q := s.opts.DefaultQuality
	pcm := format.Codec() != streaming.FormatMP3.Codec()
	var sourceRate int
	if pcm {
		q.BitRate = 0
		if s.opts.Player != nil {
			sourceRate = s.opts.Player.Status().Quality.SampleRate
		}
		if sourceRate > 0 {
			q.SampleRate = sourceRate
		}
	}

	if v := c.QueryParam("samplerate"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || !slices.Contains(media.SampleRates, n) {
			return q, echo.NewHTTPError(http.StatusBadRequest, "unsupported samplerate")
		}
		if sourceRate > 0 && n != sourceRate {
			return q, echo.NewHTTPError(http.StatusBadRequest,
				fmt.Sprintf("samplerate must match the source rate of %d Hz for %s", sourceRate, format))
		}
		q.SampleRate = n
	}
	if v := c.QueryParam("channels"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || (n != 1 && n != 2) {
			return q, echo.NewHTTPError(http.StatusBadRequest, "unsupported channels")
		}
		q.Channels = n
	}
	if v := c.QueryParam("bitrate"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || !slices.Contains(media.BitRates, n) {
			return q, echo.NewHTTPError(http.StatusBadRequest, "unsupported bitrate")
		}
		if format.Codec() == streaming.FormatMP3.Codec() {
			q.BitRate = n
		}
	}
	return q, nil
}
