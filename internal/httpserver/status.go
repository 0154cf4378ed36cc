package httpserver

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/streamhub/internal/player"
	"github.com/tphakala/streamhub/internal/session"
	"github.com/tphakala/streamhub/internal/streaming"
	"github.com/tphakala/streamhub/internal/worker"
)

// StatusResponse is the body of GET /api/v1/status.
type StatusResponse struct {
	Uptime   string                `json:"uptime"`
	Sessions []session.Info        `json:"sessions"`
	Groups   []streaming.GroupInfo `json:"groups"`
	Workers  *worker.Stats         `json:"workers,omitempty"`
	Player   *player.Status        `json:"player,omitempty"`
}

func (s *Server) handleStatus(c echo.Context) error {
	resp := StatusResponse{
		Uptime:   time.Since(s.started).Round(time.Second).String(),
		Sessions: []session.Info{},
		Groups:   []streaming.GroupInfo{},
	}
	if s.opts.Registry != nil {
		resp.Sessions = s.opts.Registry.Sessions()
	}
	if s.opts.Groups != nil {
		resp.Groups = s.opts.Groups.Groups()
	}
	if s.opts.Pool != nil {
		st := s.opts.Pool.Stats()
		resp.Workers = &st
	}
	if s.opts.Player != nil {
		st := s.opts.Player.Status()
		resp.Player = &st
	}
	return c.JSON(http.StatusOK, resp)
}
