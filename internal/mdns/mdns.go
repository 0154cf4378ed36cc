// Package mdns announces the stream endpoints over DNS-SD.
package mdns

import (
	"context"
	"net"
	"strconv"

	"github.com/grandcat/zeroconf"

	"github.com/tphakala/streamhub/internal/errors"
	"github.com/tphakala/streamhub/internal/logger"
)

const (
	serviceType = "_http._tcp"
	domain      = "local."
)

// registerFunc matches zeroconf.Register.
type registerFunc func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error)

// Announcer registers one service instance while Run is active.
type Announcer struct {
	instance string
	port     int
	txt      []string
	log      logger.Logger
	register registerFunc
}

// New returns an announcer for instance on port. The TXT record advertises
// both stream paths.
func New(instance string, port int, log logger.Logger) *Announcer {
	if log == nil {
		log = logger.Global().Module("mdns")
	}
	return &Announcer{
		instance: instance,
		port:     port,
		txt:      []string{"path=/stream.mp3", "wav=/stream.wav", "status=/api/v1/status"},
		log:      log,
		register: zeroconf.Register,
	}
}

// PortFromListen extracts the TCP port from a listen address like ":8080".
func PortFromListen(listen string) (int, error) {
	_, p, err := net.SplitHostPort(listen)
	if err != nil {
		return 0, errors.New(err).
			Component("mdns").
			Category(errors.CategoryConfiguration).
			Context("listen", listen).
			Build()
	}
	port, err := strconv.Atoi(p)
	if err != nil || port <= 0 || port > 65535 {
		return 0, errors.Newf("invalid port %q", p).
			Component("mdns").
			Category(errors.CategoryConfiguration).
			Context("listen", listen).
			Build()
	}
	return port, nil
}

// Run registers the service and blocks until ctx is done.
func (a *Announcer) Run(ctx context.Context) error {
	server, err := a.register(a.instance, serviceType, domain, a.port, a.txt, nil)
	if err != nil {
		return errors.New(err).
			Component("mdns").
			Category(errors.CategoryNetwork).
			Context("instance", a.instance).
			Context("port", a.port).
			Build()
	}
	a.log.Info("registered mDNS service",
		logger.String("instance", a.instance),
		logger.String("service", serviceType),
		logger.Int("port", a.port))

	<-ctx.Done()

	if server != nil {
		server.Shutdown()
	}
	a.log.Info("mDNS service unregistered", logger.String("instance", a.instance))
	return nil
}
