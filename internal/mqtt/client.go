package mqtt

import (
	"context"
	"net"
	"net/url"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/tphakala/streamhub/internal/errors"
	"github.com/tphakala/streamhub/internal/logger"
	"github.com/tphakala/streamhub/internal/observability/metrics"
)

// client implements Client on top of paho.
type client struct {
	config  Config
	log     logger.Logger
	metrics *metrics.MQTTMetrics

	mu              sync.Mutex
	internal        paho.Client
	lastConnAttempt time.Time
}

// NewClient returns an unconnected client. Zero timeouts take their
// defaults.
func NewClient(cfg Config, log logger.Logger, m *metrics.MQTTMetrics) Client {
	def := DefaultConfig()
	if cfg.ReconnectCooldown <= 0 {
		cfg.ReconnectCooldown = def.ReconnectCooldown
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = def.PublishTimeout
	}
	if cfg.DisconnectTimeout <= 0 {
		cfg.DisconnectTimeout = def.DisconnectTimeout
	}
	if log == nil {
		log = logger.Global().Module("mqtt")
	}
	return &client{config: cfg, log: log, metrics: m}
}

// Connect resolves the broker host and connects. Paho reconnects on its own
// after the first successful connect.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if since := time.Since(c.lastConnAttempt); since < c.config.ReconnectCooldown {
		return errors.Newf("connection attempt too recent, last attempt was %v ago", since.Round(time.Millisecond)).
			Component("mqtt").
			Category(errors.CategoryMQTTConnect).
			Build()
	}
	c.lastConnAttempt = time.Now()

	u, err := url.Parse(c.config.Broker)
	if err != nil {
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryConfiguration).
			Context("broker", c.config.Broker).
			Build()
	}

	if host := u.Hostname(); net.ParseIP(host) == nil {
		if _, err := net.DefaultResolver.LookupHost(ctx, host); err != nil {
			c.metrics.RecordError()
			return errors.New(err).
				Component("mqtt").
				Category(errors.CategoryMQTTConnect).
				Context("host", host).
				Context("stage", "resolve").
				Build()
		}
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(c.config.Broker)
	opts.SetClientID(c.config.ClientID)
	opts.SetUsername(c.config.Username)
	opts.SetPassword(c.config.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(c.config.ConnectTimeout)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)

	c.internal = paho.NewClient(opts)

	token := c.internal.Connect()
	if err := waitToken(ctx, token, c.config.ConnectTimeout); err != nil {
		c.metrics.RecordError()
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryMQTTConnect).
			Context("broker", c.config.Broker).
			Build()
	}
	return nil
}

// Publish sends payload at QoS 0.
func (c *client) Publish(ctx context.Context, topic string, payload []byte, retain bool) error {
	c.mu.Lock()
	internal := c.internal
	c.mu.Unlock()

	if internal == nil || !internal.IsConnected() {
		return errors.Newf("not connected to MQTT broker").
			Component("mqtt").
			Category(errors.CategoryMQTTPublish).
			Context("topic", topic).
			Build()
	}

	start := time.Now()
	err := waitToken(ctx, internal.Publish(topic, 0, retain, payload), c.config.PublishTimeout)
	c.metrics.RecordPublish(time.Since(start), err)
	if err != nil {
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryMQTTPublish).
			Context("topic", topic).
			Context("size", len(payload)).
			Build()
	}
	return nil
}

func (c *client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.internal != nil && c.internal.IsConnected()
}

func (c *client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.internal != nil && c.internal.IsConnected() {
		c.internal.Disconnect(uint(c.config.DisconnectTimeout.Milliseconds()))
		c.metrics.UpdateConnectionStatus(false)
	}
}

func (c *client) onConnect(paho.Client) {
	c.log.Info("connected to MQTT broker", logger.String("broker", c.config.Broker))
	c.metrics.UpdateConnectionStatus(true)
}

func (c *client) onConnectionLost(_ paho.Client, err error) {
	c.log.Warn("connection to MQTT broker lost",
		logger.String("broker", c.config.Broker),
		logger.Error(err))
	c.metrics.UpdateConnectionStatus(false)
	c.metrics.RecordError()
}

// waitToken waits for token to complete, the timeout to pass or ctx to end.
func waitToken(ctx context.Context, token paho.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return errors.NewStd("operation timed out")
	case <-ctx.Done():
		return ctx.Err()
	}
}
