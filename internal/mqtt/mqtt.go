// Package mqtt publishes session lifecycle events to an MQTT broker.
package mqtt

import (
	"context"
	"time"
)

// Client is the broker connection used by the publisher.
type Client interface {
	// Connect establishes the broker connection.
	Connect(ctx context.Context) error

	// Publish sends payload to topic and waits for the broker to accept it.
	Publish(ctx context.Context, topic string, payload []byte, retain bool) error

	IsConnected() bool

	// Disconnect closes the connection.
	Disconnect()
}

// Config holds the broker settings.
type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string

	ReconnectCooldown time.Duration
	ConnectTimeout    time.Duration
	PublishTimeout    time.Duration
	DisconnectTimeout time.Duration
}

// DefaultConfig returns a Config with sensible timeouts.
func DefaultConfig() Config {
	return Config{
		ReconnectCooldown: 5 * time.Second,
		ConnectTimeout:    30 * time.Second,
		PublishTimeout:    10 * time.Second,
		DisconnectTimeout: 250 * time.Millisecond,
	}
}
