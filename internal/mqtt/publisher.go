package mqtt

import (
	"context"
	"encoding/json"
	"time"

	"github.com/tphakala/streamhub/internal/logger"
	"github.com/tphakala/streamhub/internal/observability/metrics"
	"github.com/tphakala/streamhub/internal/session"
)

// DefaultQueueSize is the publish backlog kept while the broker is slow.
const DefaultQueueSize = 64

// PublisherOptions configures a Publisher.
type PublisherOptions struct {
	Topic     string // base topic; events go to <Topic>/sessions
	Retain    bool
	QueueSize int
	Logger    logger.Logger
	Metrics   *metrics.MQTTMetrics
}

// sessionMessage is the JSON body of one event.
type sessionMessage struct {
	Event     session.EventType `json:"event"`
	Session   session.Info      `json:"session"`
	Listeners int               `json:"listeners"`
	Time      time.Time         `json:"time"`
}

// Publisher forwards registry events to the broker. Handle never blocks;
// events that do not fit the queue are dropped.
type Publisher struct {
	client Client
	opts   PublisherOptions
	queue  chan sessionMessage
	now    func() time.Time
}

// NewPublisher returns a publisher using client.
func NewPublisher(client Client, opts PublisherOptions) *Publisher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Logger == nil {
		opts.Logger = logger.Global().Module("mqtt")
	}
	return &Publisher{
		client: client,
		opts:   opts,
		queue:  make(chan sessionMessage, opts.QueueSize),
		now:    time.Now,
	}
}

// SessionTopic is where session events are published.
func (p *Publisher) SessionTopic() string {
	return p.opts.Topic + "/sessions"
}

// Handle queues ev for publishing. It is meant for session.Registry.Observe.
func (p *Publisher) Handle(ev session.Event) {
	msg := sessionMessage{
		Event:     ev.Type,
		Session:   ev.Session,
		Listeners: ev.Count,
		Time:      p.now(),
	}
	select {
	case p.queue <- msg:
	default:
		p.opts.Metrics.RecordDropped()
		p.opts.Logger.Debug("publish queue full, dropping event",
			logger.String("event", string(ev.Type)),
			logger.String("session", ev.Session.ID))
	}
}

// Run connects and publishes queued events until ctx is done. A failed
// initial connect is returned; later publish errors are logged.
func (p *Publisher) Run(ctx context.Context) error {
	if err := p.client.Connect(ctx); err != nil {
		return err
	}
	defer p.client.Disconnect()

	log := p.opts.Logger
	log.Info("publishing session events", logger.String("topic", p.SessionTopic()))

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-p.queue:
			payload, err := json.Marshal(msg)
			if err != nil {
				log.Error("failed to encode session event", logger.Error(err))
				continue
			}
			if err := p.client.Publish(ctx, p.SessionTopic(), payload, p.opts.Retain); err != nil {
				log.Warn("failed to publish session event",
					logger.String("session", msg.Session.ID),
					logger.Error(err))
			}
		}
	}
}
