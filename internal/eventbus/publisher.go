// Presencewatch - Game Server Presence Tracking and Transport Failover
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/presencewatch

// Package eventbus publishes presence activity to a watermill message bus.
//
// Two backends are supported: NATS JetStream (external or embedded server)
// and an in-process gochannel bus for deployments without a broker. Every
// message carries the activity id as its UUID and as the Nats-Msg-Id header,
// so JetStream drops redeliveries inside its duplicate window.
package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	natsgo "github.com/nats-io/nats.go"

	"github.com/tomtom215/presencewatch/internal/logging"
	"github.com/tomtom215/presencewatch/internal/metrics"
	"github.com/tomtom215/presencewatch/internal/models"
)

// DefaultTopic is the subject activity events are published on.
const DefaultTopic = "presence.activity"

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("publisher is closed")

// Publisher sends ActivityEvents to a watermill topic. It satisfies
// presence.Notifier.
type Publisher struct {
	publisher message.Publisher
	topic     string

	mu     sync.RWMutex
	closed bool
}

// NewPublisher wraps an existing watermill publisher.
func NewPublisher(pub message.Publisher, topic string) *Publisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Publisher{publisher: pub, topic: topic}
}

// NewGoChannelPublisher returns a publisher on an in-process bus along with
// the bus itself, which local consumers subscribe to.
func NewGoChannelPublisher(topic string) (*Publisher, *gochannel.GoChannel) {
	bus := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 256}, watermillLogger())
	return NewPublisher(bus, topic), bus
}

// NewNATSPublisher connects to url, ensures the JetStream stream for topic
// exists and returns a JetStream publisher with message id tracking.
func NewNATSPublisher(ctx context.Context, url, topic string) (*Publisher, error) {
	if topic == "" {
		topic = DefaultTopic
	}
	if err := ensureStream(ctx, url, topic); err != nil {
		return nil, err
	}

	natsOpts := []natsgo.Option{
		natsgo.Name("presencewatch"),
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(2 * time.Second),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logging.Warn().Err(err).Msg("[eventbus] NATS disconnected")
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logging.Info().Str("url", nc.ConnectedUrl()).Msg("[eventbus] NATS reconnected")
		}),
	}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         url,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			AutoProvision: false,
			TrackMsgId:    true,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}, watermillLogger())
	if err != nil {
		return nil, fmt.Errorf("create watermill publisher: %w", err)
	}
	return NewPublisher(pub, topic), nil
}

// Topic returns the topic events are published on.
func (p *Publisher) Topic() string {
	return p.topic
}

// Publish serializes ev and sends it.
func (p *Publisher) Publish(_ context.Context, ev models.ActivityEvent) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal activity %s: %w", ev.ID, err)
	}

	msg := message.NewMessage(ev.ID, data)
	msg.Metadata.Set(natsgo.MsgIdHdr, ev.ID)
	msg.Metadata.Set("server_id", ev.ServerID)
	msg.Metadata.Set("action", string(ev.Action))

	if err := p.publisher.Publish(p.topic, msg); err != nil {
		return fmt.Errorf("publish activity %s: %w", ev.ID, err)
	}
	return nil
}

// NotifyActivity publishes ev. Failures are logged and counted; the bus is
// best effort relative to the store.
func (p *Publisher) NotifyActivity(ctx context.Context, ev models.ActivityEvent) {
	if err := p.Publish(ctx, ev); err != nil {
		metrics.EventsPublished.WithLabelValues("error").Inc()
		logging.Ctx(ctx).Warn().Err(err).
			Str("server_id", ev.ServerID).
			Str("player", ev.PlayerName).
			Msg("[eventbus] Activity publish failed")
		return
	}
	metrics.EventsPublished.WithLabelValues("success").Inc()
}

// Close shuts the underlying publisher down. Safe to call more than once.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.publisher.Close()
}

// Decode parses a message produced by Publish.
func Decode(msg *message.Message) (models.ActivityEvent, error) {
	var ev models.ActivityEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		return ev, fmt.Errorf("decode activity %s: %w", msg.UUID, err)
	}
	return ev, nil
}

func watermillLogger() watermill.LoggerAdapter {
	return watermill.NewSlogLogger(logging.NewSlogLogger())
}
