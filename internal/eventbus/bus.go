// Presencewatch - Game Server Presence Tracking and Transport Failover
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/presencewatch

package eventbus

import (
	"context"
	"sync/atomic"

	"github.com/tomtom215/presencewatch/internal/config"
	"github.com/tomtom215/presencewatch/internal/logging"
)

// Bus owns the activity publisher and, when configured, the embedded NATS
// server behind it.
type Bus struct {
	server    *EmbeddedServer
	publisher *Publisher
	backend   string
	running   atomic.Bool
}

// Open selects the backend from cfg:
//
//	embedded_server: true  -> embedded NATS JetStream
//	nats_url set           -> external NATS JetStream
//	otherwise              -> in-process gochannel
func Open(ctx context.Context, cfg config.EventsConfig) (*Bus, error) {
	b := &Bus{}

	switch {
	case cfg.EmbeddedServer:
		srv, err := NewEmbeddedServer(ServerOptions{Port: -1, StoreDir: cfg.StoreDir})
		if err != nil {
			return nil, err
		}
		pub, err := NewNATSPublisher(ctx, srv.ClientURL(), cfg.Topic)
		if err != nil {
			_ = srv.Shutdown(context.Background())
			return nil, err
		}
		b.server, b.publisher, b.backend = srv, pub, "nats-embedded"

	case cfg.NATSURL != "":
		pub, err := NewNATSPublisher(ctx, cfg.NATSURL, cfg.Topic)
		if err != nil {
			return nil, err
		}
		b.publisher, b.backend = pub, "nats"

	default:
		pub, _ := NewGoChannelPublisher(cfg.Topic)
		b.publisher, b.backend = pub, "gochannel"
	}

	b.running.Store(true)
	logging.Info().
		Str("backend", b.backend).
		Str("topic", b.publisher.Topic()).
		Msg("[eventbus] Activity bus ready")
	return b, nil
}

// Publisher returns the activity publisher.
func (b *Bus) Publisher() *Publisher {
	return b.publisher
}

// Backend names the selected backend.
func (b *Bus) Backend() string {
	return b.backend
}

// Start is a no-op; Open already connected.
func (b *Bus) Start(context.Context) error {
	return nil
}

// Shutdown closes the publisher, then stops the embedded server if any.
func (b *Bus) Shutdown(ctx context.Context) {
	if !b.running.CompareAndSwap(true, false) {
		return
	}
	if err := b.publisher.Close(); err != nil {
		logging.Warn().Err(err).Msg("[eventbus] Publisher close failed")
	}
	if b.server != nil {
		if err := b.server.Shutdown(ctx); err != nil {
			logging.Warn().Err(err).Msg("[eventbus] Embedded NATS shutdown failed")
		}
	}
	logging.Info().Str("backend", b.backend).Msg("[eventbus] Activity bus stopped")
}

// IsRunning reports whether Shutdown has not been called yet.
func (b *Bus) IsRunning() bool {
	return b.running.Load()
}
