// Presencewatch - Game Server Presence Tracking and Transport Failover
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/presencewatch

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/tomtom215/presencewatch/internal/api"
	"github.com/tomtom215/presencewatch/internal/config"
	"github.com/tomtom215/presencewatch/internal/eventbus"
	"github.com/tomtom215/presencewatch/internal/failover"
	"github.com/tomtom215/presencewatch/internal/logging"
	"github.com/tomtom215/presencewatch/internal/outbox"
	"github.com/tomtom215/presencewatch/internal/presence"
	"github.com/tomtom215/presencewatch/internal/store"
	"github.com/tomtom215/presencewatch/internal/supervisor"
	"github.com/tomtom215/presencewatch/internal/supervisor/services"
	"github.com/tomtom215/presencewatch/internal/transport/poll"
	"github.com/tomtom215/presencewatch/internal/transport/push"
	"github.com/tomtom215/presencewatch/internal/upstream"
	ws "github.com/tomtom215/presencewatch/internal/websocket"
)

// app holds every long-lived component. build wires them; close releases
// what the supervisor tree does not own.
type app struct {
	store       store.Store
	recorder    *presence.Recorder
	coordinator *failover.Coordinator
	hub         *ws.Hub
	bus         *eventbus.Bus
	outbox      *outbox.Outbox
	relay       *outbox.Relay
	server      *http.Server
	tree        *supervisor.SupervisorTree
}

// build opens the store and event bus, wires the engine and registers every
// service with a new supervisor tree. Nothing runs until tree.Serve.
func build(ctx context.Context, cfg *config.Config) (*app, error) {
	s, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Driver, err)
	}
	logging.Info().Str("driver", cfg.Store.Driver).Str("path", cfg.Store.Path).Msg("Store opened")

	a := &app{store: s, hub: ws.NewHub()}

	recorderOpts := []presence.Option{presence.WithNotifier(a.hub)}
	if cfg.Events.Enabled {
		a.bus, err = eventbus.Open(ctx, cfg.Events)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("open event bus: %w", err)
		}
		if cfg.Events.OutboxEnabled {
			a.outbox, err = outbox.Open(cfg.Events.OutboxPath, cfg.Events.OutboxEntryTTL)
			if err != nil {
				a.close()
				return nil, fmt.Errorf("open activity outbox: %w", err)
			}
			a.relay = outbox.NewRelay(a.outbox, a.bus.Publisher(), cfg.Events.OutboxRetryInterval, cfg.Events.OutboxMaxRetries)
			recorderOpts = append(recorderOpts, presence.WithNotifier(a.relay))
		} else {
			recorderOpts = append(recorderOpts, presence.WithNotifier(a.bus.Publisher()))
		}
		logging.Info().Str("backend", a.bus.Backend()).Str("topic", cfg.Events.Topic).Msg("Activity event bus enabled")
	}
	a.recorder = presence.NewRecorder(s, recorderOpts...)

	client := upstream.NewCircuitBreakerClient(upstream.NewClient(cfg.Upstream), upstream.BreakerSettings{Name: "upstream"})

	var pushTransport failover.PushTransport = push.NewChannel(cfg.Push, a.recorder)
	if !cfg.Push.Enabled {
		pushTransport = newDisabledPush()
	}
	pollChannel := poll.NewChannel(cfg.Poll, client, a.recorder)

	a.coordinator = failover.NewCoordinator(cfg.Failover, cfg.Poll.Interval, pushTransport, pollChannel,
		failover.WithNotifier(a.hub))
	for _, id := range cfg.Servers {
		if err := a.coordinator.Subscribe(id); err != nil {
			logging.Warn().Err(err).Str("server_id", id).Msg("Skipping configured server")
		}
	}
	if !cfg.Push.Enabled {
		logging.Warn().Msg("Push channel disabled, tracking by polling only")
		// Servers are subscribed first so the first poll cycle covers them.
		if err := a.coordinator.ForceMode(ctx, failover.ModeSecondary.String()); err != nil {
			a.close()
			return nil, err
		}
	}

	handler := api.NewHandler(api.Deps{
		Presence: a.recorder,
		Failover: a.coordinator,
		Upstream: client,
		Store:    s,
		Live:     ws.NewHandler(a.hub, cfg.Server.CORSOrigins),
	})
	a.server = api.NewServer(cfg.Server, api.NewRouter(cfg.Server, handler))

	a.tree, err = supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfigFrom(cfg.Supervisor))
	if err != nil {
		a.close()
		return nil, fmt.Errorf("create supervisor tree: %w", err)
	}

	a.tree.AddEngineService(services.NewCoordinatorService(a.coordinator))
	if cfg.Retention.Enabled {
		a.tree.AddEngineService(services.NewRetentionService(a.recorder, cfg.Retention.Interval, cfg.Retention.MaxAge))
	}
	if a.bus != nil {
		a.tree.AddEngineService(services.NewEventBusService(a.bus, cfg.Supervisor.ShutdownTimeout))
	}
	if a.relay != nil {
		a.tree.AddEngineService(services.NewOutboxRelayService(a.relay))
	}
	a.tree.AddAPIService(services.NewLiveHubService(a.hub.RunWithContext))
	a.tree.AddAPIService(services.NewHTTPServerService(a.server, cfg.Supervisor.ShutdownTimeout))

	return a, nil
}

// close releases the event bus, the outbox and the store. Safe after a
// partial build.
func (a *app) close() {
	if a.bus != nil {
		a.bus.Shutdown(context.Background())
	}
	if a.outbox != nil {
		if err := a.outbox.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing activity outbox")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Error closing store")
		}
	}
}
