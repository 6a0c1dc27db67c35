// Presencewatch - Game Server Presence Tracking and Transport Failover
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/presencewatch

/*
Package supervisor runs presencewatch's long-lived services under a suture v4
tree.

	RootSupervisor ("presencewatch")
	├── EngineSupervisor ("engine-layer")
	│   ├── failover-coordinator
	│   ├── retention-cleanup   (if retention.enabled)
	│   ├── event-bus           (if events.enabled)
	│   └── outbox-relay        (if events.outbox_enabled)
	└── APISupervisor ("api-layer")
	    ├── live-hub
	    └── http-server

Crashed services restart with suture's backoff. Supervisor events are logged
through sutureslog into the zerolog-backed slog handler from internal/logging.

Usage:

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfigFrom(cfg.Supervisor))
	if err != nil {
	    return err
	}
	tree.AddEngineService(services.NewCoordinatorService(coordinator))
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Supervisor.ShutdownTimeout))
	return tree.Serve(ctx)
*/
package supervisor
