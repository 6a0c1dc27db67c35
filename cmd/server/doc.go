// Presencewatch - Game Server Presence Tracking and Transport Failover
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/presencewatch

/*
Package main is the entry point for the presencewatch server.

Presencewatch tracks which players are online on a set of game servers. A
push channel (websocket subscription) is the primary source of join and leave
events; a poll channel diffs periodic player list snapshots as the fallback.
The failover coordinator moves between primary, hybrid and secondary modes as
push health changes. Every event lands in the presence recorder, which keeps
player profiles, sessions and an activity log.

# Application Architecture

	RootSupervisor ("presencewatch")
	├── EngineSupervisor ("engine-layer")
	│   ├── failover-coordinator
	│   ├── retention-cleanup   (RETENTION_ENABLED)
	│   ├── event-bus           (EVENTS_ENABLED)
	│   └── outbox-relay        (EVENTS_ENABLED and OUTBOX_ENABLED)
	└── APISupervisor ("api-layer")
	    ├── live-hub
	    └── http-server

Initialization order:

 1. Configuration: koanf v2 from defaults, config.yaml and the environment
 2. Logging: zerolog global logger
 3. Store: memory, badger or duckdb (STORE_DRIVER)
 4. Event bus: watermill over embedded or external NATS JetStream (optional),
    fronted by a badger outbox at OUTBOX_PATH
 5. Recorder, upstream client with circuit breaker, push and poll channels
 6. Failover coordinator, subscribed to MONITORED_SERVERS
 7. HTTP API and live feed hub
 8. Supervisor tree

With PUSH_ENABLED=false the coordinator starts in secondary mode and tracks by
polling only.

# Signal Handling

SIGINT and SIGTERM cancel the root context. Services drain within
SHUTDOWN_TIMEOUT, then the event bus, the outbox and the store are closed.

# Example

	export MONITORED_SERVERS=1234567,7654321
	export STORE_DRIVER=badger STORE_PATH=/data/presence
	./presencewatch
*/
package main
