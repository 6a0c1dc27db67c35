// Presencewatch - Game Server Presence Tracking and Transport Failover
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/presencewatch

/*
Package services provides suture.Service wrappers for presencewatch components.

Each wrapper translates a component's lifecycle (Run loop, Start/Shutdown,
ListenAndServe, periodic job) into suture's context-aware Serve method and
names itself through fmt.Stringer for suture's event log.

# Available Services

  - RunnerService: the failover coordinator (NewCoordinatorService) and the
    live feed hub (NewLiveHubService)
  - EventBusService: the watermill activity publisher and embedded NATS server
  - RetentionService: periodic Recorder.Cleanup
  - HTTPServerService: the chi API server with graceful shutdown

# Shutdown

Every Serve returns ctx.Err() after a clean stop so suture does not count it
as a failure. Wrappers that own resources shut them down with a fresh context
bounded by their shutdown timeout, since the Serve context is already done.
*/
package services
