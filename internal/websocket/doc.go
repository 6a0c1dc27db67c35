// Presencewatch - Game Server Presence Tracking and Transport Failover
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/presencewatch

/*
Package websocket serves the live activity feed to dashboard clients.

The Hub is registered as a notifier on the presence recorder and on the
failover coordinator, so every recorded join or leave and every transport
mode change is pushed to connected clients:

	{"type":"activity","data":{"server_id":"1234","player_name":"alice","action":"joined",...}}
	{"type":"mode_changed","data":{"from":"primary","to":"hybrid","reason":"push_failure",...}}

Clients connecting with ?server_id=1234 receive activity for that server only;
mode changes go to everyone. A client may send {"type":"ping"} and gets
{"type":"pong"} back.

Each client runs a read and a write goroutine. The hub owns the client set
from a single goroutine started by RunWithContext, which the supervisor tree
restarts on failure. Clients whose send buffer fills up are dropped rather
than slowing the broadcast for everyone else.
*/
package websocket
