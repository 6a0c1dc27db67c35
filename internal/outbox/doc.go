// Presencewatch - Game Server Presence Tracking and Transport Failover
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/presencewatch

// Package outbox keeps activity events durable between the recorder and the
// message bus.
//
//	Recorder → Outbox Put (badger, fsync) → Publish → Delete
//	                                           ↓ (on failure)
//	                                     entry kept, retried by Relay.Run
//
// Entries are keyed by activity id, so a redelivered event carries the same
// Nats-Msg-Id and JetStream drops it if the first publish did land. Retry
// backoff doubles per attempt up to 64 intervals; entries that reach the
// retry limit are dropped with a warning, and badger expires entries older
// than the configured TTL.
package outbox
