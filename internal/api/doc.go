// Presencewatch - Game Server Presence Tracking and Transport Failover
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/presencewatch

/*
Package api serves the presencewatch HTTP API with chi.

Every JSON response uses the models.APIResponse envelope:

	{"status":"success","data":[...],"metadata":{"timestamp":"...","query_time_ms":2,"count":3}}
	{"status":"error","data":null,"metadata":{...},"error":{"code":"NOT_FOUND","message":"Not found"}}

Read endpoints query the presence recorder. Control endpoints (subscribe,
unsubscribe, forced mode, manual poll) go to the failover coordinator, which
routes them to the transports of the current mode. Request parameters are
checked with the validation package; sentinel errors from the store, the
upstream client and the coordinator are mapped to HTTP statuses in one place
(respondDomainError).

API routes are rate limited per client IP with httprate. Health routes and
/metrics are not.
*/
package api
