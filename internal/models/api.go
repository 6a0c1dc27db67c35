// Presencewatch - Game Server Presence Tracking and Transport Failover
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/presencewatch

package models

import "time"

// APIResponse wraps every HTTP response body.
//
//	{"status":"success","data":{...},"metadata":{"timestamp":"...","query_time_ms":3}}
//	{"status":"error","error":{"code":"VALIDATION_ERROR","message":"..."},"metadata":{...}}
type APIResponse struct {
	Status   string      `json:"status"`
	Data     interface{} `json:"data"`
	Metadata Metadata    `json:"metadata"`
	Error    *APIError   `json:"error,omitempty"`
}

// Metadata carries timing information for a response.
type Metadata struct {
	Timestamp   time.Time `json:"timestamp"`
	QueryTimeMS int64     `json:"query_time_ms"`
	Count       int       `json:"count,omitempty"`
}

// APIError describes a failed request.
type APIError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// LiveMessage is pushed to dashboard websocket clients.
type LiveMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Live message types.
const (
	LiveActivity    = "activity"
	LiveModeChanged = "mode_changed"
)

// ModeChange is the payload of a LiveModeChanged message.
type ModeChange struct {
	From         string    `json:"from"`
	To           string    `json:"to"`
	Reason       string    `json:"reason"`
	FailureCount int       `json:"failure_count"`
	At           time.Time `json:"at"`
}
