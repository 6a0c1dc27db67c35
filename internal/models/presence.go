// Presencewatch - Game Server Presence Tracking and Transport Failover
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/presencewatch

// Package models holds the data types shared by the transports, the presence
// recorder, the stores and the HTTP API.
package models

import (
	"time"
)

// Action is the kind of presence change.
type Action string

const (
	ActionJoined Action = "joined"
	ActionLeft   Action = "left"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	return a == ActionJoined || a == ActionLeft
}

// Source names the transport that observed an event.
type Source string

const (
	SourcePush      Source = "push"
	SourcePoll      Source = "poll"
	SourceReconcile Source = "reconcile"
)

// PlayerEvent is the canonical join/leave event produced by the normalizer.
// PlayerID is empty when the transport does not know it.
type PlayerEvent struct {
	ServerID   string    `json:"server_id"`
	PlayerName string    `json:"player_name"`
	PlayerID   string    `json:"player_id,omitempty"`
	Action     Action    `json:"action"`
	Timestamp  time.Time `json:"timestamp"`
	Source     Source    `json:"source"`
}

// Player is one entry of an upstream player-list snapshot.
type Player struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Private bool   `json:"private,omitempty"`
}

// ServerInfo is the upstream status of a game server.
type ServerInfo struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Status     string `json:"status"`
	Players    int    `json:"players"`
	MaxPlayers int    `json:"max_players"`
}

// PlayerProfile is the per (server, player name) record of presence history.
//
// IsOnline is true exactly when one PlayerSession for the profile is active;
// CurrentSessionStart is set only while online.
type PlayerProfile struct {
	ID                   string     `json:"id"`
	ServerID             string     `json:"server_id"`
	PlayerName           string     `json:"player_name"`
	PlayerID             string     `json:"player_id,omitempty"`
	IsOnline             bool       `json:"is_online"`
	CurrentSessionStart  *time.Time `json:"current_session_start,omitempty"`
	LastJoinTime         *time.Time `json:"last_join_time,omitempty"`
	LastLeaveTime        *time.Time `json:"last_leave_time,omitempty"`
	LastSeenTime         time.Time  `json:"last_seen_time"`
	FirstSeenAt          time.Time  `json:"first_seen_at"`
	TotalSessions        int        `json:"total_sessions"`
	TotalPlayTimeMinutes int64      `json:"total_play_time_minutes"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// PlayerSession is one continuous online period of a profile.
type PlayerSession struct {
	ID              string     `json:"id"`
	ProfileID       string     `json:"profile_id"`
	ServerID        string     `json:"server_id"`
	PlayerName      string     `json:"player_name"`
	PlayerID        string     `json:"player_id,omitempty"`
	JoinTime        time.Time  `json:"join_time"`
	LeaveTime       *time.Time `json:"leave_time,omitempty"`
	DurationMinutes *int64     `json:"duration_minutes,omitempty"`
	IsActive        bool       `json:"is_active"`
}

// ActivityEvent is an append-only record of a join or leave.
type ActivityEvent struct {
	ID         string    `json:"id"`
	ProfileID  string    `json:"profile_id"`
	SessionID  string    `json:"session_id,omitempty"`
	ServerID   string    `json:"server_id"`
	PlayerName string    `json:"player_name"`
	PlayerID   string    `json:"player_id,omitempty"`
	Action     Action    `json:"action"`
	Timestamp  time.Time `json:"timestamp"`
}

// SessionMinutes returns the whole minutes between join and leave, never
// negative.
func SessionMinutes(join, leave time.Time) int64 {
	d := leave.Sub(join)
	if d < 0 {
		return 0
	}
	return int64(d / time.Minute)
}
