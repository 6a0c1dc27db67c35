// Presencewatch - Game Server Presence Tracking and Transport Failover
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/presencewatch

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/tomtom215/presencewatch/internal/failover"
	"github.com/tomtom215/presencewatch/internal/models"
	"github.com/tomtom215/presencewatch/internal/upstream"
)

// Presence is the read side of the presence recorder.
type Presence interface {
	GetProfiles(ctx context.Context, serverID string, limit int) ([]models.PlayerProfile, error)
	GetProfile(ctx context.Context, profileID string) (*models.PlayerProfile, error)
	GetSessionHistory(ctx context.Context, profileID string, limit int) ([]models.PlayerSession, error)
	GetRecentActivity(ctx context.Context, serverID string, limit int) ([]models.ActivityEvent, error)
	HiddenPlayerCount(ctx context.Context, serverID string, totalPlayers, visiblePlayers int) (int, error)
}

// Failover is the control surface of the transport coordinator.
type Failover interface {
	GetStatus() failover.Status
	GetDetailedStats() failover.DetailedStats
	ForceMode(ctx context.Context, mode string) error
	TriggerPollNow(ctx context.Context) error
	Subscribe(serverID string) error
	Unsubscribe(serverID string) error
}

// Snapshots fetches live server state for the hidden player count.
type Snapshots interface {
	GetSnapshot(ctx context.Context, serverID string) (*upstream.Snapshot, error)
}

// Pinger reports store health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators of Handler. Live may be nil to disable the
// websocket feed.
type Deps struct {
	Presence Presence
	Failover Failover
	Upstream Snapshots
	Store    Pinger
	Live     http.Handler
}

// Handler serves the HTTP API.
type Handler struct {
	presence  Presence
	failover  Failover
	upstream  Snapshots
	store     Pinger
	live      http.Handler
	startTime time.Time
}

// NewHandler builds a Handler from deps.
func NewHandler(deps Deps) *Handler {
	return &Handler{
		presence:  deps.Presence,
		failover:  deps.Failover,
		upstream:  deps.Upstream,
		store:     deps.Store,
		live:      deps.Live,
		startTime: time.Now(),
	}
}
