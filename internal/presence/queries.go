// Presencewatch - Game Server Presence Tracking and Transport Failover
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/presencewatch

package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/presencewatch/internal/logging"
	"github.com/tomtom215/presencewatch/internal/metrics"
	"github.com/tomtom215/presencewatch/internal/models"
	"github.com/tomtom215/presencewatch/internal/store"
)

// Default query limits.
const (
	DefaultProfileLimit  = 500
	DefaultSessionLimit  = 50
	DefaultActivityLimit = 100
)

// AnonymousPlayerName is the placeholder upstream reports for players who
// hide their identity.
const AnonymousPlayerName = "A player"

// hiddenWindow bounds the anonymous join/leave tally.
const hiddenWindow = 24 * time.Hour

// CleanupResult counts rows removed by Cleanup.
type CleanupResult struct {
	Activities int `json:"activities"`
	Sessions   int `json:"sessions"`
}

// GetProfiles returns a server's profiles, most recently updated first.
func (r *Recorder) GetProfiles(ctx context.Context, serverID string, limit int) ([]models.PlayerProfile, error) {
	if limit <= 0 {
		limit = DefaultProfileLimit
	}
	profiles, err := r.store.ListProfiles(ctx, serverID, limit)
	if err != nil {
		return nil, fmt.Errorf("list profiles for %s: %w", serverID, err)
	}
	return profiles, nil
}

// GetProfile returns one profile by id.
func (r *Recorder) GetProfile(ctx context.Context, profileID string) (*models.PlayerProfile, error) {
	p, err := r.store.GetProfileByID(ctx, profileID)
	if err != nil {
		return nil, fmt.Errorf("get profile %s: %w", profileID, err)
	}
	return p, nil
}

// GetSessionHistory returns a profile's sessions, newest join first.
func (r *Recorder) GetSessionHistory(ctx context.Context, profileID string, limit int) ([]models.PlayerSession, error) {
	if limit <= 0 {
		limit = DefaultSessionLimit
	}
	sessions, err := r.store.ListSessions(ctx, profileID, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions for %s: %w", profileID, err)
	}
	return sessions, nil
}

// GetRecentActivity returns a server's activity, newest first.
func (r *Recorder) GetRecentActivity(ctx context.Context, serverID string, limit int) ([]models.ActivityEvent, error) {
	if limit <= 0 {
		limit = DefaultActivityLimit
	}
	events, err := r.store.ListActivity(ctx, store.ActivityFilter{ServerID: serverID, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("list activity for %s: %w", serverID, err)
	}
	return events, nil
}

// HiddenPlayerCount estimates players the upstream list does not show: the
// larger of total minus visible and the net anonymous joins over the last
// day. On a store error the simple difference is returned with the error.
func (r *Recorder) HiddenPlayerCount(ctx context.Context, serverID string, totalPlayers, visiblePlayers int) (int, error) {
	base := totalPlayers - visiblePlayers
	if base < 0 {
		base = 0
	}

	events, err := r.store.ListActivity(ctx, store.ActivityFilter{
		ServerID:   serverID,
		PlayerName: AnonymousPlayerName,
		Since:      r.now().Add(-hiddenWindow),
	})
	if err != nil {
		return base, fmt.Errorf("hidden player count for %s: %w", serverID, err)
	}

	net := 0
	for i := range events {
		switch events[i].Action {
		case models.ActionJoined:
			net++
		case models.ActionLeft:
			net--
		}
	}

	if net > base {
		return net, nil
	}
	return base, nil
}

// Cleanup deletes activity events and closed sessions older than olderThan.
// Profiles and active sessions are kept.
func (r *Recorder) Cleanup(ctx context.Context, olderThan time.Duration) (CleanupResult, error) {
	cutoff := r.now().Add(-olderThan)

	var res CleanupResult
	n, err := r.store.DeleteActivityBefore(ctx, cutoff)
	if err != nil {
		return res, fmt.Errorf("cleanup activity: %w", err)
	}
	res.Activities = n
	metrics.RetentionDeleted.WithLabelValues("activity").Add(float64(n))

	n, err = r.store.DeleteClosedSessionsBefore(ctx, cutoff)
	if err != nil {
		return res, fmt.Errorf("cleanup sessions: %w", err)
	}
	res.Sessions = n
	metrics.RetentionDeleted.WithLabelValues("session").Add(float64(n))

	logging.Info().
		Time("cutoff", cutoff).
		Int("activities", res.Activities).
		Int("sessions", res.Sessions).
		Msg("Retention cleanup complete")
	return res, nil
}
