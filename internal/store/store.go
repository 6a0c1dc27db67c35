// Presencewatch - Game Server Presence Tracking and Transport Failover
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/presencewatch

// Package store persists player profiles, sessions and activity events.
//
// Three backends implement Store: an in-process map store for tests and
// ephemeral runs, a BadgerDB key-value store, and a DuckDB database. All of
// them return copies, so callers may mutate results freely.
package store

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/tomtom215/presencewatch/internal/models"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrAlreadyExists is returned when creating a profile whose
	// (server, player name) pair is taken, or a second active session for a
	// profile.
	ErrAlreadyExists = errors.New("store: already exists")
)

// ActivityFilter selects activity events. Zero values match everything.
type ActivityFilter struct {
	ServerID   string
	PlayerName string
	Since      time.Time
	Limit      int
}

// Store is the persistence contract used by the presence recorder.
//
// List methods treat a non-positive limit as unlimited.
type Store interface {
	// GetProfile looks a profile up by its natural key.
	GetProfile(ctx context.Context, serverID, playerName string) (*models.PlayerProfile, error)
	GetProfileByID(ctx context.Context, id string) (*models.PlayerProfile, error)
	CreateProfile(ctx context.Context, p *models.PlayerProfile) error
	UpdateProfile(ctx context.Context, p *models.PlayerProfile) error

	// ListProfiles orders by UpdatedAt then LastSeenTime, newest first.
	ListProfiles(ctx context.Context, serverID string, limit int) ([]models.PlayerProfile, error)
	ListOnlineProfiles(ctx context.Context, serverID string) ([]models.PlayerProfile, error)

	CreateSession(ctx context.Context, s *models.PlayerSession) error
	UpdateSession(ctx context.Context, s *models.PlayerSession) error
	ActiveSession(ctx context.Context, profileID string) (*models.PlayerSession, error)

	// ListSessions orders by JoinTime, newest first.
	ListSessions(ctx context.Context, profileID string, limit int) ([]models.PlayerSession, error)

	AppendActivity(ctx context.Context, a *models.ActivityEvent) error

	// ListActivity orders by Timestamp, newest first.
	ListActivity(ctx context.Context, f ActivityFilter) ([]models.ActivityEvent, error)

	// DeleteActivityBefore removes activity events older than cutoff.
	DeleteActivityBefore(ctx context.Context, cutoff time.Time) (int, error)

	// DeleteClosedSessionsBefore removes inactive sessions that ended before
	// cutoff. Active sessions are never removed.
	DeleteClosedSessionsBefore(ctx context.Context, cutoff time.Time) (int, error)

	Ping(ctx context.Context) error
	Close() error
}

func sortProfiles(ps []models.PlayerProfile) {
	sort.SliceStable(ps, func(i, j int) bool {
		if !ps[i].UpdatedAt.Equal(ps[j].UpdatedAt) {
			return ps[i].UpdatedAt.After(ps[j].UpdatedAt)
		}
		return ps[i].LastSeenTime.After(ps[j].LastSeenTime)
	})
}

func sortSessions(ss []models.PlayerSession) {
	sort.SliceStable(ss, func(i, j int) bool {
		return ss[i].JoinTime.After(ss[j].JoinTime)
	})
}

func sortActivity(as []models.ActivityEvent) {
	sort.SliceStable(as, func(i, j int) bool {
		return as[i].Timestamp.After(as[j].Timestamp)
	})
}

func (f ActivityFilter) matches(a *models.ActivityEvent) bool {
	if f.ServerID != "" && a.ServerID != f.ServerID {
		return false
	}
	if f.PlayerName != "" && a.PlayerName != f.PlayerName {
		return false
	}
	if !f.Since.IsZero() && a.Timestamp.Before(f.Since) {
		return false
	}
	return true
}

func truncate[T any](s []T, limit int) []T {
	if limit > 0 && len(s) > limit {
		return s[:limit]
	}
	return s
}
