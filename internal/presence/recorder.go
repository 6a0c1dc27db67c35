// Presencewatch - Game Server Presence Tracking and Transport Failover
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/presencewatch

/*
Package presence is the system of record for player presence.

The Recorder turns normalized join/leave events into PlayerProfile,
PlayerSession and ActivityEvent rows. Every mutation is idempotent: a join for
a player already online and a leave for a player already offline are no-ops,
which lets the push and poll transports report the same change without
producing duplicate sessions.

Concurrency:
  - Mutations for one (server, player name) pair are serialized by a keyed
    lock; different players proceed in parallel.
  - Reconcile re-enters the same per-player path, so it is safe to run
    alongside organic events.

Notifiers registered on the Recorder see every appended ActivityEvent, in
order per player, after it has been persisted.
*/
package presence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/presencewatch/internal/logging"
	"github.com/tomtom215/presencewatch/internal/metrics"
	"github.com/tomtom215/presencewatch/internal/models"
	"github.com/tomtom215/presencewatch/internal/store"
)

// sourceDirect labels events recorded through RecordJoin/RecordLeave rather
// than a transport.
const sourceDirect models.Source = "direct"

// Notifier receives every activity event after it is persisted.
// Implementations must not block for long; they run under the player's lock.
type Notifier interface {
	NotifyActivity(ctx context.Context, ev models.ActivityEvent)
}

// EventSink is what the transports feed.
type EventSink interface {
	RecordEvent(ctx context.Context, ev models.PlayerEvent) error
	Reconcile(ctx context.Context, serverID string, snapshot []models.Player) error
}

var _ EventSink = (*Recorder)(nil)

// Option configures a Recorder.
type Option func(*Recorder)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// WithNotifier registers n at construction.
func WithNotifier(n Notifier) Option {
	return func(r *Recorder) { r.notifiers = append(r.notifiers, n) }
}

// Recorder owns profiles, sessions and activity events.
type Recorder struct {
	store     store.Store
	locks     *keyedMutex
	now       func() time.Time
	notifiers []Notifier
}

// NewRecorder builds a recorder over s.
func NewRecorder(s store.Store, opts ...Option) *Recorder {
	r := &Recorder{
		store: s,
		locks: newKeyedMutex(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AddNotifier registers n. Call before events start flowing.
func (r *Recorder) AddNotifier(n Notifier) {
	r.notifiers = append(r.notifiers, n)
}

// RecordEvent applies a normalized event.
func (r *Recorder) RecordEvent(ctx context.Context, ev models.PlayerEvent) error {
	switch ev.Action {
	case models.ActionJoined:
		_, err := r.join(ctx, ev.ServerID, ev.PlayerName, ev.PlayerID, ev.Source)
		return err
	case models.ActionLeft:
		_, err := r.leave(ctx, ev.ServerID, ev.PlayerName, ev.PlayerID, ev.Source)
		return err
	default:
		return fmt.Errorf("record event: unknown action %q", ev.Action)
	}
}

// RecordJoin marks the player online and opens a session. A player already
// online is left untouched.
func (r *Recorder) RecordJoin(ctx context.Context, serverID, playerName, playerID string) error {
	_, err := r.join(ctx, serverID, playerName, playerID, sourceDirect)
	return err
}

// RecordLeave closes the player's active session and marks them offline. A
// player already offline is left untouched.
func (r *Recorder) RecordLeave(ctx context.Context, serverID, playerName, playerID string) error {
	_, err := r.leave(ctx, serverID, playerName, playerID, sourceDirect)
	return err
}

// Reconcile brings stored online state in line with a full player snapshot:
// players present but not online are joined, online profiles missing from the
// snapshot are left. Errors for individual players do not stop the rest.
func (r *Recorder) Reconcile(ctx context.Context, serverID string, snapshot []models.Player) error {
	online, err := r.store.ListOnlineProfiles(ctx, serverID)
	if err != nil {
		return fmt.Errorf("reconcile server %s: list online profiles: %w", serverID, err)
	}

	onlineNames := make(map[string]struct{}, len(online))
	for i := range online {
		onlineNames[online[i].PlayerName] = struct{}{}
	}

	var errs []error
	present := make(map[string]struct{}, len(snapshot))
	for _, p := range snapshot {
		if p.Name == "" {
			continue
		}
		if _, dup := present[p.Name]; dup {
			continue
		}
		present[p.Name] = struct{}{}
		if _, ok := onlineNames[p.Name]; ok {
			continue
		}
		applied, err := r.join(ctx, serverID, p.Name, p.ID, models.SourceReconcile)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if applied {
			metrics.ReconcileCorrections.WithLabelValues(string(models.ActionJoined)).Inc()
		}
	}

	for i := range online {
		name := online[i].PlayerName
		if _, ok := present[name]; ok {
			continue
		}
		applied, err := r.leave(ctx, serverID, name, online[i].PlayerID, models.SourceReconcile)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if applied {
			metrics.ReconcileCorrections.WithLabelValues(string(models.ActionLeft)).Inc()
		}
	}

	metrics.PresenceOnlinePlayers.WithLabelValues(serverID).Set(float64(len(present)))
	return errors.Join(errs...)
}

func (r *Recorder) join(ctx context.Context, serverID, playerName, playerID string, source models.Source) (bool, error) {
	unlock := r.locks.Lock(playerKey(serverID, playerName))
	defer unlock()

	now := r.now().UTC()
	profile, err := r.fetchOrCreate(ctx, serverID, playerName, playerID, now)
	if err != nil {
		return false, err
	}
	if profile.IsOnline {
		metrics.PresenceNoops.WithLabelValues(string(models.ActionJoined)).Inc()
		logging.Ctx(ctx).Debug().
			Str("server_id", serverID).Str("player", playerName).Str("source", string(source)).
			Msg("Join ignored, player already online")
		return false, nil
	}

	session := &models.PlayerSession{
		ID:         uuid.NewString(),
		ProfileID:  profile.ID,
		ServerID:   serverID,
		PlayerName: playerName,
		PlayerID:   profile.PlayerID,
		JoinTime:   now,
		IsActive:   true,
	}
	if err := r.openSession(ctx, session, now); err != nil {
		return false, err
	}

	profile.IsOnline = true
	profile.CurrentSessionStart = &now
	profile.LastJoinTime = &now
	profile.LastSeenTime = now
	profile.TotalSessions++
	profile.UpdatedAt = now
	if err := r.store.UpdateProfile(ctx, profile); err != nil {
		return false, fmt.Errorf("join %s on %s: update profile: %w", playerName, serverID, err)
	}

	if err := r.appendActivity(ctx, profile, session.ID, models.ActionJoined, now); err != nil {
		return false, err
	}

	metrics.RecordPresenceEvent(string(models.ActionJoined), string(source))
	logging.Ctx(ctx).Info().
		Str("server_id", serverID).Str("player", playerName).Str("source", string(source)).
		Msg("Player joined")
	return true, nil
}

// openSession creates session, first closing any active session left behind
// while the profile was recorded offline.
func (r *Recorder) openSession(ctx context.Context, session *models.PlayerSession, now time.Time) error {
	err := r.store.CreateSession(ctx, session)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrAlreadyExists) {
		return fmt.Errorf("join %s on %s: create session: %w", session.PlayerName, session.ServerID, err)
	}

	stale, getErr := r.store.ActiveSession(ctx, session.ProfileID)
	if getErr != nil {
		return fmt.Errorf("join %s on %s: load stale session: %w", session.PlayerName, session.ServerID, getErr)
	}
	metrics.PresenceStateDrift.Inc()
	logging.Ctx(ctx).Warn().
		Str("server_id", session.ServerID).Str("player", session.PlayerName).Str("session_id", stale.ID).
		Msg("Closing stale active session for offline profile")
	closeSession(stale, now)
	if err := r.store.UpdateSession(ctx, stale); err != nil {
		return fmt.Errorf("join %s on %s: close stale session: %w", session.PlayerName, session.ServerID, err)
	}

	if err := r.store.CreateSession(ctx, session); err != nil {
		return fmt.Errorf("join %s on %s: create session: %w", session.PlayerName, session.ServerID, err)
	}
	return nil
}

func (r *Recorder) leave(ctx context.Context, serverID, playerName, playerID string, source models.Source) (bool, error) {
	unlock := r.locks.Lock(playerKey(serverID, playerName))
	defer unlock()

	now := r.now().UTC()
	profile, err := r.fetchOrCreate(ctx, serverID, playerName, playerID, now)
	if err != nil {
		return false, err
	}
	if !profile.IsOnline {
		metrics.PresenceNoops.WithLabelValues(string(models.ActionLeft)).Inc()
		logging.Ctx(ctx).Debug().
			Str("server_id", serverID).Str("player", playerName).Str("source", string(source)).
			Msg("Leave ignored, player already offline")
		return false, nil
	}

	var sessionID string
	session, err := r.store.ActiveSession(ctx, profile.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		metrics.PresenceStateDrift.Inc()
		logging.Ctx(ctx).Warn().
			Str("server_id", serverID).Str("player", playerName).
			Msg("Online profile has no active session, marking offline")
	case err != nil:
		return false, fmt.Errorf("leave %s on %s: load active session: %w", playerName, serverID, err)
	default:
		minutes := closeSession(session, now)
		if err := r.store.UpdateSession(ctx, session); err != nil {
			return false, fmt.Errorf("leave %s on %s: close session: %w", playerName, serverID, err)
		}
		profile.TotalPlayTimeMinutes += minutes
		sessionID = session.ID
	}

	profile.IsOnline = false
	profile.CurrentSessionStart = nil
	profile.LastLeaveTime = &now
	profile.LastSeenTime = now
	profile.UpdatedAt = now
	if err := r.store.UpdateProfile(ctx, profile); err != nil {
		return false, fmt.Errorf("leave %s on %s: update profile: %w", playerName, serverID, err)
	}

	if err := r.appendActivity(ctx, profile, sessionID, models.ActionLeft, now); err != nil {
		return false, err
	}

	metrics.RecordPresenceEvent(string(models.ActionLeft), string(source))
	logging.Ctx(ctx).Info().
		Str("server_id", serverID).Str("player", playerName).Str("source", string(source)).
		Msg("Player left")
	return true, nil
}

// closeSession ends s at now and returns its duration in whole minutes.
func closeSession(s *models.PlayerSession, now time.Time) int64 {
	minutes := models.SessionMinutes(s.JoinTime, now)
	leave := now
	s.LeaveTime = &leave
	s.DurationMinutes = &minutes
	s.IsActive = false
	return minutes
}

func (r *Recorder) fetchOrCreate(ctx context.Context, serverID, playerName, playerID string, now time.Time) (*models.PlayerProfile, error) {
	profile, err := r.store.GetProfile(ctx, serverID, playerName)
	if err == nil {
		if profile.PlayerID == "" && playerID != "" {
			profile.PlayerID = playerID
		}
		return profile, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("load profile %s on %s: %w", playerName, serverID, err)
	}

	profile = &models.PlayerProfile{
		ID:           uuid.NewString(),
		ServerID:     serverID,
		PlayerName:   playerName,
		PlayerID:     playerID,
		LastSeenTime: now,
		FirstSeenAt:  now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err = r.store.CreateProfile(ctx, profile)
	if errors.Is(err, store.ErrAlreadyExists) {
		// Created by another writer sharing the store.
		return r.store.GetProfile(ctx, serverID, playerName)
	}
	if err != nil {
		return nil, fmt.Errorf("create profile %s on %s: %w", playerName, serverID, err)
	}
	return profile, nil
}

func (r *Recorder) appendActivity(ctx context.Context, p *models.PlayerProfile, sessionID string, action models.Action, now time.Time) error {
	ev := models.ActivityEvent{
		ID:         uuid.NewString(),
		ProfileID:  p.ID,
		SessionID:  sessionID,
		ServerID:   p.ServerID,
		PlayerName: p.PlayerName,
		PlayerID:   p.PlayerID,
		Action:     action,
		Timestamp:  now,
	}
	if err := r.store.AppendActivity(ctx, &ev); err != nil {
		return fmt.Errorf("%s %s on %s: append activity: %w", action, p.PlayerName, p.ServerID, err)
	}
	for _, n := range r.notifiers {
		n.NotifyActivity(ctx, ev)
	}
	return nil
}
