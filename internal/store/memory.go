// Presencewatch - Game Server Presence Tracking and Transport Failover
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/presencewatch

package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tomtom215/presencewatch/internal/models"
)

// MemoryStore keeps everything in maps. Contents are lost on restart.
type MemoryStore struct {
	mu sync.RWMutex

	profiles    map[string]models.PlayerProfile
	profileKeys map[string]string // serverID + "\x00" + name -> profile id
	sessions    map[string]models.PlayerSession
	active      map[string]string // profile id -> active session id
	activity    []models.ActivityEvent
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		profiles:    make(map[string]models.PlayerProfile),
		profileKeys: make(map[string]string),
		sessions:    make(map[string]models.PlayerSession),
		active:      make(map[string]string),
	}
}

func profileKey(serverID, playerName string) string {
	return serverID + "\x00" + playerName
}

// GetProfile implements Store.
func (m *MemoryStore) GetProfile(_ context.Context, serverID, playerName string) (*models.PlayerProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.profileKeys[profileKey(serverID, playerName)]
	if !ok {
		return nil, ErrNotFound
	}
	p := m.profiles[id]
	return &p, nil
}

// GetProfileByID implements Store.
func (m *MemoryStore) GetProfileByID(_ context.Context, id string) (*models.PlayerProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.profiles[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

// CreateProfile implements Store.
func (m *MemoryStore) CreateProfile(_ context.Context, p *models.PlayerProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := profileKey(p.ServerID, p.PlayerName)
	if _, ok := m.profileKeys[key]; ok {
		return fmt.Errorf("profile %s/%s: %w", p.ServerID, p.PlayerName, ErrAlreadyExists)
	}
	if _, ok := m.profiles[p.ID]; ok {
		return fmt.Errorf("profile %s: %w", p.ID, ErrAlreadyExists)
	}
	m.profiles[p.ID] = *p
	m.profileKeys[key] = p.ID
	return nil
}

// UpdateProfile implements Store.
func (m *MemoryStore) UpdateProfile(_ context.Context, p *models.PlayerProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.profiles[p.ID]; !ok {
		return fmt.Errorf("profile %s: %w", p.ID, ErrNotFound)
	}
	m.profiles[p.ID] = *p
	return nil
}

// ListProfiles implements Store.
func (m *MemoryStore) ListProfiles(_ context.Context, serverID string, limit int) ([]models.PlayerProfile, error) {
	m.mu.RLock()
	out := make([]models.PlayerProfile, 0, len(m.profiles))
	for _, p := range m.profiles {
		if p.ServerID == serverID {
			out = append(out, p)
		}
	}
	m.mu.RUnlock()

	sortProfiles(out)
	return truncate(out, limit), nil
}

// ListOnlineProfiles implements Store.
func (m *MemoryStore) ListOnlineProfiles(_ context.Context, serverID string) ([]models.PlayerProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.PlayerProfile
	for _, p := range m.profiles {
		if p.ServerID == serverID && p.IsOnline {
			out = append(out, p)
		}
	}
	return out, nil
}

// CreateSession implements Store.
func (m *MemoryStore) CreateSession(_ context.Context, s *models.PlayerSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[s.ID]; ok {
		return fmt.Errorf("session %s: %w", s.ID, ErrAlreadyExists)
	}
	if s.IsActive {
		if _, ok := m.active[s.ProfileID]; ok {
			return fmt.Errorf("active session for profile %s: %w", s.ProfileID, ErrAlreadyExists)
		}
		m.active[s.ProfileID] = s.ID
	}
	m.sessions[s.ID] = *s
	return nil
}

// UpdateSession implements Store.
func (m *MemoryStore) UpdateSession(_ context.Context, s *models.PlayerSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[s.ID]; !ok {
		return fmt.Errorf("session %s: %w", s.ID, ErrNotFound)
	}
	m.sessions[s.ID] = *s
	if !s.IsActive && m.active[s.ProfileID] == s.ID {
		delete(m.active, s.ProfileID)
	}
	return nil
}

// ActiveSession implements Store.
func (m *MemoryStore) ActiveSession(_ context.Context, profileID string) (*models.PlayerSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.active[profileID]
	if !ok {
		return nil, ErrNotFound
	}
	s := m.sessions[id]
	return &s, nil
}

// ListSessions implements Store.
func (m *MemoryStore) ListSessions(_ context.Context, profileID string, limit int) ([]models.PlayerSession, error) {
	m.mu.RLock()
	var out []models.PlayerSession
	for _, s := range m.sessions {
		if s.ProfileID == profileID {
			out = append(out, s)
		}
	}
	m.mu.RUnlock()

	sortSessions(out)
	return truncate(out, limit), nil
}

// AppendActivity implements Store.
func (m *MemoryStore) AppendActivity(_ context.Context, a *models.ActivityEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activity = append(m.activity, *a)
	return nil
}

// ListActivity implements Store.
func (m *MemoryStore) ListActivity(_ context.Context, f ActivityFilter) ([]models.ActivityEvent, error) {
	m.mu.RLock()
	var out []models.ActivityEvent
	for i := len(m.activity) - 1; i >= 0; i-- {
		if f.matches(&m.activity[i]) {
			out = append(out, m.activity[i])
		}
	}
	m.mu.RUnlock()

	// Appends are in time order, so ties stay newest first.
	sortActivity(out)
	return truncate(out, f.Limit), nil
}

// DeleteActivityBefore implements Store.
func (m *MemoryStore) DeleteActivityBefore(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.activity[:0]
	for _, a := range m.activity {
		if !a.Timestamp.Before(cutoff) {
			kept = append(kept, a)
		}
	}
	n := len(m.activity) - len(kept)
	m.activity = kept
	return n, nil
}

// DeleteClosedSessionsBefore implements Store.
func (m *MemoryStore) DeleteClosedSessionsBefore(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id, s := range m.sessions {
		if !s.IsActive && s.LeaveTime != nil && s.LeaveTime.Before(cutoff) {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

// Ping implements Store.
func (m *MemoryStore) Ping(context.Context) error { return nil }

// Close implements Store.
func (m *MemoryStore) Close() error { return nil }
