// Presencewatch - Game Server Presence Tracking and Transport Failover
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/presencewatch

package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/presencewatch/internal/models"
)

// Key layout. Composite keys are joined with sep, which cannot appear in
// server ids or player names coming from the upstream API.
const (
	sep = "\x00"

	profileKeyPrefix        = "profile:"         // id -> profile json
	profileNameKeyPrefix    = "profile_name:"    // server + sep + name -> id
	profileServerKeyPrefix  = "profile_server:"  // server + sep + id -> nil
	sessionKeyPrefix        = "session:"         // id -> session json
	sessionProfileKeyPrefix = "session_profile:" // profile + sep + id -> nil
	sessionActiveKeyPrefix  = "session_active:"  // profile -> session id
	activityKeyPrefix       = "activity:"        // server + sep + nanos + sep + id -> activity json
)

// BadgerStore persists presence data in BadgerDB.
type BadgerStore struct {
	db     *badger.DB
	ownsDB bool
}

// OpenBadgerStore opens (or creates) a BadgerDB at path. An empty path opens
// an in-memory database.
func OpenBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger db: %w", err)
	}
	return &BadgerStore{db: db, ownsDB: true}, nil
}

// NewBadgerStore wraps an already open database. Close does not close db.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

func activityKey(a *models.ActivityEvent) []byte {
	return []byte(activityKeyPrefix + a.ServerID + sep + nanosKey(a.Timestamp) + sep + a.ID)
}

func nanosKey(t time.Time) string {
	return fmt.Sprintf("%020d", t.UnixNano())
}

func getJSON(txn *badger.Txn, key string, v interface{}) error {
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func getString(txn *badger.Txn, key string) (string, error) {
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return "", err
	}
	return string(val), nil
}

func setJSON(txn *badger.Txn, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return txn.Set([]byte(key), data)
}

// keysWithPrefix returns the suffix of every key under prefix.
func keysWithPrefix(txn *badger.Txn, prefix string) []string {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	var out []string
	p := []byte(prefix)
	for it.Seek(p); it.ValidForPrefix(p); it.Next() {
		out = append(out, strings.TrimPrefix(string(it.Item().Key()), prefix))
	}
	return out
}

// GetProfile implements Store.
func (s *BadgerStore) GetProfile(_ context.Context, serverID, playerName string) (*models.PlayerProfile, error) {
	var p models.PlayerProfile
	err := s.db.View(func(txn *badger.Txn) error {
		id, err := getString(txn, profileNameKeyPrefix+serverID+sep+playerName)
		if err != nil {
			return err
		}
		return getJSON(txn, profileKeyPrefix+id, &p)
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetProfileByID implements Store.
func (s *BadgerStore) GetProfileByID(_ context.Context, id string) (*models.PlayerProfile, error) {
	var p models.PlayerProfile
	if err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, profileKeyPrefix+id, &p)
	}); err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateProfile implements Store.
func (s *BadgerStore) CreateProfile(_ context.Context, p *models.PlayerProfile) error {
	return s.db.Update(func(txn *badger.Txn) error {
		nameKey := profileNameKeyPrefix + p.ServerID + sep + p.PlayerName
		if _, err := txn.Get([]byte(nameKey)); err == nil {
			return fmt.Errorf("profile %s/%s: %w", p.ServerID, p.PlayerName, ErrAlreadyExists)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("get profile name key: %w", err)
		}

		if err := setJSON(txn, profileKeyPrefix+p.ID, p); err != nil {
			return err
		}
		if err := txn.Set([]byte(nameKey), []byte(p.ID)); err != nil {
			return fmt.Errorf("set profile name key: %w", err)
		}
		return txn.Set([]byte(profileServerKeyPrefix+p.ServerID+sep+p.ID), []byte{})
	})
}

// UpdateProfile implements Store.
func (s *BadgerStore) UpdateProfile(_ context.Context, p *models.PlayerProfile) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(profileKeyPrefix + p.ID)); errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("profile %s: %w", p.ID, ErrNotFound)
		} else if err != nil {
			return fmt.Errorf("get profile: %w", err)
		}
		return setJSON(txn, profileKeyPrefix+p.ID, p)
	})
}

func (s *BadgerStore) serverProfiles(serverID string, onlineOnly bool) ([]models.PlayerProfile, error) {
	var out []models.PlayerProfile
	err := s.db.View(func(txn *badger.Txn) error {
		for _, id := range keysWithPrefix(txn, profileServerKeyPrefix+serverID+sep) {
			var p models.PlayerProfile
			if err := getJSON(txn, profileKeyPrefix+id, &p); err != nil {
				if errors.Is(err, ErrNotFound) {
					continue
				}
				return err
			}
			if onlineOnly && !p.IsOnline {
				continue
			}
			out = append(out, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	return out, nil
}

// ListProfiles implements Store.
func (s *BadgerStore) ListProfiles(_ context.Context, serverID string, limit int) ([]models.PlayerProfile, error) {
	out, err := s.serverProfiles(serverID, false)
	if err != nil {
		return nil, err
	}
	sortProfiles(out)
	return truncate(out, limit), nil
}

// ListOnlineProfiles implements Store.
func (s *BadgerStore) ListOnlineProfiles(_ context.Context, serverID string) ([]models.PlayerProfile, error) {
	return s.serverProfiles(serverID, true)
}

// CreateSession implements Store.
func (s *BadgerStore) CreateSession(_ context.Context, sess *models.PlayerSession) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if sess.IsActive {
			activeKey := []byte(sessionActiveKeyPrefix + sess.ProfileID)
			if _, err := txn.Get(activeKey); err == nil {
				return fmt.Errorf("active session for profile %s: %w", sess.ProfileID, ErrAlreadyExists)
			} else if !errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("get active session: %w", err)
			}
			if err := txn.Set(activeKey, []byte(sess.ID)); err != nil {
				return fmt.Errorf("set active session: %w", err)
			}
		}
		if err := setJSON(txn, sessionKeyPrefix+sess.ID, sess); err != nil {
			return err
		}
		return txn.Set([]byte(sessionProfileKeyPrefix+sess.ProfileID+sep+sess.ID), []byte{})
	})
}

// UpdateSession implements Store.
func (s *BadgerStore) UpdateSession(_ context.Context, sess *models.PlayerSession) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(sessionKeyPrefix + sess.ID)); errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("session %s: %w", sess.ID, ErrNotFound)
		} else if err != nil {
			return fmt.Errorf("get session: %w", err)
		}
		if err := setJSON(txn, sessionKeyPrefix+sess.ID, sess); err != nil {
			return err
		}
		if sess.IsActive {
			return nil
		}
		activeKey := sessionActiveKeyPrefix + sess.ProfileID
		if id, err := getString(txn, activeKey); err == nil && id == sess.ID {
			return txn.Delete([]byte(activeKey))
		}
		return nil
	})
}

// ActiveSession implements Store.
func (s *BadgerStore) ActiveSession(_ context.Context, profileID string) (*models.PlayerSession, error) {
	var sess models.PlayerSession
	err := s.db.View(func(txn *badger.Txn) error {
		id, err := getString(txn, sessionActiveKeyPrefix+profileID)
		if err != nil {
			return err
		}
		return getJSON(txn, sessionKeyPrefix+id, &sess)
	})
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// ListSessions implements Store.
func (s *BadgerStore) ListSessions(_ context.Context, profileID string, limit int) ([]models.PlayerSession, error) {
	var out []models.PlayerSession
	err := s.db.View(func(txn *badger.Txn) error {
		for _, id := range keysWithPrefix(txn, sessionProfileKeyPrefix+profileID+sep) {
			var sess models.PlayerSession
			if err := getJSON(txn, sessionKeyPrefix+id, &sess); err != nil {
				if errors.Is(err, ErrNotFound) {
					continue
				}
				return err
			}
			out = append(out, sess)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	sortSessions(out)
	return truncate(out, limit), nil
}

// AppendActivity implements Store.
func (s *BadgerStore) AppendActivity(_ context.Context, a *models.ActivityEvent) error {
	return s.db.Update(func(txn *badger.Txn) error {
		data, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("marshal activity: %w", err)
		}
		return txn.Set(activityKey(a), data)
	})
}

// ListActivity implements Store. With a server id it walks that server's keys
// newest first and stops at Since or Limit.
func (s *BadgerStore) ListActivity(_ context.Context, f ActivityFilter) ([]models.ActivityEvent, error) {
	var out []models.ActivityEvent
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := activityKeyPrefix
		if f.ServerID != "" {
			prefix += f.ServerID + sep
		}
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek([]byte(prefix + "\xff")); it.ValidForPrefix([]byte(prefix)); it.Next() {
			var a models.ActivityEvent
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &a)
			}); err != nil {
				return fmt.Errorf("decode activity: %w", err)
			}
			if f.ServerID != "" && !f.Since.IsZero() && a.Timestamp.Before(f.Since) {
				break
			}
			if !f.matches(&a) {
				continue
			}
			out = append(out, a)
			if f.ServerID != "" && f.Limit > 0 && len(out) >= f.Limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	sortActivity(out)
	return truncate(out, f.Limit), nil
}

// DeleteActivityBefore implements Store.
func (s *BadgerStore) DeleteActivityBefore(_ context.Context, cutoff time.Time) (int, error) {
	limit := cutoff.UnixNano()
	var doomed [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		for _, suffix := range keysWithPrefix(txn, activityKeyPrefix) {
			parts := strings.Split(suffix, sep)
			if len(parts) != 3 {
				continue
			}
			nanos, err := strconv.ParseInt(parts[1], 10, 64)
			if err != nil {
				continue
			}
			if nanos < limit {
				doomed = append(doomed, []byte(activityKeyPrefix+suffix))
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan activity: %w", err)
	}
	return len(doomed), s.deleteKeys(doomed)
}

// DeleteClosedSessionsBefore implements Store.
func (s *BadgerStore) DeleteClosedSessionsBefore(_ context.Context, cutoff time.Time) (int, error) {
	var doomed [][]byte
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(sessionKeyPrefix)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var sess models.PlayerSession
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &sess)
			}); err != nil {
				return fmt.Errorf("decode session: %w", err)
			}
			if sess.IsActive || sess.LeaveTime == nil || !sess.LeaveTime.Before(cutoff) {
				continue
			}
			doomed = append(doomed,
				[]byte(sessionKeyPrefix+sess.ID),
				[]byte(sessionProfileKeyPrefix+sess.ProfileID+sep+sess.ID))
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan sessions: %w", err)
	}
	return n, s.deleteKeys(doomed)
}

func (s *BadgerStore) deleteKeys(keys [][]byte) error {
	if len(keys) == 0 {
		return nil
	}
	wb := s.db.NewWriteBatch()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			wb.Cancel()
			return fmt.Errorf("batch delete: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("flush deletes: %w", err)
	}
	return nil
}

// Ping implements Store.
func (s *BadgerStore) Ping(context.Context) error {
	if s.db.IsClosed() {
		return errors.New("badger db is closed")
	}
	return nil
}

// Close implements Store.
func (s *BadgerStore) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}
