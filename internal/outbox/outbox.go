// Presencewatch - Game Server Presence Tracking and Transport Failover
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/presencewatch

package outbox

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/presencewatch/internal/logging"
	"github.com/tomtom215/presencewatch/internal/models"
)

var (
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("outbox closed")

	// ErrEntryNotFound is returned when an entry was already delivered,
	// dropped or expired.
	ErrEntryNotFound = errors.New("outbox entry not found")
)

const prefixPending = "pending:"

// Entry is one activity event waiting for a bus acknowledgment.
type Entry struct {
	Event         models.ActivityEvent `json:"event"`
	CreatedAt     time.Time            `json:"created_at"`
	Attempts      int                  `json:"attempts"`
	LastAttemptAt time.Time            `json:"last_attempt_at,omitempty"`
	LastError     string               `json:"last_error,omitempty"`
}

// lastTouched is when the entry was written or last attempted.
func (e *Entry) lastTouched() time.Time {
	if e.LastAttemptAt.After(e.CreatedAt) {
		return e.LastAttemptAt
	}
	return e.CreatedAt
}

// Outbox is a badger-backed set of pending entries keyed by activity id.
type Outbox struct {
	db  *badger.DB
	ttl time.Duration

	mu     sync.RWMutex
	closed bool
}

// Open opens the outbox at path with synchronous writes. An empty path
// opens an in-memory outbox. Entries older than ttl are expired by badger;
// zero keeps them until delivered or dropped.
func Open(path string, ttl time.Duration) (*Outbox, error) {
	opts := badger.DefaultOptions(path).WithSyncWrites(true)
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open outbox: %w", err)
	}
	logging.Info().Str("path", path).Bool("in_memory", path == "").Msg("[outbox] Opened")
	return &Outbox{db: db, ttl: ttl}, nil
}

func (o *Outbox) view(fn func(txn *badger.Txn) error) error {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return ErrClosed
	}
	return o.db.View(fn)
}

func (o *Outbox) update(fn func(txn *badger.Txn) error) error {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return ErrClosed
	}
	return o.db.Update(fn)
}

func (o *Outbox) set(txn *badger.Txn, e *Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal outbox entry %s: %w", e.Event.ID, err)
	}
	be := badger.NewEntry([]byte(prefixPending+e.Event.ID), data)
	if o.ttl > 0 {
		be = be.WithTTL(o.ttl)
	}
	return txn.SetEntry(be)
}

// Put stores ev as pending. Writing the same activity id twice keeps one
// entry.
func (o *Outbox) Put(_ context.Context, ev models.ActivityEvent, now time.Time) error {
	if ev.ID == "" {
		return fmt.Errorf("outbox put: activity has no id")
	}
	return o.update(func(txn *badger.Txn) error {
		return o.set(txn, &Entry{Event: ev, CreatedAt: now.UTC()})
	})
}

// Delete removes the entry for activity id. Deleting a missing entry is not
// an error.
func (o *Outbox) Delete(_ context.Context, id string) error {
	return o.update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(prefixPending + id))
	})
}

// RecordFailure bumps the attempt count of id and stores the error.
func (o *Outbox) RecordFailure(_ context.Context, id string, cause error, at time.Time) (Entry, error) {
	var e Entry
	err := o.update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixPending + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrEntryNotFound
		}
		if err != nil {
			return err
		}
		if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &e) }); err != nil {
			return fmt.Errorf("unmarshal outbox entry %s: %w", id, err)
		}
		e.Attempts++
		e.LastAttemptAt = at.UTC()
		if cause != nil {
			e.LastError = cause.Error()
		}
		return o.set(txn, &e)
	})
	return e, err
}

// Pending returns every pending entry, oldest first. The read is a single
// badger snapshot.
func (o *Outbox) Pending(_ context.Context) ([]Entry, error) {
	var out []Entry
	err := o.view(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(prefixPending), PrefetchValues: true, PrefetchSize: 100})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var e Entry
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &e) }); err != nil {
				logging.Warn().Err(err).Str("key", string(it.Item().Key())).Msg("[outbox] Skipping unreadable entry")
				continue
			}
			out = append(out, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Len counts pending entries.
func (o *Outbox) Len() (int, error) {
	n := 0
	err := o.view(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(prefixPending)})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// Close closes the database. Safe to call more than once.
func (o *Outbox) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	o.closed = true
	return o.db.Close()
}
