// Presencewatch - Game Server Presence Tracking and Transport Failover
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/presencewatch

package poll

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/presencewatch/internal/models"
	"github.com/tomtom215/presencewatch/internal/presence"
	"github.com/tomtom215/presencewatch/internal/store"
)

// heldSink blocks each write until release is closed, then forwards it to a
// recorder and keeps any error.
type heldSink struct {
	next    presence.EventSink
	release chan struct{}
	entered chan struct{}
	once    sync.Once

	mu   sync.Mutex
	errs []error
}

func (h *heldSink) keep(err error) error {
	if err != nil {
		h.mu.Lock()
		h.errs = append(h.errs, err)
		h.mu.Unlock()
	}
	return err
}

func (h *heldSink) RecordEvent(ctx context.Context, ev models.PlayerEvent) error {
	h.once.Do(func() { close(h.entered) })
	<-h.release
	return h.keep(h.next.RecordEvent(ctx, ev))
}

func (h *heldSink) Reconcile(ctx context.Context, serverID string, snapshot []models.Player) error {
	return h.keep(h.next.Reconcile(ctx, serverID, snapshot))
}

func TestStop_RecordsCycleInProgress(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	db, err := store.OpenDuckDBStore(ctx, "")
	if err != nil {
		t.Fatalf("open duckdb: %v", err)
	}
	defer db.Close()

	sink := &heldSink{
		next:    presence.NewRecorder(db),
		release: make(chan struct{}),
		entered: make(chan struct{}),
	}
	fetcher := newFakeFetcher()
	fetcher.set("srv", "alice", "bob")
	ch := NewChannel(testPollConfig(), fetcher, sink)
	ch.Subscribe("srv")
	ch.Start(ctx, time.Hour)

	select {
	case <-sink.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("first cycle never reached the sink")
	}

	// Stop cancels the loop while the cycle is still writing.
	go func() {
		time.Sleep(50 * time.Millisecond)
		close(sink.release)
	}()
	ch.Stop()

	sink.mu.Lock()
	errs := sink.errs
	sink.mu.Unlock()
	if len(errs) != 0 {
		t.Fatalf("writes failed after stop: %v", errs)
	}

	profiles, err := db.ListOnlineProfiles(ctx, "srv")
	if err != nil {
		t.Fatal(err)
	}
	if len(profiles) != 2 {
		t.Errorf("online profiles = %d, want 2", len(profiles))
	}
}
