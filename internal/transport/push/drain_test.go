// Presencewatch - Game Server Presence Tracking and Transport Failover
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/presencewatch

package push

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/presencewatch/internal/models"
	"github.com/tomtom215/presencewatch/internal/presence"
	"github.com/tomtom215/presencewatch/internal/store"
)

// gatedSink holds every event until release is closed, then hands it to the
// recorder with the context the worker passed in.
type gatedSink struct {
	next     presence.EventSink
	release  chan struct{}
	entered  chan struct{}
	once     sync.Once
	mu       sync.Mutex
	failures []error
}

func (g *gatedSink) RecordEvent(ctx context.Context, ev models.PlayerEvent) error {
	g.once.Do(func() { close(g.entered) })
	<-g.release
	err := g.next.RecordEvent(ctx, ev)
	if err != nil {
		g.mu.Lock()
		g.failures = append(g.failures, err)
		g.mu.Unlock()
	}
	return err
}

func (g *gatedSink) Reconcile(ctx context.Context, serverID string, snapshot []models.Player) error {
	return g.next.Reconcile(ctx, serverID, snapshot)
}

func TestChannel_DisconnectRecordsQueuedEvents(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	db, err := store.OpenDuckDBStore(ctx, "")
	if err != nil {
		t.Fatalf("open duckdb: %v", err)
	}
	defer db.Close()

	sink := &gatedSink{
		next:    presence.NewRecorder(db),
		release: make(chan struct{}),
		entered: make(chan struct{}),
	}
	cfg := testPushConfig("")
	cs := newCableServer(t)
	cfg.URL = cs.url()
	cfg.Workers = 1
	ch := NewChannel(cfg, sink)

	if err := ch.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	conn := cs.accept(t)

	const players = 5
	for i := range players {
		sendEvent(t, conn, map[string]any{
			"type": "addPlayer", "serverId": "42", "playerId": fmt.Sprint(100 + i),
			"name": fmt.Sprintf("p%d", i), "timestamp": "2026-03-01T12:00:00Z",
		})
	}

	select {
	case <-sink.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("no event reached the sink")
	}
	// Let the read loop queue the remaining frames behind the held one.
	time.Sleep(50 * time.Millisecond)

	// Session cancellation happens first; queued events are recorded after it.
	go func() {
		time.Sleep(50 * time.Millisecond)
		close(sink.release)
	}()
	ch.Disconnect()

	sink.mu.Lock()
	failures := sink.failures
	sink.mu.Unlock()
	if len(failures) != 0 {
		t.Fatalf("record failures after disconnect: %v", failures)
	}

	activity, err := db.ListActivity(ctx, store.ActivityFilter{ServerID: "42", Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(activity) != players {
		t.Errorf("recorded %d activities, want %d", len(activity), players)
	}
}
