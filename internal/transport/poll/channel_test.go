// Presencewatch - Game Server Presence Tracking and Transport Failover
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/presencewatch

package poll

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/presencewatch/internal/config"
	"github.com/tomtom215/presencewatch/internal/models"
	"github.com/tomtom215/presencewatch/internal/presence"
	"github.com/tomtom215/presencewatch/internal/store"
)

type fakeFetcher struct {
	mu      sync.Mutex
	players map[string][]string
	errs    map[string]error
	calls   atomic.Int32
	delay   time.Duration

	inflight    atomic.Int32
	maxInflight atomic.Int32
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{players: map[string][]string{}, errs: map[string]error{}}
}

func (f *fakeFetcher) set(serverID string, names ...string) {
	f.mu.Lock()
	f.players[serverID] = names
	f.mu.Unlock()
}

func (f *fakeFetcher) fail(serverID string, err error) {
	f.mu.Lock()
	f.errs[serverID] = err
	f.mu.Unlock()
}

func (f *fakeFetcher) GetPlayers(ctx context.Context, serverID string) ([]models.Player, error) {
	f.calls.Add(1)
	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		m := f.maxInflight.Load()
		if n <= m || f.maxInflight.CompareAndSwap(m, n) {
			break
		}
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[serverID]; err != nil {
		return nil, err
	}
	out := make([]models.Player, 0, len(f.players[serverID]))
	for _, name := range f.players[serverID] {
		out = append(out, models.Player{Name: name})
	}
	return out, nil
}

type recordingSink struct {
	mu         sync.Mutex
	events     []models.PlayerEvent
	reconciles map[string]int
}

func newRecordingSink() *recordingSink {
	return &recordingSink{reconciles: map[string]int{}}
}

func (s *recordingSink) RecordEvent(_ context.Context, ev models.PlayerEvent) error {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) Reconcile(_ context.Context, serverID string, _ []models.Player) error {
	s.mu.Lock()
	s.reconciles[serverID]++
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) take() []models.PlayerEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.events
	s.events = nil
	return out
}

func testPollConfig() config.PollConfig {
	return config.PollConfig{
		Interval:             time.Hour,
		MaxConcurrentFetches: 2,
		FetchTimeout:         time.Second,
	}
}

func TestPollNow_ColdStartThenDiff(t *testing.T) {
	t.Parallel()
	fetcher := newFakeFetcher()
	sink := newRecordingSink()
	ch := NewChannel(testPollConfig(), fetcher, sink)
	ctx := context.Background()

	ch.Subscribe("srv")
	fetcher.set("srv", "bob", "alice")
	if err := ch.PollNow(ctx); err != nil {
		t.Fatalf("PollNow() error = %v", err)
	}

	evs := sink.take()
	if len(evs) != 2 || evs[0].PlayerName != "alice" || evs[1].PlayerName != "bob" {
		t.Fatalf("cold start events = %+v, want joins for alice and bob", evs)
	}
	for _, ev := range evs {
		if ev.Action != models.ActionJoined || ev.Source != models.SourcePoll {
			t.Errorf("unexpected cold start event %+v", ev)
		}
	}

	fetcher.set("srv", "alice", "carol")
	if err := ch.PollNow(ctx); err != nil {
		t.Fatal(err)
	}
	evs = sink.take()
	if len(evs) != 2 {
		t.Fatalf("diff events = %+v, want 2", evs)
	}
	if evs[0].PlayerName != "carol" || evs[0].Action != models.ActionJoined {
		t.Errorf("first event = %+v, want carol joined", evs[0])
	}
	if evs[1].PlayerName != "bob" || evs[1].Action != models.ActionLeft {
		t.Errorf("second event = %+v, want bob left", evs[1])
	}
	if sink.reconciles["srv"] != 2 {
		t.Errorf("reconciles = %d, want 2", sink.reconciles["srv"])
	}

	if err := ch.PollNow(ctx); err != nil {
		t.Fatal(err)
	}
	if evs := sink.take(); len(evs) != 0 {
		t.Errorf("unchanged snapshot produced %+v", evs)
	}
}

func TestPollNow_FailureIsolation(t *testing.T) {
	t.Parallel()
	fetcher := newFakeFetcher()
	sink := newRecordingSink()
	ch := NewChannel(testPollConfig(), fetcher, sink)

	boom := errors.New("upstream down")
	ch.Subscribe("bad")
	ch.Subscribe("good")
	fetcher.fail("bad", boom)
	fetcher.set("good", "dave")

	err := ch.PollNow(context.Background())
	if !errors.Is(err, boom) {
		t.Errorf("PollNow() error = %v, want wrapped upstream error", err)
	}
	evs := sink.take()
	if len(evs) != 1 || evs[0].ServerID != "good" {
		t.Errorf("events = %+v, want one join on good", evs)
	}
	if sink.reconciles["bad"] != 0 {
		t.Error("failed server was reconciled")
	}
}

func TestPollNow_BoundedConcurrency(t *testing.T) {
	t.Parallel()
	fetcher := newFakeFetcher()
	fetcher.delay = 20 * time.Millisecond
	ch := NewChannel(testPollConfig(), fetcher, newRecordingSink())

	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		ch.Subscribe(id)
	}
	if err := ch.PollNow(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := fetcher.maxInflight.Load(); got > 2 {
		t.Errorf("max concurrent fetches = %d, want <= 2", got)
	}
	if got := fetcher.calls.Load(); got != 6 {
		t.Errorf("fetch calls = %d, want 6", got)
	}
}

func TestPollNow_FetchTimeout(t *testing.T) {
	t.Parallel()
	fetcher := newFakeFetcher()
	fetcher.delay = time.Second
	cfg := testPollConfig()
	cfg.FetchTimeout = 20 * time.Millisecond
	ch := NewChannel(cfg, fetcher, newRecordingSink())
	ch.Subscribe("slow")

	err := ch.PollNow(context.Background())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("PollNow() error = %v, want deadline exceeded", err)
	}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	t.Parallel()
	fetcher := newFakeFetcher()
	sink := newRecordingSink()
	ch := NewChannel(testPollConfig(), fetcher, sink)
	ctx := context.Background()

	ch.Subscribe("srv")
	fetcher.set("srv", "erin")
	_ = ch.PollNow(ctx)
	sink.take()

	ch.Subscribe("srv")
	_ = ch.PollNow(ctx)
	if evs := sink.take(); len(evs) != 0 {
		t.Errorf("resubscribe reset state: %+v", evs)
	}

	ch.Unsubscribe("srv")
	if got := ch.SubscribedServers(); len(got) != 0 {
		t.Errorf("SubscribedServers() = %v", got)
	}
	ch.Subscribe("srv")
	_ = ch.PollNow(ctx)
	if evs := sink.take(); len(evs) != 1 || evs[0].Action != models.ActionJoined {
		t.Errorf("after unsubscribe the next poll should be a cold start, got %+v", evs)
	}
}

func TestStartStop(t *testing.T) {
	t.Parallel()
	fetcher := newFakeFetcher()
	sink := newRecordingSink()
	ch := NewChannel(testPollConfig(), fetcher, sink)
	ch.Subscribe("srv")
	fetcher.set("srv", "fay")

	ch.Start(context.Background(), 10*time.Millisecond)
	if !ch.IsActive() {
		t.Fatal("IsActive() = false after Start")
	}
	ch.Start(context.Background(), 10*time.Millisecond)

	deadline := time.Now().Add(5 * time.Second)
	for fetcher.calls.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if fetcher.calls.Load() < 3 {
		t.Fatalf("fetch calls = %d, want at least 3", fetcher.calls.Load())
	}

	stats := ch.Stats()
	if !stats.IsRunning || stats.SubscribedCount != 1 || stats.Interval != 10*time.Millisecond || stats.LastPolled.IsZero() {
		t.Errorf("Stats() = %+v", stats)
	}

	ch.Stop()
	if ch.IsActive() {
		t.Error("IsActive() = true after Stop")
	}
	ch.Stop()
}

func TestLoopEndsWithContext(t *testing.T) {
	t.Parallel()
	ch := NewChannel(testPollConfig(), newFakeFetcher(), newRecordingSink())

	ctx, cancel := context.WithCancel(context.Background())
	ch.Start(ctx, time.Hour)
	cancel()

	deadline := time.Now().Add(5 * time.Second)
	for ch.IsActive() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if ch.IsActive() {
		t.Error("loop still active after context cancel")
	}

	ch.Start(context.Background(), time.Hour)
	defer ch.Stop()
	if !ch.IsActive() {
		t.Error("restart after context cancel failed")
	}
}

// A player already online from push is absorbed by recorder idempotency when
// the poll channel cold-starts in hybrid mode.
func TestHybridColdStartAbsorbedByRecorder(t *testing.T) {
	t.Parallel()
	s := store.NewMemoryStore()
	rec := presence.NewRecorder(s)
	ctx := context.Background()

	if err := rec.RecordEvent(ctx, models.PlayerEvent{ServerID: "srv", PlayerName: "carol", Action: models.ActionJoined, Source: models.SourcePush}); err != nil {
		t.Fatal(err)
	}

	fetcher := newFakeFetcher()
	fetcher.set("srv", "alice", "carol")
	ch := NewChannel(testPollConfig(), fetcher, rec)
	ch.Subscribe("srv")
	if err := ch.PollNow(ctx); err != nil {
		t.Fatal(err)
	}
	if err := ch.PollNow(ctx); err != nil {
		t.Fatal(err)
	}

	carol, err := s.GetProfile(ctx, "srv", "carol")
	if err != nil {
		t.Fatal(err)
	}
	if carol.TotalSessions != 1 || !carol.IsOnline {
		t.Errorf("carol = sessions %d online %v, want 1 session online", carol.TotalSessions, carol.IsOnline)
	}
	evs, _ := s.ListActivity(ctx, store.ActivityFilter{ServerID: "srv", PlayerName: "carol"})
	if len(evs) != 1 {
		t.Errorf("carol activity = %d, want 1", len(evs))
	}
	alice, err := s.GetProfile(ctx, "srv", "alice")
	if err != nil || !alice.IsOnline {
		t.Errorf("alice = %+v, %v; want online", alice, err)
	}
}
