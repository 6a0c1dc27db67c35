// Presencewatch - Game Server Presence Tracking and Transport Failover
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/presencewatch

package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/presencewatch/internal/models"
)

type fakeSender struct {
	mu   sync.Mutex
	err  error
	sent []string
}

func (f *fakeSender) Publish(_ context.Context, ev models.ActivityEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, ev.ID)
	return nil
}

func (f *fakeSender) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeSender) ids() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func activity(id string) models.ActivityEvent {
	return models.ActivityEvent{
		ID:         id,
		ServerID:   "1234",
		PlayerName: "alice",
		Action:     models.ActionJoined,
		Timestamp:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func openTestOutbox(t *testing.T) *Outbox {
	t.Helper()
	o, err := Open("", 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = o.Close() })
	return o
}

func pendingLen(t *testing.T, o *Outbox) int {
	t.Helper()
	n, err := o.Len()
	if err != nil {
		t.Fatalf("Len: %v", err)
	}
	return n
}

func TestRelay_DeliversAndDeletes(t *testing.T) {
	t.Parallel()
	o := openTestOutbox(t)
	sender := &fakeSender{}
	r := NewRelay(o, sender, time.Minute, 3)

	r.NotifyActivity(context.Background(), activity("a"))

	if got := sender.ids(); len(got) != 1 || got[0] != "a" {
		t.Errorf("sent = %v", got)
	}
	if n := pendingLen(t, o); n != 0 {
		t.Errorf("pending = %d after successful publish", n)
	}
}

func TestRelay_RetriesWithBackoffThenDrops(t *testing.T) {
	t.Parallel()
	o := openTestOutbox(t)
	sender := &fakeSender{err: errors.New("nats: no responders")}
	clk := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	r := NewRelay(o, sender, time.Minute, 3, WithClock(clk.now))
	ctx := context.Background()

	// First publish fails: attempt 1, kept.
	r.NotifyActivity(ctx, activity("a"))
	if n := pendingLen(t, o); n != 1 {
		t.Fatalf("pending = %d, want 1", n)
	}

	// Backoff after one attempt is one interval.
	if s := r.RetryPending(ctx); s.Waiting != 1 {
		t.Errorf("immediate retry = %+v, want waiting", s)
	}
	clk.advance(time.Minute)
	if s := r.RetryPending(ctx); s.Failed != 1 {
		t.Errorf("retry 2 = %+v, want failed", s)
	}

	// Two attempts: backoff doubles.
	clk.advance(time.Minute)
	if s := r.RetryPending(ctx); s.Waiting != 1 {
		t.Errorf("retry before doubled backoff = %+v, want waiting", s)
	}
	clk.advance(time.Minute)
	if s := r.RetryPending(ctx); s.Failed != 1 {
		t.Errorf("retry 3 = %+v, want failed", s)
	}

	// Three attempts reach the limit.
	if s := r.RetryPending(ctx); s.Dropped != 1 {
		t.Errorf("pass at limit = %+v, want dropped", s)
	}
	if n := pendingLen(t, o); n != 0 {
		t.Errorf("pending = %d after drop", n)
	}
}

func TestRelay_RecoversAfterBusReturns(t *testing.T) {
	t.Parallel()
	o := openTestOutbox(t)
	sender := &fakeSender{err: errors.New("connection refused")}
	clk := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	r := NewRelay(o, sender, time.Minute, 10, WithClock(clk.now))
	ctx := context.Background()

	r.NotifyActivity(ctx, activity("a"))
	r.NotifyActivity(ctx, activity("b"))

	sender.setErr(nil)
	clk.advance(time.Minute)
	s := r.RetryPending(ctx)
	if s.Sent != 2 {
		t.Errorf("stats = %+v, want 2 sent", s)
	}
	if got := sender.ids(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("sent = %v, want [a b] in creation order", got)
	}
	if n := pendingLen(t, o); n != 0 {
		t.Errorf("pending = %d", n)
	}
}

func TestRelay_WriteFailureStillPublishes(t *testing.T) {
	t.Parallel()
	o, err := Open("", 0)
	if err != nil {
		t.Fatal(err)
	}
	_ = o.Close()

	sender := &fakeSender{}
	NewRelay(o, sender, time.Minute, 3).NotifyActivity(context.Background(), activity("a"))
	if got := sender.ids(); len(got) != 1 {
		t.Errorf("sent = %v, want one publish without outbox", got)
	}
}

func TestRelay_RunStopsOnCancel(t *testing.T) {
	t.Parallel()
	o := openTestOutbox(t)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- NewRelay(o, &fakeSender{}, 10*time.Millisecond, 3).Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}
