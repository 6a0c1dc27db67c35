// Presencewatch - Game Server Presence Tracking and Transport Failover
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/presencewatch

package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/presencewatch/internal/presence"
)

var (
	_ suture.Service = (*RunnerService)(nil)
	_ suture.Service = (*EventBusService)(nil)
	_ suture.Service = (*RetentionService)(nil)
)

type fakeBus struct {
	startErr  error
	running   atomic.Bool
	shutdowns atomic.Int32
}

func (b *fakeBus) Start(context.Context) error {
	if b.startErr != nil {
		return b.startErr
	}
	b.running.Store(true)
	return nil
}

func (b *fakeBus) Shutdown(context.Context) {
	b.running.Store(false)
	b.shutdowns.Add(1)
}

func (b *fakeBus) IsRunning() bool { return b.running.Load() }

type fakeCleaner struct {
	mu    sync.Mutex
	ages  []time.Duration
	err   error
	calls chan struct{}
}

func (c *fakeCleaner) Cleanup(_ context.Context, olderThan time.Duration) (presence.CleanupResult, error) {
	c.mu.Lock()
	c.ages = append(c.ages, olderThan)
	err := c.err
	c.mu.Unlock()
	select {
	case c.calls <- struct{}{}:
	default:
	}
	return presence.CleanupResult{Activities: 1}, err
}

func TestRunnerService(t *testing.T) {
	t.Parallel()

	var ran atomic.Bool
	svc := NewLiveHubService(func(ctx context.Context) error {
		ran.Store(true)
		<-ctx.Done()
		return ctx.Err()
	})
	if svc.String() != "live-hub" {
		t.Errorf("name = %q", svc.String())
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := svc.Serve(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Serve = %v, want context.Canceled", err)
	}
	if !ran.Load() {
		t.Error("runner was not called")
	}

	coord := NewCoordinatorService(RunnerFunc(func(context.Context) error { return errors.New("crash") }))
	if coord.String() != "failover-coordinator" {
		t.Errorf("name = %q", coord.String())
	}
	if err := coord.Serve(context.Background()); err == nil {
		t.Error("runner error was swallowed")
	}

	relay := NewOutboxRelayService(RunnerFunc(func(ctx context.Context) error { return ctx.Err() }))
	if relay.String() != "outbox-relay" {
		t.Errorf("name = %q", relay.String())
	}
}

func TestEventBusService(t *testing.T) {
	t.Parallel()

	t.Run("shuts the bus down on cancel", func(t *testing.T) {
		t.Parallel()
		bus := &fakeBus{}
		svc := NewEventBusService(bus, 0)
		if svc.shutdownTimeout != 10*time.Second {
			t.Errorf("default timeout = %v", svc.shutdownTimeout)
		}

		ctx, cancel := context.WithCancel(context.Background())
		errCh := make(chan error, 1)
		go func() { errCh <- svc.Serve(ctx) }()

		deadline := time.Now().Add(time.Second)
		for !bus.IsRunning() {
			if time.Now().After(deadline) {
				t.Fatal("bus not started")
			}
			time.Sleep(time.Millisecond)
		}
		cancel()

		if err := <-errCh; !errors.Is(err, context.Canceled) {
			t.Errorf("Serve = %v", err)
		}
		if bus.IsRunning() || bus.shutdowns.Load() != 1 {
			t.Errorf("running=%v shutdowns=%d", bus.IsRunning(), bus.shutdowns.Load())
		}
	})

	t.Run("start failure is returned", func(t *testing.T) {
		t.Parallel()
		startErr := errors.New("nats: no servers available")
		svc := NewEventBusService(&fakeBus{startErr: startErr}, time.Second)
		if err := svc.Serve(context.Background()); !errors.Is(err, startErr) {
			t.Errorf("Serve = %v, want %v", err, startErr)
		}
	})
}

func TestRetentionService(t *testing.T) {
	t.Parallel()

	cleaner := &fakeCleaner{calls: make(chan struct{}, 8), err: errors.New("disk full")}
	svc := NewRetentionService(cleaner, 10*time.Millisecond, 48*time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Serve(ctx) }()

	for i := 0; i < 2; i++ {
		select {
		case <-cleaner.calls:
		case <-time.After(time.Second):
			t.Fatalf("cleanup pass %d did not run", i+1)
		}
	}
	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Errorf("Serve = %v", err)
	}

	cleaner.mu.Lock()
	defer cleaner.mu.Unlock()
	for _, age := range cleaner.ages {
		if age != 48*time.Hour {
			t.Errorf("olderThan = %v, want 48h", age)
		}
	}
}

func TestNewRetentionService_Defaults(t *testing.T) {
	t.Parallel()
	svc := NewRetentionService(&fakeCleaner{}, 0, -1)
	if svc.interval != time.Hour || svc.maxAge != 30*24*time.Hour {
		t.Errorf("interval=%v maxAge=%v", svc.interval, svc.maxAge)
	}
	if svc.String() != "retention-cleanup" {
		t.Errorf("name = %q", svc.String())
	}
}
