// Presencewatch - Game Server Presence Tracking and Transport Failover
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/presencewatch

package services

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/presencewatch/internal/logging"
	"github.com/tomtom215/presencewatch/internal/presence"
)

// Runner is anything with a context-bound run loop: the failover
// coordinator and the live feed hub. Run must return ctx.Err() on
// cancellation.
type Runner interface {
	Run(ctx context.Context) error
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context) error

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context) error { return f(ctx) }

// RunnerService supervises a Runner under a fixed name.
type RunnerService struct {
	runner Runner
	name   string
}

// NewCoordinatorService wraps the failover coordinator's Run loop.
func NewCoordinatorService(coordinator Runner) *RunnerService {
	return &RunnerService{runner: coordinator, name: "failover-coordinator"}
}

// NewLiveHubService wraps the live feed hub's RunWithContext loop.
func NewLiveHubService(run func(ctx context.Context) error) *RunnerService {
	return &RunnerService{runner: RunnerFunc(run), name: "live-hub"}
}

// NewOutboxRelayService supervises the activity outbox redelivery loop.
func NewOutboxRelayService(relay Runner) *RunnerService {
	return &RunnerService{runner: relay, name: "outbox-relay"}
}

// Serve implements suture.Service.
func (s *RunnerService) Serve(ctx context.Context) error {
	return s.runner.Run(ctx)
}

// String implements fmt.Stringer.
func (s *RunnerService) String() string {
	return s.name
}

// EventBus is the Start/Shutdown lifecycle of *eventbus.Bus.
type EventBus interface {
	Start(ctx context.Context) error
	Shutdown(ctx context.Context)
	IsRunning() bool
}

// EventBusService keeps the activity event bus open for the lifetime of the
// tree and closes the publisher and any embedded broker on shutdown.
type EventBusService struct {
	bus             EventBus
	shutdownTimeout time.Duration
	name            string
}

// NewEventBusService wraps bus. A non-positive shutdownTimeout means 10s.
func NewEventBusService(bus EventBus, shutdownTimeout time.Duration) *EventBusService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &EventBusService{
		bus:             bus,
		shutdownTimeout: shutdownTimeout,
		name:            "event-bus",
	}
}

// Serve implements suture.Service. A Start failure is returned so suture
// retries with backoff.
func (s *EventBusService) Serve(ctx context.Context) error {
	if err := s.bus.Start(ctx); err != nil {
		return fmt.Errorf("event bus start failed: %w", err)
	}

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	s.bus.Shutdown(shutdownCtx)

	return ctx.Err()
}

// String implements fmt.Stringer.
func (s *EventBusService) String() string {
	return s.name
}

// Cleaner is the retention side of *presence.Recorder.
type Cleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (presence.CleanupResult, error)
}

// RetentionService deletes activity and closed sessions older than maxAge
// every interval. A failed pass is logged and retried on the next tick.
type RetentionService struct {
	cleaner  Cleaner
	interval time.Duration
	maxAge   time.Duration
	name     string
}

// NewRetentionService creates the cleanup service. Non-positive values fall
// back to hourly runs and a 30 day window.
func NewRetentionService(cleaner Cleaner, interval, maxAge time.Duration) *RetentionService {
	if interval <= 0 {
		interval = time.Hour
	}
	if maxAge <= 0 {
		maxAge = 30 * 24 * time.Hour
	}
	return &RetentionService{
		cleaner:  cleaner,
		interval: interval,
		maxAge:   maxAge,
		name:     "retention-cleanup",
	}
}

// Serve implements suture.Service. The first pass runs immediately.
func (s *RetentionService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.runOnce(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *RetentionService) runOnce(ctx context.Context) {
	if _, err := s.cleaner.Cleanup(ctx, s.maxAge); err != nil && ctx.Err() == nil {
		logging.Warn().Err(err).Dur("max_age", s.maxAge).Msg("[retention] Cleanup failed")
	}
}

// String implements fmt.Stringer.
func (s *RetentionService) String() string {
	return s.name
}
