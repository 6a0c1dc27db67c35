// Presencewatch - Game Server Presence Tracking and Transport Failover
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/presencewatch

package failover

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tomtom215/presencewatch/internal/config"
	"github.com/tomtom215/presencewatch/internal/logging"
	"github.com/tomtom215/presencewatch/internal/metrics"
	"github.com/tomtom215/presencewatch/internal/models"
	"github.com/tomtom215/presencewatch/internal/transport/poll"
)

// ErrEmptyServerID is returned by Subscribe and Unsubscribe for a blank id.
var ErrEmptyServerID = errors.New("server id is required")

// PushTransport is the real-time channel. *push.Channel satisfies it.
type PushTransport interface {
	Connect(ctx context.Context) error
	Disconnect()
	IsConnected() bool
	Subscribe(serverID string) error
	Unsubscribe(serverID string) error
	SubscribedServers() []string
}

// PollTransport is the fallback channel. *poll.Channel satisfies it.
type PollTransport interface {
	Start(ctx context.Context, interval time.Duration)
	Stop()
	IsActive() bool
	Subscribe(serverID string)
	Unsubscribe(serverID string)
	PollNow(ctx context.Context) error
	Stats() poll.Stats
}

// ModeNotifier receives every mode change.
type ModeNotifier interface {
	NotifyModeChange(ctx context.Context, change models.ModeChange)
}

// Status is the coordinator summary served by the API.
type Status struct {
	CurrentMode       Mode      `json:"current_mode"`
	PushConnected     bool      `json:"push_connected"`
	PollActive        bool      `json:"poll_active"`
	FailureCount      int       `json:"failure_count"`
	SubscribedServers []string  `json:"subscribed_servers"`
	LastHealthCheck   time.Time `json:"last_health_check,omitempty"`
}

// DetailedStats extends Status with transport internals and settings.
type DetailedStats struct {
	Status
	Poll                poll.Stats    `json:"poll"`
	PushSubscribed      []string      `json:"push_subscribed"`
	MaxFailures         int           `json:"max_failures"`
	HealthInterval      time.Duration `json:"health_interval"`
	RecoveryInterval    time.Duration `json:"recovery_interval"`
	LastRecoveryAttempt time.Time     `json:"last_recovery_attempt,omitempty"`
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithNotifier registers a mode change notifier.
func WithNotifier(n ModeNotifier) Option {
	return func(c *Coordinator) { c.notifiers = append(c.notifiers, n) }
}

// Coordinator decides which transport is authoritative and moves between
// modes as push health changes.
//
// Transitions are serialized by transMu. The mode is committed and the
// subscribed set read under mu, so a Subscribe racing a transition lands on
// the channels of the mode that wins. Dialing push and stopping poll happen
// with only transMu held, so status and subscription calls never wait on
// the network.
type Coordinator struct {
	cfg          config.FailoverConfig
	pollInterval time.Duration
	push         PushTransport
	poll         PollTransport
	now          func() time.Time
	notifiers    []ModeNotifier

	transMu sync.Mutex

	mu                  sync.Mutex
	state               State
	subscribed          map[string]struct{}
	runCtx              context.Context
	lastHealthCheck     time.Time
	lastRecoveryAttempt time.Time
}

// NewCoordinator builds a coordinator in primary mode. Nothing is dialed
// until Run.
func NewCoordinator(cfg config.FailoverConfig, pollInterval time.Duration, push PushTransport, poll PollTransport, opts ...Option) *Coordinator {
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = 30 * time.Second
	}
	if cfg.RecoveryInterval <= 0 {
		cfg.RecoveryInterval = 5 * time.Minute
	}
	if cfg.MaxFailures < 1 {
		cfg.MaxFailures = 3
	}
	c := &Coordinator{
		cfg:          cfg,
		pollInterval: pollInterval,
		push:         push,
		poll:         poll,
		now:          time.Now,
		state:        State{Mode: ModePrimary},
		subscribed:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AddNotifier registers n. Call before Run.
func (c *Coordinator) AddNotifier(n ModeNotifier) {
	c.notifiers = append(c.notifiers, n)
}

// Run enters primary mode, then drives the health and recovery timers until
// ctx is done. Both transports are shut down on return.
func (c *Coordinator) Run(ctx context.Context) error {
	c.transMu.Lock()
	c.mu.Lock()
	c.runCtx = ctx
	mode := c.state.Mode
	c.mu.Unlock()
	if mode != ModeSecondary {
		if err := c.push.Connect(ctx); err != nil {
			logging.Warn().Err(err).Msg("[failover] Initial push connect failed")
		}
	}
	c.transMu.Unlock()

	metrics.FailoverMode.Set(float64(mode))
	logging.Info().
		Str("mode", mode.String()).
		Dur("health_interval", c.cfg.HealthInterval).
		Dur("recovery_interval", c.cfg.RecoveryInterval).
		Int("max_failures", c.cfg.MaxFailures).
		Msg("[failover] Coordinator started")

	health := time.NewTicker(c.cfg.HealthInterval)
	defer health.Stop()
	recovery := time.NewTicker(c.cfg.RecoveryInterval)
	defer recovery.Stop()

	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return ctx.Err()
		case <-health.C:
			c.HealthCheck(ctx)
		case <-recovery.C:
			c.AttemptRecovery(ctx)
		}
	}
}

func (c *Coordinator) shutdown() {
	c.transMu.Lock()
	defer c.transMu.Unlock()
	c.push.Disconnect()
	c.poll.Stop()
	logging.Info().Msg("[failover] Coordinator stopped")
}

// HealthCheck samples push connectivity and, in secondary mode, poll
// liveness, and applies the resulting transition.
func (c *Coordinator) HealthCheck(ctx context.Context) {
	c.transMu.Lock()
	defer c.transMu.Unlock()

	c.mu.Lock()
	c.lastHealthCheck = c.now()

	var sig Signal
	switch {
	case c.state.Mode == ModeSecondary && !c.poll.IsActive():
		sig = SignalPollStopped
		logging.Warn().Msg("[failover] Poll channel not running in secondary mode, restarting")
	case c.state.Mode == ModeSecondary:
		c.mu.Unlock()
		return
	case c.push.IsConnected():
		sig = SignalPushHealthy
	default:
		sig = SignalPushUnhealthy
	}

	t := Next(c.state, sig, c.cfg.MaxFailures)
	if sig == SignalPushUnhealthy {
		logging.Warn().
			Int("failures", t.To.Failures).
			Int("max_failures", c.cfg.MaxFailures).
			Str("mode", c.state.Mode.String()).
			Msg("[failover] Push health check failed")
	}
	c.mu.Unlock()

	c.notify(ctx, c.apply(ctx, t))
}

// AttemptRecovery tries to bring push back while in secondary mode. It is a
// no-op in the other modes.
func (c *Coordinator) AttemptRecovery(ctx context.Context) {
	c.transMu.Lock()
	defer c.transMu.Unlock()

	c.mu.Lock()
	if c.state.Mode != ModeSecondary {
		c.mu.Unlock()
		return
	}
	c.lastRecoveryAttempt = c.now()
	dialCtx := c.contextLocked(ctx)
	c.mu.Unlock()

	logging.Info().Msg("[failover] Attempting push recovery")
	sig := SignalRecoverySucceeded
	if err := c.push.Connect(dialCtx); err != nil {
		sig = SignalRecoveryFailed
		logging.Warn().Err(err).Msg("[failover] Push recovery failed, staying in secondary")
	}

	c.mu.Lock()
	t := Next(c.state, sig, c.cfg.MaxFailures)
	c.mu.Unlock()

	c.notify(ctx, c.apply(ctx, t))
}

// ForceMode switches to the named mode and resets the failure count.
func (c *Coordinator) ForceMode(ctx context.Context, name string) error {
	mode, err := ParseMode(name)
	if err != nil {
		return err
	}

	c.transMu.Lock()
	defer c.transMu.Unlock()

	c.mu.Lock()
	t := Enter(c.state, mode)
	c.mu.Unlock()

	c.notify(ctx, c.apply(ctx, t))
	return nil
}

// Subscribe tracks serverID and routes it to the channels of the current
// mode. Transport write failures are logged; the channel resubscribes on its
// next connect.
func (c *Coordinator) Subscribe(serverID string) error {
	serverID = strings.TrimSpace(serverID)
	if serverID == "" {
		return ErrEmptyServerID
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.subscribed[serverID] = struct{}{}
	switch c.state.Mode {
	case ModePrimary:
		c.subscribePush(serverID)
	case ModeHybrid:
		c.subscribePush(serverID)
		c.poll.Subscribe(serverID)
	case ModeSecondary:
		c.poll.Subscribe(serverID)
	}
	logging.Info().Str("server_id", serverID).Str("mode", c.state.Mode.String()).Msg("[failover] Server subscribed")
	return nil
}

// Unsubscribe forgets serverID on both channels regardless of mode.
func (c *Coordinator) Unsubscribe(serverID string) error {
	serverID = strings.TrimSpace(serverID)
	if serverID == "" {
		return ErrEmptyServerID
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.subscribed, serverID)
	if err := c.push.Unsubscribe(serverID); err != nil {
		logging.Warn().Err(err).Str("server_id", serverID).Msg("[failover] Push unsubscribe failed")
	}
	c.poll.Unsubscribe(serverID)
	logging.Info().Str("server_id", serverID).Msg("[failover] Server unsubscribed")
	return nil
}

// TriggerPollNow runs an immediate poll cycle.
func (c *Coordinator) TriggerPollNow(ctx context.Context) error {
	return c.poll.PollNow(ctx)
}

// Mode returns the current mode.
func (c *Coordinator) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Mode
}

// GetStatus returns the coordinator summary.
func (c *Coordinator) GetStatus() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

// GetDetailedStats returns the summary plus transport details.
func (c *Coordinator) GetDetailedStats() DetailedStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return DetailedStats{
		Status:              c.statusLocked(),
		Poll:                c.poll.Stats(),
		PushSubscribed:      c.push.SubscribedServers(),
		MaxFailures:         c.cfg.MaxFailures,
		HealthInterval:      c.cfg.HealthInterval,
		RecoveryInterval:    c.cfg.RecoveryInterval,
		LastRecoveryAttempt: c.lastRecoveryAttempt,
	}
}

func (c *Coordinator) statusLocked() Status {
	return Status{
		CurrentMode:       c.state.Mode,
		PushConnected:     c.push.IsConnected(),
		PollActive:        c.poll.IsActive(),
		FailureCount:      c.state.Failures,
		SubscribedServers: c.subscribedLocked(),
		LastHealthCheck:   c.lastHealthCheck,
	}
}

func (c *Coordinator) subscribedLocked() []string {
	out := make([]string, 0, len(c.subscribed))
	for id := range c.subscribed {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// contextLocked returns the Run context for long-lived work, falling back to
// ctx before Run.
func (c *Coordinator) contextLocked(ctx context.Context) context.Context {
	if c.runCtx != nil {
		return c.runCtx
	}
	return context.WithoutCancel(ctx)
}

// apply commits t and runs its actions. The caller holds transMu but not mu.
// The returned change is nil when the mode did not change.
func (c *Coordinator) apply(ctx context.Context, t Transition) *models.ModeChange {
	c.mu.Lock()
	c.state = t.To
	runCtx := c.contextLocked(ctx)
	c.mu.Unlock()
	metrics.FailoverFailureCount.Set(float64(t.To.Failures))

	for _, a := range t.Actions {
		c.runAction(runCtx, a)
	}

	if !t.Changed() && t.Reason != "manual" {
		return nil
	}

	metrics.RecordModeTransition(t.From.Mode.String(), t.To.Mode.String(), t.Reason, int(t.To.Mode))
	logging.Info().
		Str("from", t.From.Mode.String()).
		Str("to", t.To.Mode.String()).
		Str("reason", t.Reason).
		Int("failures", t.From.Failures).
		Msg("[failover] Mode transition")

	return &models.ModeChange{
		From:         t.From.Mode.String(),
		To:           t.To.Mode.String(),
		Reason:       t.Reason,
		FailureCount: t.From.Failures,
		At:           c.now(),
	}
}

// runAction performs a. Set updates run under mu; connect, disconnect and
// stop do not.
func (c *Coordinator) runAction(runCtx context.Context, a Action) {
	switch a {
	case ActionStartPoll:
		c.poll.Start(runCtx, c.pollInterval)
	case ActionSubscribePoll:
		c.mu.Lock()
		for id := range c.subscribed {
			c.poll.Subscribe(id)
		}
		c.mu.Unlock()
	case ActionStopPoll:
		// Dropping poll state makes the next start a cold start.
		c.poll.Stop()
		c.mu.Lock()
		for id := range c.subscribed {
			c.poll.Unsubscribe(id)
		}
		c.mu.Unlock()
	case ActionConnectPush:
		if err := c.push.Connect(runCtx); err != nil {
			logging.Warn().Err(err).Msg("[failover] Push connect failed")
		}
	case ActionSubscribePush:
		c.mu.Lock()
		for id := range c.subscribed {
			c.subscribePush(id)
		}
		c.mu.Unlock()
	case ActionDisconnectPush:
		c.push.Disconnect()
	}
}

func (c *Coordinator) subscribePush(serverID string) {
	if err := c.push.Subscribe(serverID); err != nil {
		logging.Warn().Err(err).Str("server_id", serverID).Msg("[failover] Push subscribe failed")
	}
}

func (c *Coordinator) notify(ctx context.Context, change *models.ModeChange) {
	if change == nil {
		return
	}
	for _, n := range c.notifiers {
		n.NotifyModeChange(ctx, *change)
	}
}
