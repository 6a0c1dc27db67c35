// Presencewatch - Game Server Presence Tracking and Transport Failover
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/presencewatch

/*
Package poll is the fallback transport. It fetches a full player list for
every subscribed server on a fixed interval and infers joins and leaves by
diffing consecutive snapshots.

Per server the channel keeps the last known online set. The first successful
fetch after Subscribe is a cold start: every player present is reported as
joined and the recorder's idempotency absorbs players it already has online.
Later fetches report joins first, then leaves, then hand the whole snapshot to
the recorder for reconciliation.

Fetches run concurrently up to poll.max_concurrent_fetches, each under its own
timeout. One server failing never affects the others.
*/
package poll

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tomtom215/presencewatch/internal/config"
	"github.com/tomtom215/presencewatch/internal/logging"
	"github.com/tomtom215/presencewatch/internal/metrics"
	"github.com/tomtom215/presencewatch/internal/models"
	"github.com/tomtom215/presencewatch/internal/normalize"
	"github.com/tomtom215/presencewatch/internal/presence"
)

// Fetcher returns the current player list of a server. upstream.API
// satisfies it.
type Fetcher interface {
	GetPlayers(ctx context.Context, serverID string) ([]models.Player, error)
}

// Stats is a point-in-time view of the channel.
type Stats struct {
	IsRunning       bool          `json:"is_running"`
	SubscribedCount int           `json:"subscribed_count"`
	LastPolled      time.Time     `json:"last_polled,omitempty"`
	Interval        time.Duration `json:"interval"`
}

// Option configures a Channel.
type Option func(*Channel)

// WithClock replaces time.Now for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Channel) { c.now = now }
}

type serverState struct {
	online      map[string]models.Player
	initialized bool
	lastUpdated time.Time
}

// Channel is the poll transport.
type Channel struct {
	cfg     config.PollConfig
	fetcher Fetcher
	sink    presence.EventSink
	now     func() time.Time

	mu         sync.Mutex
	servers    map[string]*serverState
	interval   time.Duration
	lastPolled time.Time
	cancel     context.CancelFunc
	done       chan struct{}

	running atomic.Bool
	cycleMu sync.Mutex
}

// NewChannel builds a stopped channel.
func NewChannel(cfg config.PollConfig, fetcher Fetcher, sink presence.EventSink, opts ...Option) *Channel {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.MaxConcurrentFetches <= 0 {
		cfg.MaxConcurrentFetches = 8
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	c := &Channel{
		cfg:      cfg,
		fetcher:  fetcher,
		sink:     sink,
		now:      time.Now,
		servers:  make(map[string]*serverState),
		interval: cfg.Interval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start polls once immediately and then every interval until Stop or ctx is
// done. A non-positive interval uses the configured one. Starting a running
// channel is a no-op.
func (c *Channel) Start(ctx context.Context, interval time.Duration) {
	c.mu.Lock()
	if c.running.Load() {
		c.mu.Unlock()
		return
	}
	if interval <= 0 {
		interval = c.cfg.Interval
	}
	loopCtx, cancel := context.WithCancel(ctx)
	c.interval = interval
	c.cancel = cancel
	c.done = make(chan struct{})
	c.running.Store(true)
	done := c.done
	c.mu.Unlock()

	metrics.SetPollActive(true)
	logging.Info().Dur("interval", interval).Msg("[poll] Started")
	go c.loop(loopCtx, interval, done)
}

func (c *Channel) loop(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer func() {
		c.running.Store(false)
		metrics.SetPollActive(false)
		close(done)
	}()

	_ = c.pollCycle(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = c.pollCycle(ctx)
		}
	}
}

// Stop ends the poll loop and waits for the cycle in progress to finish.
// Fetches in flight are cancelled; events from fetches that completed are
// still recorded.
func (c *Channel) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	logging.Info().Msg("[poll] Stopped")
}

// IsActive reports whether the poll loop is running.
func (c *Channel) IsActive() bool {
	return c.running.Load()
}

// Subscribe starts tracking serverID. Its next poll is a cold start.
// Subscribing an already tracked server keeps its state.
func (c *Channel) Subscribe(serverID string) {
	c.mu.Lock()
	if _, ok := c.servers[serverID]; !ok {
		c.servers[serverID] = &serverState{online: map[string]models.Player{}}
	}
	n := len(c.servers)
	c.mu.Unlock()
	metrics.PollSubscribedServers.Set(float64(n))
}

// Unsubscribe stops tracking serverID and forgets its state.
func (c *Channel) Unsubscribe(serverID string) {
	c.mu.Lock()
	delete(c.servers, serverID)
	n := len(c.servers)
	c.mu.Unlock()
	metrics.PollSubscribedServers.Set(float64(n))
}

// SubscribedServers returns the tracked servers, sorted.
func (c *Channel) SubscribedServers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.servers))
	for id := range c.servers {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// PollNow runs one cycle synchronously, whether or not the loop is running.
// The returned error joins every per-server failure.
func (c *Channel) PollNow(ctx context.Context) error {
	return c.pollCycle(ctx)
}

// Stats reports the channel state.
func (c *Channel) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		IsRunning:       c.running.Load(),
		SubscribedCount: len(c.servers),
		LastPolled:      c.lastPolled,
		Interval:        c.interval,
	}
}

func (c *Channel) pollCycle(ctx context.Context) error {
	c.cycleMu.Lock()
	defer c.cycleMu.Unlock()

	servers := c.SubscribedServers()
	if len(servers) == 0 {
		c.markPolled()
		return nil
	}

	start := time.Now()
	var (
		errMu sync.Mutex
		errs  []error
	)

	var g errgroup.Group
	g.SetLimit(c.cfg.MaxConcurrentFetches)
	for _, id := range servers {
		g.Go(func() error {
			if err := c.pollServer(ctx, id); err != nil {
				errMu.Lock()
				errs = append(errs, err)
				errMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	c.markPolled()
	metrics.RecordPollCycle(time.Since(start), len(errs))
	logging.Debug().
		Int("servers", len(servers)).
		Int("failures", len(errs)).
		Dur("duration", time.Since(start)).
		Msg("[poll] Cycle complete")
	return errors.Join(errs...)
}

func (c *Channel) markPolled() {
	now := c.now()
	c.mu.Lock()
	c.lastPolled = now
	c.mu.Unlock()
}

func (c *Channel) pollServer(ctx context.Context, serverID string) error {
	fetchCtx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
	players, err := c.fetcher.GetPlayers(fetchCtx, serverID)
	cancel()
	if err != nil {
		logging.Warn().Err(err).Str("server_id", serverID).Msg("[poll] Fetch failed")
		return fmt.Errorf("poll server %s: %w", serverID, err)
	}

	joined, left, ok := c.diff(serverID, players)
	if !ok {
		return nil
	}

	// The online set has moved forward, so these writes must land even if
	// Stop cancels the loop meanwhile.
	recordCtx := context.WithoutCancel(ctx)
	now := c.now()
	for _, p := range joined {
		c.emit(recordCtx, serverID, p, models.ActionJoined, now)
	}
	for _, p := range left {
		c.emit(recordCtx, serverID, p, models.ActionLeft, now)
	}

	if err := c.sink.Reconcile(recordCtx, serverID, players); err != nil {
		logging.Error().Err(err).Str("server_id", serverID).Msg("[poll] Reconcile failed")
	}
	return nil
}

// diff swaps in the new online set and returns who joined and who left. ok is
// false when the server was unsubscribed while its fetch was in flight.
func (c *Channel) diff(serverID string, players []models.Player) (joined, left []models.Player, ok bool) {
	current := make(map[string]models.Player, len(players))
	for _, p := range players {
		if p.Name != "" {
			current[p.Name] = p
		}
	}

	c.mu.Lock()
	st, ok := c.servers[serverID]
	if !ok {
		c.mu.Unlock()
		return nil, nil, false
	}
	coldStart := !st.initialized
	for name, p := range current {
		if _, was := st.online[name]; coldStart || !was {
			joined = append(joined, p)
		}
	}
	if !coldStart {
		for name, p := range st.online {
			if _, still := current[name]; !still {
				left = append(left, p)
			}
		}
	}
	st.online = current
	st.initialized = true
	st.lastUpdated = c.now()
	c.mu.Unlock()

	if coldStart {
		logging.Info().Str("server_id", serverID).Int("players", len(joined)).Msg("[poll] Initial snapshot")
	}
	sortByName(joined)
	sortByName(left)
	return joined, left, true
}

func (c *Channel) emit(ctx context.Context, serverID string, p models.Player, action models.Action, ts time.Time) {
	ev, err := normalize.FromSnapshot(serverID, p, action, ts)
	if err != nil {
		metrics.NormalizationFailures.WithLabelValues("poll").Inc()
		logging.Warn().Err(err).Str("server_id", serverID).Msg("[poll] Dropping invalid event")
		return
	}
	if err := c.sink.RecordEvent(ctx, ev); err != nil {
		logging.Error().Err(err).
			Str("server_id", serverID).
			Str("player", p.Name).
			Str("action", string(action)).
			Msg("[poll] Failed to record event")
	}
}

func sortByName(ps []models.Player) {
	sort.Slice(ps, func(i, j int) bool { return ps[i].Name < ps[j].Name })
}
