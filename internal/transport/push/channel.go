// Presencewatch - Game Server Presence Tracking and Transport Failover
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/presencewatch

/*
Package push is the real-time transport: a websocket client speaking a cable
style channel protocol, one channel subscription per monitored server.

Lifecycle:

	Connect ──► dial ok ──► resubscribe all ──► read loop
	               │                                 │
	               └── dial failed ◄── wait delay ◄──┘ connection lost

Connect enables the channel and dials once; whatever the outcome, a manager
goroutine keeps the connection alive, redialing every reconnect delay until
Disconnect. Subscribe and Unsubscribe always update the subscribed set and are
sent on the wire only while connected.

Inbound player frames are deduplicated on (server, timestamp, player, type),
normalized, and handed to a keyed worker pool so the read loop never waits on
the store.
*/
package push

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/presencewatch/internal/cache"
	"github.com/tomtom215/presencewatch/internal/config"
	"github.com/tomtom215/presencewatch/internal/logging"
	"github.com/tomtom215/presencewatch/internal/metrics"
	"github.com/tomtom215/presencewatch/internal/normalize"
	"github.com/tomtom215/presencewatch/internal/presence"
)

// ErrDisconnected is returned by Connect when Disconnect ran during the dial.
var ErrDisconnected = errors.New("push channel disconnected")

const (
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 10 * time.Second
	minReadTimeout   = 60 * time.Second
)

// Option configures a Channel.
type Option func(*Channel)

// WithClock replaces time.Now for defaulted event timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Channel) { c.now = now }
}

// Channel is the push transport.
type Channel struct {
	cfg    config.PushConfig
	sink   presence.EventSink
	dedup  *cache.DedupWindow
	dialer *websocket.Dialer
	now    func() time.Time

	mu         sync.Mutex
	subscribed map[string]struct{}
	conn       *websocket.Conn
	session    *session

	writeMu   sync.Mutex
	connected atomic.Bool
}

// session is one Connect..Disconnect lifetime.
type session struct {
	ctx    context.Context
	cancel context.CancelFunc
	kick   chan struct{}
	pool   *workerPool
	wg     sync.WaitGroup
}

// NewChannel builds a disconnected channel feeding sink.
func NewChannel(cfg config.PushConfig, sink presence.EventSink, opts ...Option) *Channel {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	c := &Channel{
		cfg:   cfg,
		sink:  sink,
		dedup: cache.NewDedupWindow(cfg.DedupWindow),
		dialer: &websocket.Dialer{
			Proxy:             http.ProxyFromEnvironment,
			HandshakeTimeout:  handshakeTimeout,
			EnableCompression: true,
		},
		now:        time.Now,
		subscribed: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect dials the push endpoint and resubscribes every known server. On
// failure the error is returned and redials continue in the background until
// Disconnect.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	s := c.session
	if s == nil {
		s = c.startSession(ctx)
		c.session = s
	}
	c.mu.Unlock()

	if err := c.dial(ctx, s); err != nil {
		return err
	}
	select {
	case s.kick <- struct{}{}:
	default:
	}
	return nil
}

func (c *Channel) startSession(parent context.Context) *session {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	s := &session{
		ctx:    ctx,
		cancel: cancel,
		kick:   make(chan struct{}, 1),
		pool:   newWorkerPool(c.sink, c.cfg.Workers),
	}
	s.pool.start(ctx)
	s.wg.Add(2)
	go c.manage(s)
	go c.pingLoop(s)
	return s
}

// Disconnect closes the connection and stops redialing. Events already
// queued are recorded before it returns. The subscribed set is kept.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	s := c.session
	conn := c.conn
	c.session = nil
	c.conn = nil
	c.mu.Unlock()

	if s == nil {
		return
	}
	s.cancel()
	if conn != nil {
		c.closeConn(conn)
	}
	s.wg.Wait()
	s.pool.stop()
	c.setConnected(false)
	logging.Info().Msg("[push] Disconnected")
}

// IsConnected reports whether a websocket is currently open.
func (c *Channel) IsConnected() bool {
	return c.connected.Load()
}

// Subscribe adds serverID to the subscribed set and, while connected, sends
// the subscribe command.
func (c *Channel) Subscribe(serverID string) error {
	c.mu.Lock()
	c.subscribed[serverID] = struct{}{}
	n := len(c.subscribed)
	conn := c.conn
	c.mu.Unlock()

	metrics.PushSubscribedServers.Set(float64(n))
	if conn == nil {
		return nil
	}
	if err := c.writeJSON(conn, subscribeCommand(serverID)); err != nil {
		return fmt.Errorf("subscribe %s: %w", serverID, err)
	}
	logging.Info().Str("server_id", serverID).Msg("[push] Subscribed")
	return nil
}

// Unsubscribe removes serverID and, while connected, sends the unsubscribe
// command.
func (c *Channel) Unsubscribe(serverID string) error {
	c.mu.Lock()
	delete(c.subscribed, serverID)
	n := len(c.subscribed)
	conn := c.conn
	c.mu.Unlock()

	metrics.PushSubscribedServers.Set(float64(n))
	if conn == nil {
		return nil
	}
	if err := c.writeJSON(conn, unsubscribeCommand(serverID)); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", serverID, err)
	}
	logging.Info().Str("server_id", serverID).Msg("[push] Unsubscribed")
	return nil
}

// SubscribedServers returns the subscribed set, sorted.
func (c *Channel) SubscribedServers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscribedLocked()
}

func (c *Channel) subscribedLocked() []string {
	out := make([]string, 0, len(c.subscribed))
	for id := range c.subscribed {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (c *Channel) dial(ctx context.Context, s *session) error {
	header := http.Header{}
	if c.cfg.Origin != "" {
		header.Set("Origin", c.cfg.Origin)
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("websocket dial failed: %w", err)
	}

	c.mu.Lock()
	if c.session != s {
		c.mu.Unlock()
		_ = conn.Close()
		return ErrDisconnected
	}
	if c.conn != nil {
		c.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	c.conn = conn
	subs := c.subscribedLocked()
	c.mu.Unlock()

	readTimeout := c.readTimeout()
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	c.setConnected(true)
	logging.Info().Str("url", c.cfg.URL).Int("servers", len(subs)).Msg("[push] Connected")

	for _, id := range subs {
		if err := c.writeJSON(conn, subscribeCommand(id)); err != nil {
			logging.Warn().Err(err).Str("server_id", id).Msg("[push] Resubscribe failed")
		}
	}
	return nil
}

// manage owns reconnection for one session.
func (c *Channel) manage(s *session) {
	defer s.wg.Done()

	for {
		if s.ctx.Err() != nil {
			return
		}

		if conn := c.currentConn(); conn != nil {
			c.readLoop(s, conn)
			c.dropConn(conn)
			if s.ctx.Err() != nil {
				return
			}
			logging.Warn().Dur("delay", c.cfg.ReconnectDelay).Msg("[push] Connection lost, reconnecting")
		}

		select {
		case <-s.ctx.Done():
			return
		case <-s.kick:
			continue
		case <-time.After(c.cfg.ReconnectDelay):
		}

		if c.currentConn() != nil {
			continue
		}
		if err := c.dial(s.ctx, s); err != nil {
			if s.ctx.Err() != nil {
				return
			}
			metrics.PushReconnects.WithLabelValues("failure").Inc()
			logging.Warn().Err(err).Msg("[push] Reconnect failed")
			continue
		}
		metrics.PushReconnects.WithLabelValues("success").Inc()
	}
}

func (c *Channel) readLoop(s *session, conn *websocket.Conn) {
	readTimeout := c.readTimeout()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			switch {
			case s.ctx.Err() != nil:
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				logging.Info().Msg("[push] Connection closed by server")
			default:
				logging.Warn().Err(err).Msg("[push] Read error")
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		c.handleFrame(s, conn, data)
	}
}

func (c *Channel) handleFrame(s *session, conn *websocket.Conn, data []byte) {
	var f inboundFrame
	if err := json.Unmarshal(data, &f); err != nil {
		metrics.NormalizationFailures.WithLabelValues("push").Inc()
		logging.Debug().Err(err).Msg("[push] Unparseable frame")
		return
	}

	switch f.Type {
	case framePing:
		if err := c.writeJSON(conn, inboundFrame{Type: framePong}); err != nil {
			logging.Warn().Err(err).Msg("[push] Pong failed")
		}
	case frameWelcome:
		logging.Debug().Msg("[push] Welcome received")
	case frameConfirm:
		logging.Debug().Str("identifier", f.Identifier).Msg("[push] Subscription confirmed")
	case frameReject:
		logging.Warn().Str("identifier", f.Identifier).Msg("[push] Subscription rejected")
	case frameDisconnect:
		logging.Info().Msg("[push] Server requested disconnect")
	case "":
		if isObject(f.Message) {
			c.handleEvent(s, f.Message)
		}
	default:
		logging.Debug().Str("type", f.Type).Msg("[push] Ignoring frame")
	}
}

func (c *Channel) handleEvent(s *session, payload json.RawMessage) {
	var raw normalize.RawPushEvent
	if err := json.Unmarshal(payload, &raw); err != nil {
		metrics.NormalizationFailures.WithLabelValues("push").Inc()
		logging.Debug().Err(err).Msg("[push] Unparseable event payload")
		return
	}
	if !isPlayerEvent(raw.Type) {
		return
	}

	if c.dedup.IsDuplicate(raw.DedupKey()) {
		metrics.PushDuplicatesDropped.Inc()
		return
	}

	ev, err := normalize.FromPush(raw, c.now())
	if err != nil {
		metrics.NormalizationFailures.WithLabelValues("push").Inc()
		logging.Warn().Err(err).Msg("[push] Dropping invalid event")
		return
	}
	s.pool.submit(s.ctx, ev)
}

func isPlayerEvent(t string) bool {
	switch t {
	case normalize.PushServerEvent, normalize.PushAddPlayer, normalize.PushRemovePlayer, "joined", "left":
		return true
	}
	return false
}

func (c *Channel) pingLoop(s *session) {
	defer s.wg.Done()

	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			conn := c.currentConn()
			if conn == nil {
				continue
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				logging.Warn().Err(err).Msg("[push] Ping failed")
				// Unblocks the read loop, which drops the connection.
				_ = conn.Close()
			}
		}
	}
}

func (c *Channel) writeJSON(conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Channel) currentConn() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func (c *Channel) dropConn(conn *websocket.Conn) {
	c.mu.Lock()
	current := c.conn == conn
	if current {
		c.conn = nil
	}
	c.mu.Unlock()
	_ = conn.Close()
	if current {
		c.setConnected(false)
	}
}

func (c *Channel) closeConn(conn *websocket.Conn) {
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	_ = conn.Close()
}

func (c *Channel) setConnected(v bool) {
	c.connected.Store(v)
	metrics.SetPushConnected(v)
}

func (c *Channel) readTimeout() time.Duration {
	if d := 2 * c.cfg.PingInterval; d > minReadTimeout {
		return d
	}
	return minReadTimeout
}
