// Presencewatch - Game Server Presence Tracking and Transport Failover
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/presencewatch

/*
Package upstream is the client for the server-status API that supplies player
snapshots to the poll channel.

The API is BattleMetrics compatible (JSON:API):

	GET /servers/{id}?include=player

	{
	  "data": {"id": "123", "attributes": {"name": "...", "players": 41, "maxPlayers": 100, "status": "online"}},
	  "included": [{"type": "player", "id": "9", "attributes": {"name": "alice", "private": false}}]
	}

Requests are paced by a token bucket so that a large subscription set does not
trip upstream rate limits.
*/
package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/tomtom215/presencewatch/internal/config"
	"github.com/tomtom215/presencewatch/internal/metrics"
	"github.com/tomtom215/presencewatch/internal/models"
)

var (
	// ErrServerNotFound is returned for HTTP 404.
	ErrServerNotFound = errors.New("upstream: server not found")

	// ErrUnauthorized is returned for HTTP 401 and 403.
	ErrUnauthorized = errors.New("upstream: unauthorized")

	// ErrRateLimited is returned for HTTP 429.
	ErrRateLimited = errors.New("upstream: rate limit exceeded")
)

// StatusError is returned for any other non-200 response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned status %d: %s", e.StatusCode, e.Body)
}

// API is the snapshot source used by the poll channel and the HTTP API.
// Client and CircuitBreakerClient both implement it.
type API interface {
	GetServer(ctx context.Context, serverID string) (*models.ServerInfo, error)
	GetPlayers(ctx context.Context, serverID string) ([]models.Player, error)
}

var _ API = (*Client)(nil)

// Snapshot is one server response with its player list.
type Snapshot struct {
	Server  models.ServerInfo
	Players []models.Player
}

type serverResponse struct {
	Data struct {
		ID         string `json:"id"`
		Attributes struct {
			Name       string `json:"name"`
			Players    int    `json:"players"`
			MaxPlayers int    `json:"maxPlayers"`
			Status     string `json:"status"`
		} `json:"attributes"`
	} `json:"data"`
	Included []struct {
		Type       string `json:"type"`
		ID         string `json:"id"`
		Attributes struct {
			Name    string `json:"name"`
			Private bool   `json:"private"`
		} `json:"attributes"`
	} `json:"included"`
}

// Client talks to the upstream API directly.
type Client struct {
	baseURL    string
	apiKey     string
	userAgent  string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient builds a client from cfg. A zero rate disables pacing.
func NewClient(cfg config.UpstreamConfig) *Client {
	limit := rate.Inf
	if cfg.RateLimitPerSecond > 0 {
		limit = rate.Limit(cfg.RateLimitPerSecond)
	}
	burst := cfg.RateLimitBurst
	if burst < 1 {
		burst = 1
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		userAgent:  cfg.UserAgent,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, burst),
	}
}

// GetSnapshot fetches server status and the current player list in one call.
func (c *Client) GetSnapshot(ctx context.Context, serverID string) (*Snapshot, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	endpoint := fmt.Sprintf("%s/servers/%s?include=player", c.baseURL, url.PathEscape(serverID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordUpstreamRequest("server", 0, time.Since(start))
		return nil, fmt.Errorf("upstream request for server %s failed: %w", serverID, err)
	}
	defer func() { _ = resp.Body.Close() }()
	metrics.RecordUpstreamRequest("server", resp.StatusCode, time.Since(start))

	if err := statusError(resp); err != nil {
		return nil, fmt.Errorf("server %s: %w", serverID, err)
	}

	var body serverResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode server %s: %w", serverID, err)
	}

	snap := &Snapshot{
		Server: models.ServerInfo{
			ID:         body.Data.ID,
			Name:       body.Data.Attributes.Name,
			Status:     body.Data.Attributes.Status,
			Players:    body.Data.Attributes.Players,
			MaxPlayers: body.Data.Attributes.MaxPlayers,
		},
		Players: make([]models.Player, 0, len(body.Included)),
	}
	if snap.Server.ID == "" {
		snap.Server.ID = serverID
	}
	for _, inc := range body.Included {
		if inc.Type != "player" {
			continue
		}
		snap.Players = append(snap.Players, models.Player{
			ID:      inc.ID,
			Name:    inc.Attributes.Name,
			Private: inc.Attributes.Private,
		})
	}
	return snap, nil
}

// GetServer implements API.
func (c *Client) GetServer(ctx context.Context, serverID string) (*models.ServerInfo, error) {
	snap, err := c.GetSnapshot(ctx, serverID)
	if err != nil {
		return nil, err
	}
	return &snap.Server, nil
}

// GetPlayers implements API.
func (c *Client) GetPlayers(ctx context.Context, serverID string) ([]models.Player, error) {
	snap, err := c.GetSnapshot(ctx, serverID)
	if err != nil {
		return nil, err
	}
	return snap.Players, nil
}

func statusError(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
		return ErrServerNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	case http.StatusTooManyRequests:
		return ErrRateLimited
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 512))
	if err != nil {
		return &StatusError{StatusCode: resp.StatusCode}
	}
	return &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
}
