// Presencewatch - Game Server Presence Tracking and Transport Failover
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/presencewatch

package upstream

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/presencewatch/internal/logging"
	"github.com/tomtom215/presencewatch/internal/metrics"
	"github.com/tomtom215/presencewatch/internal/models"
)

var _ API = (*CircuitBreakerClient)(nil)

// BreakerSettings tunes the breaker. Zero values take the defaults below.
type BreakerSettings struct {
	Name        string
	MaxRequests uint32        // half-open probes, default 3
	Interval    time.Duration // closed-state count reset, default 1m
	Timeout     time.Duration // open to half-open, default 2m
	MinRequests uint32        // default 10
	TripRatio   float64       // default 0.6
}

func (s *BreakerSettings) applyDefaults() {
	if s.Name == "" {
		s.Name = "upstream-api"
	}
	if s.MaxRequests == 0 {
		s.MaxRequests = 3
	}
	if s.Interval == 0 {
		s.Interval = time.Minute
	}
	if s.Timeout == 0 {
		s.Timeout = 2 * time.Minute
	}
	if s.MinRequests == 0 {
		s.MinRequests = 10
	}
	if s.TripRatio == 0 {
		s.TripRatio = 0.6
	}
}

// CircuitBreakerClient wraps Client so that a failing upstream is rejected
// fast instead of burning the poll budget on timeouts.
//
// Unknown-server responses do not count against the breaker; they say nothing
// about upstream health.
type CircuitBreakerClient struct {
	client *Client
	cb     *gobreaker.CircuitBreaker[*Snapshot]
	name   string
}

// NewCircuitBreakerClient wraps client with a breaker configured by settings.
func NewCircuitBreakerClient(client *Client, settings BreakerSettings) *CircuitBreakerClient {
	settings.applyDefaults()
	name := settings.Name

	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)
	metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(name).Set(0)

	cb := gobreaker.NewCircuitBreaker[*Snapshot](gobreaker.Settings{
		Name:        name,
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < settings.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			if ratio < settings.TripRatio {
				return false
			}
			logging.Warn().
				Str("breaker", name).
				Uint32("failures", counts.TotalFailures).
				Float64("failure_rate", ratio*100).
				Msg("Opening upstream circuit")
			return true
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr, toStr := stateToString(from), stateToString(to)
			logging.Info().Str("breaker", name).Str("from", fromStr).Str("to", toStr).Msg("Circuit breaker state transition")

			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, fromStr, toStr).Inc()
			if to == gobreaker.StateClosed {
				metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(name).Set(0)
			}
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrServerNotFound) || errors.Is(err, context.Canceled)
		},
	})

	return &CircuitBreakerClient{client: client, cb: cb, name: name}
}

// State reports the breaker state as closed, half-open or open.
func (c *CircuitBreakerClient) State() string {
	return stateToString(c.cb.State())
}

// GetSnapshot fetches a snapshot through the breaker.
func (c *CircuitBreakerClient) GetSnapshot(ctx context.Context, serverID string) (*Snapshot, error) {
	snap, err := c.cb.Execute(func() (*Snapshot, error) {
		return c.client.GetSnapshot(ctx, serverID)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.CircuitBreakerRequests.WithLabelValues(c.name, "rejected").Inc()
			logging.Warn().Err(err).Str("server_id", serverID).Msg("Upstream request rejected by circuit breaker")
		} else {
			metrics.CircuitBreakerRequests.WithLabelValues(c.name, "failure").Inc()
			metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(c.name).Set(float64(c.cb.Counts().ConsecutiveFailures))
		}
		return nil, err
	}

	metrics.CircuitBreakerRequests.WithLabelValues(c.name, "success").Inc()
	metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(c.name).Set(0)
	return snap, nil
}

// GetServer implements API.
func (c *CircuitBreakerClient) GetServer(ctx context.Context, serverID string) (*models.ServerInfo, error) {
	snap, err := c.GetSnapshot(ctx, serverID)
	if err != nil {
		return nil, err
	}
	return &snap.Server, nil
}

// GetPlayers implements API.
func (c *CircuitBreakerClient) GetPlayers(ctx context.Context, serverID string) ([]models.Player, error) {
	snap, err := c.GetSnapshot(ctx, serverID)
	if err != nil {
		return nil, err
	}
	return snap.Players, nil
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
