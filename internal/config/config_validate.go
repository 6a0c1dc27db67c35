// Presencewatch - Game Server Presence Tracking and Transport Failover
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/presencewatch

package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate checks the loaded configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	if err := c.validateUpstream(); err != nil {
		return err
	}
	if err := c.validatePush(); err != nil {
		return err
	}
	if err := c.validatePoll(); err != nil {
		return err
	}
	if err := c.validateFailover(); err != nil {
		return err
	}
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateEvents(); err != nil {
		return err
	}
	if err := c.validateServer(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateUpstream() error {
	u, err := url.Parse(c.Upstream.BaseURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("BATTLEMETRICS_API_URL must be an http(s) URL, got %q", c.Upstream.BaseURL)
	}
	if c.Upstream.Timeout <= 0 {
		return fmt.Errorf("UPSTREAM_TIMEOUT must be positive")
	}
	if c.Upstream.RateLimitPerSecond < 0 {
		return fmt.Errorf("UPSTREAM_RATE_LIMIT must not be negative")
	}
	return nil
}

func (c *Config) validatePush() error {
	if !c.Push.Enabled {
		return nil
	}
	u, err := url.Parse(c.Push.URL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		return fmt.Errorf("PUSH_URL must be a ws(s) URL when PUSH_ENABLED=true, got %q", c.Push.URL)
	}
	if c.Push.ReconnectDelay <= 0 {
		return fmt.Errorf("PUSH_RECONNECT_DELAY must be positive")
	}
	if c.Push.DedupWindow < 1 {
		return fmt.Errorf("PUSH_DEDUP_WINDOW must be at least 1, got %d", c.Push.DedupWindow)
	}
	if c.Push.Workers < 1 {
		return fmt.Errorf("PUSH_WORKERS must be at least 1, got %d", c.Push.Workers)
	}
	return nil
}

func (c *Config) validatePoll() error {
	if c.Poll.Interval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive")
	}
	if c.Poll.MaxConcurrentFetches < 1 {
		return fmt.Errorf("POLL_MAX_CONCURRENT must be at least 1, got %d", c.Poll.MaxConcurrentFetches)
	}
	if c.Poll.FetchTimeout <= 0 {
		return fmt.Errorf("POLL_FETCH_TIMEOUT must be positive")
	}
	return nil
}

func (c *Config) validateFailover() error {
	if c.Failover.HealthInterval <= 0 || c.Failover.RecoveryInterval <= 0 {
		return fmt.Errorf("failover intervals must be positive")
	}
	if c.Failover.MaxFailures < 1 {
		return fmt.Errorf("FAILOVER_MAX_FAILURES must be at least 1, got %d", c.Failover.MaxFailures)
	}
	return nil
}

func (c *Config) validateStore() error {
	switch c.Store.Driver {
	case "memory":
		return nil
	case "badger", "duckdb":
		if c.Store.Path == "" {
			return fmt.Errorf("STORE_PATH is required for the %s store", c.Store.Driver)
		}
		return nil
	default:
		return fmt.Errorf("STORE_DRIVER must be memory, badger or duckdb, got %q", c.Store.Driver)
	}
}

func (c *Config) validateEvents() error {
	if !c.Events.Enabled {
		return nil
	}
	if strings.TrimSpace(c.Events.Topic) == "" {
		return fmt.Errorf("EVENTS_TOPIC is required when EVENTS_ENABLED=true")
	}
	if c.Events.OutboxEnabled {
		if c.Events.OutboxRetryInterval <= 0 {
			return fmt.Errorf("OUTBOX_RETRY_INTERVAL must be positive")
		}
		if c.Events.OutboxMaxRetries < 1 {
			return fmt.Errorf("OUTBOX_MAX_RETRIES must be at least 1, got %d", c.Events.OutboxMaxRetries)
		}
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "warning", "error", "disabled", "off":
	default:
		return fmt.Errorf("LOG_LEVEL %q is not a known level", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
		return nil
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.Logging.Format)
	}
}

// Addr returns host:port for the HTTP listener.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
