// Presencewatch - Game Server Presence Tracking and Transport Failover
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/presencewatch

// Package config loads presencewatch configuration from built-in defaults, an
// optional YAML file and environment variables, in that order of precedence.
package config

import "time"

// Config is the complete runtime configuration.
type Config struct {
	Upstream   UpstreamConfig   `koanf:"upstream"`
	Push       PushConfig       `koanf:"push"`
	Poll       PollConfig       `koanf:"poll"`
	Failover   FailoverConfig   `koanf:"failover"`
	Servers    []string         `koanf:"servers"`
	Store      StoreConfig      `koanf:"store"`
	Retention  RetentionConfig  `koanf:"retention"`
	Events     EventsConfig     `koanf:"events"`
	Server     ServerConfig     `koanf:"server"`
	Logging    LoggingConfig    `koanf:"logging"`
	Supervisor SupervisorConfig `koanf:"supervisor"`
}

// UpstreamConfig points at the server-status API used for player snapshots.
type UpstreamConfig struct {
	// BaseURL of a BattleMetrics compatible JSON:API.
	BaseURL string `koanf:"base_url"`

	// APIKey is sent as a bearer token when set. Anonymous access works with
	// lower upstream rate limits.
	APIKey string `koanf:"api_key"`

	Timeout            time.Duration `koanf:"timeout"`
	RateLimitPerSecond float64       `koanf:"rate_limit_per_second"`
	RateLimitBurst     int           `koanf:"rate_limit_burst"`
	UserAgent          string        `koanf:"user_agent"`
}

// PushConfig configures the real-time websocket channel.
type PushConfig struct {
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url"`
	Origin  string `koanf:"origin"`

	// ReconnectDelay is the fixed wait between reconnect attempts.
	ReconnectDelay time.Duration `koanf:"reconnect_delay"`

	// DedupWindow is how many recent event keys are remembered.
	DedupWindow int `koanf:"dedup_window"`

	PingInterval time.Duration `koanf:"ping_interval"`

	// Workers is the size of the recorder dispatch pool.
	Workers int `koanf:"workers"`
}

// PollConfig configures the snapshot polling channel.
type PollConfig struct {
	Interval             time.Duration `koanf:"interval"`
	MaxConcurrentFetches int           `koanf:"max_concurrent_fetches"`
	FetchTimeout         time.Duration `koanf:"fetch_timeout"`
}

// FailoverConfig tunes the transport health state machine.
type FailoverConfig struct {
	HealthInterval   time.Duration `koanf:"health_interval"`
	RecoveryInterval time.Duration `koanf:"recovery_interval"`

	// MaxFailures consecutive failed health checks move the engine to
	// secondary (poll only) mode. The first failure moves it to hybrid.
	MaxFailures int `koanf:"max_failures"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	// Driver is memory, badger or duckdb.
	Driver string `koanf:"driver"`

	// Path is the badger directory or the duckdb file. Ignored for memory.
	Path string `koanf:"path"`
}

// RetentionConfig controls periodic cleanup of old activity and sessions.
type RetentionConfig struct {
	Enabled  bool          `koanf:"enabled"`
	Interval time.Duration `koanf:"interval"`
	MaxAge   time.Duration `koanf:"max_age"`
}

// EventsConfig controls publishing of activity events to a message bus.
type EventsConfig struct {
	Enabled bool `koanf:"enabled"`

	// NATSURL is used when EmbeddedServer is false. An empty URL with the
	// embedded server disabled selects the in-process bus.
	NATSURL        string `koanf:"nats_url"`
	EmbeddedServer bool   `koanf:"embedded_server"`
	StoreDir       string `koanf:"store_dir"`
	Topic          string `koanf:"topic"`

	// Outbox persists each event until the bus acknowledges it and retries
	// failed publishes. An empty OutboxPath keeps the outbox in memory.
	OutboxEnabled       bool          `koanf:"outbox_enabled"`
	OutboxPath          string        `koanf:"outbox_path"`
	OutboxRetryInterval time.Duration `koanf:"outbox_retry_interval"`
	OutboxMaxRetries    int           `koanf:"outbox_max_retries"`
	OutboxEntryTTL      time.Duration `koanf:"outbox_entry_ttl"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	Timeout         time.Duration `koanf:"timeout"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// LoggingConfig is passed to logging.Init.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// SupervisorConfig tunes the suture tree.
type SupervisorConfig struct {
	FailureThreshold float64       `koanf:"failure_threshold"`
	FailureDecay     float64       `koanf:"failure_decay"`
	FailureBackoff   time.Duration `koanf:"failure_backoff"`
	ShutdownTimeout  time.Duration `koanf:"shutdown_timeout"`
}
