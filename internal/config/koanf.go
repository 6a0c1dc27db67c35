// Presencewatch - Game Server Presence Tracking and Transport Failover
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/presencewatch

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths are searched in order; the first existing file wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/presencewatch/config.yaml",
	"/etc/presencewatch/config.yml",
}

// ConfigPathEnvVar overrides the config file location.
const ConfigPathEnvVar = "CONFIG_PATH"

func defaultConfig() *Config {
	return &Config{
		Upstream: UpstreamConfig{
			BaseURL:            "https://api.battlemetrics.com",
			Timeout:            10 * time.Second,
			RateLimitPerSecond: 2,
			RateLimitBurst:     5,
			UserAgent:          "presencewatch/1.0",
		},
		Push: PushConfig{
			Enabled:        true,
			URL:            "wss://ws.battlemetrics.com/cable",
			ReconnectDelay: 5 * time.Second,
			DedupWindow:    1000,
			PingInterval:   30 * time.Second,
			Workers:        4,
		},
		Poll: PollConfig{
			Interval:             60 * time.Second,
			MaxConcurrentFetches: 8,
			FetchTimeout:         10 * time.Second,
		},
		Failover: FailoverConfig{
			HealthInterval:   30 * time.Second,
			RecoveryInterval: 5 * time.Minute,
			MaxFailures:      3,
		},
		Servers: []string{},
		Store: StoreConfig{
			Driver: "badger",
			Path:   "/data/presence",
		},
		Retention: RetentionConfig{
			Enabled:  true,
			Interval: 24 * time.Hour,
			MaxAge:   30 * 24 * time.Hour,
		},
		Events: EventsConfig{
			Enabled:        false,
			EmbeddedServer: true,
			StoreDir:       "/data/nats",
			Topic:          "presence.activity",

			OutboxEnabled:       true,
			OutboxPath:          "/data/outbox",
			OutboxRetryInterval: 30 * time.Second,
			OutboxMaxRetries:    20,
			OutboxEntryTTL:      7 * 24 * time.Hour,
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            3860,
			Timeout:         30 * time.Second,
			CORSOrigins:     []string{"*"},
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Supervisor: SupervisorConfig{
			FailureThreshold: 5,
			FailureDecay:     30,
			FailureBackoff:   15 * time.Second,
			ShutdownTimeout:  10 * time.Second,
		},
	}
}

// Load builds the configuration from defaults, the optional config file and
// the environment, then validates it.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// sliceConfigPaths are split on commas when they arrive as a single string.
var sliceConfigPaths = []string{
	"servers",
	"server.cors_origins",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		s, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		parts := make([]string, 0, 4)
		for _, p := range strings.Split(s, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		if err := k.Set(path, parts); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings maps supported environment variables to koanf paths. Variables
// not listed here are ignored.
var envMappings = map[string]string{
	"battlemetrics_api_url":      "upstream.base_url",
	"battlemetrics_api_key":      "upstream.api_key",
	"upstream_timeout":           "upstream.timeout",
	"upstream_rate_limit":        "upstream.rate_limit_per_second",
	"upstream_rate_burst":        "upstream.rate_limit_burst",
	"upstream_user_agent":        "upstream.user_agent",
	"push_enabled":               "push.enabled",
	"push_url":                   "push.url",
	"push_origin":                "push.origin",
	"push_reconnect_delay":       "push.reconnect_delay",
	"push_dedup_window":          "push.dedup_window",
	"push_ping_interval":         "push.ping_interval",
	"push_workers":               "push.workers",
	"poll_interval":              "poll.interval",
	"poll_max_concurrent":        "poll.max_concurrent_fetches",
	"poll_fetch_timeout":         "poll.fetch_timeout",
	"failover_health_interval":   "failover.health_interval",
	"failover_recovery_interval": "failover.recovery_interval",
	"failover_max_failures":      "failover.max_failures",
	"monitored_servers":          "servers",
	"store_driver":               "store.driver",
	"store_path":                 "store.path",
	"retention_enabled":          "retention.enabled",
	"retention_interval":         "retention.interval",
	"retention_max_age":          "retention.max_age",
	"events_enabled":             "events.enabled",
	"nats_url":                   "events.nats_url",
	"nats_embedded":              "events.embedded_server",
	"nats_store_dir":             "events.store_dir",
	"events_topic":               "events.topic",
	"outbox_enabled":             "events.outbox_enabled",
	"outbox_path":                "events.outbox_path",
	"outbox_retry_interval":      "events.outbox_retry_interval",
	"outbox_max_retries":         "events.outbox_max_retries",
	"outbox_entry_ttl":           "events.outbox_entry_ttl",
	"http_host":                  "server.host",
	"http_port":                  "server.port",
	"http_timeout":               "server.timeout",
	"cors_origins":               "server.cors_origins",
	"rate_limit_reqs":            "server.rate_limit_reqs",
	"rate_limit_window":          "server.rate_limit_window",
	"log_level":                  "logging.level",
	"log_format":                 "logging.format",
	"log_caller":                 "logging.caller",
	"supervisor_failure_limit":   "supervisor.failure_threshold",
	"supervisor_failure_decay":   "supervisor.failure_decay",
	"supervisor_backoff":         "supervisor.failure_backoff",
	"shutdown_timeout":           "supervisor.shutdown_timeout",
}

func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}
