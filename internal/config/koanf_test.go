// Presencewatch - Game Server Presence Tracking and Transport Failover
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/presencewatch

package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig()

	if cfg.Poll.Interval != 60*time.Second {
		t.Errorf("Poll.Interval = %v, want 60s", cfg.Poll.Interval)
	}
	if cfg.Failover.HealthInterval != 30*time.Second {
		t.Errorf("Failover.HealthInterval = %v, want 30s", cfg.Failover.HealthInterval)
	}
	if cfg.Failover.RecoveryInterval != 5*time.Minute {
		t.Errorf("Failover.RecoveryInterval = %v, want 5m", cfg.Failover.RecoveryInterval)
	}
	if cfg.Failover.MaxFailures != 3 {
		t.Errorf("Failover.MaxFailures = %d, want 3", cfg.Failover.MaxFailures)
	}
	if cfg.Push.ReconnectDelay != 5*time.Second {
		t.Errorf("Push.ReconnectDelay = %v, want 5s", cfg.Push.ReconnectDelay)
	}
	if cfg.Push.DedupWindow != 1000 {
		t.Errorf("Push.DedupWindow = %d, want 1000", cfg.Push.DedupWindow)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv(ConfigPathEnvVar, filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("POLL_INTERVAL", "15s")
	t.Setenv("FAILOVER_MAX_FAILURES", "5")
	t.Setenv("MONITORED_SERVERS", "1001, 1002,,1003")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("UNRELATED_VARIABLE", "ignored")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Poll.Interval != 15*time.Second {
		t.Errorf("Poll.Interval = %v, want 15s", cfg.Poll.Interval)
	}
	if cfg.Failover.MaxFailures != 5 {
		t.Errorf("MaxFailures = %d, want 5", cfg.Failover.MaxFailures)
	}
	if want := []string{"1001", "1002", "1003"}; !reflect.DeepEqual(cfg.Servers, want) {
		t.Errorf("Servers = %v, want %v", cfg.Servers, want)
	}
	if cfg.Store.Driver != "memory" {
		t.Errorf("Store.Driver = %q", cfg.Store.Driver)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q", cfg.Logging.Level)
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := strings.Join([]string{
		"push:",
		"  enabled: false",
		"poll:",
		"  max_concurrent_fetches: 2",
		"servers:",
		"  - \"77\"",
		"store:",
		"  driver: duckdb",
		"  path: " + filepath.Join(dir, "presence.duckdb"),
		"server:",
		"  port: 9000",
	}, "\n")
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("HTTP_PORT", "9100")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Push.Enabled {
		t.Error("push should be disabled by file")
	}
	if cfg.Poll.MaxConcurrentFetches != 2 {
		t.Errorf("MaxConcurrentFetches = %d, want 2", cfg.Poll.MaxConcurrentFetches)
	}
	if len(cfg.Servers) != 1 || cfg.Servers[0] != "77" {
		t.Errorf("Servers = %v", cfg.Servers)
	}
	if cfg.Store.Driver != "duckdb" {
		t.Errorf("Store.Driver = %q", cfg.Store.Driver)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("env should win over file: port = %d", cfg.Server.Port)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad upstream", func(c *Config) { c.Upstream.BaseURL = "ftp://x" }, "BATTLEMETRICS_API_URL"},
		{"bad push url", func(c *Config) { c.Push.URL = "http://x" }, "PUSH_URL"},
		{"push disabled skips url", func(c *Config) { c.Push.Enabled = false; c.Push.URL = "" }, ""},
		{"zero dedup", func(c *Config) { c.Push.DedupWindow = 0 }, "PUSH_DEDUP_WINDOW"},
		{"zero fanout", func(c *Config) { c.Poll.MaxConcurrentFetches = 0 }, "POLL_MAX_CONCURRENT"},
		{"zero failures", func(c *Config) { c.Failover.MaxFailures = 0 }, "FAILOVER_MAX_FAILURES"},
		{"unknown store", func(c *Config) { c.Store.Driver = "redis" }, "STORE_DRIVER"},
		{"badger without path", func(c *Config) { c.Store.Path = "" }, "STORE_PATH"},
		{"memory without path", func(c *Config) { c.Store.Driver = "memory"; c.Store.Path = "" }, ""},
		{"events without topic", func(c *Config) { c.Events.Enabled = true; c.Events.Topic = " " }, "EVENTS_TOPIC"},
		{"outbox zero retries", func(c *Config) { c.Events.Enabled = true; c.Events.OutboxMaxRetries = 0 }, "OUTBOX_MAX_RETRIES"},
		{"outbox ignored when disabled", func(c *Config) { c.Events.OutboxRetryInterval = 0 }, ""},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "HTTP_PORT"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "LOG_LEVEL"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "LOG_FORMAT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}

func TestServerAddr(t *testing.T) {
	t.Parallel()

	s := ServerConfig{Host: "127.0.0.1", Port: 8080}
	if got := s.Addr(); got != "127.0.0.1:8080" {
		t.Errorf("Addr = %q", got)
	}
}
