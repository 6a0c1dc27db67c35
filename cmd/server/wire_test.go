// Presencewatch - Game Server Presence Tracking and Transport Failover
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/presencewatch

package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/tomtom215/presencewatch/internal/config"
	"github.com/tomtom215/presencewatch/internal/failover"
)

func testConfig(upstreamURL string) *config.Config {
	return &config.Config{
		Upstream: config.UpstreamConfig{BaseURL: upstreamURL, Timeout: time.Second},
		Push:     config.PushConfig{Enabled: false},
		Poll:     config.PollConfig{Interval: time.Hour},
		Failover: config.FailoverConfig{HealthInterval: time.Hour, RecoveryInterval: time.Hour, MaxFailures: 3},
		Servers:  []string{"1001", "1002"},
		Store:    config.StoreConfig{Driver: "memory"},
		Events:   config.EventsConfig{Enabled: true, Topic: "presence.activity", OutboxEnabled: true},
		Server:   config.ServerConfig{Host: "127.0.0.1", Port: 0},
	}
}

func TestBuild_PollOnly(t *testing.T) {
	upstreamSrv := httptest.NewServer(http.NotFoundHandler())
	defer upstreamSrv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := build(ctx, testConfig(upstreamSrv.URL))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer a.close()

	st := a.coordinator.GetStatus()
	if st.CurrentMode != failover.ModeSecondary || !st.PollActive || st.PushConnected {
		t.Errorf("status = %+v, want secondary with poll active", st)
	}
	if want := []string{"1001", "1002"}; !reflect.DeepEqual(st.SubscribedServers, want) {
		t.Errorf("subscribed = %v, want %v", st.SubscribedServers, want)
	}
	// The startup poll must already see the configured servers.
	if n := a.coordinator.GetDetailedStats().Poll.SubscribedCount; n != 2 {
		t.Errorf("poll subscribed count = %d, want 2 before the first cycle", n)
	}
	if a.bus == nil || a.bus.Backend() != "gochannel" {
		t.Fatalf("event bus not opened on gochannel")
	}

	rec := httptest.NewRecorder()
	a.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("health = %d: %s", rec.Code, rec.Body.String())
	}

	if err := a.recorder.RecordJoin(ctx, "1001", "alice", ""); err != nil {
		t.Fatalf("RecordJoin: %v", err)
	}
	events, err := a.recorder.GetRecentActivity(ctx, "1001", 10)
	if err != nil || len(events) != 1 {
		t.Errorf("activity = %v, %v", events, err)
	}
	if a.relay == nil {
		t.Fatal("outbox relay not wired")
	}
	if n, err := a.outbox.Len(); err != nil || n != 0 {
		t.Errorf("outbox pending = %d, %v after delivered publish", n, err)
	}
}

func TestBuild_UnknownStoreDriver(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:0")
	cfg.Store.Driver = "sqlite"
	if _, err := build(context.Background(), cfg); err == nil {
		t.Fatal("expected error for unknown store driver")
	}
}

func TestDisabledPush(t *testing.T) {
	t.Parallel()
	p := newDisabledPush()
	if err := p.Connect(context.Background()); !errors.Is(err, errPushDisabled) {
		t.Errorf("Connect = %v", err)
	}
	_ = p.Subscribe("b")
	_ = p.Subscribe("a")
	_ = p.Subscribe("c")
	_ = p.Unsubscribe("c")
	if got := p.SubscribedServers(); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("subscribed = %v", got)
	}
	if p.IsConnected() {
		t.Error("disabled push reports connected")
	}
}
