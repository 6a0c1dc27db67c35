// Presencewatch - Game Server Presence Tracking and Transport Failover
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/presencewatch

package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/presencewatch/internal/config"
	"github.com/tomtom215/presencewatch/internal/failover"
	"github.com/tomtom215/presencewatch/internal/models"
	"github.com/tomtom215/presencewatch/internal/presence"
	"github.com/tomtom215/presencewatch/internal/store"
	"github.com/tomtom215/presencewatch/internal/upstream"
)

type fakeFailover struct {
	mu         sync.Mutex
	mode       failover.Mode
	subscribed map[string]bool
	pollErr    error
	pollCalls  int
}

func newFakeFailover() *fakeFailover {
	return &fakeFailover{subscribed: map[string]bool{}}
}

func (f *fakeFailover) GetStatus() failover.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.subscribed))
	for id := range f.subscribed {
		ids = append(ids, id)
	}
	return failover.Status{CurrentMode: f.mode, PollActive: f.mode != failover.ModePrimary, PushConnected: true, SubscribedServers: ids}
}

func (f *fakeFailover) GetDetailedStats() failover.DetailedStats {
	return failover.DetailedStats{Status: f.GetStatus(), MaxFailures: 3}
}

func (f *fakeFailover) ForceMode(_ context.Context, name string) error {
	m, err := failover.ParseMode(name)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.mode = m
	f.mu.Unlock()
	return nil
}

func (f *fakeFailover) TriggerPollNow(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pollCalls++
	return f.pollErr
}

func (f *fakeFailover) Subscribe(id string) error {
	f.mu.Lock()
	f.subscribed[id] = true
	f.mu.Unlock()
	return nil
}

func (f *fakeFailover) Unsubscribe(id string) error {
	f.mu.Lock()
	delete(f.subscribed, id)
	f.mu.Unlock()
	return nil
}

type fakeSnapshots struct {
	snap *upstream.Snapshot
	err  error
}

func (f *fakeSnapshots) GetSnapshot(context.Context, string) (*upstream.Snapshot, error) {
	return f.snap, f.err
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("store down") }

type testEnv struct {
	handler  http.Handler
	recorder *presence.Recorder
	failover *fakeFailover
	upstream *fakeSnapshots
}

func newTestEnv(t *testing.T, cfg config.ServerConfig, pinger Pinger) *testEnv {
	t.Helper()
	s := store.NewMemoryStore()
	if pinger == nil {
		pinger = s
	}
	env := &testEnv{
		recorder: presence.NewRecorder(s),
		failover: newFakeFailover(),
		upstream: &fakeSnapshots{},
	}
	env.handler = NewRouter(cfg, NewHandler(Deps{
		Presence: env.recorder,
		Failover: env.failover,
		Upstream: env.upstream,
		Store:    pinger,
	}))
	return env
}

type envelope struct {
	Status   string          `json:"status"`
	Data     json.RawMessage `json:"data"`
	Metadata models.Metadata `json:"metadata"`
	Error    *models.APIError
}

func (e *testEnv) do(t *testing.T, method, path, body string) (int, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("%s %s: bad JSON %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec.Code, env
}

func TestProfilesAndActivity(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, config.ServerConfig{}, nil)
	ctx := context.Background()
	for _, name := range []string{"alice", "bob"} {
		if err := env.recorder.RecordJoin(ctx, "1234", name, ""); err != nil {
			t.Fatal(err)
		}
	}
	if err := env.recorder.RecordLeave(ctx, "1234", "bob", ""); err != nil {
		t.Fatal(err)
	}

	code, body := env.do(t, http.MethodGet, "/api/v1/servers/1234/profiles", "")
	if code != http.StatusOK || body.Status != "success" || body.Metadata.Count != 2 {
		t.Fatalf("profiles = %d %+v", code, body)
	}
	var profiles []models.PlayerProfile
	_ = json.Unmarshal(body.Data, &profiles)
	if len(profiles) != 2 {
		t.Errorf("profiles = %+v", profiles)
	}

	code, body = env.do(t, http.MethodGet, "/api/v1/servers/1234/activity?limit=2", "")
	var events []models.ActivityEvent
	_ = json.Unmarshal(body.Data, &events)
	if code != http.StatusOK || len(events) != 2 {
		t.Fatalf("activity = %d %d events", code, len(events))
	}
	if events[0].PlayerName != "bob" || events[0].Action != models.ActionLeft {
		t.Errorf("newest activity = %+v, want bob left", events[0])
	}
}

func TestListValidation(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, config.ServerConfig{}, nil)

	tests := []struct {
		name string
		path string
	}{
		{"bad server id", "/api/v1/servers/bad.id/profiles"},
		{"non numeric limit", "/api/v1/servers/1234/profiles?limit=ten"},
		{"limit too large", "/api/v1/servers/1234/activity?limit=5000"},
		{"negative limit", "/api/v1/servers/1234/activity?limit=-1"},
		{"profile id not uuid", "/api/v1/profiles/nope/sessions"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			code, body := env.do(t, http.MethodGet, tt.path, "")
			if code != http.StatusBadRequest || body.Error == nil || body.Error.Code != ErrCodeValidation {
				t.Errorf("GET %s = %d %+v, want 400 validation error", tt.path, code, body.Error)
			}
		})
	}
}

func TestSessions(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, config.ServerConfig{}, nil)
	ctx := context.Background()
	if err := env.recorder.RecordJoin(ctx, "1234", "carol", ""); err != nil {
		t.Fatal(err)
	}
	profiles, _ := env.recorder.GetProfiles(ctx, "1234", 0)

	code, body := env.do(t, http.MethodGet, "/api/v1/profiles/"+profiles[0].ID+"/sessions", "")
	var sessions []models.PlayerSession
	_ = json.Unmarshal(body.Data, &sessions)
	if code != http.StatusOK || len(sessions) != 1 || !sessions[0].IsActive {
		t.Errorf("sessions = %d %+v", code, sessions)
	}

	code, body = env.do(t, http.MethodGet, "/api/v1/profiles/6f1c1f0e-5d4b-4f43-9a55-2f9e1b0b7c11/sessions", "")
	if code != http.StatusNotFound || body.Error.Code != ErrCodeNotFound {
		t.Errorf("unknown profile = %d %+v", code, body.Error)
	}
}

func TestHiddenCount(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, config.ServerConfig{}, nil)
	env.upstream.snap = &upstream.Snapshot{
		Server: models.ServerInfo{ID: "1234", Players: 10},
		Players: []models.Player{
			{Name: "a"}, {Name: "b"}, {Name: "c"},
			{Name: "d"}, {Name: "e"}, {Name: "f"},
			{Name: presence.AnonymousPlayerName, Private: true},
		},
	}

	code, body := env.do(t, http.MethodGet, "/api/v1/servers/1234/hidden-count", "")
	var got HiddenCount
	_ = json.Unmarshal(body.Data, &got)
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if got.TotalPlayers != 10 || got.VisiblePlayers != 6 || got.HiddenPlayers != 4 {
		t.Errorf("hidden count = %+v", got)
	}
}

func TestHiddenCount_UpstreamErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", upstream.ErrServerNotFound, http.StatusNotFound},
		{"rate limited", upstream.ErrRateLimited, http.StatusTooManyRequests},
		{"bad gateway", &upstream.StatusError{StatusCode: 502}, http.StatusBadGateway},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t, config.ServerConfig{}, nil)
			env.upstream.err = tt.err
			if code, _ := env.do(t, http.MethodGet, "/api/v1/servers/1234/hidden-count", ""); code != tt.want {
				t.Errorf("status = %d, want %d", code, tt.want)
			}
		})
	}
}

func TestFailoverMode(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, config.ServerConfig{}, nil)

	code, body := env.do(t, http.MethodPost, "/api/v1/failover/mode", `{"mode":"secondary"}`)
	if code != http.StatusOK || env.failover.mode != failover.ModeSecondary {
		t.Fatalf("force secondary = %d, mode %v", code, env.failover.mode)
	}
	if !strings.Contains(string(body.Data), `"current_mode":"secondary"`) {
		t.Errorf("status body = %s", body.Data)
	}

	tests := []struct {
		name     string
		body     string
		wantCode string
	}{
		{"unknown mode", `{"mode":"warp"}`, ErrCodeValidation},
		{"missing mode", `{}`, ErrCodeValidation},
		{"bad json", `{"mode":`, ErrCodeBadRequest},
		{"unknown field", `{"mode":"primary","force":true}`, ErrCodeBadRequest},
	}
	for _, tt := range tests {
		code, body := env.do(t, http.MethodPost, "/api/v1/failover/mode", tt.body)
		if code != http.StatusBadRequest || body.Error == nil || body.Error.Code != tt.wantCode {
			t.Errorf("%s: %d %+v", tt.name, code, body.Error)
		}
	}
}

func TestSubscribeAndPollNow(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, config.ServerConfig{}, nil)

	if code, _ := env.do(t, http.MethodPost, "/api/v1/servers/777/subscribe", ""); code != http.StatusOK {
		t.Fatalf("subscribe = %d", code)
	}
	if !env.failover.subscribed["777"] {
		t.Error("server not subscribed")
	}
	if code, _ := env.do(t, http.MethodDelete, "/api/v1/servers/777/subscribe", ""); code != http.StatusOK {
		t.Fatalf("unsubscribe = %d", code)
	}
	if env.failover.subscribed["777"] {
		t.Error("server still subscribed")
	}

	env.failover.pollErr = errors.New("fetch 777: timeout")
	code, body := env.do(t, http.MethodPost, "/api/v1/failover/poll-now", "")
	if code != http.StatusOK || env.failover.pollCalls != 1 {
		t.Fatalf("poll-now = %d calls %d", code, env.failover.pollCalls)
	}
	if !strings.Contains(string(body.Data), "timeout") {
		t.Errorf("poll-now body = %s", body.Data)
	}

	code, body = env.do(t, http.MethodGet, "/api/v1/failover/status?detailed=true", "")
	if code != http.StatusOK || !strings.Contains(string(body.Data), `"max_failures":3`) {
		t.Errorf("detailed status = %d %s", code, body.Data)
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.ServerConfig{}, nil)
	code, body := env.do(t, http.MethodGet, "/api/v1/health", "")
	var h HealthStatus
	_ = json.Unmarshal(body.Data, &h)
	if code != http.StatusOK || h.Status != "healthy" || !h.StoreHealthy {
		t.Errorf("health = %d %+v", code, h)
	}
	if code, _ := env.do(t, http.MethodGet, "/api/v1/health/live", ""); code != http.StatusOK {
		t.Errorf("live = %d", code)
	}
	if code, _ := env.do(t, http.MethodGet, "/api/v1/health/ready", ""); code != http.StatusOK {
		t.Errorf("ready = %d", code)
	}

	down := newTestEnv(t, config.ServerConfig{}, failingPinger{})
	code, body = down.do(t, http.MethodGet, "/api/v1/health", "")
	_ = json.Unmarshal(body.Data, &h)
	if code != http.StatusOK || h.Status != "degraded" || h.StoreHealthy {
		t.Errorf("degraded health = %d %+v", code, h)
	}
	if code, _ := down.do(t, http.MethodGet, "/api/v1/health/ready", ""); code != http.StatusServiceUnavailable {
		t.Errorf("ready with store down = %d", code)
	}
}

func TestRouterMisc(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, config.ServerConfig{}, nil)

	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Errorf("/metrics = %d", rec.Code)
	}

	if code, body := env.do(t, http.MethodGet, "/api/v1/nope", ""); code != http.StatusNotFound || body.Error.Code != ErrCodeNotFound {
		t.Errorf("unknown route = %d %+v", code, body.Error)
	}

	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health/live", nil))
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}
}

func TestRateLimit(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, config.ServerConfig{RateLimitReqs: 2, RateLimitWindow: time.Minute}, nil)

	for i := 0; i < 2; i++ {
		if code, _ := env.do(t, http.MethodGet, "/api/v1/failover/status", ""); code != http.StatusOK {
			t.Fatalf("request %d = %d", i+1, code)
		}
	}
	code, body := env.do(t, http.MethodGet, "/api/v1/failover/status", "")
	if code != http.StatusTooManyRequests || body.Error.Code != ErrCodeTooManyRequests {
		t.Errorf("third request = %d %+v", code, body.Error)
	}
	if code, _ := env.do(t, http.MethodGet, "/api/v1/health/live", ""); code != http.StatusOK {
		t.Errorf("health must not be rate limited, got %d", code)
	}
}
