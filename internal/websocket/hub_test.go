// Presencewatch - Game Server Presence Tracking and Transport Failover
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/presencewatch

package websocket

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/presencewatch/internal/models"
)

type liveFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func startHub(t *testing.T) (*Hub, *httptest.Server, context.CancelFunc, <-chan error) {
	t.Helper()
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hub.RunWithContext(ctx) }()

	srv := httptest.NewServer(NewHandler(hub, nil))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return hub, srv, cancel, done
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/" + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for hub.ClientCount() != n && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := hub.ClientCount(); got != n {
		t.Fatalf("ClientCount() = %d, want %d", got, n)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) liveFrame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var f liveFrame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	return f
}

func TestHub_BroadcastsActivityAndModeChanges(t *testing.T) {
	t.Parallel()
	hub, srv, _, _ := startHub(t)

	all := dial(t, srv, "")
	onlyB := dial(t, srv, "?server_id=b")
	waitClients(t, hub, 2)

	ctx := context.Background()
	hub.NotifyActivity(ctx, models.ActivityEvent{ID: "1", ServerID: "a", PlayerName: "alice", Action: models.ActionJoined})
	hub.NotifyActivity(ctx, models.ActivityEvent{ID: "2", ServerID: "b", PlayerName: "bob", Action: models.ActionLeft})
	hub.NotifyModeChange(ctx, models.ModeChange{From: "primary", To: "hybrid", Reason: "push_failure"})

	var ev models.ActivityEvent
	f := readFrame(t, all)
	if f.Type != models.LiveActivity {
		t.Fatalf("first frame type = %q", f.Type)
	}
	_ = json.Unmarshal(f.Data, &ev)
	if ev.PlayerName != "alice" {
		t.Errorf("first activity = %+v", ev)
	}
	if f := readFrame(t, all); f.Type != models.LiveActivity {
		t.Errorf("second frame type = %q", f.Type)
	}
	if f := readFrame(t, all); f.Type != models.LiveModeChanged {
		t.Errorf("third frame type = %q", f.Type)
	}

	f = readFrame(t, onlyB)
	_ = json.Unmarshal(f.Data, &ev)
	if f.Type != models.LiveActivity || ev.ServerID != "b" {
		t.Errorf("filtered client got %s %+v, want activity on b", f.Type, ev)
	}
	f = readFrame(t, onlyB)
	var change models.ModeChange
	_ = json.Unmarshal(f.Data, &change)
	if f.Type != models.LiveModeChanged || change.To != "hybrid" {
		t.Errorf("filtered client got %s %+v, want mode change", f.Type, change)
	}
}

func TestHub_PingPong(t *testing.T) {
	t.Parallel()
	hub, srv, _, _ := startHub(t)
	conn := dial(t, srv, "")
	waitClients(t, hub, 1)

	if err := conn.WriteJSON(models.LiveMessage{Type: MessageTypePing}); err != nil {
		t.Fatal(err)
	}
	if f := readFrame(t, conn); f.Type != MessageTypePong {
		t.Errorf("frame type = %q, want pong", f.Type)
	}
}

func TestHub_ClientDisconnectUnregisters(t *testing.T) {
	t.Parallel()
	hub, srv, _, _ := startHub(t)
	conn := dial(t, srv, "")
	waitClients(t, hub, 1)

	_ = conn.Close()
	waitClients(t, hub, 0)
}

func TestHub_ShutdownClosesClients(t *testing.T) {
	t.Parallel()
	hub, srv, cancel, done := startHub(t)
	conn := dial(t, srv, "")
	waitClients(t, hub, 1)

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("RunWithContext() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("hub did not stop")
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected close after shutdown")
	}
	if hub.ClientCount() != 0 {
		t.Errorf("ClientCount() = %d after shutdown", hub.ClientCount())
	}

	late := dial(t, srv, "")
	_ = late.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := late.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("late client read error = %v, want going away", err)
	}
}

func TestOriginChecker(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"no list", nil, "https://evil.example", true},
		{"wildcard", []string{"*"}, "https://evil.example", true},
		{"listed", []string{"https://dash.example"}, "https://dash.example", true},
		{"unlisted", []string{"https://dash.example"}, "https://evil.example", false},
		{"no origin header", []string{"https://dash.example"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			if got := originChecker(tt.allowed)(r); got != tt.want {
				t.Errorf("originChecker() = %v, want %v", got, tt.want)
			}
		})
	}
}
