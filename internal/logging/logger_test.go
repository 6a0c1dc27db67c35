// Presencewatch - Game Server Presence Tracking and Transport Failover
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/presencewatch

package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"DEBUG", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"off", zerolog.Disabled},
		{"", zerolog.InfoLevel},
		{"bogus", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestInitWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Output: &buf})
	defer Init(DefaultConfig())

	Info().Str("server_id", "42").Msg("subscribed")

	out := buf.String()
	if !strings.Contains(out, `"server_id":"42"`) {
		t.Errorf("missing field in %s", out)
	}
	if !strings.Contains(out, `"message":"subscribed"`) {
		t.Errorf("missing message in %s", out)
	}
}

func TestCtxAddsIDs(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(NewTestLogger(&buf))
	defer Init(DefaultConfig())

	ctx := WithCorrelationID(context.Background(), "abc12345")
	ctx = WithRequestID(ctx, "req-1")
	Ctx(ctx).Info().Msg("tick")

	out := buf.String()
	if !strings.Contains(out, `"correlation_id":"abc12345"`) {
		t.Errorf("correlation id missing: %s", out)
	}
	if !strings.Contains(out, `"request_id":"req-1"`) {
		t.Errorf("request id missing: %s", out)
	}
}

func TestNewCorrelationID(t *testing.T) {
	t.Parallel()

	a, b := NewCorrelationID(), NewCorrelationID()
	if len(a) != 8 {
		t.Errorf("len = %d, want 8", len(a))
	}
	if a == b {
		t.Error("expected distinct ids")
	}
}

func TestSlogHandler(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := slog.New(NewSlogHandler(NewTestLogger(&buf)))
	l.WithGroup("svc").With("name", "poll").Warn("restarting",
		"attempt", 2, "backoff", 15*time.Second)

	out := buf.String()
	for _, want := range []string{`"level":"warn"`, `"svc.name":"poll"`, `"svc.attempt":2`, `"message":"restarting"`} {
		if !strings.Contains(out, want) {
			t.Errorf("output %s missing %s", out, want)
		}
	}
}

func TestToZerologLevel(t *testing.T) {
	t.Parallel()

	if toZerologLevel(slog.LevelDebug) != zerolog.DebugLevel {
		t.Error("debug")
	}
	if toZerologLevel(slog.LevelInfo) != zerolog.InfoLevel {
		t.Error("info")
	}
	if toZerologLevel(slog.LevelWarn) != zerolog.WarnLevel {
		t.Error("warn")
	}
	if toZerologLevel(slog.LevelError+4) != zerolog.ErrorLevel {
		t.Error("error")
	}
}
