// Presencewatch - Game Server Presence Tracking and Transport Failover
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/presencewatch

/*
Package normalize converts raw transport signals into models.PlayerEvent.

Both transports funnel through here so the recorder only ever sees one event
shape. The functions are pure: they never touch the store and never log. A
caller that gets ErrInvalidEvent drops the event and counts it.

Push frames carry loosely typed fields (ids arrive as strings or numbers,
timestamps as RFC 3339 strings or epoch numbers), so RawPushEvent keeps them as
json.RawMessage until FromPush decides what they mean.
*/
package normalize

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/presencewatch/internal/models"
)

// ErrInvalidEvent is wrapped by every validation failure.
var ErrInvalidEvent = errors.New("invalid presence event")

// Push event type names accepted in addition to the canonical actions.
const (
	PushAddPlayer    = "addPlayer"
	PushRemovePlayer = "removePlayer"
	PushServerEvent  = "SERVER_EVENT"
)

// RawPushEvent is the player payload of a push frame.
//
// Type is either the action itself (addPlayer) or the SERVER_EVENT marker, in
// which case the action is in Event.
type RawPushEvent struct {
	Type      string          `json:"type"`
	Event     string          `json:"event,omitempty"`
	ServerID  json.RawMessage `json:"serverId"`
	PlayerID  json.RawMessage `json:"playerId,omitempty"`
	Name      json.RawMessage `json:"name"`
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
}

// DedupKey identifies one delivery: server, timestamp, player and type exactly
// as they arrived. Redeliveries of the same frame produce the same key. The
// player is its id, or its name prefixed with "name:" when the id is absent.
func (r RawPushEvent) DedupKey() string {
	player := rawText(r.PlayerID)
	if player == "" {
		player = "name:" + rawText(r.Name)
	}
	return fmt.Sprintf("%s-%s-%s-%s",
		rawText(r.ServerID), rawText(r.Timestamp), player, r.actionName())
}

func (r RawPushEvent) actionName() string {
	if r.Type == PushServerEvent || r.Type == "" {
		return r.Event
	}
	return r.Type
}

// FromPush validates a push payload. A missing timestamp becomes receivedAt.
func FromPush(raw RawPushEvent, receivedAt time.Time) (models.PlayerEvent, error) {
	serverID, err := idField(raw.ServerID)
	if err != nil || serverID == "" {
		return models.PlayerEvent{}, fmt.Errorf("%w: missing server id", ErrInvalidEvent)
	}

	name, err := nameField(raw.Name)
	if err != nil {
		return models.PlayerEvent{}, err
	}

	playerID, err := idField(raw.PlayerID)
	if err != nil {
		return models.PlayerEvent{}, fmt.Errorf("%w: player id: %v", ErrInvalidEvent, err)
	}

	action, err := ParseAction(raw.actionName())
	if err != nil {
		return models.PlayerEvent{}, err
	}

	ts, err := timestampField(raw.Timestamp, receivedAt)
	if err != nil {
		return models.PlayerEvent{}, err
	}

	return models.PlayerEvent{
		ServerID:   serverID,
		PlayerName: name,
		PlayerID:   playerID,
		Action:     action,
		Timestamp:  ts,
		Source:     models.SourcePush,
	}, nil
}

// FromSnapshot builds the event for a player observed joining or leaving
// between two poll snapshots.
func FromSnapshot(serverID string, player models.Player, action models.Action, ts time.Time) (models.PlayerEvent, error) {
	if strings.TrimSpace(serverID) == "" {
		return models.PlayerEvent{}, fmt.Errorf("%w: missing server id", ErrInvalidEvent)
	}
	if strings.TrimSpace(player.Name) == "" {
		return models.PlayerEvent{}, fmt.Errorf("%w: empty player name", ErrInvalidEvent)
	}
	if !action.Valid() {
		return models.PlayerEvent{}, fmt.Errorf("%w: unknown action %q", ErrInvalidEvent, action)
	}
	if ts.IsZero() {
		return models.PlayerEvent{}, fmt.Errorf("%w: zero timestamp", ErrInvalidEvent)
	}
	return models.PlayerEvent{
		ServerID:   serverID,
		PlayerName: player.Name,
		PlayerID:   player.ID,
		Action:     action,
		Timestamp:  ts,
		Source:     models.SourcePoll,
	}, nil
}

// ParseAction maps a transport action name to models.Action.
func ParseAction(s string) (models.Action, error) {
	switch s {
	case PushAddPlayer, string(models.ActionJoined):
		return models.ActionJoined, nil
	case PushRemovePlayer, string(models.ActionLeft):
		return models.ActionLeft, nil
	}
	return "", fmt.Errorf("%w: unknown action %q", ErrInvalidEvent, s)
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// idField accepts a JSON string or number.
func idField(raw json.RawMessage) (string, error) {
	if isNull(raw) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s), nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("not a string or number: %s", raw)
	}
	return n.String(), nil
}

func nameField(raw json.RawMessage) (string, error) {
	if isNull(raw) {
		return "", fmt.Errorf("%w: missing player name", ErrInvalidEvent)
	}
	var name string
	if err := json.Unmarshal(raw, &name); err != nil {
		return "", fmt.Errorf("%w: player name is not a string", ErrInvalidEvent)
	}
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("%w: empty player name", ErrInvalidEvent)
	}
	return name, nil
}

// timestampField accepts RFC 3339 strings, numeric strings and epoch numbers.
// Epoch values above 1e12 are milliseconds.
func timestampField(raw json.RawMessage, receivedAt time.Time) (time.Time, error) {
	if isNull(raw) {
		return receivedAt.UTC(), nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		if s == "" {
			return receivedAt.UTC(), nil
		}
		if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return ts.UTC(), nil
		}
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return epoch(n), nil
		}
		return time.Time{}, fmt.Errorf("%w: unparseable timestamp %q", ErrInvalidEvent, s)
	}

	var n float64
	if err := json.Unmarshal(raw, &n); err != nil {
		return time.Time{}, fmt.Errorf("%w: unparseable timestamp %s", ErrInvalidEvent, raw)
	}
	return epoch(n), nil
}

func epoch(n float64) time.Time {
	if n > 1e12 {
		return time.UnixMilli(int64(n)).UTC()
	}
	sec := int64(n)
	nsec := int64((n - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC()
}

// rawText renders a raw field for dedup keys: strings unquoted, null empty.
func rawText(raw json.RawMessage) string {
	if isNull(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(bytes.TrimSpace(raw))
}
