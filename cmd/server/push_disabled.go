// Presencewatch - Game Server Presence Tracking and Transport Failover
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/presencewatch

package main

import (
	"context"
	"errors"
	"sort"
	"sync"
)

var errPushDisabled = errors.New("push channel disabled (PUSH_ENABLED=false)")

// disabledPush stands in for the push channel when PUSH_ENABLED=false. It
// never connects, so recovery attempts fail and the coordinator stays in
// secondary mode.
type disabledPush struct {
	mu   sync.Mutex
	subs map[string]struct{}
}

func newDisabledPush() *disabledPush {
	return &disabledPush{subs: make(map[string]struct{})}
}

func (d *disabledPush) Connect(context.Context) error { return errPushDisabled }
func (d *disabledPush) Disconnect()                   {}
func (d *disabledPush) IsConnected() bool             { return false }

func (d *disabledPush) Subscribe(serverID string) error {
	d.mu.Lock()
	d.subs[serverID] = struct{}{}
	d.mu.Unlock()
	return nil
}

func (d *disabledPush) Unsubscribe(serverID string) error {
	d.mu.Lock()
	delete(d.subs, serverID)
	d.mu.Unlock()
	return nil
}

func (d *disabledPush) SubscribedServers() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.subs))
	for id := range d.subs {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
