// Presencewatch - Game Server Presence Tracking and Transport Failover
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/presencewatch

package models

import (
	"testing"
	"time"
)

func TestActionValid(t *testing.T) {
	t.Parallel()

	if !ActionJoined.Valid() || !ActionLeft.Valid() {
		t.Error("known actions must be valid")
	}
	if Action("kicked").Valid() {
		t.Error("unknown action reported valid")
	}
}

func TestSessionMinutes(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name  string
		leave time.Time
		want  int64
	}{
		{"zero", base, 0},
		{"59 seconds", base.Add(59 * time.Second), 0},
		{"floors partial minute", base.Add(5*time.Minute + 59*time.Second), 5},
		{"hours", base.Add(2 * time.Hour), 120},
		{"clock skew", base.Add(-time.Minute), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := SessionMinutes(base, tt.leave); got != tt.want {
				t.Errorf("SessionMinutes = %d, want %d", got, tt.want)
			}
		})
	}
}
