// Presencewatch - Game Server Presence Tracking and Transport Failover
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/presencewatch

package failover

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownMode is returned for a mode name outside primary, hybrid and
// secondary.
var ErrUnknownMode = errors.New("unknown transport mode")

// Mode selects which transports are authoritative.
type Mode int

const (
	// ModePrimary: push only, poll stopped.
	ModePrimary Mode = iota
	// ModeHybrid: push and poll both running, push still preferred.
	ModeHybrid
	// ModeSecondary: poll only, push disconnected.
	ModeSecondary
)

func (m Mode) String() string {
	switch m {
	case ModePrimary:
		return "primary"
	case ModeHybrid:
		return "hybrid"
	case ModeSecondary:
		return "secondary"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// MarshalText renders the mode name.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// ParseMode parses a mode name, case-insensitively.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "primary":
		return ModePrimary, nil
	case "hybrid":
		return ModeHybrid, nil
	case "secondary":
		return ModeSecondary, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

// Signal is an observation fed to the state machine.
type Signal int

const (
	// SignalPushHealthy: the health check found push connected.
	SignalPushHealthy Signal = iota
	// SignalPushUnhealthy: the health check found push disconnected.
	SignalPushUnhealthy
	// SignalRecoverySucceeded: a recovery Connect from secondary worked.
	SignalRecoverySucceeded
	// SignalRecoveryFailed: a recovery Connect from secondary failed.
	SignalRecoveryFailed
	// SignalPollStopped: the health check found the poll loop not running.
	SignalPollStopped
)

func (s Signal) String() string {
	switch s {
	case SignalPushHealthy:
		return "push_healthy"
	case SignalPushUnhealthy:
		return "push_unhealthy"
	case SignalRecoverySucceeded:
		return "recovery_succeeded"
	case SignalRecoveryFailed:
		return "recovery_failed"
	case SignalPollStopped:
		return "poll_stopped"
	default:
		return fmt.Sprintf("signal(%d)", int(s))
	}
}

// Action is a side effect the coordinator performs for a transition.
type Action int

const (
	ActionStartPoll Action = iota
	ActionSubscribePoll
	ActionStopPoll
	ActionConnectPush
	ActionSubscribePush
	ActionDisconnectPush
)

func (a Action) String() string {
	switch a {
	case ActionStartPoll:
		return "start_poll"
	case ActionSubscribePoll:
		return "subscribe_poll"
	case ActionStopPoll:
		return "stop_poll"
	case ActionConnectPush:
		return "connect_push"
	case ActionSubscribePush:
		return "subscribe_push"
	case ActionDisconnectPush:
		return "disconnect_push"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// State is the coordinator's mode and consecutive failure count.
type State struct {
	Mode     Mode
	Failures int
}

// Transition is the outcome of one signal: the next state, the side effects
// to run in order, and a reason for logs and notifications.
type Transition struct {
	From    State
	To      State
	Actions []Action
	Reason  string
}

// Changed reports whether the mode changed.
func (t Transition) Changed() bool {
	return t.From.Mode != t.To.Mode
}

// Next is the transport state machine. It has no clock and no side effects:
// timers live in the coordinator, effects are returned as actions.
//
//	primary   --unhealthy #1-------------> hybrid     start poll
//	primary   --unhealthy #max-----------> secondary  start poll, drop push
//	hybrid    --unhealthy #max-----------> secondary  drop push
//	hybrid    --healthy------------------> primary    stop poll
//	primary   --healthy (failures > 0)---> primary    counter reset
//	secondary --recovery succeeded-------> primary    resubscribe push, stop poll
//	secondary --recovery failed----------> secondary  drop push
//	secondary --poll stopped-------------> secondary  restart poll
func Next(s State, sig Signal, maxFailures int) Transition {
	if maxFailures < 1 {
		maxFailures = 1
	}
	t := Transition{From: s, To: s, Reason: sig.String()}

	switch sig {
	case SignalPushUnhealthy:
		if s.Mode == ModeSecondary {
			return t
		}
		t.To.Failures = s.Failures + 1
		switch {
		case t.To.Failures >= maxFailures:
			t.To.Mode = ModeSecondary
			t.Reason = "max_failures"
			t.Actions = []Action{ActionSubscribePoll, ActionStartPoll, ActionDisconnectPush}
		case s.Mode == ModePrimary:
			t.To.Mode = ModeHybrid
			t.Reason = "push_failure"
			t.Actions = []Action{ActionSubscribePoll, ActionStartPoll}
		}

	case SignalPushHealthy:
		switch s.Mode {
		case ModeHybrid:
			t.To = State{Mode: ModePrimary}
			t.Reason = "push_recovered"
			t.Actions = []Action{ActionStopPoll}
		case ModePrimary:
			t.To.Failures = 0
		}

	case SignalRecoverySucceeded:
		if s.Mode != ModeSecondary {
			return t
		}
		t.To = State{Mode: ModePrimary}
		t.Actions = []Action{ActionSubscribePush, ActionStopPoll}

	case SignalRecoveryFailed:
		if s.Mode != ModeSecondary {
			return t
		}
		t.Actions = []Action{ActionDisconnectPush}

	case SignalPollStopped:
		if s.Mode != ModeSecondary {
			return t
		}
		t.Reason = "poll_self_heal"
		t.Actions = []Action{ActionSubscribePoll, ActionStartPoll}
	}
	return t
}

// Enter is the forced transition into target. The failure count resets and
// every action of the target mode runs regardless of the current state.
func Enter(s State, target Mode) Transition {
	t := Transition{From: s, To: State{Mode: target}, Reason: "manual"}
	switch target {
	case ModePrimary:
		t.Actions = []Action{ActionConnectPush, ActionSubscribePush, ActionStopPoll}
	case ModeHybrid:
		t.Actions = []Action{ActionConnectPush, ActionSubscribePush, ActionSubscribePoll, ActionStartPoll}
	case ModeSecondary:
		t.Actions = []Action{ActionDisconnectPush, ActionSubscribePoll, ActionStartPoll}
	}
	return t
}
