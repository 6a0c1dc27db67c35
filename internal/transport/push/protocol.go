// Presencewatch - Game Server Presence Tracking and Transport Failover
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/presencewatch

package push

import (
	"github.com/goccy/go-json"
)

// Frame types sent by the server.
const (
	frameWelcome     = "welcome"
	framePing        = "ping"
	frameConfirm     = "confirm_subscription"
	frameReject      = "reject_subscription"
	frameDisconnect  = "disconnect"
	framePong        = "pong"
	commandSubscribe = "subscribe"
	commandLeave     = "unsubscribe"
	eventsChannel    = "ServerEventsChannel"
)

// inboundFrame is the cable envelope. Control frames set Type; channel
// broadcasts set Identifier and Message.
type inboundFrame struct {
	Type       string          `json:"type,omitempty"`
	Identifier string          `json:"identifier,omitempty"`
	Message    json.RawMessage `json:"message,omitempty"`
}

type commandFrame struct {
	Command    string `json:"command"`
	Identifier string `json:"identifier"`
}

type channelIdentifier struct {
	Channel string `json:"channel"`
	ID      string `json:"id"`
}

// identifierFor renders the channel identifier for serverID. The protocol
// carries it as a JSON string inside the JSON command.
func identifierFor(serverID string) string {
	b, err := json.Marshal(channelIdentifier{Channel: eventsChannel, ID: serverID})
	if err != nil {
		return ""
	}
	return string(b)
}

func subscribeCommand(serverID string) commandFrame {
	return commandFrame{Command: commandSubscribe, Identifier: identifierFor(serverID)}
}

func unsubscribeCommand(serverID string) commandFrame {
	return commandFrame{Command: commandLeave, Identifier: identifierFor(serverID)}
}

// isObject reports whether raw holds a JSON object.
func isObject(raw json.RawMessage) bool {
	for _, b := range raw {
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		case '{':
			return true
		default:
			return false
		}
	}
	return false
}
