// Presencewatch - Game Server Presence Tracking and Transport Failover
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/presencewatch

package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/tomtom215/presencewatch/internal/validation"
)

// MaxListLimit caps the limit query parameter of list endpoints.
const MaxListLimit = 1000

// ListParams are the query parameters of list endpoints. Limit 0 selects the
// endpoint default.
type ListParams struct {
	Limit int `json:"limit" validate:"gte=0,lte=1000"`
}

// ModeRequest is the body of POST /failover/mode.
type ModeRequest struct {
	Mode string `json:"mode" validate:"required,oneof=primary hybrid secondary"`
}

// HiddenCount is the response of the hidden-count endpoint.
type HiddenCount struct {
	ServerID       string `json:"server_id"`
	TotalPlayers   int    `json:"total_players"`
	VisiblePlayers int    `json:"visible_players"`
	HiddenPlayers  int    `json:"hidden_players"`
}

// parseListParams reads and validates ?limit=.
func parseListParams(r *http.Request) (ListParams, *validation.RequestValidationError) {
	var p ListParams
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return p, &validation.RequestValidationError{Fields: []validation.FieldError{{
				Field:   "limit",
				Tag:     "number",
				Message: "limit must be an integer",
			}}}
		}
		p.Limit = n
	}
	if verr := validation.ValidateStruct(&p); verr != nil {
		return p, verr
	}
	return p, nil
}
