// Presencewatch - Game Server Presence Tracking and Transport Failover
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/presencewatch

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/presencewatch/internal/validation"
)

// serverID reads and validates the {serverID} path parameter.
func serverID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "serverID")
	if verr := validation.ServerID(id); verr != nil {
		respondValidation(w, verr)
		return "", false
	}
	return id, true
}

// Profiles handles GET /api/v1/servers/{serverID}/profiles.
func (h *Handler) Profiles(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	id, ok := serverID(w, r)
	if !ok {
		return
	}
	params, verr := parseListParams(r)
	if verr != nil {
		respondValidation(w, verr)
		return
	}

	profiles, err := h.presence.GetProfiles(r.Context(), id, params.Limit)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondData(w, start, profiles)
}

// Activity handles GET /api/v1/servers/{serverID}/activity.
func (h *Handler) Activity(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	id, ok := serverID(w, r)
	if !ok {
		return
	}
	params, verr := parseListParams(r)
	if verr != nil {
		respondValidation(w, verr)
		return
	}

	events, err := h.presence.GetRecentActivity(r.Context(), id, params.Limit)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondData(w, start, events)
}

// HiddenCount handles GET /api/v1/servers/{serverID}/hidden-count. Total and
// visible counts come from one live upstream snapshot.
func (h *Handler) HiddenCount(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	id, ok := serverID(w, r)
	if !ok {
		return
	}

	snap, err := h.upstream.GetSnapshot(r.Context(), id)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	visible := 0
	for _, p := range snap.Players {
		if !p.Private {
			visible++
		}
	}

	hidden, err := h.presence.HiddenPlayerCount(r.Context(), id, snap.Server.Players, visible)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondData(w, start, HiddenCount{
		ServerID:       id,
		TotalPlayers:   snap.Server.Players,
		VisiblePlayers: visible,
		HiddenPlayers:  hidden,
	})
}

// Sessions handles GET /api/v1/profiles/{profileID}/sessions.
func (h *Handler) Sessions(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	profileID := chi.URLParam(r, "profileID")
	if verr := validation.ValidateStruct(&struct {
		ProfileID string `json:"profile_id" validate:"required,uuid"`
	}{profileID}); verr != nil {
		respondValidation(w, verr)
		return
	}
	params, verr := parseListParams(r)
	if verr != nil {
		respondValidation(w, verr)
		return
	}

	if _, err := h.presence.GetProfile(r.Context(), profileID); err != nil {
		respondDomainError(w, r, err)
		return
	}
	sessions, err := h.presence.GetSessionHistory(r.Context(), profileID, params.Limit)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondData(w, start, sessions)
}
