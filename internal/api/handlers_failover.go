// Presencewatch - Game Server Presence Tracking and Transport Failover
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/presencewatch

package api

import (
	"net/http"
	"time"

	"github.com/tomtom215/presencewatch/internal/logging"
	"github.com/tomtom215/presencewatch/internal/validation"
)

// FailoverStatus handles GET /api/v1/failover/status. ?detailed=true adds
// poll and push internals.
func (h *Handler) FailoverStatus(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if r.URL.Query().Get("detailed") == "true" {
		respondData(w, start, h.failover.GetDetailedStats())
		return
	}
	respondData(w, start, h.failover.GetStatus())
}

// FailoverMode handles POST /api/v1/failover/mode.
func (h *Handler) FailoverMode(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req ModeRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON body", nil)
		return
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		respondValidation(w, verr)
		return
	}

	if err := h.failover.ForceMode(r.Context(), req.Mode); err != nil {
		respondDomainError(w, r, err)
		return
	}
	logging.Ctx(r.Context()).Info().Str("mode", req.Mode).Msg("[api] Transport mode forced")
	respondData(w, start, h.failover.GetStatus())
}

// PollNow handles POST /api/v1/failover/poll-now. Per-server fetch failures
// are reported in the response rather than failing the request.
func (h *Handler) PollNow(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	result := map[string]interface{}{"completed": true}
	if err := h.failover.TriggerPollNow(r.Context()); err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Msg("[api] Manual poll had failures")
		result["error"] = err.Error()
	}
	respondData(w, start, result)
}

// Subscribe handles POST /api/v1/servers/{serverID}/subscribe.
func (h *Handler) Subscribe(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	id, ok := serverID(w, r)
	if !ok {
		return
	}
	if err := h.failover.Subscribe(id); err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondData(w, start, h.failover.GetStatus())
}

// Unsubscribe handles DELETE /api/v1/servers/{serverID}/subscribe.
func (h *Handler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	id, ok := serverID(w, r)
	if !ok {
		return
	}
	if err := h.failover.Unsubscribe(id); err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondData(w, start, h.failover.GetStatus())
}
