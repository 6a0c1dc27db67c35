// Presencewatch - Game Server Presence Tracking and Transport Failover
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/presencewatch

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/tomtom215/presencewatch/internal/failover"
	"github.com/tomtom215/presencewatch/internal/models"
)

// HealthStatus is the body of GET /api/v1/health.
type HealthStatus struct {
	Status        string        `json:"status"`
	Mode          failover.Mode `json:"mode"`
	PushConnected bool          `json:"push_connected"`
	PollActive    bool          `json:"poll_active"`
	StoreHealthy  bool          `json:"store_healthy"`
	Subscribed    int           `json:"subscribed_servers"`
	UptimeSeconds float64       `json:"uptime_seconds"`
}

// HealthLive handles the liveness probe.
func (h *Handler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, &models.APIResponse{
		Status: "success",
		Data: map[string]interface{}{
			"alive":  true,
			"uptime": time.Since(h.startTime).Seconds(),
		},
		Metadata: models.Metadata{Timestamp: time.Now().UTC()},
	})
}

// Health reports store health and the transport mode. The engine is
// degraded when the store is unreachable or neither transport is live.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	health := h.healthStatus(r.Context())
	respondData(w, start, health)
}

// HealthReady handles the readiness probe: 503 until the store answers.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	health := h.healthStatus(r.Context())
	if !health.StoreHealthy {
		respondError(w, r, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "Store unavailable", nil)
		return
	}
	respondData(w, time.Now(), map[string]bool{"ready": true})
}

func (h *Handler) healthStatus(ctx context.Context) HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	st := h.failover.GetStatus()
	health := HealthStatus{
		Status:        "healthy",
		Mode:          st.CurrentMode,
		PushConnected: st.PushConnected,
		PollActive:    st.PollActive,
		StoreHealthy:  h.store == nil || h.store.Ping(ctx) == nil,
		Subscribed:    len(st.SubscribedServers),
		UptimeSeconds: time.Since(h.startTime).Seconds(),
	}
	if !health.StoreHealthy || (!st.PushConnected && !st.PollActive) {
		health.Status = "degraded"
	}
	return health
}
