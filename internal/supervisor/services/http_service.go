// Presencewatch - Game Server Presence Tracking and Transport Failover
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/presencewatch

package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/tomtom215/presencewatch/internal/logging"
)

// HTTPServer is the part of *http.Server the API service drives.
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// HTTPServerService serves the presence API and live feed until its context
// ends, then drains open requests for up to drainTimeout.
type HTTPServerService struct {
	server       HTTPServer
	drainTimeout time.Duration
}

// NewHTTPServerService wraps server. A non-positive drainTimeout means 10s.
func NewHTTPServerService(server HTTPServer, drainTimeout time.Duration) *HTTPServerService {
	if drainTimeout <= 0 {
		drainTimeout = 10 * time.Second
	}
	return &HTTPServerService{server: server, drainTimeout: drainTimeout}
}

// Serve implements suture.Service. A listener that exits on its own is
// reported so suture restarts it; http.ErrServerClosed after Shutdown is not.
func (h *HTTPServerService) Serve(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		err := h.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("api listener: %w", err)
		}
		return errors.New("api listener exited")
	case <-ctx.Done():
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), h.drainTimeout)
	defer cancel()

	logging.Info().Dur("drain_timeout", h.drainTimeout).Msg("[api] Draining HTTP server")
	if err := h.server.Shutdown(drainCtx); err != nil {
		return fmt.Errorf("api drain: %w", err)
	}
	<-done
	return ctx.Err()
}

// String names the service in supervisor logs.
func (h *HTTPServerService) String() string {
	return "http-server"
}
