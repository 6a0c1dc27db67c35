// Presencewatch - Game Server Presence Tracking and Transport Failover
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/presencewatch

package store

import (
	"context"
	"fmt"

	"github.com/tomtom215/presencewatch/internal/config"
	"github.com/tomtom215/presencewatch/internal/logging"
)

// Driver names accepted by Open.
const (
	DriverMemory = "memory"
	DriverBadger = "badger"
	DriverDuckDB = "duckdb"
)

// Open returns the Store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	var (
		s   Store
		err error
	)
	switch cfg.Driver {
	case DriverMemory, "":
		s = NewMemoryStore()
	case DriverBadger:
		s, err = OpenBadgerStore(cfg.Path)
	case DriverDuckDB:
		s, err = OpenDuckDBStore(ctx, cfg.Path)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	logging.Info().Str("driver", cfg.Driver).Str("path", cfg.Path).Msg("Presence store opened")
	return s, nil
}
