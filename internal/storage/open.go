// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/jeranaias/innerguide/internal/config"
)

// openTimeout bounds connecting to a server database and creating its schema.
const openTimeout = 15 * time.Second

// Open returns the gateway selected by cfg.Driver.
func Open(cfg config.StorageConfig) (Gateway, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return NewMemoryGateway(), nil

	case config.DriverFile:
		return NewFileGateway(cfg.Path)

	case config.DriverBolt:
		return OpenBolt(cfg.Path)

	case config.DriverSQLite, "":
		ctx, cancel := context.WithTimeout(context.Background(), openTimeout)
		defer cancel()
		return OpenSQL(ctx, DialectSQLite, cfg.Path)

	case config.DriverPostgres:
		ctx, cancel := context.WithTimeout(context.Background(), openTimeout)
		defer cancel()
		return OpenSQL(ctx, DialectPostgres, cfg.DSN)

	case config.DriverMySQL:
		ctx, cancel := context.WithTimeout(context.Background(), openTimeout)
		defer cancel()
		return OpenSQL(ctx, DialectMySQL, cfg.DSN)
	}
	return nil, errors.Errorf("unknown storage driver %q", cfg.Driver)
}
