// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build integration

package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

// TestSQLGateway_Postgres runs the gateway contract against a real server.
// Requires Docker: go test -tags integration ./internal/storage/
func TestSQLGateway_Postgres(t *testing.T) {
	ctx := context.Background()

	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("innerguide"),
		postgres.WithUsername("innerguide"),
		postgres.WithPassword("innerguide"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	gw, err := OpenSQL(ctx, DialectPostgres, dsn)
	require.NoError(t, err)
	defer gw.Close()

	runContract(t, gw)
}
