// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sqlitedb

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpen_AppliesSchema(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, Memory, "CREATE TABLE IF NOT EXISTS t (k TEXT PRIMARY KEY)")
	require.NoError(t, err)
	defer db.Close()

	_, err = db.ExecContext(ctx, "INSERT INTO t (k) VALUES (?)", "a")
	require.NoError(t, err)

	var n int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM t").Scan(&n))
	require.Equal(t, 1, n)
}

func TestOpen_FileCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "data.db")
	db, err := Open(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, db.Close())
	require.FileExists(t, path)
}

func TestOpen_BadSchema(t *testing.T) {
	_, err := Open(context.Background(), Memory, "CREATE TABLOID nope")
	require.Error(t, err)
}
