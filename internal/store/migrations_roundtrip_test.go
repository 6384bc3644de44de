package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsRollBackAndReapply(t *testing.T) {
	db := openTestDB(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	first, err := ApplyMigrations(ctx, db, migrationsDir)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	again, err := ApplyMigrations(ctx, db, migrationsDir)
	require.NoError(t, err)
	assert.Empty(t, again, "applied migrations are skipped")

	rolled, err := RollbackMigrations(ctx, db, migrationsDir)
	require.NoError(t, err)
	assert.Len(t, rolled, len(first))
	assert.Equal(t, first[len(first)-1], rolled[0], "newest rolls back first")

	var exists bool
	require.NoError(t, db.QueryRowContext(ctx, `SELECT to_regclass('public.contract_comments') IS NOT NULL`).Scan(&exists))
	assert.False(t, exists)

	second, err := ApplyMigrations(ctx, db, migrationsDir)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func resetPublicSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`)
	return err
}
