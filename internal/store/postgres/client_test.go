package postgres

import (
	"fmt"
	"io/fs"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/setupwatch/internal/domain"
)

func TestDSN(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "postgres://u:p@db:5432/setups?sslmode=disable",
		DSN(ClientConfig{Host: "db", Database: "setups", User: "u", Password: "p"}))
	assert.Equal(t, "postgres://x", DSN(ClientConfig{DSN: "postgres://x", Host: "ignored"}))
}

func TestMapErr(t *testing.T) {
	t.Parallel()

	assert.NoError(t, mapErr(nil))
	assert.ErrorIs(t, mapErr(pgx.ErrNoRows), domain.ErrNotFound)
	assert.ErrorIs(t, mapErr(fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: "23505"})), domain.ErrAlreadyExists)

	other := &pgconn.PgError{Code: "40001"}
	assert.Same(t, other, mapErr(other))
}

func TestPrefixed(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "s.id, s.symbol, s.status", prefixed("s.", "id,\n\tsymbol, status"))
}

func TestMigrationsEmbedded(t *testing.T) {
	t.Parallel()

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	data, err := migrationsFS.ReadFile("migrations/001_decisions_setups.sql")
	require.NoError(t, err)
	assert.Contains(t, string(data), "idx_setups_status_symbol")
	assert.Contains(t, string(data), "idx_setups_pending_valid_until")
}
