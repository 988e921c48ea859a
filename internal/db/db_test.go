package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"gitlab.com/secp/services/syncroom/internal/config"
	"gitlab.com/secp/services/syncroom/migrations"
)

func TestRebind(t *testing.T) {
	q := "UPDATE rooms SET current_index = ? WHERE id = ? AND host_id = ?"

	assert.Equal(t, q, Rebind(config.DriverSQLite, q))
	assert.Equal(t,
		"UPDATE rooms SET current_index = $1 WHERE id = $2 AND host_id = $3",
		Rebind(config.DriverPostgres, q))

	var many string
	for i := 0; i < 12; i++ {
		many += "?,"
	}
	assert.Contains(t, Rebind(config.DriverPostgres, many), "$10,$11,$12,")
}

func TestSQLiteMigrations(t *testing.T) {
	database, err := OpenSQLite(filepath.Join(t.TempDir(), "nested", "test.db"), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer database.Close()

	files, err := migrations.For(config.DriverSQLite)
	require.NoError(t, err)

	require.NoError(t, database.RunMigrations(files))
	// Running twice skips the applied versions
	require.NoError(t, database.RunMigrations(files))

	var applied int
	require.NoError(t, database.SQL.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&applied))
	assert.Equal(t, 1, applied)

	for _, table := range []string{"users", "rooms", "queue_items", "room_members"} {
		var name string
		err := database.SQL.QueryRow(
			"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table,
		).Scan(&name)
		require.NoError(t, err, table)
	}

	require.NoError(t, database.Health(context.Background()))
}

func TestMigrationsForUnknownDriver(t *testing.T) {
	_, err := migrations.For("mysql")
	assert.Error(t, err)
}
