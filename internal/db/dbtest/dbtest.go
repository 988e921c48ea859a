// Package dbtest provides migrated throwaway databases for tests
package dbtest

import (
	"path/filepath"
	"testing"

	"go.uber.org/zap/zaptest"

	"gitlab.com/secp/services/syncroom/internal/config"
	"gitlab.com/secp/services/syncroom/internal/db"
	"gitlab.com/secp/services/syncroom/migrations"
)

// New opens a migrated SQLite database in a temp dir, closed on cleanup
func New(t testing.TB) *db.DB {
	t.Helper()

	database, err := db.OpenSQLite(filepath.Join(t.TempDir(), "test.db"), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	files, err := migrations.For(config.DriverSQLite)
	if err != nil {
		t.Fatalf("load migrations: %v", err)
	}
	if err := database.RunMigrations(files); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	return database
}
