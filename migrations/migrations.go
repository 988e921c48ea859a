// Package migrations embeds the SQL schema for every supported driver
package migrations

import (
	"embed"
	"io/fs"

	"github.com/pkg/errors"
)

//go:embed postgres/*.sql sqlite/*.sql
var files embed.FS

// For returns the migration files of driver ("postgres" or "sqlite")
func For(driver string) (fs.FS, error) {
	switch driver {
	case "postgres", "sqlite":
		return fs.Sub(files, driver)
	default:
		return nil, errors.Errorf("no migrations for driver %q", driver)
	}
}
