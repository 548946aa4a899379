// Package migrations embeds SQL migration files for use at runtime.
// Migrations are embedded so they work regardless of working directory.
package migrations

import (
	"embed"
	"io/fs"
)

// FS holds the Postgres migrations (001_vital_samples.sql, ...).
//
//go:embed *.sql
var FS embed.FS

//go:embed sqlite/*.sql
var sqliteFS embed.FS

// SQLite returns the migrations for the embedded SQLite store, rooted so
// file names match the Postgres layout.
func SQLite() fs.FS {
	sub, err := fs.Sub(sqliteFS, "sqlite")
	if err != nil {
		panic(err) // the directory is embedded at build time
	}
	return sub
}
