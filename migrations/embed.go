// Package migrations embeds the history and audit schema into the binary.
package migrations

import "embed"

//go:embed *.sql
var files embed.FS

// FS holds every migration file at its root, ready for database.Migrate.
var FS = files
