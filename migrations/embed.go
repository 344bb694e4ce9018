// Package migrations embeds the schema of the SQLite-backed key-value store.
//
// The files are compiled into the binary so the kv driver can bring a fresh
// database up to date on open without the SQL files on disk.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

// Dir is the directory within FS holding the migration files.
const Dir = "."
