package migrations

import "embed"

// FS contains embedded SQLite migrations for the partition store.
//
//go:embed *.sql
var FS embed.FS
