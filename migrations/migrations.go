package migrations

import "embed"

// FS holds the SQL migrations applied by the postgres storage backend.
//
//go:embed *.sql
var FS embed.FS
