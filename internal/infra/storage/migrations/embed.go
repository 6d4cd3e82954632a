package migrations

import "embed"

// Files contains the SQL migrations for every dialect, one directory each.
//
//go:embed postgres/*.sql sqlite/*.sql
var Files embed.FS
