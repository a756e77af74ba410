// Package db embeds the SQL migrations applied at startup by
// internal/storage, so the binary ships as a single self-contained
// executable with no external migration files to deploy alongside it.
package db

import "embed"

//go:embed migrations/*.sql
var Migrations embed.FS
