// Package ops embeds the SQL schema and seed data applied by reliefd migrate.
package ops

import "embed"

// SQL holds migrations/*.sql and seeds/*.sql.
//
//go:embed migrations/*.sql seeds/*.sql
var SQL embed.FS

const (
	MigrationsDir = "migrations"
	SeedsDir      = "seeds"
)
