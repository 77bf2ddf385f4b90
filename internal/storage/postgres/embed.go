package postgres

import "embed"

// EmbedMigrations holds the registry schema migrations.
//
//go:embed migrations/*.sql
var EmbedMigrations embed.FS
