package storage

import "embed"

// MigrationFS embeds SQL migration files from internal/storage/migrations.
// Used by the migrate runner (cmd/migrate) to apply migrations.
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
