package db

import "embed"

// MigrationFS embeds the users and sessions migrations from internal/db/migrations.
// cmd/migrate applies them through the migrate runner.
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
