package db

import "embed"

// MigrationFS embeds the SQL migrations, one subdirectory per Dialect.
// Used by the migrate runner (cmd/migrate and the chat client's startup).
//
//go:embed migrations/*/*.sql
var MigrationFS embed.FS
