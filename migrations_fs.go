package treasury

import (
	"embed"
	"io/fs"
)

// migrationsFS holds the vault and event log schema for every supported
// dialect. SQLite alternatives live under data/sql/migrations/sqlite.
//
//go:embed data/sql/migrations/*.sql data/sql/migrations/sqlite/*.sql
var migrationsFS embed.FS

// GetMigrationsFS returns the embedded tree rooted at the module root, so
// migration files sit under data/sql/migrations.
func GetMigrationsFS() fs.FS {
	return migrationsFS
}
