package migrations

import (
	"fmt"
	"io/fs"
	"slices"
	"strings"

	treasury "github.com/goliatone/go-treasury"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"

	rootPath = "data/sql/migrations"
)

// Direction selects up or down migration files.
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

// Schema is the vault and event log migration set for one dialect.
type Schema struct {
	Dialect string
	Path    string
	FS      fs.FS
	// Up lists the up migrations in apply order.
	Up []string
}

// Load resolves the embedded schema for dialect. Postgres files sit at the
// root of the migration tree and SQLite alternatives under sqlite/.
func Load(dialect string) (Schema, error) {
	return LoadFrom(treasury.GetMigrationsFS(), dialect)
}

// LoadFrom resolves the schema for dialect from root, which may be the full
// module tree or the migration directory itself.
func LoadFrom(root fs.FS, dialect string) (Schema, error) {
	if root == nil {
		return Schema{}, fmt.Errorf("migrations: filesystem is required")
	}
	base, basePath, err := migrationsRoot(root)
	if err != nil {
		return Schema{}, err
	}

	schema := Schema{Dialect: strings.TrimSpace(strings.ToLower(dialect))}
	switch schema.Dialect {
	case DialectPostgres:
		schema.FS, schema.Path = base, basePath
	case DialectSQLite:
		sqliteFS, subErr := fs.Sub(base, "sqlite")
		if subErr != nil {
			return Schema{}, fmt.Errorf("migrations: resolve sqlite filesystem: %w", subErr)
		}
		schema.FS, schema.Path = sqliteFS, pathJoin(basePath, "sqlite")
	default:
		return Schema{}, fmt.Errorf("migrations: unsupported dialect %q", dialect)
	}

	ups, err := Files(schema.FS, Up)
	if err != nil {
		return Schema{}, err
	}
	if len(ups) == 0 {
		return Schema{}, fmt.Errorf("migrations: %s filesystem %q has no *.up.sql files", schema.Dialect, schema.Path)
	}
	schema.Up = ups
	return schema, nil
}

// DialectFS returns the migration filesystem for dialect.
func DialectFS(dialect string) (fs.FS, error) {
	schema, err := Load(dialect)
	if err != nil {
		return nil, err
	}
	return schema.FS, nil
}

// Files lists the migration files of one direction in apply order. Down
// files come back newest first so they can be replayed as a rollback.
func Files(fsys fs.FS, direction Direction) ([]string, error) {
	if fsys == nil {
		return nil, fmt.Errorf("migrations: filesystem is required")
	}
	switch direction {
	case Up, Down:
	default:
		return nil, fmt.Errorf("migrations: unsupported direction %q", direction)
	}
	matches, err := fs.Glob(fsys, "*."+string(direction)+".sql")
	if err != nil {
		return nil, fmt.Errorf("migrations: glob %s files: %w", direction, err)
	}
	slices.Sort(matches)
	if direction == Down {
		slices.Reverse(matches)
	}
	return matches, nil
}

func migrationsRoot(root fs.FS) (fs.FS, string, error) {
	if _, err := fs.Stat(root, rootPath); err == nil {
		sub, subErr := fs.Sub(root, rootPath)
		if subErr != nil {
			return nil, "", fmt.Errorf("migrations: resolve %s: %w", rootPath, subErr)
		}
		return sub, rootPath, nil
	}

	entries, err := fs.ReadDir(root, ".")
	if err == nil {
		for _, entry := range entries {
			if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
				return root, ".", nil
			}
		}
	}
	return nil, "", fmt.Errorf("migrations: %s not found", rootPath)
}

func pathJoin(base string, suffix string) string {
	if base == "." {
		return suffix
	}
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(suffix, "/")
}
