// Package migrations resolves the embedded walletsync schema for the
// database dialect a deployment runs on.
package migrations

import (
	"fmt"
	"io/fs"
	"strings"

	walletsync "github.com/goliatone/go-walletsync"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

const root = "data/sql/migrations"

// Source returns the migration files for dialect. Postgres files live at the
// migrations root and sqlite files in its sqlite subdirectory.
func Source(dialect string) (fs.FS, error) {
	return source(walletsync.GetMigrationsFS(), dialect)
}

// Register hands the migrations for dialect to register, typically a
// persistence client's RegisterSQLMigrations.
func Register(dialect string, register func(fs.FS)) error {
	if register == nil {
		return fmt.Errorf("migrations: register function is required")
	}
	fsys, err := Source(dialect)
	if err != nil {
		return err
	}
	register(fsys)
	return nil
}

func source(embedded fs.FS, dialect string) (fs.FS, error) {
	dir := root
	switch strings.ToLower(strings.TrimSpace(dialect)) {
	case DialectPostgres:
	case DialectSQLite:
		dir = root + "/sqlite"
	default:
		return nil, fmt.Errorf("migrations: unsupported dialect %q", dialect)
	}
	sub, err := fs.Sub(embedded, dir)
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve %s: %w", dir, err)
	}
	matches, err := fs.Glob(sub, "*.up.sql")
	if err != nil {
		return nil, fmt.Errorf("migrations: glob %s: %w", dir, err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("migrations: %s has no *.up.sql files", dir)
	}
	return sub, nil
}
