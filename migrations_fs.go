package walletsync

import (
	"embed"
	"io/fs"
)

// migrationsFS holds the walletsync schema. Postgres files live at the root
// of data/sql/migrations and the sqlite alternatives under sqlite/.
//
//go:embed data/sql/migrations/*.sql data/sql/migrations/sqlite/*.sql
var migrationsFS embed.FS

func GetMigrationsFS() fs.FS {
	return migrationsFS
}
