package migrations

import (
	"context"
	"database/sql"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	walletsync "github.com/goliatone/go-walletsync"
)

func TestSource_ResolvesEachDialect(t *testing.T) {
	for _, dialect := range []string{DialectPostgres, DialectSQLite, " SQLite "} {
		fsys, err := Source(dialect)
		if err != nil {
			t.Fatalf("source %q: %v", dialect, err)
		}
		matches, err := fs.Glob(fsys, "*.up.sql")
		if err != nil || len(matches) < 2 {
			t.Fatalf("expected core and release migrations for %q, got %v err=%v", dialect, matches, err)
		}
	}
}

func TestSource_SQLiteTreeExcludesPostgresFiles(t *testing.T) {
	postgres, err := Source(DialectPostgres)
	if err != nil {
		t.Fatalf("source postgres: %v", err)
	}
	sqlite, err := Source(DialectSQLite)
	if err != nil {
		t.Fatalf("source sqlite: %v", err)
	}
	pgCore, _ := fs.ReadFile(postgres, "00001_walletsync_core.up.sql")
	liteCore, _ := fs.ReadFile(sqlite, "00001_walletsync_core.up.sql")
	if !strings.Contains(string(pgCore), "BYTEA") || strings.Contains(string(liteCore), "BYTEA") {
		t.Fatalf("expected dialect specific column types")
	}
}

func TestSource_RejectsUnknownDialect(t *testing.T) {
	if _, err := Source("mysql"); err == nil {
		t.Fatalf("expected unsupported dialect error")
	}
}

func TestRegister_HandsDialectFilesToClient(t *testing.T) {
	var registered []fs.FS
	if err := Register(DialectSQLite, func(fsys fs.FS) {
		registered = append(registered, fsys)
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if len(registered) != 1 {
		t.Fatalf("expected one registration, got %d", len(registered))
	}
	if _, err := fs.Stat(registered[0], "00002_webhook_event_release.up.sql"); err != nil {
		t.Fatalf("expected release migration in sqlite tree: %v", err)
	}
}

func TestRegister_RequiresRegisterFunc(t *testing.T) {
	if err := Register(DialectSQLite, nil); err == nil {
		t.Fatalf("expected missing register function error")
	}
}

func TestCoreMigrationPair_ExistsForBothDialects(t *testing.T) {
	root := walletsync.GetMigrationsFS()
	paths := []string{
		"data/sql/migrations/00001_walletsync_core.up.sql",
		"data/sql/migrations/00001_walletsync_core.down.sql",
		"data/sql/migrations/sqlite/00001_walletsync_core.up.sql",
		"data/sql/migrations/sqlite/00001_walletsync_core.down.sql",
		"data/sql/migrations/00002_webhook_event_release.up.sql",
		"data/sql/migrations/00002_webhook_event_release.down.sql",
		"data/sql/migrations/sqlite/00002_webhook_event_release.up.sql",
		"data/sql/migrations/sqlite/00002_webhook_event_release.down.sql",
	}
	for _, migrationPath := range paths {
		content, err := fs.ReadFile(root, migrationPath)
		if err != nil {
			t.Fatalf("read migration %s: %v", migrationPath, err)
		}
		if strings.TrimSpace(string(content)) == "" {
			t.Fatalf("expected migration %s to have SQL content", migrationPath)
		}
	}
}

func TestSQLiteCoreMigration_ApplyAndRollback(t *testing.T) {
	db, err := sql.Open("sqlite3", "file:migrations-walletsync-core?mode=memory&cache=shared&_foreign_keys=on")
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	defer func() { _ = db.Close() }()

	sqliteMigrations, err := fs.Sub(walletsync.GetMigrationsFS(), "data/sql/migrations/sqlite")
	if err != nil {
		t.Fatalf("resolve sqlite migrations: %v", err)
	}
	ctx := context.Background()
	if err := execSQLMigration(ctx, db, sqliteMigrations, "00001_walletsync_core.up.sql"); err != nil {
		t.Fatalf("apply up migration: %v", err)
	}

	for _, table := range []string{"programs", "participants", "passes", "webhook_events", "notification_jobs", "diagnostic_runs"} {
		if count := countTables(t, db, table); count != 1 {
			t.Fatalf("expected table %s after up migration", table)
		}
	}

	if err := execSQLMigration(ctx, db, sqliteMigrations, "00002_webhook_event_release.up.sql"); err != nil {
		t.Fatalf("apply release migration: %v", err)
	}

	insertEvent := `INSERT INTO webhook_events (id, fingerprint, event_type, payload) VALUES (?, ?, ?, ?)`
	if _, err := db.ExecContext(ctx, insertEvent, "evt-1", "sha256:abc", "participant_created", []byte("{}")); err != nil {
		t.Fatalf("insert first event: %v", err)
	}
	if _, err := db.ExecContext(ctx, insertEvent, "evt-2", "sha256:abc", "participant_created", []byte("{}")); err == nil {
		t.Fatalf("expected fingerprint uniqueness violation")
	}
	if _, err := db.ExecContext(ctx, `UPDATE webhook_events SET released_at = CURRENT_TIMESTAMP WHERE fingerprint = ?`, "sha256:abc"); err != nil {
		t.Fatalf("mark event released: %v", err)
	}

	if err := execSQLMigration(ctx, db, sqliteMigrations, "00002_webhook_event_release.down.sql"); err != nil {
		t.Fatalf("apply release down migration: %v", err)
	}

	if err := execSQLMigration(ctx, db, sqliteMigrations, "00001_walletsync_core.down.sql"); err != nil {
		t.Fatalf("apply down migration: %v", err)
	}
	if count := countTables(t, db, "passes"); count != 0 {
		t.Fatalf("expected passes to be dropped after down migration")
	}
}

func countTables(t *testing.T, db *sql.DB, name string) int {
	t.Helper()
	var count int
	if err := db.QueryRowContext(
		context.Background(),
		`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`,
		name,
	).Scan(&count); err != nil {
		t.Fatalf("query sqlite_master for %s: %v", name, err)
	}
	return count
}

func execSQLMigration(ctx context.Context, db *sql.DB, fsys fs.FS, filename string) error {
	content, err := fs.ReadFile(fsys, filepath.Clean(filename))
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, string(content))
	return err
}
