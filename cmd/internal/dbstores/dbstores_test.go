package dbstores

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/goliatone/go-walletsync/core"
	"github.com/goliatone/go-walletsync/migrations"
)

func TestResolveDriver(t *testing.T) {
	driver, dialect, migrationDialect, err := ResolveDriver("SQLite")
	if err != nil || driver != "sqlite3" || dialect == nil || migrationDialect != migrations.DialectSQLite {
		t.Fatalf("unexpected sqlite resolution %q %v %q err=%v", driver, dialect, migrationDialect, err)
	}
	driver, _, migrationDialect, err = ResolveDriver("postgres")
	if err != nil || driver != "postgres" || migrationDialect != migrations.DialectPostgres {
		t.Fatalf("unexpected postgres resolution %q %q err=%v", driver, migrationDialect, err)
	}
	if _, _, _, err := ResolveDriver("mysql"); !core.IsConfiguration(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestOpen_MigratesSQLite(t *testing.T) {
	cfg := core.DefaultConfig()
	cfg.Database.Driver = "sqlite3"
	cfg.Database.DSN = fmt.Sprintf("file:walletsyncd-open-%d?mode=memory&cache=shared", time.Now().UnixNano())

	stores, closeStores, err := Open(context.Background(), cfg, true)
	if err != nil {
		t.Fatalf("open stores: %v", err)
	}
	defer closeStores()

	capabilities, err := stores.Capabilities.Capabilities(context.Background())
	if err != nil {
		t.Fatalf("probe capabilities: %v", err)
	}
	if !capabilities["notification_jobs"] || !capabilities["passes.device_tokens"] {
		t.Fatalf("expected migrated schema, got %v", capabilities)
	}
}
