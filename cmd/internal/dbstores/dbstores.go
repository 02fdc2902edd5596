// Package dbstores opens the configured database for the walletsync binaries.
package dbstores

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"strings"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"

	walletsync "github.com/goliatone/go-walletsync"
	"github.com/goliatone/go-walletsync/core"
	"github.com/goliatone/go-walletsync/migrations"
	"github.com/goliatone/go-walletsync/security"
	sqlstore "github.com/goliatone/go-walletsync/store/sql"
)

type persistenceConfig struct {
	driver string
	dsn    string
	debug  bool
}

func (c persistenceConfig) GetDebug() bool                { return c.debug }
func (c persistenceConfig) GetDriver() string             { return c.driver }
func (c persistenceConfig) GetServer() string             { return c.dsn }
func (c persistenceConfig) GetPingTimeout() time.Duration { return 5 * time.Second }
func (c persistenceConfig) GetOtelIdentifier() string     { return "walletsync" }

// Open connects to the configured database, applies the migrations for its
// dialect when migrate is set and returns the bun-backed stores.
func Open(ctx context.Context, cfg core.Config, migrate bool) (walletsync.Stores, func(), error) {
	driver, dialect, migrationDialect, err := ResolveDriver(cfg.Database.Driver)
	if err != nil {
		return walletsync.Stores{}, nil, err
	}
	sqlDB, err := sql.Open(driver, cfg.Database.DSN)
	if err != nil {
		return walletsync.Stores{}, nil, fmt.Errorf("dbstores: open database: %w", err)
	}
	if driver == "sqlite3" {
		sqlDB.SetMaxOpenConns(1)
	}

	client, err := persistence.New(persistenceConfig{driver: driver, dsn: cfg.Database.DSN, debug: cfg.Database.Debug}, sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return walletsync.Stores{}, nil, fmt.Errorf("dbstores: persistence client: %w", err)
	}
	closeClient := func() { _ = client.Close() }

	if migrate {
		err = migrations.Register(migrationDialect, func(fsys fs.FS) {
			client.RegisterSQLMigrations(fsys)
		})
		if err != nil {
			closeClient()
			return walletsync.Stores{}, nil, err
		}
		if err := client.Migrate(ctx); err != nil {
			closeClient()
			return walletsync.Stores{}, nil, fmt.Errorf("dbstores: migrate: %w", err)
		}
	}

	factoryOpts := []sqlstore.FactoryOption{sqlstore.WithCapabilityTTL(cfg.CapabilityCacheTTL)}
	if key := strings.TrimSpace(cfg.Security.CredentialKey); key != "" {
		cipher, err := security.NewCredentialCipherFromString(key)
		if err != nil {
			closeClient()
			return walletsync.Stores{}, nil, err
		}
		factoryOpts = append(factoryOpts, sqlstore.WithSecretProvider(cipher))
	}
	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client, factoryOpts...)
	if err != nil {
		closeClient()
		return walletsync.Stores{}, nil, err
	}
	return walletsync.SQLStores(factory), closeClient, nil
}

// ResolveDriver maps a configured driver name to the database/sql driver, the
// bun dialect and the migration dialect.
func ResolveDriver(name string) (driver string, dialect schema.Dialect, migrationDialect string, err error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "postgres":
		return "postgres", pgdialect.New(), migrations.DialectPostgres, nil
	case "sqlite", "sqlite3":
		return "sqlite3", sqlitedialect.New(), migrations.DialectSQLite, nil
	default:
		return "", nil, "", core.ConfigurationError("WALLETSYNC_DATABASE_DRIVER", fmt.Sprintf("dbstores: unsupported database driver %q", name))
	}
}
