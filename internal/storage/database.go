package storage

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"

	"github.com/rs/zerolog/log"

	"medivoice/internal/config"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// Open connects to the database configured under dbType.
func Open(dbType string, cfg *config.Config) (*DB, error) {
	dialect, err := ParseDialect(dbType)
	if err != nil {
		return nil, err
	}
	dbCfg, ok := cfg.Databases[dbType]
	if !ok {
		dbCfg, ok = cfg.Databases[string(dialect)]
	}
	if !ok {
		return nil, fmt.Errorf("database config for %s not found", dbType)
	}

	dsn, err := buildDSN(dialect, dbCfg)
	if err != nil {
		return nil, err
	}
	sqlDB, err := sql.Open(dialect.driverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", dialect, err)
	}

	if dialect == SQLite {
		// One connection keeps :memory: databases and the foreign_keys pragma consistent.
		sqlDB.SetMaxOpenConns(1)
		if _, err := sqlDB.Exec("PRAGMA foreign_keys = ON"); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("enable sqlite foreign keys: %w", err)
		}
	}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	log.Info().Str("driver", string(dialect)).Msg("database connected")
	return &DB{DB: sqlDB, dialect: dialect}, nil
}

func buildDSN(d Dialect, c config.DatabaseConfig) (string, error) {
	switch d {
	case SQLite:
		if c.DSN == "" {
			return "", fmt.Errorf("sqlite dsn must be provided")
		}
		return c.DSN, nil
	case MySQL:
		if c.DSN != "" {
			return c.DSN, nil
		}
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
			c.Username,
			c.Password,
			c.Host,
			c.Port,
			c.DBName,
			c.Params,
		), nil
	case Postgres:
		if c.DSN != "" {
			return c.DSN, nil
		}
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(c.Username, c.Password),
			Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
			Path:     "/" + c.DBName,
			RawQuery: c.Params,
		}
		return u.String(), nil
	}
	return "", fmt.Errorf("unsupported driver: %s", d)
}

// Migrate ensures the required tables are present.
func Migrate(ctx context.Context, db *DB) error {
	var stmts []string
	switch db.dialect {
	case SQLite:
		stmts = sqliteSchema
	case MySQL:
		stmts = mysqlSchema
	case Postgres:
		stmts = postgresSchema
	default:
		return fmt.Errorf("unsupported driver for migration: %s", db.dialect)
	}

	for _, stmt := range stmts {
		if _, err := db.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate (%s): %w", db.dialect, err)
		}
	}
	return nil
}

// OpenMemory returns a migrated in-memory sqlite database for tests.
func OpenMemory(ctx context.Context) (*DB, error) {
	cfg := &config.Config{Databases: map[string]config.DatabaseConfig{"sqlite3": {DSN: ":memory:"}}}
	db, err := Open("sqlite3", cfg)
	if err != nil {
		return nil, err
	}
	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
