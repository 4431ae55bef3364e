package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medivoice/internal/config"
)

func TestRebind(t *testing.T) {
	t.Parallel()

	q := "UPDATE consult_sessions SET report = ?, status = ? WHERE session_id = ?"
	assert.Equal(t, q, SQLite.Rebind(q))
	assert.Equal(t, q, MySQL.Rebind(q))
	assert.Equal(t, "UPDATE consult_sessions SET report = $1, status = $2 WHERE session_id = $3", Postgres.Rebind(q))
}

func TestUpsert(t *testing.T) {
	t.Parallel()

	assert.Equal(t, " ON CONFLICT(user_id, provider) DO UPDATE SET api_key = excluded.api_key",
		SQLite.Upsert("user_id, provider", "api_key"))
	assert.Equal(t, " ON DUPLICATE KEY UPDATE api_key = VALUES(api_key), created_at = VALUES(created_at)",
		MySQL.Upsert("user_id, provider", "api_key", "created_at"))
}

func TestParseDialect(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]Dialect{"sqlite": SQLite, "MySQL": MySQL, "postgresql": Postgres, "pgx": Postgres} {
		got, err := ParseDialect(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseDialect("oracle")
	assert.Error(t, err)
}

func TestBuildDSN(t *testing.T) {
	t.Parallel()

	dsn, err := buildDSN(Postgres, config.DatabaseConfig{Host: "db", Port: 5432, Username: "app", Password: "p@ss", DBName: "medivoice", Params: "sslmode=disable"})
	require.NoError(t, err)
	assert.Equal(t, "postgres://app:p%40ss@db:5432/medivoice?sslmode=disable", dsn)

	dsn, err = buildDSN(MySQL, config.DatabaseConfig{Host: "db", Port: 3306, Username: "app", Password: "pw", DBName: "medivoice", Params: "parseTime=true"})
	require.NoError(t, err)
	assert.Equal(t, "app:pw@tcp(db:3306)/medivoice?parseTime=true", dsn)

	_, err = buildDSN(SQLite, config.DatabaseConfig{})
	assert.Error(t, err)
}

func TestMigrateAndInsertID(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db, err := OpenMemory(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	// Idempotent.
	require.NoError(t, Migrate(ctx, db))

	id, err := db.InsertID(ctx, `INSERT INTO users (username, password_hash, created_at) VALUES (?, ?, ?)`, "alice", "hash", time.Now().UTC())
	require.NoError(t, err)
	assert.Positive(t, id)

	var credits int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT credits FROM users WHERE id = ?`, id).Scan(&credits))
	assert.Equal(t, 10, credits)
}
