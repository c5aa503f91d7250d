package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"gamiai/internal/models"
)

func TestOpenEmbeddedAndMigrate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "gami.db")
	backend := Backend{Kind: KindEmbedded, Dialect: DialectSQLite, DSN: path}

	db, err := Open(context.Background(), backend, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(db) })

	require.NoError(t, Migrate(context.Background(), db))
	require.NoError(t, Migrate(context.Background(), db))
	require.True(t, db.Migrator().HasTable(&models.Profile{}))
	require.True(t, db.Migrator().HasTable(&models.Message{}))
	require.NoError(t, Ping(context.Background(), db))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.Equal(t, 1, sqlDB.Stats().MaxOpenConnections)
}

func TestOpenRejectsUnknownDialect(t *testing.T) {
	_, err := Open(context.Background(), Backend{Dialect: "oracle"}, nil)
	require.Error(t, err)
}
