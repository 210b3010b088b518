package database

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func mockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		DisableAutomaticPing: true,
	})
	require.NoError(t, err)
	return db, mock
}

func TestHealthCheck(t *testing.T) {
	db, mock := mockDB(t)
	mock.ExpectPing()

	require.NoError(t, HealthCheck(context.Background(), db))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHealthCheckFailure(t *testing.T) {
	db, mock := mockDB(t)
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	err := HealthCheck(context.Background(), db)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestMigrateCreatesJoinTables(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:migrate_test?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, Migrate(db))

	for _, table := range []string{"users", "roles", "user_roles", "assets", "posts", "post_tags", "post_supplementary_assets", "comments", "audit_logs"} {
		assert.True(t, db.Migrator().HasTable(table), table)
	}
	assert.True(t, db.Migrator().HasIndex("posts", "idx_posts_primary_asset_id"))
}
