//go:build integration

package database

import (
	"context"
	"testing"
	"time"

	"backoffice/internal/model"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestPostgresPrimaryAssetExclusivity(t *testing.T) {
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("backoffice_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = container.Terminate(cleanupCtx)
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := NewConnection(dsn, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, HealthCheck(ctx, db))

	owner := model.User{Username: "author", Email: "author@example.com", Password: "x"}
	require.NoError(t, db.Create(&owner).Error)

	asset := model.Asset{OriginalName: "a.png", StorageKey: "k1.png", OwnerID: owner.ID}
	require.NoError(t, db.Create(&asset).Error)

	first := model.Post{Title: "first", OwnerID: owner.ID, PrimaryAssetID: &asset.ID}
	require.NoError(t, db.Create(&first).Error)

	second := model.Post{Title: "second", OwnerID: owner.ID, PrimaryAssetID: &asset.ID}
	assert.Error(t, db.Create(&second).Error, "unique index must reject a second primary reference")

	dup := model.Asset{OriginalName: "b.png", StorageKey: "k1.png", OwnerID: owner.ID}
	assert.Error(t, db.Create(&dup).Error, "storage keys are never reused")
}
