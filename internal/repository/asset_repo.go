package repository

import (
	"context"

	"backoffice/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AssetRepository is the Asset Ledger
type AssetRepository interface {
	Create(ctx context.Context, asset *model.Asset) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Asset, error)
	FindByIDs(ctx context.Context, ids []uuid.UUID) ([]model.Asset, error)
	FindByStorageKey(ctx context.Context, key string) (*model.Asset, error)
	List(ctx context.Context, ownerID *uuid.UUID, offset, limit int) ([]model.Asset, int64, error)
	Delete(ctx context.Context, id uuid.UUID) error
	ReferencingPosts(ctx context.Context, assetID uuid.UUID, limit int) ([]model.Post, error)
	PrimaryAssetIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]uuid.UUID, error)
	LiveKeys(ctx context.Context) (map[string]struct{}, error)
	ListLive(ctx context.Context) ([]model.Asset, error)
}

type assetRepository struct {
	db *gorm.DB
}

func NewAssetRepository(db *gorm.DB) AssetRepository {
	return &assetRepository{db: db}
}

func (r *assetRepository) Create(ctx context.Context, asset *model.Asset) error {
	return GetDB(ctx, r.db).Create(asset).Error
}

func (r *assetRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Asset, error) {
	var asset model.Asset
	if err := GetDB(ctx, r.db).First(&asset, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &asset, nil
}

func (r *assetRepository) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]model.Asset, error) {
	var assets []model.Asset
	if len(ids) == 0 {
		return assets, nil
	}
	err := GetDB(ctx, r.db).Where("id IN ?", ids).Find(&assets).Error
	return assets, err
}

func (r *assetRepository) FindByStorageKey(ctx context.Context, key string) (*model.Asset, error) {
	var asset model.Asset
	err := GetDB(ctx, r.db).
		Where("storage_key = ? OR thumbnail_key = ?", key, key).
		First(&asset).Error
	if err != nil {
		return nil, err
	}
	return &asset, nil
}

// List returns live assets, optionally restricted to one owner
func (r *assetRepository) List(ctx context.Context, ownerID *uuid.UUID, offset, limit int) ([]model.Asset, int64, error) {
	var assets []model.Asset
	var total int64

	scope := func(db *gorm.DB) *gorm.DB {
		if ownerID != nil {
			return db.Where("owner_id = ?", *ownerID)
		}
		return db
	}

	db := GetDB(ctx, r.db)
	if err := db.Model(&model.Asset{}).Scopes(scope).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := db.Scopes(scope, paginate(offset, limit)).Order("created_at DESC").Find(&assets).Error; err != nil {
		return nil, 0, err
	}
	return assets, total, nil
}

// Delete soft-deletes the ledger row; its storage key stays reserved
func (r *assetRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return GetDB(ctx, r.db).Where("id = ?", id).Delete(&model.Asset{}).Error
}

// ReferencingPosts returns posts that use the asset as primary or supplementary image
func (r *assetRepository) ReferencingPosts(ctx context.Context, assetID uuid.UUID, limit int) ([]model.Post, error) {
	var posts []model.Post
	db := GetDB(ctx, r.db)
	err := db.Where("primary_asset_id = ?", assetID).
		Or("id IN (?)", db.Model(&model.PostAsset{}).Select("post_id").Where("asset_id = ?", assetID)).
		Order("created_at ASC").
		Limit(limit).
		Find(&posts).Error
	return posts, err
}

// PrimaryAssetIDs maps each of ids that currently leads a post to that post's id
func (r *assetRepository) PrimaryAssetIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]uuid.UUID, error) {
	out := make(map[uuid.UUID]uuid.UUID)
	if len(ids) == 0 {
		return out, nil
	}

	var rows []struct {
		ID             uuid.UUID
		PrimaryAssetID uuid.UUID
	}
	err := GetDB(ctx, r.db).Model(&model.Post{}).
		Select("id, primary_asset_id").
		Where("primary_asset_id IN ?", ids).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.PrimaryAssetID] = row.ID
	}
	return out, nil
}

// LiveKeys returns the storage and thumbnail keys of every live ledger row.
// Keys of soft-deleted rows are absent: their bytes are leftovers.
func (r *assetRepository) LiveKeys(ctx context.Context) (map[string]struct{}, error) {
	var rows []struct {
		StorageKey   string
		ThumbnailKey *string
	}
	err := GetDB(ctx, r.db).Model(&model.Asset{}).
		Select("storage_key, thumbnail_key").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	keys := make(map[string]struct{}, len(rows)*2)
	for _, row := range rows {
		keys[row.StorageKey] = struct{}{}
		if row.ThumbnailKey != nil {
			keys[*row.ThumbnailKey] = struct{}{}
		}
	}
	return keys, nil
}

func (r *assetRepository) ListLive(ctx context.Context) ([]model.Asset, error) {
	var assets []model.Asset
	err := GetDB(ctx, r.db).Order("created_at ASC").Find(&assets).Error
	return assets, err
}
