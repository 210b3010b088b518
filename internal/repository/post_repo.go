package repository

import (
	"context"

	"backoffice/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PostFilter narrows post listings; nil fields are ignored
type PostFilter struct {
	Published  *bool
	OwnerID    *uuid.UUID
	CategoryID *uuid.UUID
	TagID      *uuid.UUID
	Search     string
}

type PostRepository interface {
	Create(ctx context.Context, post *model.Post) error
	Update(ctx context.Context, post *model.Post) error
	Delete(ctx context.Context, id uuid.UUID) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Post, error)
	FindByPrimaryAsset(ctx context.Context, assetID uuid.UUID) (*model.Post, error)
	FindByCategory(ctx context.Context, categoryID uuid.UUID) ([]model.Post, error)
	FindByTag(ctx context.Context, tagID uuid.UUID) ([]model.Post, error)
	List(ctx context.Context, filter PostFilter, offset, limit int) ([]model.Post, int64, error)
	ReplaceTags(ctx context.Context, postID uuid.UUID, tagIDs []uuid.UUID) error
	ReplaceSupplementary(ctx context.Context, postID uuid.UUID, assetIDs []uuid.UUID) error
	ClearCategory(ctx context.Context, categoryID uuid.UUID) (int64, error)
	DetachTag(ctx context.Context, tagID uuid.UUID) (int64, error)
}

type postRepository struct {
	db *gorm.DB
}

func NewPostRepository(db *gorm.DB) PostRepository {
	return &postRepository{db: db}
}

// Create inserts the post row only; join rows go through ReplaceTags/ReplaceSupplementary
func (r *postRepository) Create(ctx context.Context, post *model.Post) error {
	return GetDB(ctx, r.db).Omit(clause.Associations).Create(post).Error
}

func (r *postRepository) Update(ctx context.Context, post *model.Post) error {
	return GetDB(ctx, r.db).Omit(clause.Associations).Save(post).Error
}

// Delete removes the post, its comments and its join rows. Assets are untouched.
func (r *postRepository) Delete(ctx context.Context, id uuid.UUID) error {
	db := GetDB(ctx, r.db)
	if err := db.Where("post_id = ?", id).Delete(&model.Comment{}).Error; err != nil {
		return err
	}
	if err := db.Where("post_id = ?", id).Delete(&model.PostTag{}).Error; err != nil {
		return err
	}
	if err := db.Where("post_id = ?", id).Delete(&model.PostAsset{}).Error; err != nil {
		return err
	}
	return db.Where("id = ?", id).Delete(&model.Post{}).Error
}

func (r *postRepository) withRelations(db *gorm.DB) *gorm.DB {
	return db.Preload("Category").
		Preload("Tags", func(db *gorm.DB) *gorm.DB { return db.Order("tags.name ASC") }).
		Preload("PrimaryAsset").
		Preload("SupplementaryAssets", func(db *gorm.DB) *gorm.DB { return db.Order("assets.created_at ASC") })
}

func (r *postRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Post, error) {
	var post model.Post
	if err := r.withRelations(GetDB(ctx, r.db)).First(&post, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &post, nil
}

func (r *postRepository) FindByPrimaryAsset(ctx context.Context, assetID uuid.UUID) (*model.Post, error) {
	var post model.Post
	if err := GetDB(ctx, r.db).First(&post, "primary_asset_id = ?", assetID).Error; err != nil {
		return nil, err
	}
	return &post, nil
}

func (r *postRepository) FindByCategory(ctx context.Context, categoryID uuid.UUID) ([]model.Post, error) {
	var posts []model.Post
	err := GetDB(ctx, r.db).Where("category_id = ?", categoryID).Order("created_at DESC").Find(&posts).Error
	return posts, err
}

func (r *postRepository) FindByTag(ctx context.Context, tagID uuid.UUID) ([]model.Post, error) {
	var posts []model.Post
	db := GetDB(ctx, r.db)
	err := db.Where("id IN (?)", db.Model(&model.PostTag{}).Select("post_id").Where("tag_id = ?", tagID)).
		Order("created_at DESC").
		Find(&posts).Error
	return posts, err
}

func (r *postRepository) List(ctx context.Context, filter PostFilter, offset, limit int) ([]model.Post, int64, error) {
	var posts []model.Post
	var total int64

	db := GetDB(ctx, r.db)
	scope := func(q *gorm.DB) *gorm.DB {
		if filter.Published != nil {
			q = q.Where("posts.published = ?", *filter.Published)
		}
		if filter.OwnerID != nil {
			q = q.Where("posts.owner_id = ?", *filter.OwnerID)
		}
		if filter.CategoryID != nil {
			q = q.Where("posts.category_id = ?", *filter.CategoryID)
		}
		if filter.TagID != nil {
			q = q.Where("posts.id IN (?)", db.Model(&model.PostTag{}).Select("post_id").Where("tag_id = ?", *filter.TagID))
		}
		if filter.Search != "" {
			pattern := likePattern(filter.Search)
			q = q.Where(`(LOWER(posts.title) LIKE ? ESCAPE '\' OR LOWER(posts.body) LIKE ? ESCAPE '\')`, pattern, pattern)
		}
		return q
	}

	if err := db.Model(&model.Post{}).Scopes(scope).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := r.withRelations(db).
		Scopes(scope, paginate(offset, limit)).
		Order("posts.created_at DESC").
		Find(&posts).Error
	if err != nil {
		return nil, 0, err
	}
	return posts, total, nil
}

// ReplaceTags makes tagIDs the complete tag set of the post
func (r *postRepository) ReplaceTags(ctx context.Context, postID uuid.UUID, tagIDs []uuid.UUID) error {
	db := GetDB(ctx, r.db)
	if err := db.Where("post_id = ?", postID).Delete(&model.PostTag{}).Error; err != nil {
		return err
	}
	if len(tagIDs) == 0 {
		return nil
	}
	rows := make([]model.PostTag, 0, len(tagIDs))
	for _, id := range tagIDs {
		rows = append(rows, model.PostTag{PostID: postID, TagID: id})
	}
	return db.Create(&rows).Error
}

// ReplaceSupplementary makes assetIDs the complete supplementary set of the post
func (r *postRepository) ReplaceSupplementary(ctx context.Context, postID uuid.UUID, assetIDs []uuid.UUID) error {
	db := GetDB(ctx, r.db)
	if err := db.Where("post_id = ?", postID).Delete(&model.PostAsset{}).Error; err != nil {
		return err
	}
	if len(assetIDs) == 0 {
		return nil
	}
	rows := make([]model.PostAsset, 0, len(assetIDs))
	for _, id := range assetIDs {
		rows = append(rows, model.PostAsset{PostID: postID, AssetID: id})
	}
	return db.Create(&rows).Error
}

// ClearCategory detaches every post from the category and reports how many moved
func (r *postRepository) ClearCategory(ctx context.Context, categoryID uuid.UUID) (int64, error) {
	res := GetDB(ctx, r.db).Model(&model.Post{}).
		Where("category_id = ?", categoryID).
		Update("category_id", nil)
	return res.RowsAffected, res.Error
}

// DetachTag removes the tag from every post and reports how many links were dropped
func (r *postRepository) DetachTag(ctx context.Context, tagID uuid.UUID) (int64, error) {
	res := GetDB(ctx, r.db).Where("tag_id = ?", tagID).Delete(&model.PostTag{})
	return res.RowsAffected, res.Error
}
