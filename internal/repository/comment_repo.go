package repository

import (
	"context"

	"backoffice/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type CommentRepository interface {
	Create(ctx context.Context, c *model.Comment) error
	Update(ctx context.Context, c *model.Comment) error
	Delete(ctx context.Context, id uuid.UUID) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Comment, error)
	ListApproved(ctx context.Context, postID uuid.UUID, offset, limit int) ([]model.Comment, int64, error)
	ListQueue(ctx context.Context, state string, offset, limit int) ([]model.Comment, int64, error)
	CountByPost(ctx context.Context, postID uuid.UUID) (int64, error)
}

type commentRepository struct {
	db *gorm.DB
}

func NewCommentRepository(db *gorm.DB) CommentRepository {
	return &commentRepository{db: db}
}

func (r *commentRepository) Create(ctx context.Context, c *model.Comment) error {
	return GetDB(ctx, r.db).Omit("Author", "Post").Create(c).Error
}

// Update persists the moderation fields only
func (r *commentRepository) Update(ctx context.Context, c *model.Comment) error {
	return GetDB(ctx, r.db).Model(&model.Comment{}).
		Where("id = ?", c.ID).
		Updates(map[string]any{
			"approved":        c.Approved,
			"moderated_by_id": c.ModeratedByID,
			"moderated_at":    c.ModeratedAt,
		}).Error
}

func (r *commentRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return GetDB(ctx, r.db).Where("id = ?", id).Delete(&model.Comment{}).Error
}

func (r *commentRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Comment, error) {
	var c model.Comment
	if err := GetDB(ctx, r.db).Preload("Author").First(&c, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// ListApproved is the public read path: approved comments only
func (r *commentRepository) ListApproved(ctx context.Context, postID uuid.UUID, offset, limit int) ([]model.Comment, int64, error) {
	var comments []model.Comment
	var total int64

	scope := func(db *gorm.DB) *gorm.DB {
		return db.Where("post_id = ? AND approved = ?", postID, true)
	}

	db := GetDB(ctx, r.db)
	if err := db.Model(&model.Comment{}).Scopes(scope).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := db.Preload("Author").Scopes(scope, paginate(offset, limit)).Order("created_at ASC").Find(&comments).Error
	return comments, total, err
}

// ListQueue returns comments in the given moderation state; "" lists everything
func (r *commentRepository) ListQueue(ctx context.Context, state string, offset, limit int) ([]model.Comment, int64, error) {
	var comments []model.Comment
	var total int64

	scope := func(db *gorm.DB) *gorm.DB {
		switch state {
		case model.CommentPending:
			return db.Where("approved = ? AND moderated_at IS NULL", false)
		case model.CommentApproved:
			return db.Where("approved = ?", true)
		case model.CommentRejected:
			return db.Where("approved = ? AND moderated_at IS NOT NULL", false)
		}
		return db
	}

	db := GetDB(ctx, r.db)
	if err := db.Model(&model.Comment{}).Scopes(scope).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := db.Preload("Author").Scopes(scope, paginate(offset, limit)).Order("created_at ASC").Find(&comments).Error
	return comments, total, err
}

func (r *commentRepository) CountByPost(ctx context.Context, postID uuid.UUID) (int64, error) {
	var n int64
	err := GetDB(ctx, r.db).Model(&model.Comment{}).Where("post_id = ?", postID).Count(&n).Error
	return n, err
}
