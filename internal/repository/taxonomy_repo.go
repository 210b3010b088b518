package repository

import (
	"context"

	"backoffice/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type CategoryRepository interface {
	Create(ctx context.Context, c *model.Category) error
	Update(ctx context.Context, c *model.Category) error
	Delete(ctx context.Context, id uuid.UUID) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Category, error)
	FindByName(ctx context.Context, ownerID *uuid.UUID, name string) (*model.Category, error)
	List(ctx context.Context, ownerID *uuid.UUID) ([]model.Category, error)
}

type TagRepository interface {
	Create(ctx context.Context, t *model.Tag) error
	Update(ctx context.Context, t *model.Tag) error
	Delete(ctx context.Context, id uuid.UUID) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Tag, error)
	FindByIDs(ctx context.Context, ids []uuid.UUID) ([]model.Tag, error)
	FindByName(ctx context.Context, ownerID *uuid.UUID, name string) (*model.Tag, error)
	List(ctx context.Context, ownerID *uuid.UUID) ([]model.Tag, error)
}

type categoryRepository struct {
	db *gorm.DB
}

func NewCategoryRepository(db *gorm.DB) CategoryRepository {
	return &categoryRepository{db: db}
}

func (r *categoryRepository) Create(ctx context.Context, c *model.Category) error {
	return GetDB(ctx, r.db).Create(c).Error
}

func (r *categoryRepository) Update(ctx context.Context, c *model.Category) error {
	return GetDB(ctx, r.db).Save(c).Error
}

func (r *categoryRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return GetDB(ctx, r.db).Where("id = ?", id).Delete(&model.Category{}).Error
}

func (r *categoryRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Category, error) {
	var c model.Category
	if err := GetDB(ctx, r.db).First(&c, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *categoryRepository) FindByName(ctx context.Context, ownerID *uuid.UUID, name string) (*model.Category, error) {
	var c model.Category
	if err := ownerScope(GetDB(ctx, r.db), ownerID).Where("LOWER(name) = LOWER(?)", name).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *categoryRepository) List(ctx context.Context, ownerID *uuid.UUID) ([]model.Category, error) {
	var out []model.Category
	q := GetDB(ctx, r.db)
	if ownerID != nil {
		q = q.Where("owner_id = ?", *ownerID)
	}
	err := q.Order("name ASC").Find(&out).Error
	return out, err
}

type tagRepository struct {
	db *gorm.DB
}

func NewTagRepository(db *gorm.DB) TagRepository {
	return &tagRepository{db: db}
}

func (r *tagRepository) Create(ctx context.Context, t *model.Tag) error {
	return GetDB(ctx, r.db).Create(t).Error
}

func (r *tagRepository) Update(ctx context.Context, t *model.Tag) error {
	return GetDB(ctx, r.db).Save(t).Error
}

func (r *tagRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return GetDB(ctx, r.db).Where("id = ?", id).Delete(&model.Tag{}).Error
}

func (r *tagRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Tag, error) {
	var t model.Tag
	if err := GetDB(ctx, r.db).First(&t, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *tagRepository) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]model.Tag, error) {
	var tags []model.Tag
	if len(ids) == 0 {
		return tags, nil
	}
	err := GetDB(ctx, r.db).Where("id IN ?", ids).Find(&tags).Error
	return tags, err
}

// FindByName matches case-insensitively within one owner scope
func (r *tagRepository) FindByName(ctx context.Context, ownerID *uuid.UUID, name string) (*model.Tag, error) {
	var t model.Tag
	if err := ownerScope(GetDB(ctx, r.db), ownerID).Where("LOWER(name) = LOWER(?)", name).First(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *tagRepository) List(ctx context.Context, ownerID *uuid.UUID) ([]model.Tag, error) {
	var out []model.Tag
	q := GetDB(ctx, r.db)
	if ownerID != nil {
		q = q.Where("owner_id = ?", *ownerID)
	}
	err := q.Order("name ASC").Find(&out).Error
	return out, err
}

// ownerScope matches one owner, or the shared rows when ownerID is nil
func ownerScope(db *gorm.DB, ownerID *uuid.UUID) *gorm.DB {
	if ownerID != nil {
		return db.Where("owner_id = ?", *ownerID)
	}
	return db.Where("owner_id IS NULL")
}
