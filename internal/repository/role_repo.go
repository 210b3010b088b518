package repository

import (
	"context"

	"backoffice/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type RoleRepository interface {
	Create(ctx context.Context, role *model.Role) error
	Update(ctx context.Context, role *model.Role) error
	Delete(ctx context.Context, id uuid.UUID) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Role, error)
	FindByName(ctx context.Context, name string) (*model.Role, error)
	FindByIDs(ctx context.Context, ids []uuid.UUID) ([]model.Role, error)
	ListAll(ctx context.Context) ([]model.Role, error)
	ReplaceCapabilities(ctx context.Context, role *model.Role, caps []model.Capability) error
	ListCapabilities(ctx context.Context) ([]model.Capability, error)
	FindCapabilitiesByCodes(ctx context.Context, codes []string) ([]model.Capability, error)
	UpsertCapability(ctx context.Context, c *model.Capability) error
}

type roleRepository struct {
	db *gorm.DB
}

func NewRoleRepository(db *gorm.DB) RoleRepository {
	return &roleRepository{db: db}
}

func (r *roleRepository) Create(ctx context.Context, role *model.Role) error {
	return GetDB(ctx, r.db).Omit(clause.Associations).Create(role).Error
}

func (r *roleRepository) Update(ctx context.Context, role *model.Role) error {
	return GetDB(ctx, r.db).Omit(clause.Associations).Save(role).Error
}

// Delete removes the role with its capability links
func (r *roleRepository) Delete(ctx context.Context, id uuid.UUID) error {
	db := GetDB(ctx, r.db)
	if err := db.Exec("DELETE FROM role_capabilities WHERE role_id = ?", id).Error; err != nil {
		return err
	}
	return db.Where("id = ?", id).Delete(&model.Role{}).Error
}

func (r *roleRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Role, error) {
	var role model.Role
	if err := GetDB(ctx, r.db).Preload("Capabilities").First(&role, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &role, nil
}

func (r *roleRepository) FindByName(ctx context.Context, name string) (*model.Role, error) {
	var role model.Role
	if err := GetDB(ctx, r.db).Preload("Capabilities").First(&role, "name = ?", name).Error; err != nil {
		return nil, err
	}
	return &role, nil
}

func (r *roleRepository) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]model.Role, error) {
	var roles []model.Role
	if len(ids) == 0 {
		return roles, nil
	}
	err := GetDB(ctx, r.db).Where("id IN ?", ids).Order("name ASC").Find(&roles).Error
	return roles, err
}

func (r *roleRepository) ListAll(ctx context.Context) ([]model.Role, error) {
	var roles []model.Role
	err := GetDB(ctx, r.db).Preload("Capabilities").Order("name ASC").Find(&roles).Error
	return roles, err
}

func (r *roleRepository) ReplaceCapabilities(ctx context.Context, role *model.Role, caps []model.Capability) error {
	return GetDB(ctx, r.db).Model(role).Association("Capabilities").Replace(caps)
}

func (r *roleRepository) ListCapabilities(ctx context.Context) ([]model.Capability, error) {
	var caps []model.Capability
	err := GetDB(ctx, r.db).Order(`"group" ASC, code ASC`).Find(&caps).Error
	return caps, err
}

func (r *roleRepository) FindCapabilitiesByCodes(ctx context.Context, codes []string) ([]model.Capability, error) {
	var caps []model.Capability
	if len(codes) == 0 {
		return caps, nil
	}
	err := GetDB(ctx, r.db).Where("code IN ?", codes).Find(&caps).Error
	return caps, err
}

// UpsertCapability inserts by code or refreshes name/group, leaving c.ID set
func (r *roleRepository) UpsertCapability(ctx context.Context, c *model.Capability) error {
	db := GetDB(ctx, r.db)

	var existing model.Capability
	err := db.Where("code = ?", c.Code).First(&existing).Error
	switch {
	case IsNotFound(err):
		return db.Create(c).Error
	case err != nil:
		return err
	}

	c.ID = existing.ID
	return db.Model(&existing).Updates(map[string]any{"name": c.Name, "group": c.Group}).Error
}
