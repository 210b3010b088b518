package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Category struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Name        string     `gorm:"type:varchar(100);not null;uniqueIndex:idx_category_owner_name" json:"name"`
	Slug        string     `gorm:"type:varchar(120);not null;index" json:"slug"`
	Description string     `gorm:"type:text" json:"description"`
	OwnerID     *uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_category_owner_name" json:"owner_id"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (c *Category) BeforeCreate(tx *gorm.DB) error {
	assignID(&c.ID)
	return nil
}

type Tag struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Name      string     `gorm:"type:varchar(50);not null;uniqueIndex:idx_tag_owner_name" json:"name"`
	Slug      string     `gorm:"type:varchar(60);not null;index" json:"slug"`
	OwnerID   *uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_tag_owner_name" json:"owner_id"`
	CreatedAt time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

func (t *Tag) BeforeCreate(tx *gorm.DB) error {
	assignID(&t.ID)
	return nil
}
