package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Role is a named bundle of capabilities assigned to principals
type Role struct {
	ID           uuid.UUID    `gorm:"type:uuid;primaryKey" json:"id"`
	Name         string       `gorm:"type:varchar(50);uniqueIndex;not null" json:"name"`
	Description  string       `gorm:"type:text" json:"description"`
	IsSystem     bool         `gorm:"default:false" json:"is_system"` // built-in roles cannot be deleted
	Capabilities []Capability `gorm:"many2many:role_capabilities;" json:"capabilities"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

func (r *Role) BeforeCreate(tx *gorm.DB) error {
	assignID(&r.ID)
	return nil
}

// Capability is a single grantable permission, e.g. "comments.moderate"
type Capability struct {
	ID    uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Code  string    `gorm:"type:varchar(100);uniqueIndex;not null" json:"code"`
	Name  string    `gorm:"type:varchar(255);not null" json:"name"`
	Group string    `gorm:"type:varchar(50);not null;index" json:"group"`
}

func (c *Capability) BeforeCreate(tx *gorm.DB) error {
	assignID(&c.ID)
	return nil
}
