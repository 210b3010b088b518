package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Asset is the ledger row for an uploaded image. Rows are soft-deleted so a
// storage key stays claimed by the unique index forever.
type Asset struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	OriginalName string         `gorm:"type:varchar(255);not null" json:"original_name"`
	StorageKey   string         `gorm:"type:varchar(255);uniqueIndex;not null" json:"storage_key"`
	ThumbnailKey *string        `gorm:"type:varchar(255)" json:"thumbnail_key"`
	OwnerID      uuid.UUID      `gorm:"type:uuid;not null;index" json:"owner_id"`
	Owner        *User          `gorm:"foreignKey:OwnerID" json:"-"`
	AltText      string         `gorm:"type:varchar(255)" json:"alt_text"`
	ContentType  string         `gorm:"type:varchar(100)" json:"content_type"`
	Size         int64          `json:"size"`
	CreatedAt    time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
}

func (a *Asset) BeforeCreate(tx *gorm.DB) error {
	assignID(&a.ID)
	return nil
}
