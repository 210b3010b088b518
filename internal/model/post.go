package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Post is an authored article. PrimaryAssetID carries a unique index: one asset
// can lead at most one post.
type Post struct {
	ID                  uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Title               string     `gorm:"type:varchar(255);not null" json:"title"`
	Body                string     `gorm:"type:text" json:"body"`
	Published           bool       `gorm:"default:false;index" json:"published"`
	OwnerID             uuid.UUID  `gorm:"type:uuid;not null;index" json:"owner_id"`
	Owner               *User      `gorm:"foreignKey:OwnerID" json:"-"`
	CategoryID          *uuid.UUID `gorm:"type:uuid;index" json:"category_id"`
	Category            *Category  `gorm:"foreignKey:CategoryID" json:"category,omitempty"`
	Tags                []Tag      `gorm:"many2many:post_tags;" json:"tags"`
	PrimaryAssetID      *uuid.UUID `gorm:"type:uuid;uniqueIndex" json:"primary_asset_id"`
	PrimaryAsset        *Asset     `gorm:"foreignKey:PrimaryAssetID" json:"primary_asset,omitempty"`
	SupplementaryAssets []Asset    `gorm:"many2many:post_supplementary_assets;" json:"supplementary_assets"`
	CreatedAt           time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt           time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (p *Post) BeforeCreate(tx *gorm.DB) error {
	assignID(&p.ID)
	return nil
}

// PostTag is the Post<->Tag join row
type PostTag struct {
	PostID uuid.UUID `gorm:"type:uuid;primaryKey"`
	TagID  uuid.UUID `gorm:"type:uuid;primaryKey;index"`
}

func (PostTag) TableName() string {
	return "post_tags"
}

// PostAsset is the Post<->supplementary Asset join row
type PostAsset struct {
	PostID  uuid.UUID `gorm:"type:uuid;primaryKey"`
	AssetID uuid.UUID `gorm:"type:uuid;primaryKey;index"`
}

func (PostAsset) TableName() string {
	return "post_supplementary_assets"
}
