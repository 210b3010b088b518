package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	ActionUploadAsset    = "UPLOAD_ASSET"
	ActionDeleteAsset    = "DELETE_ASSET"
	ActionCreatePost     = "CREATE_POST"
	ActionUpdatePost     = "UPDATE_POST"
	ActionDeletePost     = "DELETE_POST"
	ActionPublishPost    = "PUBLISH_POST"
	ActionDeleteCategory = "DELETE_CATEGORY"
	ActionDeleteTag      = "DELETE_TAG"
	ActionCreateRole     = "CREATE_ROLE"
	ActionDeleteRole     = "DELETE_ROLE"
	ActionAssignRoles    = "ASSIGN_ROLES"

	// Moderation actions
	ActionApproveComment = "APPROVE_COMMENT"
	ActionRejectComment  = "REJECT_COMMENT"
	ActionDeleteComment  = "DELETE_COMMENT"
)

// AuditLog tracks Who, What, and When for destructive and moderation changes
type AuditLog struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	UserID     *uuid.UUID `gorm:"type:uuid;index" json:"user_id"` // nil for scheduled jobs
	User       *User      `gorm:"foreignKey:UserID" json:"user"`
	Action     string     `gorm:"type:varchar(50);not null;index" json:"action"`
	EntityID   string     `gorm:"type:varchar(50);index" json:"entity_id"`
	EntityName string     `gorm:"type:varchar(255)" json:"entity_name,omitempty"`
	Details    string     `gorm:"type:jsonb" json:"details"`
	CreatedAt  time.Time  `gorm:"index" json:"created_at"`
}

func (a *AuditLog) BeforeCreate(tx *gorm.DB) error {
	assignID(&a.ID)
	return nil
}
