package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Moderation states derived from Approved and ModeratedAt
const (
	CommentPending  = "PENDING"
	CommentApproved = "APPROVED"
	CommentRejected = "REJECTED"
)

// Comment is a reader comment; only approved comments are publicly visible
type Comment struct {
	ID            uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Body          string     `gorm:"type:text;not null" json:"body"`
	AuthorID      uuid.UUID  `gorm:"type:uuid;not null;index" json:"author_id"`
	Author        *User      `gorm:"foreignKey:AuthorID" json:"author,omitempty"`
	PostID        uuid.UUID  `gorm:"type:uuid;not null;index" json:"post_id"`
	Post          *Post      `gorm:"foreignKey:PostID;constraint:OnDelete:CASCADE;" json:"-"`
	Approved      bool       `gorm:"default:false;index" json:"approved"`
	ModeratedByID *uuid.UUID `gorm:"type:uuid" json:"moderated_by_id"`
	ModeratedAt   *time.Time `json:"moderated_at"`
	CreatedAt     time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
}

func (c *Comment) BeforeCreate(tx *gorm.DB) error {
	assignID(&c.ID)
	return nil
}

// State reports where the comment sits in the moderation queue
func (c *Comment) State() string {
	switch {
	case c.Approved:
		return CommentApproved
	case c.ModeratedAt != nil:
		return CommentRejected
	default:
		return CommentPending
	}
}
