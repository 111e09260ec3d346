package models

import (
	"time"

	"gorm.io/datatypes"
)

// Sources recorded on role_changes rows.
const (
	RoleSourceLink    = "patreon_link"
	RoleSourceUnlink  = "patreon_unlink"
	RoleSourceResync  = "patreon_resync"
	RoleSourceRevoke  = "patreon_revoke"
	RoleSourceAdmin   = "admin_override"
	RoleSourceProfile = "profile_create"
)

type RoleChange struct {
	ID        string         `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	UserID    string         `gorm:"column:user_id;type:text;index" json:"user_id"`
	FromRole  Role           `gorm:"column:from_role;type:text" json:"from_role"`
	ToRole    Role           `gorm:"column:to_role;type:text" json:"to_role"`
	Source    string         `gorm:"column:source;type:text" json:"source"`
	Metadata  datatypes.JSON `gorm:"column:metadata;type:jsonb" json:"metadata"`
	CreatedAt time.Time      `gorm:"column:created_at;type:timestamptz;index" json:"created_at"`
}

func (RoleChange) TableName() string { return "role_changes" }
