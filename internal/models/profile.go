package models

import "time"

// Patreon status values written to profiles.patreon_status. Provider values
// are stored verbatim; StatusRevoked is internal.
const (
	StatusActivePatron   = "active_patron"
	StatusDeclinedPatron = "declined_patron"
	StatusFormerPatron   = "former_patron"
	StatusNoMembership   = "no_membership"
	StatusRevoked        = "revoked"
)

// MemberProfile is one row per account, keyed by the identity-provider subject.
type MemberProfile struct {
	UserID string  `gorm:"column:id;type:text;primaryKey" json:"id"`
	Email  *string `gorm:"column:email;type:text" json:"email"`
	Role   Role    `gorm:"column:role;type:text;not null;default:regular" json:"role"`

	PatreonUserID        *string    `gorm:"column:patreon_user_id;type:text" json:"patreon_user_id"`
	PatreonTierID        *string    `gorm:"column:patreon_tier_id;type:text" json:"patreon_tier_id"`
	PatreonStatus        *string    `gorm:"column:patreon_status;type:text" json:"patreon_status"`
	PatreonLastSyncAt    *time.Time `gorm:"column:patreon_last_sync_at;type:timestamptz" json:"patreon_last_sync_at"`
	PatreonLastSuccessAt *time.Time `gorm:"column:patreon_last_success_at;type:timestamptz" json:"patreon_last_success_at"`

	// never serialised
	PatreonRefreshToken *string `gorm:"column:patreon_refresh_token;type:text" json:"-"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamptz" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamptz" json:"updated_at"`
}

func (MemberProfile) TableName() string { return "profiles" }

// Linked reports whether the profile can be resynced.
func (p *MemberProfile) Linked() bool {
	return p != nil && p.PatreonRefreshToken != nil && *p.PatreonRefreshToken != ""
}

// ClearPatreon drops every Patreon field, including the refresh credential.
func (p *MemberProfile) ClearPatreon() {
	p.PatreonUserID = nil
	p.PatreonTierID = nil
	p.PatreonStatus = nil
	p.PatreonLastSyncAt = nil
	p.PatreonLastSuccessAt = nil
	p.PatreonRefreshToken = nil
}

func (p *MemberProfile) EmailValue() string {
	if p == nil || p.Email == nil {
		return ""
	}
	return *p.Email
}
