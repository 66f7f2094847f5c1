package models

import (
	"time"

	"github.com/guildworks/guildpass-backend/pkg/enums"
)

// Subscription persists the entitlement for one guild. The guild id is the
// natural primary key: a guild holds at most one subscription row.
type Subscription struct {
	GuildID        string     `gorm:"column:guild_id;primaryKey"`
	HolderID       string     `gorm:"column:holder_id;not null;index"`
	Tier           enums.Tier `gorm:"column:tier;type:tier;not null;default:'free'"`
	ExpiresAt      *time.Time `gorm:"column:expires_at"`
	Active         bool       `gorm:"column:active;not null;default:true"`
	AutoRenew      bool       `gorm:"column:auto_renew;not null;default:false"`
	WarningSent    bool       `gorm:"column:warning_sent;not null;default:false"`
	MigrationCount int        `gorm:"column:migration_count;not null;default:0"`
	LastMigratedAt *time.Time `gorm:"column:last_migrated_at"`
	Notes          string     `gorm:"column:notes;type:text;not null;default:''"`
	CreatedAt      time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// Expired reports whether the entitlement's expiry has passed at the given instant.
// A nil expiry never expires (legal only for the free tier).
func (s Subscription) Expired(now time.Time) bool {
	return s.ExpiresAt != nil && now.After(*s.ExpiresAt)
}
