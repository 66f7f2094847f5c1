package models

import (
	"time"

	"github.com/guildworks/guildpass-backend/pkg/enums"
)

// LicenseKey is a single-use token granting a tier for a duration. The key
// string itself is the primary key; it is generated from a CSPRNG and never
// reused.
type LicenseKey struct {
	Key            string     `gorm:"column:key;primaryKey"`
	Tier           enums.Tier `gorm:"column:tier;type:tier;not null"`
	DurationMonths int        `gorm:"column:duration_months;not null;default:0"`
	DurationDays   int        `gorm:"column:duration_days;not null;default:0"`
	Used           bool       `gorm:"column:used;not null;default:false"`
	UsedBy         *string    `gorm:"column:used_by"`
	UsedAt         *time.Time `gorm:"column:used_at"`
	ReservedFor    *string    `gorm:"column:reserved_for"`
	Notes          string     `gorm:"column:notes;type:text;not null;default:''"`
	CreatedAt      time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}
