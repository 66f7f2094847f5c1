package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/guildworks/guildpass-backend/pkg/enums"
)

// AutoApprovalRule configures automatic application approval. Rules are
// evaluated in creation order; the first match wins.
type AutoApprovalRule struct {
	ID             uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Pattern        string              `gorm:"column:pattern;not null"`
	MatchType      enums.RuleMatchType `gorm:"column:match_type;type:rule_match_type;not null;default:'regex'"`
	Tier           enums.Tier          `gorm:"column:tier;type:tier;not null"`
	TierMode       enums.RuleTierMode  `gorm:"column:tier_mode;type:rule_tier_mode;not null;default:'fixed'"`
	DurationMonths int                 `gorm:"column:duration_months;not null;default:0"`
	DurationDays   int                 `gorm:"column:duration_days;not null;default:0"`
	Active         bool                `gorm:"column:active;not null;default:true"`
	CreatedAt      time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
