package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/guildworks/guildpass-backend/pkg/enums"
)

// Application is a purchase application submitted through the bot. At most
// one row exists per (holder_id, guild_id); a resubmission overwrites the
// earlier record instead of duplicating it.
type Application struct {
	ID            uuid.UUID               `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	MessageRef    string                  `gorm:"column:message_ref;not null"`
	AuthorID      string                  `gorm:"column:author_id;not null"`
	AuthorName    string                  `gorm:"column:author_name;not null"`
	Content       string                  `gorm:"column:content;type:text;not null"`
	HolderID      string                  `gorm:"column:holder_id;not null;uniqueIndex:ux_applications_holder_guild"`
	GuildID       string                  `gorm:"column:guild_id;not null;uniqueIndex:ux_applications_holder_guild"`
	Tier          *enums.Tier             `gorm:"column:tier;type:tier"`
	PurchaseName  string                  `gorm:"column:purchase_name;not null"`
	Amount        decimal.NullDecimal     `gorm:"column:amount;type:numeric(12,2)"`
	Status        enums.ApplicationStatus `gorm:"column:status;type:application_status;not null;default:'pending'"`
	IssuedKey     *string                 `gorm:"column:issued_key"`
	AutoProcessed bool                    `gorm:"column:auto_processed;not null;default:false"`
	CreatedAt     time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}
