package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/guildworks/guildpass-backend/pkg/enums"
)

// SubscriptionExpiringEvent is the single-shot warning emitted inside the
// lead window before a subscription lapses.
type SubscriptionExpiringEvent struct {
	GuildID       string     `json:"guildId"`
	HolderID      string     `json:"holderId"`
	Tier          enums.Tier `json:"tier"`
	ExpiresAt     time.Time  `json:"expiresAt"`
	DaysUntilLoss int        `json:"daysUntilLoss"`
	AutoRenew     bool       `json:"autoRenew"`
}

// SubscriptionRenewedEvent reports a sweep-driven renewal.
type SubscriptionRenewedEvent struct {
	GuildID      string     `json:"guildId"`
	HolderID     string     `json:"holderId"`
	Tier         enums.Tier `json:"tier"`
	OldExpiresAt time.Time  `json:"oldExpiresAt"`
	NewExpiresAt time.Time  `json:"newExpiresAt"`
}

// SubscriptionDowngradedEvent reports an expired subscription dropping to free.
type SubscriptionDowngradedEvent struct {
	GuildID      string     `json:"guildId"`
	HolderID     string     `json:"holderId"`
	PreviousTier enums.Tier `json:"previousTier"`
	ExpiredAt    time.Time  `json:"expiredAt"`
}

// SubscriptionMigratedEvent reports a subscription moving between guilds.
type SubscriptionMigratedEvent struct {
	FromGuildID string     `json:"fromGuildId"`
	ToGuildID   string     `json:"toGuildId"`
	HolderID    string     `json:"holderId"`
	Tier        enums.Tier `json:"tier"`
	MigratedAt  time.Time  `json:"migratedAt"`
}

// KeyIssuedEvent reports a freshly minted license key.
type KeyIssuedEvent struct {
	Key            string     `json:"key"`
	Tier           enums.Tier `json:"tier"`
	DurationMonths int        `json:"durationMonths"`
	DurationDays   int        `json:"durationDays"`
	ReservedFor    *string    `json:"reservedFor,omitempty"`
	IssuedBy       string     `json:"issuedBy"`
}

// KeyRedeemedEvent reports a successful redemption and the resulting expiry.
type KeyRedeemedEvent struct {
	Key          string     `json:"key"`
	GuildID      string     `json:"guildId"`
	HolderID     string     `json:"holderId"`
	Tier         enums.Tier `json:"tier"`
	NewExpiresAt time.Time  `json:"newExpiresAt"`
	RedeemedAt   time.Time  `json:"redeemedAt"`
}

// ApplicationSubmittedEvent reports a parsed purchase application entering
// the review queue.
type ApplicationSubmittedEvent struct {
	ApplicationID uuid.UUID   `json:"applicationId"`
	HolderID      string      `json:"holderId"`
	GuildID       string      `json:"guildId"`
	PurchaseName  string      `json:"purchaseName,omitempty"`
	Tier          *enums.Tier `json:"tier,omitempty"`
	AutoProcessed bool        `json:"autoProcessed"`
}

// ApplicationApprovedEvent reports an approval and the key minted for it.
type ApplicationApprovedEvent struct {
	ApplicationID uuid.UUID  `json:"applicationId"`
	HolderID      string     `json:"holderId"`
	GuildID       string     `json:"guildId"`
	Tier          enums.Tier `json:"tier"`
	IssuedKey     string     `json:"issuedKey"`
	ApprovedBy    string     `json:"approvedBy"`
	AutoProcessed bool       `json:"autoProcessed"`
}

// ApplicationRejectedEvent reports a rejection with its operator note.
type ApplicationRejectedEvent struct {
	ApplicationID uuid.UUID `json:"applicationId"`
	HolderID      string    `json:"holderId"`
	GuildID       string    `json:"guildId"`
	Reason        string    `json:"reason,omitempty"`
	RejectedBy    string    `json:"rejectedBy"`
}
