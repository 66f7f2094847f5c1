package notify

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/guildworks/guildpass-backend/pkg/enums"
	"github.com/guildworks/guildpass-backend/pkg/outbox/payloads"
)

// renderedMessage is one event fanned out to its channels. An empty field
// means that channel is skipped.
type renderedMessage struct {
	webhook  string
	direct   string
	directTo string
}

const dateLayout = "2006-01-02"

func formatDate(t time.Time) string {
	return t.UTC().Format(dateLayout)
}

// render turns a domain event payload into operator and holder copy.
func render(eventType enums.OutboxEventType, data json.RawMessage) (*renderedMessage, error) {
	switch eventType {
	case enums.EventSubscriptionExpiring:
		var p payloads.SubscriptionExpiringEvent
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode expiring payload: %w", err)
		}
		msg := &renderedMessage{
			webhook:  fmt.Sprintf("Subscription for guild %s (%s) expires on %s.", p.GuildID, p.Tier.Display(), formatDate(p.ExpiresAt)),
			directTo: p.HolderID,
		}
		if p.AutoRenew {
			msg.direct = fmt.Sprintf("Your %s subscription renews automatically on %s.", p.Tier.Display(), formatDate(p.ExpiresAt))
		} else {
			msg.direct = fmt.Sprintf("Your %s subscription expires on %s (%d days left). Renew to keep your benefits.", p.Tier.Display(), formatDate(p.ExpiresAt), p.DaysUntilLoss)
		}
		return msg, nil

	case enums.EventSubscriptionRenewed:
		var p payloads.SubscriptionRenewedEvent
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode renewed payload: %w", err)
		}
		return &renderedMessage{
			webhook:  fmt.Sprintf("Subscription for guild %s renewed until %s.", p.GuildID, formatDate(p.NewExpiresAt)),
			direct:   fmt.Sprintf("Your %s subscription was renewed until %s.", p.Tier.Display(), formatDate(p.NewExpiresAt)),
			directTo: p.HolderID,
		}, nil

	case enums.EventSubscriptionDowngraded:
		var p payloads.SubscriptionDowngradedEvent
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode downgraded payload: %w", err)
		}
		return &renderedMessage{
			webhook:  fmt.Sprintf("Subscription for guild %s expired and dropped from %s to Free.", p.GuildID, p.PreviousTier.Display()),
			direct:   fmt.Sprintf("Your %s subscription expired on %s and was moved to the Free tier.", p.PreviousTier.Display(), formatDate(p.ExpiredAt)),
			directTo: p.HolderID,
		}, nil

	case enums.EventSubscriptionMigrated:
		var p payloads.SubscriptionMigratedEvent
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode migrated payload: %w", err)
		}
		return &renderedMessage{
			webhook:  fmt.Sprintf("Subscription moved from guild %s to guild %s (%s).", p.FromGuildID, p.ToGuildID, p.Tier.Display()),
			direct:   fmt.Sprintf("Your %s subscription now covers guild %s.", p.Tier.Display(), p.ToGuildID),
			directTo: p.HolderID,
		}, nil

	case enums.EventKeyIssued:
		var p payloads.KeyIssuedEvent
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode key issued payload: %w", err)
		}
		msg := &renderedMessage{
			webhook: fmt.Sprintf("Key issued: %s tier, %dm%dd, by %s.", p.Tier.Display(), p.DurationMonths, p.DurationDays, p.IssuedBy),
		}
		if p.ReservedFor != nil {
			msg.directTo = *p.ReservedFor
			msg.direct = fmt.Sprintf("A %s license key is waiting for you: `%s`. Redeem it in your guild.", p.Tier.Display(), p.Key)
		}
		return msg, nil

	case enums.EventKeyRedeemed:
		var p payloads.KeyRedeemedEvent
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode key redeemed payload: %w", err)
		}
		return &renderedMessage{
			webhook:  fmt.Sprintf("Key redeemed for guild %s: %s until %s.", p.GuildID, p.Tier.Display(), formatDate(p.NewExpiresAt)),
			direct:   fmt.Sprintf("Your %s subscription is active until %s. Enjoy!", p.Tier.Display(), formatDate(p.NewExpiresAt)),
			directTo: p.HolderID,
		}, nil

	case enums.EventApplicationSubmitted:
		var p payloads.ApplicationSubmittedEvent
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode application submitted payload: %w", err)
		}
		tier := "unknown"
		if p.Tier != nil {
			tier = p.Tier.Display()
		}
		return &renderedMessage{
			webhook: fmt.Sprintf("New application %s: holder %s, guild %s, tier %s.", p.ApplicationID, p.HolderID, p.GuildID, tier),
		}, nil

	case enums.EventApplicationApproved:
		var p payloads.ApplicationApprovedEvent
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode application approved payload: %w", err)
		}
		return &renderedMessage{
			webhook:  fmt.Sprintf("Application %s approved by %s (%s).", p.ApplicationID, p.ApprovedBy, p.Tier.Display()),
			direct:   fmt.Sprintf("Your application was approved! Redeem your %s key in guild %s: `%s`", p.Tier.Display(), p.GuildID, p.IssuedKey),
			directTo: p.HolderID,
		}, nil

	case enums.EventApplicationRejected:
		var p payloads.ApplicationRejectedEvent
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode application rejected payload: %w", err)
		}
		direct := "Your application was not approved."
		if p.Reason != "" {
			direct = fmt.Sprintf("Your application was not approved: %s", p.Reason)
		}
		return &renderedMessage{
			webhook:  fmt.Sprintf("Application %s rejected by %s.", p.ApplicationID, p.RejectedBy),
			direct:   direct,
			directTo: p.HolderID,
		}, nil
	}

	return nil, nil
}
