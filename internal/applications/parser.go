package applications

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/guildworks/guildpass-backend/pkg/enums"
)

// Labeled-field patterns accepted in application messages. Labels are
// matched per line, case-insensitive, with ":" or "=" separators.
var (
	purchaseNamePattern = regexp.MustCompile(`(?im)^[ \t]*(?:purchase[ \t]*name|name[ \t]*on[ \t]*purchase|buyer)[ \t]*[:=][ \t]*(.+?)[ \t]*$`)
	holderIDPattern     = regexp.MustCompile(`(?im)^[ \t]*(?:holder|user|discord)[ \t]*(?:id)?[ \t]*[:=][ \t]*<?@?!?(\d{5,})>?[ \t]*$`)
	guildIDPattern      = regexp.MustCompile(`(?im)^[ \t]*(?:guild|server|group)[ \t]*(?:id)?[ \t]*[:=][ \t]*(\d{5,})[ \t]*$`)
	tierPattern         = regexp.MustCompile(`(?im)^[ \t]*(?:tier|plan)[ \t]*[:=][ \t]*([A-Za-z+]+)[ \t]*$`)
	amountPattern       = regexp.MustCompile(`(?im)^[ \t]*(?:amount|paid|price)[ \t]*[:=][ \t]*\$?([0-9]+(?:\.[0-9]{1,2})?)[ \t]*$`)
)

// ParsedApplication is the structured form of a purchase application.
type ParsedApplication struct {
	PurchaseName string
	HolderID     string
	GuildID      string
	Tier         enums.Tier
	Amount       decimal.NullDecimal
}

// Parse extracts the labeled fields from a free-text submission. It returns
// nil when the holder id, guild id, or tier is missing or unrecognized; a
// partial submission is discarded rather than stored. The purchase name and
// amount are optional.
func Parse(raw string) *ParsedApplication {
	holder := firstGroup(holderIDPattern, raw)
	guild := firstGroup(guildIDPattern, raw)
	tierToken := firstGroup(tierPattern, raw)
	if holder == "" || guild == "" || tierToken == "" {
		return nil
	}
	tier, err := enums.ParseTierToken(tierToken)
	if err != nil {
		return nil
	}
	// Applications only ever request a paid tier; the Free spelling stays
	// valid for API payloads but is not a purchasable plan.
	if !tier.IsPaid() {
		return nil
	}

	parsed := &ParsedApplication{
		PurchaseName: firstGroup(purchaseNamePattern, raw),
		HolderID:     holder,
		GuildID:      guild,
		Tier:         tier,
	}
	if rawAmount := firstGroup(amountPattern, raw); rawAmount != "" {
		if amount, err := decimal.NewFromString(rawAmount); err == nil {
			parsed.Amount = decimal.NewNullDecimal(amount)
		}
	}
	return parsed
}

func firstGroup(pattern *regexp.Regexp, raw string) string {
	match := pattern.FindStringSubmatch(raw)
	if len(match) < 2 {
		return ""
	}
	return strings.TrimSpace(match[1])
}
