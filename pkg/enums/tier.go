package enums

import (
	"fmt"
	"strings"
)

// Tier maps to the tier enum in Postgres.
type Tier string

const (
	TierFree         Tier = "free"
	TierPro          Tier = "pro"
	TierProPlus      Tier = "pro_plus"
	TierTrialPro     Tier = "trial_pro"
	TierTrialProPlus Tier = "trial_pro_plus"
)

var validTiers = []Tier{
	TierFree,
	TierPro,
	TierProPlus,
	TierTrialPro,
	TierTrialProPlus,
}

// tierSpellings are the literal tokens accepted from applications and API
// payloads, matched case-insensitively.
var tierSpellings = map[string]Tier{
	"free":      TierFree,
	"pro":       TierPro,
	"pro+":      TierProPlus,
	"trialpro":  TierTrialPro,
	"trialpro+": TierTrialProPlus,
}

// String implements fmt.Stringer.
func (t Tier) String() string {
	return string(t)
}

// IsValid reports whether the value is known.
func (t Tier) IsValid() bool {
	for _, candidate := range validTiers {
		if candidate == t {
			return true
		}
	}
	return false
}

// IsPaid reports whether the tier occupies a paid seat.
func (t Tier) IsPaid() bool {
	return t.IsValid() && t != TierFree
}

// Display returns the user-facing spelling of the tier.
func (t Tier) Display() string {
	switch t {
	case TierFree:
		return "Free"
	case TierPro:
		return "Pro"
	case TierProPlus:
		return "Pro+"
	case TierTrialPro:
		return "TrialPro"
	case TierTrialProPlus:
		return "TrialPro+"
	}
	return string(t)
}

// ParseTier converts raw storage input into a Tier.
func ParseTier(value string) (Tier, error) {
	for _, candidate := range validTiers {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid tier %q", value)
}

// ParseTierToken resolves one of the recognized user-facing spellings
// (Pro, Pro+, TrialPro, TrialPro+ and Free), case-insensitive. Any other
// token is rejected.
func ParseTierToken(value string) (Tier, error) {
	tier, ok := tierSpellings[strings.ToLower(strings.TrimSpace(value))]
	if !ok {
		return "", fmt.Errorf("unrecognized tier token %q", value)
	}
	return tier, nil
}
