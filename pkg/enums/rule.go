package enums

import "fmt"

// RuleMatchType maps to the rule_match_type enum in Postgres.
type RuleMatchType string

const (
	RuleMatchRegex RuleMatchType = "regex"
	RuleMatchExact RuleMatchType = "exact"
	RuleMatchName  RuleMatchType = "name_match"
)

var validRuleMatchTypes = []RuleMatchType{
	RuleMatchRegex,
	RuleMatchExact,
	RuleMatchName,
}

// String implements fmt.Stringer.
func (m RuleMatchType) String() string {
	return string(m)
}

// IsValid reports whether the value is known.
func (m RuleMatchType) IsValid() bool {
	for _, candidate := range validRuleMatchTypes {
		if candidate == m {
			return true
		}
	}
	return false
}

// ParseRuleMatchType converts raw input into a RuleMatchType.
func ParseRuleMatchType(value string) (RuleMatchType, error) {
	for _, candidate := range validRuleMatchTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid rule match type %q", value)
}

// RuleTierMode maps to the rule_tier_mode enum in Postgres.
type RuleTierMode string

const (
	// RuleTierFixed always issues the rule's configured tier.
	RuleTierFixed RuleTierMode = "fixed"
	// RuleTierFollowApp prefers the tier parsed from the application when present.
	RuleTierFollowApp RuleTierMode = "follow_app"
)

var validRuleTierModes = []RuleTierMode{
	RuleTierFixed,
	RuleTierFollowApp,
}

// String implements fmt.Stringer.
func (m RuleTierMode) String() string {
	return string(m)
}

// IsValid reports whether the value is known.
func (m RuleTierMode) IsValid() bool {
	for _, candidate := range validRuleTierModes {
		if candidate == m {
			return true
		}
	}
	return false
}

// ParseRuleTierMode converts raw input into a RuleTierMode.
func ParseRuleTierMode(value string) (RuleTierMode, error) {
	for _, candidate := range validRuleTierModes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid rule tier mode %q", value)
}
