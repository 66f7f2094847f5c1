package enums

import "fmt"

// OperationAction maps to the operation_action enum in Postgres and names
// every state-mutating operation recorded in the audit log.
type OperationAction string

const (
	ActionSubscriptionUpsert     OperationAction = "subscription_upsert"
	ActionSubscriptionExtend     OperationAction = "subscription_extend"
	ActionSubscriptionSetTier    OperationAction = "subscription_set_tier"
	ActionSubscriptionSetActive  OperationAction = "subscription_set_active"
	ActionSubscriptionWarn       OperationAction = "subscription_warn"
	ActionSubscriptionDowngrade  OperationAction = "subscription_downgrade"
	ActionSubscriptionRenew      OperationAction = "subscription_renew"
	ActionSubscriptionMigrate    OperationAction = "subscription_migrate"
	ActionSubscriptionDeactivate OperationAction = "subscription_deactivate"
	ActionSubscriptionRoleRepair OperationAction = "subscription_role_repair"
	ActionKeyIssue               OperationAction = "key_issue"
	ActionKeyRedeem              OperationAction = "key_redeem"
	ActionApplicationSubmit      OperationAction = "application_submit"
	ActionApplicationApprove     OperationAction = "application_approve"
	ActionApplicationReject      OperationAction = "application_reject"
	ActionApplicationHold        OperationAction = "application_hold"
	ActionRuleCreate             OperationAction = "rule_create"
	ActionRuleToggle             OperationAction = "rule_toggle"
)

var validOperationActions = []OperationAction{
	ActionSubscriptionUpsert,
	ActionSubscriptionExtend,
	ActionSubscriptionSetTier,
	ActionSubscriptionSetActive,
	ActionSubscriptionWarn,
	ActionSubscriptionDowngrade,
	ActionSubscriptionRenew,
	ActionSubscriptionMigrate,
	ActionSubscriptionDeactivate,
	ActionSubscriptionRoleRepair,
	ActionKeyIssue,
	ActionKeyRedeem,
	ActionApplicationSubmit,
	ActionApplicationApprove,
	ActionApplicationReject,
	ActionApplicationHold,
	ActionRuleCreate,
	ActionRuleToggle,
}

// String implements fmt.Stringer.
func (a OperationAction) String() string {
	return string(a)
}

// IsValid reports whether the value is known.
func (a OperationAction) IsValid() bool {
	for _, candidate := range validOperationActions {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOperationAction converts raw input into an OperationAction.
func ParseOperationAction(value string) (OperationAction, error) {
	for _, candidate := range validOperationActions {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid operation action %q", value)
}
