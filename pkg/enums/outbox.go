package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateSubscription OutboxAggregateType = "subscription"
	AggregateLicenseKey   OutboxAggregateType = "license_key"
	AggregateApplication  OutboxAggregateType = "application"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateSubscription,
	AggregateLicenseKey,
	AggregateApplication,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventSubscriptionExpiring   OutboxEventType = "subscription_expiring"
	EventSubscriptionRenewed    OutboxEventType = "subscription_renewed"
	EventSubscriptionDowngraded OutboxEventType = "subscription_downgraded"
	EventSubscriptionMigrated   OutboxEventType = "subscription_migrated"
	EventKeyIssued              OutboxEventType = "key_issued"
	EventKeyRedeemed            OutboxEventType = "key_redeemed"
	EventApplicationSubmitted   OutboxEventType = "application_submitted"
	EventApplicationApproved    OutboxEventType = "application_approved"
	EventApplicationRejected    OutboxEventType = "application_rejected"
)

var validOutboxEventTypes = []OutboxEventType{
	EventSubscriptionExpiring,
	EventSubscriptionRenewed,
	EventSubscriptionDowngraded,
	EventSubscriptionMigrated,
	EventKeyIssued,
	EventKeyRedeemed,
	EventApplicationSubmitted,
	EventApplicationApproved,
	EventApplicationRejected,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid outbox event type %q", value)
}

// OutboxDLQErrorReason maps to the outbox_dlq_error_reason enum in Postgres.
type OutboxDLQErrorReason string

const (
	OutboxDLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts"
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
)

var validOutboxDLQReasons = []OutboxDLQErrorReason{
	OutboxDLQReasonMaxAttempts,
	OutboxDLQReasonNonRetryable,
}

// IsValid reports whether the value is known.
func (r OutboxDLQErrorReason) IsValid() bool {
	for _, candidate := range validOutboxDLQReasons {
		if candidate == r {
			return true
		}
	}
	return false
}
