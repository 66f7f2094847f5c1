package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/guildworks/guildpass-backend/internal/oplog"
	"github.com/guildworks/guildpass-backend/pkg/config"
	"github.com/guildworks/guildpass-backend/pkg/db/models"
	"github.com/guildworks/guildpass-backend/pkg/enums"
	"github.com/guildworks/guildpass-backend/pkg/logger"
	"github.com/guildworks/guildpass-backend/pkg/outbox"
	"github.com/guildworks/guildpass-backend/pkg/outbox/payloads"
)

const (
	defaultWarningLeadDays = 7
	defaultSweepBatch      = 250
	renewalPeriodMonths    = 1
)

// sweepOperator is the actor recorded for sweep-driven transitions.
const sweepOperator = "lifecycle-sweep"

type subscriptionSweepRepo interface {
	FindDueForSweep(ctx context.Context, cutoff time.Time, limit int) ([]models.Subscription, error)
	SaveTx(tx *gorm.DB, sub *models.Subscription) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type oplogAppender interface {
	Append(ctx context.Context, tx *gorm.DB, entry oplog.Entry) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type roleApplier interface {
	ApplyTierRoles(ctx context.Context, guildID, holderID string, tier enums.Tier) bool
}

// SubscriptionLifecycleJobParams configures the periodic sweep.
type SubscriptionLifecycleJobParams struct {
	Logger    *logger.Logger
	DB        txRunner
	Repo      subscriptionSweepRepo
	Oplog     oplogAppender
	Outbox    outboxEmitter
	Roles     roleApplier
	Lifecycle config.LifecycleConfig
}

// NewSubscriptionLifecycleJob constructs the sweep that warns, renews, and
// downgrades subscriptions as their expiry approaches and passes.
func NewSubscriptionLifecycleJob(params SubscriptionLifecycleJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("subscription repository required")
	}
	if params.Oplog == nil {
		return nil, fmt.Errorf("oplog service required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox service required")
	}
	leadDays := params.Lifecycle.WarningLeadDays
	if leadDays <= 0 {
		leadDays = defaultWarningLeadDays
	}
	batch := params.Lifecycle.BatchLimit
	if batch <= 0 {
		batch = defaultSweepBatch
	}
	return &subscriptionLifecycleJob{
		logg:     params.Logger,
		db:       params.DB,
		repo:     params.Repo,
		oplog:    params.Oplog,
		outbox:   params.Outbox,
		roles:    params.Roles,
		leadDays: leadDays,
		batch:    batch,
		now:      time.Now,
	}, nil
}

type subscriptionLifecycleJob struct {
	logg     *logger.Logger
	db       txRunner
	repo     subscriptionSweepRepo
	oplog    oplogAppender
	outbox   outboxEmitter
	roles    roleApplier
	leadDays int
	batch    int
	now      func() time.Time
}

func (j *subscriptionLifecycleJob) Name() string { return "subscription-lifecycle" }

// Run sweeps every active paid subscription whose expiry falls inside the
// warning window or has already passed. Each row is processed in its own
// transaction; one failure is collected and does not abort the batch.
func (j *subscriptionLifecycleJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	cutoff := now.Add(time.Duration(j.leadDays) * 24 * time.Hour)
	rows, err := j.repo.FindDueForSweep(ctx, cutoff, j.batch)
	if err != nil {
		return fmt.Errorf("query due subscriptions: %w", err)
	}

	var errs []error
	warned, renewed, downgraded := 0, 0, 0
	for i := range rows {
		sub := rows[i]
		switch {
		case sub.ExpiresAt.After(now):
			if sub.WarningSent {
				continue
			}
			if err := j.warn(ctx, now, sub); err != nil {
				errs = append(errs, fmt.Errorf("warn guild %s: %w", sub.GuildID, err))
				continue
			}
			warned++
		case sub.AutoRenew:
			if err := j.renew(ctx, now, sub); err != nil {
				errs = append(errs, fmt.Errorf("renew guild %s: %w", sub.GuildID, err))
				continue
			}
			renewed++
		default:
			if err := j.downgrade(ctx, now, sub); err != nil {
				errs = append(errs, fmt.Errorf("downgrade guild %s: %w", sub.GuildID, err))
				continue
			}
			downgraded++
		}
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"scanned":    len(rows),
		"warned":     warned,
		"renewed":    renewed,
		"downgraded": downgraded,
	})
	j.logg.Info(logCtx, "subscription sweep complete")
	return multierr.Combine(errs...)
}

// warn flags the row and queues the expiring notification. The warning_sent
// flag plus the outbox dedupe index make the notification single-shot even
// under re-entrant sweeps.
func (j *subscriptionLifecycleJob) warn(ctx context.Context, now time.Time, sub models.Subscription) error {
	return j.db.WithTx(ctx, func(tx *gorm.DB) error {
		sub.WarningSent = true
		if err := j.repo.SaveTx(tx, &sub); err != nil {
			return err
		}
		daysLeft := int(sub.ExpiresAt.Sub(now).Hours() / 24)
		if err := j.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventSubscriptionExpiring,
			AggregateType: enums.AggregateSubscription,
			AggregateID:   sub.GuildID,
			Data: payloads.SubscriptionExpiringEvent{
				GuildID:       sub.GuildID,
				HolderID:      sub.HolderID,
				Tier:          sub.Tier,
				ExpiresAt:     *sub.ExpiresAt,
				DaysUntilLoss: daysLeft,
				AutoRenew:     sub.AutoRenew,
			},
			Version:    1,
			OccurredAt: now,
		}); err != nil {
			return err
		}
		return j.oplog.Append(ctx, tx, oplog.Entry{
			Operator: sweepOperator,
			Target:   sub.GuildID,
			Action:   enums.ActionSubscriptionWarn,
			Details:  fmt.Sprintf("expiry %s, %d days out", sub.ExpiresAt.Format(time.RFC3339), daysLeft),
		})
	})
}

// renew extends by exactly one period from the stored expiry, not from now,
// so a late sweep does not inflate the new expiry. A row more than one
// period behind catches up incrementally across runs.
func (j *subscriptionLifecycleJob) renew(ctx context.Context, now time.Time, sub models.Subscription) error {
	oldExpiry := *sub.ExpiresAt
	newExpiry := oldExpiry.AddDate(0, renewalPeriodMonths, 0)
	return j.db.WithTx(ctx, func(tx *gorm.DB) error {
		sub.ExpiresAt = &newExpiry
		sub.WarningSent = false
		if err := j.repo.SaveTx(tx, &sub); err != nil {
			return err
		}
		if err := j.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventSubscriptionRenewed,
			AggregateType: enums.AggregateSubscription,
			AggregateID:   sub.GuildID,
			Data: payloads.SubscriptionRenewedEvent{
				GuildID:      sub.GuildID,
				HolderID:     sub.HolderID,
				Tier:         sub.Tier,
				OldExpiresAt: oldExpiry,
				NewExpiresAt: newExpiry,
			},
			Version:    1,
			OccurredAt: now,
		}); err != nil {
			return err
		}
		return j.oplog.Append(ctx, tx, oplog.Entry{
			Operator: sweepOperator,
			Target:   sub.GuildID,
			Action:   enums.ActionSubscriptionRenew,
			Details:  fmt.Sprintf("expiry %s -> %s", oldExpiry.Format(time.RFC3339), newExpiry.Format(time.RFC3339)),
		})
	})
}

// downgrade drops an expired, non-renewing row to the free tier and revokes
// paid roles after the transaction commits.
func (j *subscriptionLifecycleJob) downgrade(ctx context.Context, now time.Time, sub models.Subscription) error {
	previousTier := sub.Tier
	expiredAt := *sub.ExpiresAt
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		sub.Tier = enums.TierFree
		sub.ExpiresAt = nil
		sub.WarningSent = false
		if err := j.repo.SaveTx(tx, &sub); err != nil {
			return err
		}
		if err := j.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventSubscriptionDowngraded,
			AggregateType: enums.AggregateSubscription,
			AggregateID:   sub.GuildID,
			Data: payloads.SubscriptionDowngradedEvent{
				GuildID:      sub.GuildID,
				HolderID:     sub.HolderID,
				PreviousTier: previousTier,
				ExpiredAt:    expiredAt,
			},
			Version:    1,
			OccurredAt: now,
		}); err != nil {
			return err
		}
		return j.oplog.Append(ctx, tx, oplog.Entry{
			Operator: sweepOperator,
			Target:   sub.GuildID,
			Action:   enums.ActionSubscriptionDowngrade,
			Details:  fmt.Sprintf("tier %s -> %s", previousTier.Display(), enums.TierFree.Display()),
		})
	})
	if err != nil {
		return err
	}

	if j.roles != nil {
		if ok := j.roles.ApplyTierRoles(ctx, sub.GuildID, sub.HolderID, enums.TierFree); !ok {
			logCtx := j.logg.WithHolderID(j.logg.WithGuildID(ctx, sub.GuildID), sub.HolderID)
			j.logg.Warn(logCtx, "role revoke deferred; holder not resolvable")
		}
	}
	return nil
}
