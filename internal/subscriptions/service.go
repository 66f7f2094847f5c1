package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/guildworks/guildpass-backend/internal/oplog"
	"github.com/guildworks/guildpass-backend/pkg/config"
	"github.com/guildworks/guildpass-backend/pkg/db/models"
	"github.com/guildworks/guildpass-backend/pkg/enums"
	pkgerrors "github.com/guildworks/guildpass-backend/pkg/errors"
	"github.com/guildworks/guildpass-backend/pkg/logger"
	"github.com/guildworks/guildpass-backend/pkg/outbox"
	"github.com/guildworks/guildpass-backend/pkg/outbox/payloads"
)

type repository interface {
	FindByGuild(ctx context.Context, guildID string) (*models.Subscription, error)
	FindByGuildTx(tx *gorm.DB, guildID string) (*models.Subscription, error)
	CountActivePaidByHolderTx(tx *gorm.DB, holderID, excludeGuildID string) (int64, error)
	UpsertTx(tx *gorm.DB, sub *models.Subscription) error
	SaveTx(tx *gorm.DB, sub *models.Subscription) error
	MoveGuildTx(tx *gorm.DB, fromGuildID, toGuildID string, migratedAt time.Time) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type oplogAppender interface {
	Append(ctx context.Context, tx *gorm.DB, entry oplog.Entry) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type roleApplier interface {
	ApplyTierRoles(ctx context.Context, guildID, holderID string, tier enums.Tier) bool
}

// DurationSpec is an additive months+days extension; both zero is invalid
// where a duration is required.
type DurationSpec struct {
	Months int
	Days   int
}

func (d DurationSpec) isZero() bool {
	return d.Months <= 0 && d.Days <= 0
}

func (d DurationSpec) addTo(base time.Time) time.Time {
	return base.AddDate(0, d.Months, d.Days)
}

// ServiceParams wires the subscription service dependencies.
type ServiceParams struct {
	Repo      repository
	DB        txRunner
	Oplog     oplogAppender
	Outbox    outboxEmitter
	Roles     roleApplier
	Logger    *logger.Logger
	Lifecycle config.LifecycleConfig
}

// Service owns the entitlement store: one subscription per guild. State
// changes commit first; role side effects run best-effort after commit.
type Service struct {
	repo     repository
	db       txRunner
	oplog    oplogAppender
	outbox   outboxEmitter
	roles    roleApplier
	logg     *logger.Logger
	cooldown time.Duration
	now      func() time.Time
}

// NewService builds the subscription service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("subscription repository required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Oplog == nil {
		return nil, fmt.Errorf("oplog service required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox service required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	cooldown := params.Lifecycle.MigrationCooldown
	if cooldown <= 0 {
		cooldown = 30 * 24 * time.Hour
	}
	return &Service{
		repo:     params.Repo,
		db:       params.DB,
		oplog:    params.Oplog,
		outbox:   params.Outbox,
		roles:    params.Roles,
		logg:     params.Logger,
		cooldown: cooldown,
		now:      time.Now,
	}, nil
}

// UpsertInput describes a create-or-update request from the dashboard.
type UpsertInput struct {
	GuildID   string
	HolderID  string
	Tier      enums.Tier
	Duration  DurationSpec
	AutoRenew bool
	Notes     string
}

// CreateOrUpdate writes the guild's entitlement in one atomic upsert. Paid
// tiers get expiry = now + duration; free tier stores no expiry.
func (s *Service) CreateOrUpdate(ctx context.Context, operator string, input UpsertInput) (*models.Subscription, error) {
	guildID := strings.TrimSpace(input.GuildID)
	holderID := strings.TrimSpace(input.HolderID)
	if guildID == "" || holderID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "guild id and holder id are required")
	}
	if !input.Tier.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid tier")
	}
	if input.Tier.IsPaid() && input.Duration.isZero() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "paid tiers require a duration")
	}

	now := s.now().UTC()
	sub := &models.Subscription{
		GuildID:   guildID,
		HolderID:  holderID,
		Tier:      input.Tier,
		Active:    true,
		AutoRenew: input.AutoRenew,
		Notes:     input.Notes,
	}
	if input.Tier.IsPaid() {
		expiry := input.Duration.addTo(now)
		sub.ExpiresAt = &expiry
	}

	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		if input.Tier.IsPaid() {
			if err := s.checkSeat(tx, holderID, guildID); err != nil {
				return err
			}
		}
		if err := s.repo.UpsertTx(tx, sub); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "upsert subscription")
		}
		return s.oplog.Append(ctx, tx, oplog.Entry{
			Operator: operator,
			Target:   guildID,
			Action:   enums.ActionSubscriptionUpsert,
			Details:  fmt.Sprintf("tier=%s holder=%s", input.Tier.Display(), holderID),
			Metadata: map[string]any{"auto_renew": input.AutoRenew, "expires_at": sub.ExpiresAt},
		})
	})
	if err != nil {
		return nil, err
	}

	s.applyRolesBestEffort(ctx, guildID, holderID, input.Tier)
	return sub, nil
}

// Extend stacks a duration onto the guild's entitlement. The base is the
// later of now and the stored expiry, so extending never shortens and an
// expired row restarts from now.
func (s *Service) Extend(ctx context.Context, operator, guildID string, duration DurationSpec) (*time.Time, error) {
	if strings.TrimSpace(guildID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "guild id is required")
	}
	if duration.isZero() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "duration must be positive")
	}

	var newExpiry time.Time
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		sub, err := s.repo.FindByGuildTx(tx, guildID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
		}

		newExpiry = duration.addTo(extensionBase(s.now().UTC(), sub.ExpiresAt))
		sub.ExpiresAt = &newExpiry
		sub.WarningSent = false
		if err := s.repo.SaveTx(tx, sub); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save subscription")
		}
		return s.oplog.Append(ctx, tx, oplog.Entry{
			Operator: operator,
			Target:   guildID,
			Action:   enums.ActionSubscriptionExtend,
			Details:  fmt.Sprintf("months=%d days=%d", duration.Months, duration.Days),
			Metadata: map[string]any{"new_expires_at": newExpiry},
		})
	})
	if err != nil {
		return nil, err
	}
	return &newExpiry, nil
}

// SetTier changes the tier without touching expiry. Dropping to free clears
// the expiry and warning flag.
func (s *Service) SetTier(ctx context.Context, operator, guildID string, tier enums.Tier) (*models.Subscription, error) {
	if strings.TrimSpace(guildID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "guild id is required")
	}
	if !tier.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid tier")
	}

	var updated *models.Subscription
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		sub, err := s.repo.FindByGuildTx(tx, guildID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
		}
		if tier.IsPaid() && !sub.Tier.IsPaid() {
			if err := s.checkSeat(tx, sub.HolderID, guildID); err != nil {
				return err
			}
		}

		sub.Tier = tier
		if tier == enums.TierFree {
			sub.ExpiresAt = nil
			sub.WarningSent = false
		}
		if err := s.repo.SaveTx(tx, sub); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save subscription")
		}
		updated = sub
		return s.oplog.Append(ctx, tx, oplog.Entry{
			Operator: operator,
			Target:   guildID,
			Action:   enums.ActionSubscriptionSetTier,
			Details:  fmt.Sprintf("tier=%s", tier.Display()),
		})
	})
	if err != nil {
		return nil, err
	}

	s.applyRolesBestEffort(ctx, updated.GuildID, updated.HolderID, updated.Tier)
	return updated, nil
}

// SetActive toggles the soft-delete flag.
func (s *Service) SetActive(ctx context.Context, operator, guildID string, active bool) (*models.Subscription, error) {
	if strings.TrimSpace(guildID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "guild id is required")
	}

	var updated *models.Subscription
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		sub, err := s.repo.FindByGuildTx(tx, guildID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
		}
		if sub.Active == active {
			updated = sub
			return nil
		}
		if active && sub.Tier.IsPaid() {
			if err := s.checkSeat(tx, sub.HolderID, guildID); err != nil {
				return err
			}
		}

		sub.Active = active
		if err := s.repo.SaveTx(tx, sub); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save subscription")
		}
		updated = sub
		return s.oplog.Append(ctx, tx, oplog.Entry{
			Operator: operator,
			Target:   guildID,
			Action:   enums.ActionSubscriptionSetActive,
			Details:  fmt.Sprintf("active=%t", active),
		})
	})
	if err != nil {
		return nil, err
	}

	tier := updated.Tier
	if !active {
		tier = enums.TierFree
	}
	s.applyRolesBestEffort(ctx, updated.GuildID, updated.HolderID, tier)
	return updated, nil
}

// Migrate moves a holder's entitlement to a new guild. Guarded by the
// migration cooldown and by the target guild being free of a subscription.
func (s *Service) Migrate(ctx context.Context, operator, fromGuildID, toGuildID string) (*models.Subscription, error) {
	fromGuildID = strings.TrimSpace(fromGuildID)
	toGuildID = strings.TrimSpace(toGuildID)
	if fromGuildID == "" || toGuildID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "source and target guild ids are required")
	}
	if fromGuildID == toGuildID {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "target guild must differ from source")
	}

	now := s.now().UTC()
	var moved *models.Subscription
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		sub, err := s.repo.FindByGuildTx(tx, fromGuildID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
		}
		if sub.LastMigratedAt != nil && now.Sub(*sub.LastMigratedAt) < s.cooldown {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "migration cooldown has not elapsed")
		}
		if _, err := s.repo.FindByGuildTx(tx, toGuildID); err == nil {
			return pkgerrors.New(pkgerrors.CodeConflict, "target guild already has a subscription")
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check target guild")
		}

		if err := s.repo.MoveGuildTx(tx, fromGuildID, toGuildID, now); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "move subscription")
		}

		migrated := *sub
		migrated.GuildID = toGuildID
		migrated.MigrationCount = sub.MigrationCount + 1
		migrated.LastMigratedAt = &now
		moved = &migrated

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventSubscriptionMigrated,
			AggregateType: enums.AggregateSubscription,
			AggregateID:   toGuildID,
			Actor:         &outbox.ActorRef{Operator: operator},
			Data: payloads.SubscriptionMigratedEvent{
				FromGuildID: fromGuildID,
				ToGuildID:   toGuildID,
				HolderID:    sub.HolderID,
				Tier:        sub.Tier,
				MigratedAt:  now,
			},
			Version:    1,
			OccurredAt: now,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue migration event")
		}

		return s.oplog.Append(ctx, tx, oplog.Entry{
			Operator: operator,
			Target:   fromGuildID,
			Action:   enums.ActionSubscriptionMigrate,
			Details:  fmt.Sprintf("to_guild=%s", toGuildID),
			Metadata: map[string]any{"migration_count": migrated.MigrationCount},
		})
	})
	if err != nil {
		return nil, err
	}

	s.applyRolesBestEffort(ctx, fromGuildID, moved.HolderID, enums.TierFree)
	s.applyRolesBestEffort(ctx, toGuildID, moved.HolderID, moved.Tier)
	return moved, nil
}

// Get returns the guild's subscription.
func (s *Service) Get(ctx context.Context, guildID string) (*models.Subscription, error) {
	if strings.TrimSpace(guildID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "guild id is required")
	}
	sub, err := s.repo.FindByGuild(ctx, guildID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
	}
	return sub, nil
}

// ApplyRedemptionTx stacks a redeemed key's grant onto the guild's
// entitlement inside the caller's transaction. Returns the updated row.
func (s *Service) ApplyRedemptionTx(ctx context.Context, tx *gorm.DB, guildID, holderID string, tier enums.Tier, duration DurationSpec) (*models.Subscription, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	if duration.isZero() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "key carries no duration")
	}

	now := s.now().UTC()
	var base time.Time
	existing, err := s.repo.FindByGuildTx(tx, guildID)
	switch {
	case err == nil:
		base = extensionBase(now, existing.ExpiresAt)
	case errors.Is(err, gorm.ErrRecordNotFound):
		base = now
	default:
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
	}

	if tier.IsPaid() {
		if err := s.checkSeat(tx, holderID, guildID); err != nil {
			return nil, err
		}
	}

	expiry := duration.addTo(base)
	sub := &models.Subscription{
		GuildID:     guildID,
		HolderID:    holderID,
		Tier:        tier,
		ExpiresAt:   &expiry,
		Active:      true,
		WarningSent: false,
	}
	if existing != nil {
		sub.AutoRenew = existing.AutoRenew
		sub.Notes = existing.Notes
	}
	if err := s.repo.UpsertTx(tx, sub); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "upsert subscription")
	}
	return sub, nil
}

// ApplyTierRolesBestEffort exposes the post-commit role side effect to
// collaborators that manage their own transactions.
func (s *Service) ApplyTierRolesBestEffort(ctx context.Context, guildID, holderID string, tier enums.Tier) {
	s.applyRolesBestEffort(ctx, guildID, holderID, tier)
}

func (s *Service) applyRolesBestEffort(ctx context.Context, guildID, holderID string, tier enums.Tier) {
	if s.roles == nil {
		return
	}
	if ok := s.roles.ApplyTierRoles(ctx, guildID, holderID, tier); !ok {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"guild_id":  guildID,
			"holder_id": holderID,
			"tier":      tier,
		})
		s.logg.Warn(logCtx, "role sync deferred; holder not resolvable")
	}
}

// checkSeat enforces the one-paid-seat-per-holder rule. This is a write-time
// pre-check, not a storage constraint: two near-simultaneous activations can
// both pass it.
func (s *Service) checkSeat(tx *gorm.DB, holderID, excludeGuildID string) error {
	count, err := s.repo.CountActivePaidByHolderTx(tx, holderID, excludeGuildID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count holder seats")
	}
	if count > 0 {
		return pkgerrors.New(pkgerrors.CodeConflict, "holder already occupies a paid seat")
	}
	return nil
}

// extensionBase returns the later of now and the stored expiry so stacking
// never shortens an unexpired entitlement.
func extensionBase(now time.Time, expiresAt *time.Time) time.Time {
	if expiresAt != nil && expiresAt.After(now) {
		return *expiresAt
	}
	return now
}
