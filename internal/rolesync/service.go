package rolesync

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/guildworks/guildpass-backend/internal/oplog"
	"github.com/guildworks/guildpass-backend/pkg/config"
	"github.com/guildworks/guildpass-backend/pkg/db/models"
	"github.com/guildworks/guildpass-backend/pkg/discord"
	"github.com/guildworks/guildpass-backend/pkg/enums"
	pkgerrors "github.com/guildworks/guildpass-backend/pkg/errors"
	"github.com/guildworks/guildpass-backend/pkg/logger"
)

type directory interface {
	ResolveMember(ctx context.Context, guildID, userID string) (*discord.Member, error)
	ListMembers(ctx context.Context, guildID string) ([]discord.Member, error)
	GrantRole(ctx context.Context, guildID, userID, roleID string) error
	RevokeRole(ctx context.Context, guildID, userID, roleID string) error
}

type store interface {
	ByHolder(ctx context.Context) (map[string]models.Subscription, error)
	SaveTx(tx *gorm.DB, sub *models.Subscription) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type oplogAppender interface {
	Append(ctx context.Context, tx *gorm.DB, entry oplog.Entry) error
}

// reconcileOperator is the actor recorded for sweep-driven role repairs.
const reconcileOperator = "role-reconciler"

// ServiceParams wires the role synchronizer dependencies.
type ServiceParams struct {
	Directory directory
	Store     store
	DB        txRunner
	Oplog     oplogAppender
	Logger    *logger.Logger
	Roles     config.RolesConfig
}

// Service keeps role grants in the membership system and stored tiers
// consistent, in both directions.
type Service struct {
	directory directory
	store     store
	db        txRunner
	oplog     oplogAppender
	logg      *logger.Logger
	roles     config.RolesConfig
}

// NewService builds the role synchronizer.
func NewService(params ServiceParams) (*Service, error) {
	if params.Directory == nil {
		return nil, fmt.Errorf("membership directory required")
	}
	if params.Store == nil {
		return nil, fmt.Errorf("subscription store required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Oplog == nil {
		return nil, fmt.Errorf("oplog service required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Roles.ProRoleID == "" || params.Roles.ProPlusRoleID == "" {
		return nil, fmt.Errorf("tier role ids required")
	}
	return &Service{
		directory: params.Directory,
		store:     params.Store,
		db:        params.DB,
		oplog:     params.Oplog,
		logg:      params.Logger,
		roles:     params.Roles,
	}, nil
}

// roleForTier maps a tier to the single role it grants. Trial tiers share
// the role of the paid tier they preview. Free grants nothing.
func (s *Service) roleForTier(tier enums.Tier) string {
	switch tier {
	case enums.TierPro, enums.TierTrialPro:
		return s.roles.ProRoleID
	case enums.TierProPlus, enums.TierTrialProPlus:
		return s.roles.ProPlusRoleID
	}
	return ""
}

// impliedTier derives the tier a member's current roles grant. The Pro+
// role wins when both are somehow held.
func (s *Service) impliedTier(member discord.Member) enums.Tier {
	if member.HasRole(s.roles.ProPlusRoleID) {
		return enums.TierProPlus
	}
	if member.HasRole(s.roles.ProRoleID) {
		return enums.TierPro
	}
	return enums.TierFree
}

// ApplyTierRoles revokes both tier roles the holder should not have and
// grants the one matching the target tier. Returns false, without error,
// when the holder cannot be resolved in the guild.
func (s *Service) ApplyTierRoles(ctx context.Context, guildID, holderID string, tier enums.Tier) bool {
	member, err := s.directory.ResolveMember(ctx, guildID, holderID)
	if err != nil {
		logCtx := s.logg.WithHolderID(s.logg.WithGuildID(ctx, guildID), holderID)
		s.logg.Error(logCtx, "resolve member failed", err)
		return false
	}
	if member == nil {
		return false
	}

	target := s.roleForTier(tier)
	for _, roleID := range []string{s.roles.ProRoleID, s.roles.ProPlusRoleID} {
		if roleID == target || !member.HasRole(roleID) {
			continue
		}
		if err := s.directory.RevokeRole(ctx, guildID, holderID, roleID); err != nil {
			logCtx := s.logg.WithHolderID(s.logg.WithGuildID(ctx, guildID), holderID)
			s.logg.Error(logCtx, "revoke role failed", err)
		}
	}
	if target != "" && !member.HasRole(target) {
		if err := s.directory.GrantRole(ctx, guildID, holderID, target); err != nil {
			logCtx := s.logg.WithHolderID(s.logg.WithGuildID(ctx, guildID), holderID)
			s.logg.Error(logCtx, "grant role failed", err)
		}
	}
	return true
}

// Report summarizes one reconciliation pass.
type Report struct {
	Members int
	Updated int
	Errors  []error
}

// ReconcileAll walks every member of the guild and resolves disagreements
// between held roles and the store. Held roles are the authority: a paid
// role not reflected in the store repairs the stored tier, and a stored
// paid subscription whose roles were externally revoked is deactivated. A
// failure on one member is collected and does not stop the pass.
func (s *Service) ReconcileAll(ctx context.Context, guildID string) (*Report, error) {
	members, err := s.directory.ListMembers(ctx, guildID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list members")
	}
	byHolder, err := s.store.ByHolder(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscriptions")
	}

	report := &Report{Members: len(members)}
	for _, member := range members {
		changed, err := s.reconcileMember(ctx, member, byHolder)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Errorf("member %s: %w", member.UserID, err))
			continue
		}
		if changed {
			report.Updated++
		}
	}
	return report, nil
}

func (s *Service) reconcileMember(ctx context.Context, member discord.Member, byHolder map[string]models.Subscription) (bool, error) {
	implied := s.impliedTier(member)
	stored, ok := byHolder[member.UserID]

	if implied == enums.TierFree {
		if !ok || !stored.Tier.IsPaid() || !stored.Active {
			return false, nil
		}
		// The role grant was revoked outside the store. Deactivation, not a
		// downgrade: the row keeps its tier and expiry for review.
		return true, s.db.WithTx(ctx, func(tx *gorm.DB) error {
			stored.Active = false
			if err := s.store.SaveTx(tx, &stored); err != nil {
				return err
			}
			return s.oplog.Append(ctx, tx, oplog.Entry{
				Operator: reconcileOperator,
				Target:   stored.GuildID,
				Action:   enums.ActionSubscriptionDeactivate,
				Details:  fmt.Sprintf("holder=%s roles externally revoked", member.UserID),
			})
		})
	}

	// Member holds a paid role with no subscription row to repair.
	if !ok {
		return false, nil
	}
	if s.roleForTier(stored.Tier) == s.roleForTier(implied) && stored.Active {
		return false, nil
	}

	previous := stored.Tier
	return true, s.db.WithTx(ctx, func(tx *gorm.DB) error {
		if s.roleForTier(stored.Tier) != s.roleForTier(implied) {
			stored.Tier = implied
		}
		stored.Active = true
		if err := s.store.SaveTx(tx, &stored); err != nil {
			return err
		}
		return s.oplog.Append(ctx, tx, oplog.Entry{
			Operator: reconcileOperator,
			Target:   stored.GuildID,
			Action:   enums.ActionSubscriptionRoleRepair,
			Details:  fmt.Sprintf("holder=%s tier %s -> %s", member.UserID, previous.Display(), stored.Tier.Display()),
		})
	})
}

// SyncHolder re-applies the stored tier's roles for one guild, or strips
// paid roles when no active paid row exists. Used by the manual repair
// endpoint.
func (s *Service) SyncHolder(ctx context.Context, guildID, holderID string, stored *models.Subscription) bool {
	tier := enums.TierFree
	if stored != nil && stored.Active && stored.Tier.IsPaid() && !expired(stored, time.Now().UTC()) {
		tier = stored.Tier
	}
	return s.ApplyTierRoles(ctx, guildID, holderID, tier)
}

func expired(sub *models.Subscription, now time.Time) bool {
	return sub.ExpiresAt != nil && !sub.ExpiresAt.After(now)
}
