package licensekeys

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/guildworks/guildpass-backend/internal/oplog"
	"github.com/guildworks/guildpass-backend/internal/subscriptions"
	"github.com/guildworks/guildpass-backend/pkg/db"
	"github.com/guildworks/guildpass-backend/pkg/db/models"
	"github.com/guildworks/guildpass-backend/pkg/enums"
	pkgerrors "github.com/guildworks/guildpass-backend/pkg/errors"
	"github.com/guildworks/guildpass-backend/pkg/logger"
	"github.com/guildworks/guildpass-backend/pkg/outbox"
	"github.com/guildworks/guildpass-backend/pkg/outbox/payloads"
)

// keyAlphabet drops ambiguous glyphs so keys survive manual transcription.
const keyAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const (
	keyPrefix       = "GP"
	keyGroupCount   = 3
	keyGroupLength  = 5
	maxGenerateTry  = 5
	maxIssueBatch   = 50
	defaultListSize = 50
)

type repository interface {
	CreateTx(tx *gorm.DB, key *models.LicenseKey) error
	FindByKey(ctx context.Context, key string) (*models.LicenseKey, error)
	FindByKeyTx(tx *gorm.DB, key string) (*models.LicenseKey, error)
	ConsumeTx(tx *gorm.DB, key, usedBy string, usedAt time.Time) (bool, error)
	List(ctx context.Context, opts listQuery) ([]models.LicenseKey, error)
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

type entitlementWriter interface {
	ApplyRedemptionTx(ctx context.Context, tx *gorm.DB, guildID, holderID string, tier enums.Tier, duration subscriptions.DurationSpec) (*models.Subscription, error)
	ApplyTierRolesBestEffort(ctx context.Context, guildID, holderID string, tier enums.Tier)
}

// ServiceParams wires the license key service dependencies.
type ServiceParams struct {
	Repo         repository
	DB           txRunner
	Oplog        oplogAppender
	Outbox       outboxEmitter
	Entitlements entitlementWriter
	Logger       *logger.Logger
}

// Service owns the key registry: issuance and single-use redemption.
type Service struct {
	repo         repository
	db           txRunner
	oplog        oplogAppender
	outbox       outboxEmitter
	entitlements entitlementWriter
	logg         *logger.Logger
	now          func() time.Time
	generateKey  func() (string, error)
}

// NewService builds the license key service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("license key repository required")
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
	if params.Entitlements == nil {
		return nil, fmt.Errorf("entitlement writer required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Service{
		repo:         params.Repo,
		db:           params.DB,
		oplog:        params.Oplog,
		outbox:       params.Outbox,
		entitlements: params.Entitlements,
		logg:         params.Logger,
		now:          time.Now,
		generateKey:  generateKey,
	}, nil
}

// IssueInput describes a key issuance request.
type IssueInput struct {
	Tier           enums.Tier
	DurationMonths int
	DurationDays   int
	ReservedFor    string
	Notes          string
	Count          int
}

// Issue mints one or more unused keys. Each key is generated from a CSPRNG
// and retried on the rare primary key collision.
func (s *Service) Issue(ctx context.Context, operator string, input IssueInput) ([]models.LicenseKey, error) {
	if !input.Tier.IsValid() || input.Tier == enums.TierFree {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "keys must grant a paid tier")
	}
	if input.DurationMonths <= 0 && input.DurationDays <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "key duration must be positive")
	}
	count := input.Count
	if count == 0 {
		count = 1
	}
	if count < 1 || count > maxIssueBatch {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("count must be between 1 and %d", maxIssueBatch))
	}

	now := s.now().UTC()
	reservedFor := strings.TrimSpace(input.ReservedFor)
	issued := make([]models.LicenseKey, 0, count)
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		for i := 0; i < count; i++ {
			row := models.LicenseKey{
				Tier:           input.Tier,
				DurationMonths: input.DurationMonths,
				DurationDays:   input.DurationDays,
				Notes:          input.Notes,
			}
			if reservedFor != "" {
				row.ReservedFor = &reservedFor
			}
			if err := s.insertWithRetry(tx, &row); err != nil {
				return err
			}

			if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventKeyIssued,
				AggregateType: enums.AggregateLicenseKey,
				AggregateID:   row.Key,
				Actor:         &outbox.ActorRef{Operator: operator},
				Data: payloads.KeyIssuedEvent{
					Key:            row.Key,
					Tier:           row.Tier,
					DurationMonths: row.DurationMonths,
					DurationDays:   row.DurationDays,
					ReservedFor:    row.ReservedFor,
					IssuedBy:       operator,
				},
				Version:    1,
				OccurredAt: now,
			}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue key issued event")
			}

			if err := s.oplog.Append(ctx, tx, oplog.Entry{
				Operator: operator,
				Target:   row.Key,
				Action:   enums.ActionKeyIssue,
				Details:  fmt.Sprintf("tier=%s months=%d days=%d", row.Tier.Display(), row.DurationMonths, row.DurationDays),
				Metadata: map[string]any{"reserved_for": reservedFor},
			}); err != nil {
				return err
			}
			issued = append(issued, row)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return issued, nil
}

// IssueReservedTx mints a single key inside the caller's transaction,
// reserved to the given holder. Application approval uses this so the key
// and the approval commit together.
func (s *Service) IssueReservedTx(ctx context.Context, tx *gorm.DB, operator string, tier enums.Tier, duration subscriptions.DurationSpec, reservedFor, notes string) (*models.LicenseKey, error) {
	if !tier.IsValid() || tier == enums.TierFree {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "keys must grant a paid tier")
	}
	if duration.Months <= 0 && duration.Days <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "key duration must be positive")
	}
	reservedFor = strings.TrimSpace(reservedFor)
	if reservedFor == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reserved holder is required")
	}

	row := models.LicenseKey{
		Tier:           tier,
		DurationMonths: duration.Months,
		DurationDays:   duration.Days,
		ReservedFor:    &reservedFor,
		Notes:          notes,
	}
	if err := s.insertWithRetry(tx, &row); err != nil {
		return nil, err
	}

	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventKeyIssued,
		AggregateType: enums.AggregateLicenseKey,
		AggregateID:   row.Key,
		Actor:         &outbox.ActorRef{Operator: operator},
		Data: payloads.KeyIssuedEvent{
			Key:            row.Key,
			Tier:           row.Tier,
			DurationMonths: row.DurationMonths,
			DurationDays:   row.DurationDays,
			ReservedFor:    row.ReservedFor,
			IssuedBy:       operator,
		},
		Version:    1,
		OccurredAt: s.now().UTC(),
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue key issued event")
	}

	if err := s.oplog.Append(ctx, tx, oplog.Entry{
		Operator: operator,
		Target:   row.Key,
		Action:   enums.ActionKeyIssue,
		Details:  fmt.Sprintf("tier=%s months=%d days=%d", row.Tier.Display(), row.DurationMonths, row.DurationDays),
		Metadata: map[string]any{"reserved_for": reservedFor},
	}); err != nil {
		return nil, err
	}
	return &row, nil
}

func (s *Service) insertWithRetry(tx *gorm.DB, row *models.LicenseKey) error {
	for attempt := 0; attempt < maxGenerateTry; attempt++ {
		key, err := s.generateKey()
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate key")
		}
		row.Key = key
		err = s.repo.CreateTx(tx, row)
		if err == nil {
			return nil
		}
		if !db.IsUniqueViolation(err, "license_keys_pkey") {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert key")
		}
	}
	return pkgerrors.New(pkgerrors.CodeInternal, "key generation kept colliding")
}

// RedeemInput describes a redemption attempt from the bot surface.
type RedeemInput struct {
	Key      string
	GuildID  string
	HolderID string
}

// RedeemResult reports the redeemed key and the entitlement it produced.
type RedeemResult struct {
	Key          *models.LicenseKey
	Subscription *models.Subscription
}

// Redeem consumes a key and stacks its grant onto the guild's entitlement in
// one transaction. The used flip is a conditional update, so under concurrent
// attempts exactly one caller wins; the rest get a conflict.
func (s *Service) Redeem(ctx context.Context, input RedeemInput) (*RedeemResult, error) {
	key := strings.TrimSpace(input.Key)
	guildID := strings.TrimSpace(input.GuildID)
	holderID := strings.TrimSpace(input.HolderID)
	if key == "" || guildID == "" || holderID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "key, guild id, and holder id are required")
	}

	now := s.now().UTC()
	var result RedeemResult
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		row, err := s.repo.FindByKeyTx(tx, key)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "unknown key")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load key")
		}
		if row.Used {
			return pkgerrors.New(pkgerrors.CodeConflict, "key already redeemed")
		}
		if row.ReservedFor != nil && *row.ReservedFor != holderID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "key is reserved for another holder")
		}

		won, err := s.repo.ConsumeTx(tx, key, holderID, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "consume key")
		}
		if !won {
			return pkgerrors.New(pkgerrors.CodeConflict, "key already redeemed")
		}

		sub, err := s.entitlements.ApplyRedemptionTx(ctx, tx, guildID, holderID, row.Tier, subscriptions.DurationSpec{
			Months: row.DurationMonths,
			Days:   row.DurationDays,
		})
		if err != nil {
			return err
		}

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventKeyRedeemed,
			AggregateType: enums.AggregateLicenseKey,
			AggregateID:   key,
			Actor:         &outbox.ActorRef{HolderID: holderID},
			Data: payloads.KeyRedeemedEvent{
				Key:          key,
				GuildID:      guildID,
				HolderID:     holderID,
				Tier:         row.Tier,
				NewExpiresAt: *sub.ExpiresAt,
				RedeemedAt:   now,
			},
			Version:    1,
			OccurredAt: now,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue key redeemed event")
		}

		if err := s.oplog.Append(ctx, tx, oplog.Entry{
			Operator: holderID,
			Target:   guildID,
			Action:   enums.ActionKeyRedeem,
			Details:  fmt.Sprintf("key=%s tier=%s", key, row.Tier.Display()),
			Metadata: map[string]any{"new_expires_at": sub.ExpiresAt},
		}); err != nil {
			return err
		}

		used := *row
		used.Used = true
		used.UsedBy = &holderID
		used.UsedAt = &now
		result.Key = &used
		result.Subscription = sub
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.entitlements.ApplyTierRolesBestEffort(ctx, guildID, holderID, result.Key.Tier)
	return &result, nil
}

// Inspect returns a key row without consuming it.
func (s *Service) Inspect(ctx context.Context, key string) (*models.LicenseKey, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "key is required")
	}
	row, err := s.repo.FindByKey(ctx, key)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "unknown key")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load key")
	}
	return row, nil
}

// ListParams filters the key listing.
type ListParams struct {
	Used  *bool
	Tier  string
	Limit int
}

// List returns keys newest-first.
func (s *Service) List(ctx context.Context, params ListParams) ([]models.LicenseKey, error) {
	limit := params.Limit
	if limit <= 0 || limit > defaultListSize {
		limit = defaultListSize
	}
	rows, err := s.repo.List(ctx, listQuery{used: params.Used, tier: params.Tier, limit: limit})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list keys")
	}
	return rows, nil
}

func generateKey() (string, error) {
	groups := make([]string, 0, keyGroupCount+1)
	groups = append(groups, keyPrefix)
	max := big.NewInt(int64(len(keyAlphabet)))
	for g := 0; g < keyGroupCount; g++ {
		var sb strings.Builder
		for i := 0; i < keyGroupLength; i++ {
			n, err := rand.Int(rand.Reader, max)
			if err != nil {
				return "", err
			}
			sb.WriteByte(keyAlphabet[n.Int64()])
		}
		groups = append(groups, sb.String())
	}
	return strings.Join(groups, "-"), nil
}
