package applications

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/guildworks/guildpass-backend/internal/oplog"
	"github.com/guildworks/guildpass-backend/internal/subscriptions"
	"github.com/guildworks/guildpass-backend/pkg/db/models"
	"github.com/guildworks/guildpass-backend/pkg/enums"
	pkgerrors "github.com/guildworks/guildpass-backend/pkg/errors"
	"github.com/guildworks/guildpass-backend/pkg/logger"
	"github.com/guildworks/guildpass-backend/pkg/outbox"
	"github.com/guildworks/guildpass-backend/pkg/outbox/payloads"
)

// autoOperator is the actor recorded for rule-driven approvals.
const autoOperator = "auto-approval"

type appRepository interface {
	UpsertTx(tx *gorm.DB, app *models.Application) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Application, error)
	FindByIDTx(tx *gorm.DB, id uuid.UUID) (*models.Application, error)
	FindByHolderGuildTx(tx *gorm.DB, holderID, guildID string) (*models.Application, error)
	SaveTx(tx *gorm.DB, app *models.Application) error
	ListByStatus(ctx context.Context, status enums.ApplicationStatus, limit int) ([]models.Application, error)
}

type ruleRepository interface {
	CreateTx(tx *gorm.DB, rule *models.AutoApprovalRule) error
	ListActive(ctx context.Context) ([]models.AutoApprovalRule, error)
	List(ctx context.Context) ([]models.AutoApprovalRule, error)
	SetActiveTx(tx *gorm.DB, id uuid.UUID, active bool) error
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

type keyIssuer interface {
	IssueReservedTx(ctx context.Context, tx *gorm.DB, operator string, tier enums.Tier, duration subscriptions.DurationSpec, reservedFor, notes string) (*models.LicenseKey, error)
}

// ServiceParams wires the application service dependencies.
type ServiceParams struct {
	Repo   appRepository
	Rules  ruleRepository
	DB     txRunner
	Oplog  oplogAppender
	Outbox outboxEmitter
	Keys   keyIssuer
	Logger *logger.Logger
}

// Service owns the purchase application queue and its auto-approval rules.
type Service struct {
	repo   appRepository
	rules  ruleRepository
	db     txRunner
	oplog  oplogAppender
	outbox outboxEmitter
	keys   keyIssuer
	logg   *logger.Logger
	now    func() time.Time
}

// NewService builds the application service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("application repository required")
	}
	if params.Rules == nil {
		return nil, fmt.Errorf("rule repository required")
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
	if params.Keys == nil {
		return nil, fmt.Errorf("key issuer required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Service{
		repo:   params.Repo,
		rules:  params.Rules,
		db:     params.DB,
		oplog:  params.Oplog,
		outbox: params.Outbox,
		keys:   params.Keys,
		logg:   params.Logger,
		now:    time.Now,
	}, nil
}

// SubmitInput carries the raw message and its source metadata.
type SubmitInput struct {
	MessageRef string
	AuthorID   string
	AuthorName string
	Content    string
}

// SubmitResult reports the stored application and whether a rule approved it.
type SubmitResult struct {
	Application  *models.Application
	AutoApproved bool
	IssuedKey    *models.LicenseKey
}

// Submit parses and stores a purchase application, upserting by the parsed
// (holder, guild) pair so a resubmission overwrites the earlier record. If
// an active auto-approval rule matches, the application is approved in the
// same call and a reserved key is issued.
func (s *Service) Submit(ctx context.Context, input SubmitInput) (*SubmitResult, error) {
	if strings.TrimSpace(input.AuthorID) == "" || strings.TrimSpace(input.Content) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "author id and content are required")
	}
	parsed := Parse(input.Content)
	if parsed == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "application is missing a holder id, guild id, or recognized tier")
	}

	tier := parsed.Tier
	var stored *models.Application
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		app := &models.Application{
			MessageRef:   input.MessageRef,
			AuthorID:     input.AuthorID,
			AuthorName:   input.AuthorName,
			Content:      input.Content,
			HolderID:     parsed.HolderID,
			GuildID:      parsed.GuildID,
			Tier:         &tier,
			PurchaseName: parsed.PurchaseName,
			Amount:       parsed.Amount,
			Status:       enums.ApplicationStatusPending,
		}
		if err := s.repo.UpsertTx(tx, app); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "upsert application")
		}
		row, err := s.repo.FindByHolderGuildTx(tx, parsed.HolderID, parsed.GuildID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload application")
		}
		stored = row

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventApplicationSubmitted,
			AggregateType: enums.AggregateApplication,
			AggregateID:   row.ID.String(),
			Actor:         &outbox.ActorRef{HolderID: parsed.HolderID},
			Data: payloads.ApplicationSubmittedEvent{
				ApplicationID: row.ID,
				HolderID:      row.HolderID,
				GuildID:       row.GuildID,
				PurchaseName:  row.PurchaseName,
				Tier:          row.Tier,
			},
			Version:    1,
			OccurredAt: s.now().UTC(),
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue application submitted event")
		}

		return s.oplog.Append(ctx, tx, oplog.Entry{
			Operator: input.AuthorID,
			Target:   row.ID.String(),
			Action:   enums.ActionApplicationSubmit,
			Details:  fmt.Sprintf("holder=%s guild=%s tier=%s", row.HolderID, row.GuildID, tier.Display()),
		})
	})
	if err != nil {
		return nil, err
	}

	result := &SubmitResult{Application: stored}
	rule, err := s.EvaluateAutoApproval(ctx, stored)
	if err != nil {
		logCtx := s.logg.WithField(ctx, "application_id", stored.ID)
		s.logg.Error(logCtx, "auto-approval evaluation failed", err)
		return result, nil
	}
	if rule == nil {
		return result, nil
	}

	key, err := s.approve(ctx, autoOperator, stored.ID, rule, true)
	if err != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"application_id": stored.ID,
			"rule_id":        rule.ID,
		})
		s.logg.Error(logCtx, "auto-approval failed; application left pending", err)
		return result, nil
	}
	result.AutoApproved = true
	result.IssuedKey = key
	result.Application.Status = enums.ApplicationStatusApproved
	result.Application.IssuedKey = &key.Key
	result.Application.AutoProcessed = true
	return result, nil
}

// EvaluateAutoApproval iterates active rules in creation order and returns
// the first match, or nil when nothing matches.
func (s *Service) EvaluateAutoApproval(ctx context.Context, app *models.Application) (*models.AutoApprovalRule, error) {
	rules, err := s.rules.ListActive(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list active rules")
	}
	for i := range rules {
		rule := &rules[i]
		matched, err := ruleMatches(rule, app)
		if err != nil {
			logCtx := s.logg.WithField(ctx, "rule_id", rule.ID)
			s.logg.Warn(logCtx, "skipping rule with invalid pattern")
			continue
		}
		if matched {
			return rule, nil
		}
	}
	return nil, nil
}

func ruleMatches(rule *models.AutoApprovalRule, app *models.Application) (bool, error) {
	switch rule.MatchType {
	case enums.RuleMatchName:
		name := strings.TrimSpace(app.AuthorName)
		purchase := strings.TrimSpace(app.PurchaseName)
		return purchase != "" && strings.EqualFold(name, purchase), nil
	case enums.RuleMatchExact:
		return rule.Pattern == app.PurchaseName, nil
	default:
		re, err := regexp.Compile("(?i)" + rule.Pattern)
		if err != nil {
			return false, err
		}
		return re.MatchString(app.PurchaseName) || re.MatchString(app.Content), nil
	}
}

// Approve marks an application approved by an operator and issues a key
// reserved to the parsed holder, using the legacy tier defaults.
func (s *Service) Approve(ctx context.Context, operator string, applicationID uuid.UUID) (*models.LicenseKey, error) {
	return s.approve(ctx, operator, applicationID, nil, false)
}

func (s *Service) approve(ctx context.Context, operator string, applicationID uuid.UUID, rule *models.AutoApprovalRule, automatic bool) (*models.LicenseKey, error) {
	var issued *models.LicenseKey
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		app, err := s.findForReview(tx, applicationID)
		if err != nil {
			return err
		}

		tier, duration := effectiveGrant(app, rule, automatic)
		key, err := s.keys.IssueReservedTx(ctx, tx, operator, tier, duration, app.HolderID,
			fmt.Sprintf("application %s", app.ID))
		if err != nil {
			return err
		}

		app.Status = enums.ApplicationStatusApproved
		app.IssuedKey = &key.Key
		app.AutoProcessed = automatic
		if err := s.repo.SaveTx(tx, app); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save application")
		}

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventApplicationApproved,
			AggregateType: enums.AggregateApplication,
			AggregateID:   app.ID.String(),
			Actor:         &outbox.ActorRef{Operator: operator},
			Data: payloads.ApplicationApprovedEvent{
				ApplicationID: app.ID,
				HolderID:      app.HolderID,
				GuildID:       app.GuildID,
				Tier:          tier,
				IssuedKey:     key.Key,
				ApprovedBy:    operator,
				AutoProcessed: automatic,
			},
			Version:    1,
			OccurredAt: s.now().UTC(),
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue application approved event")
		}

		if err := s.oplog.Append(ctx, tx, oplog.Entry{
			Operator: operator,
			Target:   app.ID.String(),
			Action:   enums.ActionApplicationApprove,
			Details:  fmt.Sprintf("tier=%s key=%s auto=%t", tier.Display(), key.Key, automatic),
		}); err != nil {
			return err
		}
		issued = key
		return nil
	})
	if err != nil {
		return nil, err
	}
	return issued, nil
}

// effectiveGrant resolves the tier and duration an approval issues. A
// follow_app rule defers to the parsed tier when it names a paid plan. A
// manual approval, or a rule with no duration, falls back to the legacy
// defaults keyed by tier.
func effectiveGrant(app *models.Application, rule *models.AutoApprovalRule, automatic bool) (enums.Tier, subscriptions.DurationSpec) {
	if automatic && rule != nil {
		tier := rule.Tier
		if rule.TierMode == enums.RuleTierFollowApp && app.Tier != nil && *app.Tier != enums.TierFree {
			tier = *app.Tier
		}
		duration := subscriptions.DurationSpec{Months: rule.DurationMonths, Days: rule.DurationDays}
		if duration.Months <= 0 && duration.Days <= 0 {
			duration = legacyDuration(tier)
		}
		return tier, duration
	}

	tier := enums.TierPro
	if app.Tier != nil {
		tier = *app.Tier
	}
	return tier, legacyDuration(tier)
}

func legacyDuration(tier enums.Tier) subscriptions.DurationSpec {
	switch tier {
	case enums.TierTrialPro:
		return subscriptions.DurationSpec{Days: 14}
	case enums.TierTrialProPlus:
		return subscriptions.DurationSpec{Days: 7}
	default:
		return subscriptions.DurationSpec{Months: 1}
	}
}

// Reject marks an application rejected with an operator note.
func (s *Service) Reject(ctx context.Context, operator string, applicationID uuid.UUID, reason string) error {
	return s.db.WithTx(ctx, func(tx *gorm.DB) error {
		app, err := s.findForReview(tx, applicationID)
		if err != nil {
			return err
		}

		app.Status = enums.ApplicationStatusRejected
		if err := s.repo.SaveTx(tx, app); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save application")
		}

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventApplicationRejected,
			AggregateType: enums.AggregateApplication,
			AggregateID:   app.ID.String(),
			Actor:         &outbox.ActorRef{Operator: operator},
			Data: payloads.ApplicationRejectedEvent{
				ApplicationID: app.ID,
				HolderID:      app.HolderID,
				GuildID:       app.GuildID,
				Reason:        reason,
				RejectedBy:    operator,
			},
			Version:    1,
			OccurredAt: s.now().UTC(),
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue application rejected event")
		}

		return s.oplog.Append(ctx, tx, oplog.Entry{
			Operator: operator,
			Target:   app.ID.String(),
			Action:   enums.ActionApplicationReject,
			Details:  reason,
		})
	})
}

// Hold parks a pending application for manual review.
func (s *Service) Hold(ctx context.Context, operator string, applicationID uuid.UUID) error {
	return s.db.WithTx(ctx, func(tx *gorm.DB) error {
		app, err := s.findForReview(tx, applicationID)
		if err != nil {
			return err
		}

		app.Status = enums.ApplicationStatusOnHold
		if err := s.repo.SaveTx(tx, app); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save application")
		}

		return s.oplog.Append(ctx, tx, oplog.Entry{
			Operator: operator,
			Target:   app.ID.String(),
			Action:   enums.ActionApplicationHold,
		})
	})
}

// findForReview loads an application still open to a review decision.
func (s *Service) findForReview(tx *gorm.DB, applicationID uuid.UUID) (*models.Application, error) {
	app, err := s.repo.FindByIDTx(tx, applicationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "application not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load application")
	}
	switch app.Status {
	case enums.ApplicationStatusPending, enums.ApplicationStatusOnHold:
		return app, nil
	default:
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("application is already %s", app.Status))
	}
}

// Get returns one application.
func (s *Service) Get(ctx context.Context, applicationID uuid.UUID) (*models.Application, error) {
	app, err := s.repo.FindByID(ctx, applicationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "application not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load application")
	}
	return app, nil
}

// ListPending returns the review queue, oldest first.
func (s *Service) ListPending(ctx context.Context, limit int) ([]models.Application, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	rows, err := s.repo.ListByStatus(ctx, enums.ApplicationStatusPending, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list applications")
	}
	return rows, nil
}

// RuleInput describes a new auto-approval rule.
type RuleInput struct {
	Pattern        string
	MatchType      enums.RuleMatchType
	Tier           enums.Tier
	TierMode       enums.RuleTierMode
	DurationMonths int
	DurationDays   int
}

// CreateRule appends a rule to the evaluation order.
func (s *Service) CreateRule(ctx context.Context, operator string, input RuleInput) (*models.AutoApprovalRule, error) {
	if strings.TrimSpace(input.Pattern) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "pattern is required")
	}
	matchType := input.MatchType
	if matchType == "" {
		matchType = enums.RuleMatchRegex
	}
	if !matchType.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid match type")
	}
	if matchType == enums.RuleMatchRegex {
		if _, err := regexp.Compile("(?i)" + input.Pattern); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid pattern")
		}
	}
	if !input.Tier.IsValid() || input.Tier == enums.TierFree {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "rules must grant a paid tier")
	}
	tierMode := input.TierMode
	if tierMode == "" {
		tierMode = enums.RuleTierFixed
	}
	if !tierMode.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid tier mode")
	}

	rule := &models.AutoApprovalRule{
		Pattern:        input.Pattern,
		MatchType:      matchType,
		Tier:           input.Tier,
		TierMode:       tierMode,
		DurationMonths: input.DurationMonths,
		DurationDays:   input.DurationDays,
		Active:         true,
	}
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.rules.CreateTx(tx, rule); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert rule")
		}
		return s.oplog.Append(ctx, tx, oplog.Entry{
			Operator: operator,
			Target:   rule.ID.String(),
			Action:   enums.ActionRuleCreate,
			Details:  fmt.Sprintf("match=%s tier=%s", matchType, input.Tier.Display()),
			Metadata: map[string]any{"pattern": input.Pattern},
		})
	})
	if err != nil {
		return nil, err
	}
	return rule, nil
}

// SetRuleActive toggles a rule in or out of the evaluation order.
func (s *Service) SetRuleActive(ctx context.Context, operator string, ruleID uuid.UUID, active bool) error {
	return s.db.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.rules.SetActiveTx(tx, ruleID, active); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "rule not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "toggle rule")
		}
		return s.oplog.Append(ctx, tx, oplog.Entry{
			Operator: operator,
			Target:   ruleID.String(),
			Action:   enums.ActionRuleToggle,
			Details:  fmt.Sprintf("active=%t", active),
		})
	})
}

// ListRules returns every rule in evaluation order.
func (s *Service) ListRules(ctx context.Context) ([]models.AutoApprovalRule, error) {
	rules, err := s.rules.List(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list rules")
	}
	return rules, nil
}
