package controllers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/guildworks/guildpass-backend/api/responses"
	"github.com/guildworks/guildpass-backend/api/validators"
	"github.com/guildworks/guildpass-backend/internal/applications"
	"github.com/guildworks/guildpass-backend/pkg/db/models"
	"github.com/guildworks/guildpass-backend/pkg/enums"
	pkgerrors "github.com/guildworks/guildpass-backend/pkg/errors"
	"github.com/guildworks/guildpass-backend/pkg/logger"
)

// ApplicationService is the purchase application surface the HTTP layer consumes.
type ApplicationService interface {
	Submit(ctx context.Context, input applications.SubmitInput) (*applications.SubmitResult, error)
	Approve(ctx context.Context, operator string, applicationID uuid.UUID) (*models.LicenseKey, error)
	Reject(ctx context.Context, operator string, applicationID uuid.UUID, reason string) error
	Hold(ctx context.Context, operator string, applicationID uuid.UUID) error
	Get(ctx context.Context, applicationID uuid.UUID) (*models.Application, error)
	ListPending(ctx context.Context, limit int) ([]models.Application, error)
	CreateRule(ctx context.Context, operator string, input applications.RuleInput) (*models.AutoApprovalRule, error)
	SetRuleActive(ctx context.Context, operator string, ruleID uuid.UUID, active bool) error
	ListRules(ctx context.Context) ([]models.AutoApprovalRule, error)
}

type applicationSubmitRequest struct {
	MessageRef string `json:"message_ref" validate:"required"`
	AuthorID   string `json:"author_id" validate:"required"`
	AuthorName string `json:"author_name" validate:"required"`
	Content    string `json:"content" validate:"required"`
}

type applicationRejectRequest struct {
	Reason string `json:"reason"`
}

type ruleCreateRequest struct {
	Pattern        string `json:"pattern" validate:"required"`
	MatchType      string `json:"match_type"`
	Tier           string `json:"tier" validate:"required"`
	TierMode       string `json:"tier_mode"`
	DurationMonths int    `json:"duration_months" validate:"min=0"`
	DurationDays   int    `json:"duration_days" validate:"min=0"`
}

type ruleActiveRequest struct {
	Active *bool `json:"active" validate:"required"`
}

type applicationResponse struct {
	ID            uuid.UUID               `json:"id"`
	MessageRef    string                  `json:"message_ref"`
	AuthorID      string                  `json:"author_id"`
	AuthorName    string                  `json:"author_name"`
	HolderID      string                  `json:"holder_id"`
	GuildID       string                  `json:"guild_id"`
	Tier          *enums.Tier             `json:"tier"`
	PurchaseName  string                  `json:"purchase_name,omitempty"`
	Amount        *decimal.Decimal        `json:"amount,omitempty"`
	Status        enums.ApplicationStatus `json:"status"`
	IssuedKey     *string                 `json:"issued_key,omitempty"`
	AutoProcessed bool                    `json:"auto_processed"`
	CreatedAt     time.Time               `json:"created_at"`
	UpdatedAt     time.Time               `json:"updated_at"`
}

func applicationResponseFromModel(m *models.Application) applicationResponse {
	resp := applicationResponse{
		ID:            m.ID,
		MessageRef:    m.MessageRef,
		AuthorID:      m.AuthorID,
		AuthorName:    m.AuthorName,
		HolderID:      m.HolderID,
		GuildID:       m.GuildID,
		Tier:          m.Tier,
		PurchaseName:  m.PurchaseName,
		Status:        m.Status,
		IssuedKey:     m.IssuedKey,
		AutoProcessed: m.AutoProcessed,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
	if m.Amount.Valid {
		amount := m.Amount.Decimal
		resp.Amount = &amount
	}
	return resp
}

type ruleResponse struct {
	ID             uuid.UUID           `json:"id"`
	Pattern        string              `json:"pattern"`
	MatchType      enums.RuleMatchType `json:"match_type"`
	Tier           enums.Tier          `json:"tier"`
	TierMode       enums.RuleTierMode  `json:"tier_mode"`
	DurationMonths int                 `json:"duration_months"`
	DurationDays   int                 `json:"duration_days"`
	Active         bool                `json:"active"`
	CreatedAt      time.Time           `json:"created_at"`
}

func ruleResponseFromModel(m *models.AutoApprovalRule) ruleResponse {
	return ruleResponse{
		ID:             m.ID,
		Pattern:        m.Pattern,
		MatchType:      m.MatchType,
		Tier:           m.Tier,
		TierMode:       m.TierMode,
		DurationMonths: m.DurationMonths,
		DurationDays:   m.DurationDays,
		Active:         m.Active,
		CreatedAt:      m.CreatedAt,
	}
}

// ApplicationSubmit ingests a free-text purchase application and runs
// auto-approval when a rule matches.
func ApplicationSubmit(svc ApplicationService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body applicationSubmitRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Submit(r.Context(), applications.SubmitInput{
			MessageRef: validators.SanitizeString(body.MessageRef, 128),
			AuthorID:   validators.SanitizeString(body.AuthorID, 64),
			AuthorName: validators.SanitizeString(body.AuthorName, 128),
			Content:    strings.TrimSpace(body.Content),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		out := map[string]any{
			"application":   applicationResponseFromModel(result.Application),
			"auto_approved": result.AutoApproved,
		}
		if result.IssuedKey != nil {
			out["issued_key"] = keyResponseFromModel(result.IssuedKey)
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, out)
	}
}

// ApplicationApprove approves a pending application and mints its key.
func ApplicationApprove(svc ApplicationService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		operator, err := requireOperator(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		id, err := parseApplicationID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		key, err := svc.Approve(r.Context(), operator, id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]any{
			"application_id": id,
			"issued_key":     keyResponseFromModel(key),
		})
	}
}

// ApplicationReject marks a pending application rejected.
func ApplicationReject(svc ApplicationService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		operator, err := requireOperator(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		id, err := parseApplicationID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body applicationRejectRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.Reject(r.Context(), operator, id, validators.SanitizeString(body.Reason, 512)); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]any{"application_id": id, "status": enums.ApplicationStatusRejected})
	}
}

// ApplicationHold parks a pending application for manual review.
func ApplicationHold(svc ApplicationService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		operator, err := requireOperator(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		id, err := parseApplicationID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.Hold(r.Context(), operator, id); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]any{"application_id": id, "status": enums.ApplicationStatusOnHold})
	}
}

// ApplicationGet returns one application by id.
func ApplicationGet(svc ApplicationService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseApplicationID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		app, err := svc.Get(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, applicationResponseFromModel(app))
	}
}

// ApplicationListPending returns the manual review queue, oldest first.
func ApplicationListPending(svc ApplicationService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := validators.ParseQueryInt(r, "limit", 0, 0, 100)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		apps, err := svc.ListPending(r.Context(), limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		out := make([]applicationResponse, 0, len(apps))
		for i := range apps {
			out = append(out, applicationResponseFromModel(&apps[i]))
		}
		responses.WriteSuccess(w, out)
	}
}

// RuleCreate registers an auto-approval rule.
func RuleCreate(svc ApplicationService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		operator, err := requireOperator(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body ruleCreateRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input := applications.RuleInput{
			Pattern:        validators.SanitizeString(body.Pattern, 512),
			DurationMonths: body.DurationMonths,
			DurationDays:   body.DurationDays,
		}

		tier, err := enums.ParseTierToken(body.Tier)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid tier"))
			return
		}
		input.Tier = tier

		if body.MatchType != "" {
			matchType, err := enums.ParseRuleMatchType(body.MatchType)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid match type"))
				return
			}
			input.MatchType = matchType
		}

		if body.TierMode != "" {
			tierMode, err := enums.ParseRuleTierMode(body.TierMode)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid tier mode"))
				return
			}
			input.TierMode = tierMode
		}

		rule, err := svc.CreateRule(r.Context(), operator, input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, ruleResponseFromModel(rule))
	}
}

// RuleSetActive enables or disables a rule.
func RuleSetActive(svc ApplicationService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		operator, err := requireOperator(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		raw := chi.URLParam(r, "ruleId")
		id, err := uuid.Parse(raw)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid rule id"))
			return
		}

		var body ruleActiveRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.SetRuleActive(r.Context(), operator, id, *body.Active); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]any{"rule_id": id, "active": *body.Active})
	}
}

// RuleList returns every configured rule in evaluation order.
func RuleList(svc ApplicationService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rules, err := svc.ListRules(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		out := make([]ruleResponse, 0, len(rules))
		for i := range rules {
			out = append(out, ruleResponseFromModel(&rules[i]))
		}
		responses.WriteSuccess(w, out)
	}
}

func parseApplicationID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "applicationId")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid application id")
	}
	return id, nil
}
