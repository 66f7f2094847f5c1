package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/guildworks/guildpass-backend/api/middleware"
	"github.com/guildworks/guildpass-backend/api/responses"
	"github.com/guildworks/guildpass-backend/api/validators"
	"github.com/guildworks/guildpass-backend/internal/subscriptions"
	"github.com/guildworks/guildpass-backend/pkg/db/models"
	"github.com/guildworks/guildpass-backend/pkg/enums"
	pkgerrors "github.com/guildworks/guildpass-backend/pkg/errors"
	"github.com/guildworks/guildpass-backend/pkg/logger"
)

// SubscriptionService is the entitlement surface the HTTP layer consumes.
type SubscriptionService interface {
	CreateOrUpdate(ctx context.Context, operator string, input subscriptions.UpsertInput) (*models.Subscription, error)
	Extend(ctx context.Context, operator, guildID string, duration subscriptions.DurationSpec) (*time.Time, error)
	SetTier(ctx context.Context, operator, guildID string, tier enums.Tier) (*models.Subscription, error)
	SetActive(ctx context.Context, operator, guildID string, active bool) (*models.Subscription, error)
	Migrate(ctx context.Context, operator, fromGuildID, toGuildID string) (*models.Subscription, error)
	Get(ctx context.Context, guildID string) (*models.Subscription, error)
}

type subscriptionUpsertRequest struct {
	GuildID        string `json:"guild_id" validate:"required"`
	HolderID       string `json:"holder_id" validate:"required"`
	Tier           string `json:"tier" validate:"required"`
	DurationMonths int    `json:"duration_months" validate:"min=0"`
	DurationDays   int    `json:"duration_days" validate:"min=0"`
	AutoRenew      bool   `json:"auto_renew"`
	Notes          string `json:"notes"`
}

type subscriptionExtendRequest struct {
	DurationMonths int `json:"duration_months" validate:"min=0"`
	DurationDays   int `json:"duration_days" validate:"min=0"`
}

type subscriptionTierRequest struct {
	Tier string `json:"tier" validate:"required"`
}

type subscriptionActiveRequest struct {
	Active *bool `json:"active" validate:"required"`
}

type subscriptionMigrateRequest struct {
	FromGuildID string `json:"from_guild_id" validate:"required"`
	ToGuildID   string `json:"to_guild_id" validate:"required"`
}

type subscriptionResponse struct {
	GuildID        string     `json:"guild_id"`
	HolderID       string     `json:"holder_id"`
	Tier           enums.Tier `json:"tier"`
	ExpiresAt      *time.Time `json:"expires_at"`
	Active         bool       `json:"active"`
	AutoRenew      bool       `json:"auto_renew"`
	WarningSent    bool       `json:"warning_sent"`
	MigrationCount int        `json:"migration_count"`
	LastMigratedAt *time.Time `json:"last_migrated_at"`
	Notes          string     `json:"notes,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func subscriptionResponseFromModel(m *models.Subscription) subscriptionResponse {
	return subscriptionResponse{
		GuildID:        m.GuildID,
		HolderID:       m.HolderID,
		Tier:           m.Tier,
		ExpiresAt:      m.ExpiresAt,
		Active:         m.Active,
		AutoRenew:      m.AutoRenew,
		WarningSent:    m.WarningSent,
		MigrationCount: m.MigrationCount,
		LastMigratedAt: m.LastMigratedAt,
		Notes:          m.Notes,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

// SubscriptionCreate grants or replaces the entitlement for a guild.
func SubscriptionCreate(svc SubscriptionService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		operator, err := requireOperator(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body subscriptionUpsertRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		tier, err := enums.ParseTierToken(body.Tier)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid tier"))
			return
		}

		sub, err := svc.CreateOrUpdate(r.Context(), operator, subscriptions.UpsertInput{
			GuildID:  validators.SanitizeString(body.GuildID, 64),
			HolderID: validators.SanitizeString(body.HolderID, 64),
			Tier:     tier,
			Duration: subscriptions.DurationSpec{
				Months: body.DurationMonths,
				Days:   body.DurationDays,
			},
			AutoRenew: body.AutoRenew,
			Notes:     validators.SanitizeString(body.Notes, 1024),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, subscriptionResponseFromModel(sub))
	}
}

// SubscriptionGet returns the entitlement for one guild.
func SubscriptionGet(svc SubscriptionService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		guildID := chi.URLParam(r, "guildId")
		if guildID == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "guild id required"))
			return
		}

		sub, err := svc.Get(r.Context(), guildID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, subscriptionResponseFromModel(sub))
	}
}

// SubscriptionExtend stacks additional paid time onto a guild's entitlement.
func SubscriptionExtend(svc SubscriptionService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		operator, err := requireOperator(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		guildID := chi.URLParam(r, "guildId")
		if guildID == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "guild id required"))
			return
		}

		var body subscriptionExtendRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		expiresAt, err := svc.Extend(r.Context(), operator, guildID, subscriptions.DurationSpec{
			Months: body.DurationMonths,
			Days:   body.DurationDays,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]any{
			"guild_id":   guildID,
			"expires_at": expiresAt,
		})
	}
}

// SubscriptionSetTier changes the tier without touching the expiry, except
// for the free tier which clears it.
func SubscriptionSetTier(svc SubscriptionService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		operator, err := requireOperator(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		guildID := chi.URLParam(r, "guildId")
		if guildID == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "guild id required"))
			return
		}

		var body subscriptionTierRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		tier, err := enums.ParseTierToken(body.Tier)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid tier"))
			return
		}

		sub, err := svc.SetTier(r.Context(), operator, guildID, tier)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, subscriptionResponseFromModel(sub))
	}
}

// SubscriptionSetActive flips the active flag without losing tier or expiry.
func SubscriptionSetActive(svc SubscriptionService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		operator, err := requireOperator(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		guildID := chi.URLParam(r, "guildId")
		if guildID == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "guild id required"))
			return
		}

		var body subscriptionActiveRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		sub, err := svc.SetActive(r.Context(), operator, guildID, *body.Active)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, subscriptionResponseFromModel(sub))
	}
}

// SubscriptionMigrate moves an entitlement to a different guild.
func SubscriptionMigrate(svc SubscriptionService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		operator, err := requireOperator(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body subscriptionMigrateRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		sub, err := svc.Migrate(r.Context(), operator, body.FromGuildID, body.ToGuildID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, subscriptionResponseFromModel(sub))
	}
}

func requireOperator(r *http.Request) (string, error) {
	operator := middleware.OperatorFromContext(r.Context())
	if operator == "" {
		return "", pkgerrors.New(pkgerrors.CodeUnauthorized, "operator context missing")
	}
	return operator, nil
}
