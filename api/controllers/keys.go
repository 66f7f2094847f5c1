package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/guildworks/guildpass-backend/api/responses"
	"github.com/guildworks/guildpass-backend/api/validators"
	"github.com/guildworks/guildpass-backend/internal/licensekeys"
	"github.com/guildworks/guildpass-backend/pkg/db/models"
	"github.com/guildworks/guildpass-backend/pkg/enums"
	pkgerrors "github.com/guildworks/guildpass-backend/pkg/errors"
	"github.com/guildworks/guildpass-backend/pkg/logger"
)

// KeyService is the license key surface the HTTP layer consumes.
type KeyService interface {
	Issue(ctx context.Context, operator string, input licensekeys.IssueInput) ([]models.LicenseKey, error)
	Redeem(ctx context.Context, input licensekeys.RedeemInput) (*licensekeys.RedeemResult, error)
	Inspect(ctx context.Context, key string) (*models.LicenseKey, error)
	List(ctx context.Context, params licensekeys.ListParams) ([]models.LicenseKey, error)
}

type keyIssueRequest struct {
	Tier           string `json:"tier" validate:"required"`
	DurationMonths int    `json:"duration_months" validate:"min=0"`
	DurationDays   int    `json:"duration_days" validate:"min=0"`
	ReservedFor    string `json:"reserved_for"`
	Notes          string `json:"notes"`
	Count          int    `json:"count" validate:"min=0,max=50"`
}

type keyRedeemRequest struct {
	Key      string `json:"key" validate:"required"`
	GuildID  string `json:"guild_id" validate:"required"`
	HolderID string `json:"holder_id" validate:"required"`
}

type keyResponse struct {
	Key            string     `json:"key"`
	Tier           enums.Tier `json:"tier"`
	DurationMonths int        `json:"duration_months"`
	DurationDays   int        `json:"duration_days"`
	Used           bool       `json:"used"`
	UsedBy         *string    `json:"used_by"`
	UsedAt         *time.Time `json:"used_at"`
	ReservedFor    *string    `json:"reserved_for"`
	Notes          string     `json:"notes,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

func keyResponseFromModel(m *models.LicenseKey) keyResponse {
	return keyResponse{
		Key:            m.Key,
		Tier:           m.Tier,
		DurationMonths: m.DurationMonths,
		DurationDays:   m.DurationDays,
		Used:           m.Used,
		UsedBy:         m.UsedBy,
		UsedAt:         m.UsedAt,
		ReservedFor:    m.ReservedFor,
		Notes:          m.Notes,
		CreatedAt:      m.CreatedAt,
	}
}

// KeyIssue mints a batch of single-use license keys.
func KeyIssue(svc KeyService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		operator, err := requireOperator(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body keyIssueRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		tier, err := enums.ParseTierToken(body.Tier)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid tier"))
			return
		}

		keys, err := svc.Issue(r.Context(), operator, licensekeys.IssueInput{
			Tier:           tier,
			DurationMonths: body.DurationMonths,
			DurationDays:   body.DurationDays,
			ReservedFor:    validators.SanitizeString(body.ReservedFor, 64),
			Notes:          validators.SanitizeString(body.Notes, 1024),
			Count:          body.Count,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		out := make([]keyResponse, 0, len(keys))
		for i := range keys {
			out = append(out, keyResponseFromModel(&keys[i]))
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, out)
	}
}

// KeyRedeem consumes a key and applies its grant to a guild. Exactly one
// caller wins a concurrent redemption of the same key.
func KeyRedeem(svc KeyService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body keyRedeemRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Redeem(r.Context(), licensekeys.RedeemInput{
			Key:      validators.SanitizeString(body.Key, 64),
			GuildID:  validators.SanitizeString(body.GuildID, 64),
			HolderID: validators.SanitizeString(body.HolderID, 64),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]any{
			"key":          keyResponseFromModel(result.Key),
			"subscription": subscriptionResponseFromModel(result.Subscription),
		})
	}
}

// KeyInspect returns the state of one key without consuming it.
func KeyInspect(svc KeyService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "key")
		if key == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "key required"))
			return
		}

		row, err := svc.Inspect(r.Context(), key)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, keyResponseFromModel(row))
	}
}

// KeyList returns issued keys, optionally filtered by used state and tier.
func KeyList(svc KeyService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		used, err := validators.ParseQueryBool(r, "used")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", 0, 0, 500)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		keys, err := svc.List(r.Context(), licensekeys.ListParams{
			Used:  used,
			Tier:  validators.SanitizeString(r.URL.Query().Get("tier"), 32),
			Limit: limit,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		out := make([]keyResponse, 0, len(keys))
		for i := range keys {
			out = append(out, keyResponseFromModel(&keys[i]))
		}
		responses.WriteSuccess(w, out)
	}
}
