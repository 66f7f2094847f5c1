package controllers

import (
	"net/http"
	"time"

	"github.com/guildworks/guildpass-backend/api/responses"
	"github.com/guildworks/guildpass-backend/api/validators"
	pkgAuth "github.com/guildworks/guildpass-backend/pkg/auth"
	"github.com/guildworks/guildpass-backend/pkg/config"
	pkgerrors "github.com/guildworks/guildpass-backend/pkg/errors"
	"github.com/guildworks/guildpass-backend/pkg/logger"
	"github.com/guildworks/guildpass-backend/pkg/security"
)

type tokenRequest struct {
	Operator string `json:"operator" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type tokenResponse struct {
	AccessToken string    `json:"access_token"`
	Operator    string    `json:"operator"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// AuthToken exchanges operator credentials for a bearer token. Operator
// accounts live in configuration as name:hash pairs.
func AuthToken(cfg *config.Config, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body tokenRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		name := validators.SanitizeString(body.Operator, 64)
		hash, ok := cfg.Operators.Account(name)
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid credentials"))
			return
		}

		match, err := security.VerifyPassword(body.Password, hash)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "verify credentials"))
			return
		}
		if !match {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid credentials"))
			return
		}

		now := time.Now()
		token, err := pkgAuth.MintAccessToken(cfg.JWT, now, pkgAuth.AccessTokenPayload{Operator: name})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mint token"))
			return
		}

		responses.WriteSuccess(w, tokenResponse{
			AccessToken: token,
			Operator:    name,
			ExpiresAt:   now.Add(time.Duration(cfg.JWT.ExpirationMinutes) * time.Minute),
		})
	}
}
