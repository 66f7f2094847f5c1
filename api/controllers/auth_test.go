package controllers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/guildworks/guildpass-backend/pkg/auth"
	"github.com/guildworks/guildpass-backend/pkg/config"
	"github.com/guildworks/guildpass-backend/pkg/security"
)

func authTestConfig(t *testing.T) *config.Config {
	t.Helper()
	hash, err := security.HashPassword("hunter2", config.PasswordConfig{
		ArgonMemoryKB:    8192,
		ArgonTime:        1,
		ArgonParallelism: 1,
		ArgonSaltLen:     16,
		ArgonKeyLen:      32,
	})
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	return &config.Config{
		JWT: config.JWTConfig{Secret: "secret", Issuer: "guildpass", ExpirationMinutes: 60},
		Operators: config.OperatorsConfig{
			Accounts: []string{"alice:" + hash},
		},
	}
}

func TestAuthTokenMintsForValidCredentials(t *testing.T) {
	cfg := authTestConfig(t)
	handler := AuthToken(cfg, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/token",
		strings.NewReader(`{"operator":"alice","password":"hunter2"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rec.Code, rec.Body.String())
	}

	var envelope struct {
		Data tokenResponse `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Data.Operator != "alice" {
		t.Fatalf("expected operator alice got %q", envelope.Data.Operator)
	}

	claims, err := auth.ParseAccessToken(cfg.JWT, envelope.Data.AccessToken)
	if err != nil {
		t.Fatalf("parse minted token: %v", err)
	}
	if claims.Operator != "alice" || claims.Role != auth.OperatorRole {
		t.Fatalf("unexpected claims %#v", claims)
	}
}

func TestAuthTokenRejectsWrongPassword(t *testing.T) {
	cfg := authTestConfig(t)
	handler := AuthToken(cfg, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/token",
		strings.NewReader(`{"operator":"alice","password":"wrong"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rec.Code)
	}
}

func TestAuthTokenRejectsUnknownOperator(t *testing.T) {
	cfg := authTestConfig(t)
	handler := AuthToken(cfg, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/token",
		strings.NewReader(`{"operator":"mallory","password":"hunter2"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rec.Code)
	}
}

func TestAuthTokenRejectsMissingFields(t *testing.T) {
	cfg := authTestConfig(t)
	handler := AuthToken(cfg, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/token",
		strings.NewReader(`{"operator":"alice"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}
}
