package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	pkgauth "github.com/blockwearhq/blockwear-backend/pkg/auth"
	"github.com/blockwearhq/blockwear-backend/pkg/config"
	"github.com/blockwearhq/blockwear-backend/pkg/logger"
)

func authTestConfig() config.JWTConfig {
	return config.JWTConfig{Secret: "secret", Issuer: "blockwear", TTL: time.Hour}
}

func mintToken(t *testing.T, cfg config.JWTConfig, role pkgauth.Role) string {
	t.Helper()
	token, err := pkgauth.MintAccessToken(cfg, time.Now(), pkgauth.TokenPayload{
		AdminID: uuid.New(),
		Email:   "ops@blockwear.example",
		Role:    role,
	})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token
}

func TestAdminAuthSeedsContext(t *testing.T) {
	cfg := authTestConfig()
	logg := logger.New(logger.Options{ServiceName: "test"})

	var gotAdminID, gotRole string
	handler := AdminAuth(cfg, logg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAdminID = AdminIDFromContext(r.Context())
		gotRole = RoleFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/orders", nil)
	req.Header.Set("Authorization", "Bearer "+mintToken(t, cfg, pkgauth.RoleAdmin))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if gotAdminID == "" {
		t.Fatal("expected admin id in context")
	}
	if gotRole != string(pkgauth.RoleAdmin) {
		t.Fatalf("expected role admin, got %q", gotRole)
	}
}

func TestAdminAuthRejectsMissingAndBadTokens(t *testing.T) {
	cfg := authTestConfig()
	logg := logger.New(logger.Options{ServiceName: "test"})
	handler := AdminAuth(cfg, logg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	cases := map[string]string{
		"missing":     "",
		"blank":       "Bearer ",
		"garbage":     "Bearer not-a-jwt",
		"wrong-keyed": "Bearer " + mintToken(t, config.JWTConfig{Secret: "other", Issuer: "blockwear", TTL: time.Hour}, pkgauth.RoleAdmin),
	}
	for name, header := range cases {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/orders", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", name, rec.Code)
		}
	}
}

func TestRequireRole(t *testing.T) {
	cfg := authTestConfig()
	logg := logger.New(logger.Options{ServiceName: "test"})

	chain := AdminAuth(cfg, logg)(RequireRole(pkgauth.RoleAdmin, logg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/orders/BW-2026-000001/cancel", nil)
	req.Header.Set("Authorization", "Bearer "+mintToken(t, cfg, pkgauth.RoleReadOnly))
	rec := httptest.NewRecorder()
	chain.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for read_only, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/admin/orders/BW-2026-000001/cancel", nil)
	req.Header.Set("Authorization", "Bearer "+mintToken(t, cfg, pkgauth.RoleAdmin))
	rec = httptest.NewRecorder()
	chain.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin, got %d", rec.Code)
	}
}
