package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	id "bluecarbon/pkg/domain"
	"bluecarbon/pkg/platform/middleware/admin"
)

type stubValidator struct {
	claims *JWTClaims
	err    error
}

func (s stubValidator) ValidateToken(string) (*JWTClaims, error) {
	return s.claims, s.err
}

func TestRequireAuth(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	var gotID id.AccountID
	var gotRole id.Role
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = GetAccountID(r.Context())
		gotRole = GetRole(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	tests := []struct {
		name       string
		header     string
		validator  JWTValidator
		wantStatus int
	}{
		{"missing header", "", stubValidator{}, http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", stubValidator{}, http.StatusUnauthorized},
		{"empty bearer", "Bearer ", stubValidator{}, http.StatusUnauthorized},
		{"invalid signature", "Bearer bad", stubValidator{err: errors.New("invalid token")}, http.StatusUnauthorized},
		{"unknown role", "Bearer ok", stubValidator{claims: &JWTClaims{AccountID: 1, Role: "ROOT"}}, http.StatusUnauthorized},
		{"valid", "Bearer ok", stubValidator{claims: &JWTClaims{AccountID: 9, Role: "VERIFIER"}}, http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotID, gotRole = 0, ""
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			RequireAuth(tt.validator, logger)(next).ServeHTTP(rr, req)

			assert.Equal(t, tt.wantStatus, rr.Code)
			if tt.wantStatus == http.StatusNoContent {
				assert.Equal(t, id.AccountID(9), gotID)
				assert.Equal(t, id.RoleVerifier, gotRole)
			} else {
				assert.Contains(t, rr.Body.String(), `"error":"unauthorized"`)
				assert.Zero(t, gotID)
			}
		})
	}
}

func TestRequireAdminAfterAuth(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	chain := func(role string) http.Handler {
		v := stubValidator{claims: &JWTClaims{AccountID: 1, Role: role}}
		return RequireAuth(v, logger)(admin.RequireAdmin(logger)(ok))
	}

	req := func() *http.Request {
		r := httptest.NewRequest(http.MethodPost, "/", nil)
		r.Header.Set("Authorization", "Bearer token")
		return r
	}

	rr := httptest.NewRecorder()
	chain("ADMIN").ServeHTTP(rr, req())
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	chain("VERIFIER").ServeHTTP(rr, req())
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Contains(t, rr.Body.String(), "forbidden")

	rr = httptest.NewRecorder()
	admin.RequireAdmin(logger)(ok).ServeHTTP(rr, req())
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}
