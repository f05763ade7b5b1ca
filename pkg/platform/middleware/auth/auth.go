package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	id "bluecarbon/pkg/domain"
	request "bluecarbon/pkg/platform/middleware/request"
	"bluecarbon/pkg/requestcontext"
)

// JWTValidator defines the interface for validating session tokens
type JWTValidator interface {
	ValidateToken(tokenString string) (*JWTClaims, error)
}

// JWTClaims represents the claims we expect from the JWT validator
type JWTClaims struct {
	AccountID int64
	Role      string
	JTI       string
}

// GetAccountID retrieves the authenticated account id from the context
func GetAccountID(ctx context.Context) id.AccountID {
	return requestcontext.AccountID(ctx)
}

// GetRole retrieves the authenticated role from the context
func GetRole(ctx context.Context) id.Role {
	return requestcontext.Role(ctx)
}

// writeJSONError writes a JSON error response with the given status code and error details.
func writeJSONError(w http.ResponseWriter, status int, errCode, errDesc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(fmt.Appendf(nil, `{"error":"%s","error_description":"%s"}`, errCode, errDesc))
}

// RequireAuth rejects requests without a valid bearer token and places the
// token's account id and role in the request context.
func RequireAuth(validator JWTValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := request.GetRequestID(ctx)

			authHeader := r.Header.Get("Authorization")
			const bearerPrefix = "Bearer "
			token, ok := strings.CutPrefix(authHeader, bearerPrefix)
			if !ok || strings.TrimSpace(token) == "" {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", requestID,
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Missing or invalid Authorization header")
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", requestID,
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
				return
			}

			role := id.Role(claims.Role)
			if claims.AccountID <= 0 || !role.IsValid() {
				logger.WarnContext(ctx, "unauthorized access - malformed token claims",
					"request_id", requestID,
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
				return
			}

			ctx = requestcontext.WithPrincipal(ctx, id.AccountID(claims.AccountID), role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
