package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"ttkn/pkg/domain"
	dErrors "ttkn/pkg/domain-errors"
	"ttkn/pkg/platform/httputil"
	request "ttkn/pkg/platform/middleware/request"
	"ttkn/pkg/requestcontext"
)

// JWTValidator checks a bearer token and returns its claims.
type JWTValidator interface {
	ValidateToken(tokenString string) (*JWTClaims, error)
}

// JWTClaims is the part of a token the ledger cares about.
type JWTClaims struct {
	Account domain.Account
	JTI     string
}

// RequireAuth rejects requests without a valid bearer token and stores the
// token's account as the caller.
func RequireAuth(validator JWTValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				logger.WarnContext(ctx, "owner route without bearer token",
					"request_id", request.GetRequestID(ctx),
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "Missing or invalid Authorization header"))
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(ctx, "owner route with rejected bearer token",
					"error", err,
					"request_id", request.GetRequestID(ctx),
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "Invalid or expired token"))
				return
			}

			ctx = requestcontext.WithCaller(ctx, claims.Account)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
