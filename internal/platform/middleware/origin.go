// Package middleware resolves the caller's origin from request headers.
package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"dattas/internal/origin"
	id "dattas/pkg/domain"
	dErrors "dattas/pkg/domain-errors"
	"dattas/pkg/platform/httputil"
	"dattas/pkg/platform/middleware/admin"
	request "dattas/pkg/platform/middleware/request"
)

// TokenValidator returns the account a bearer token signs for.
type TokenValidator interface {
	Validate(token string) (id.AccountID, error)
}

// ResolveOrigin stores the request's origin in its context: Root for a
// matching admin token, Signed for a valid bearer token, None otherwise.
// Presented credentials that fail to verify are rejected with 401 here;
// whether None may proceed is left to the operation.
func ResolveOrigin(validator TokenValidator, adminToken string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := request.GetRequestID(ctx)

			if admin.Presented(r) {
				if !admin.TokenMatches(r, adminToken) {
					logger.WarnContext(ctx, "admin token mismatch",
						"request_id", requestID,
					)
					httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "invalid admin token"))
					return
				}
				next.ServeHTTP(w, r.WithContext(origin.WithOrigin(ctx, origin.Root())))
				return
			}

			const bearerPrefix = "Bearer "
			if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), bearerPrefix); ok {
				if validator == nil {
					httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "token signing is not configured"))
					return
				}
				account, err := validator.Validate(token)
				if err != nil {
					logger.WarnContext(ctx, "unauthorized access - invalid token",
						"error", err,
						"request_id", requestID,
					)
					httputil.WriteError(w, err)
					return
				}
				next.ServeHTTP(w, r.WithContext(origin.WithOrigin(ctx, origin.Signed(account))))
				return
			}

			next.ServeHTTP(w, r.WithContext(origin.WithOrigin(ctx, origin.None())))
		})
	}
}
