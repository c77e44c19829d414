package middleware

import (
	"net/http"
	"strings"

	"github.com/josh-kwaku/customer-ledger/internal/auth"
	"github.com/josh-kwaku/customer-ledger/internal/handler"
	"github.com/josh-kwaku/customer-ledger/internal/logging"
)

// Auth accepts a Bearer token and puts its username on the request context.
func Auth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, appErr := bearerToken(r)
			if appErr != nil {
				handler.RespondAppError(w, appErr, nil)
				return
			}

			claims, err := auth.ValidateToken(token, secret)
			if err != nil {
				logging.FromContext(r.Context()).Debug("token rejected", "error", err)
				handler.RespondAppError(w, handler.ErrInvalidToken, nil)
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.ContextWithUsername(r.Context(), claims.Username)))
		})
	}
}

// bearerToken reads "Authorization: Bearer <token>". The scheme is
// case-insensitive.
func bearerToken(r *http.Request) (string, *handler.AppError) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", handler.ErrMissingToken
	}

	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", handler.ErrInvalidToken
	}
	if token = strings.TrimSpace(token); token == "" {
		return "", handler.ErrInvalidToken
	}
	return token, nil
}
