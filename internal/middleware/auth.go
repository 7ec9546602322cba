package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/paymind/sessionpay/internal/audit"
	apperrors "github.com/paymind/sessionpay/internal/errors"
	"github.com/paymind/sessionpay/internal/httputil"
	"github.com/paymind/sessionpay/internal/model"
	"github.com/paymind/sessionpay/internal/util"
)

type contextKey string

const OwnerContextKey contextKey = "owner"

func GetOwner(ctx context.Context) *model.Owner {
	if owner, ok := ctx.Value(OwnerContextKey).(*model.Owner); ok {
		return owner
	}
	return nil
}

// OwnerLookup resolves an API token hash to its owner.
type OwnerLookup interface {
	FindByTokenHash(ctx context.Context, tokenHash string) (*model.Owner, error)
}

type AuthMiddleware struct {
	owners OwnerLookup
}

func NewAuthMiddleware(owners OwnerLookup) *AuthMiddleware {
	return &AuthMiddleware{owners: owners}
}

func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		if token == "" {
			httputil.WriteError(w, apperrors.Unauthorized("Missing authentication token"))
			return
		}

		owner, err := m.owners.FindByTokenHash(r.Context(), util.HashToken(token))
		if err != nil {
			log.Error().Err(err).Msg("auth middleware: database error")
			httputil.WriteError(w, apperrors.Database(err))
			return
		}

		if owner == nil {
			audit.LogFromRequest(r, audit.Event{
				Type:    audit.EventAuthFailure,
				Details: map[string]interface{}{"reason": "unknown token"},
			})
			httputil.WriteError(w, apperrors.InvalidToken("Invalid token"))
			return
		}

		ctx := context.WithValue(r.Context(), OwnerContextKey, owner)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractToken reads the bearer token. The query parameter form exists for
// EventSource clients, which cannot set headers.
func extractToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}

	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}

	return ""
}
