package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/paymind/sessionpay/internal/audit"
	"github.com/paymind/sessionpay/internal/config"
	apperrors "github.com/paymind/sessionpay/internal/errors"
	"github.com/paymind/sessionpay/internal/httputil"
	"github.com/paymind/sessionpay/internal/service"
)

const ownerRateLimitWindow = 60 * time.Second

// OwnerRateLimitMiddleware applies each owner's per-minute request budget.
// It must run after AuthMiddleware.
type OwnerRateLimitMiddleware struct {
	limiter *service.RateLimiter
}

func NewOwnerRateLimitMiddleware(limiter *service.RateLimiter) *OwnerRateLimitMiddleware {
	return &OwnerRateLimitMiddleware{limiter: limiter}
}

func (m *OwnerRateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner := GetOwner(r.Context())
		if owner == nil {
			next.ServeHTTP(w, r)
			return
		}

		limit := owner.RateLimitPerMin
		if limit <= 0 {
			limit = config.DefaultRateLimitPerMin
		}

		allowed, resetAt := m.limiter.CheckLimit(r.Context(), "owner:"+owner.ID, limit, ownerRateLimitWindow)

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

		if !allowed {
			log.Warn().Str("ownerId", owner.ID).Msg("rate limit exceeded")
			audit.LogFromRequest(r, audit.Event{Type: audit.EventRateLimitExceed, OwnerID: owner.ID})
			w.Header().Set("Retry-After", retryAfter(resetAt))
			httputil.WriteError(w, apperrors.RateLimitExceeded())
			return
		}

		next.ServeHTTP(w, r)
	})
}

func retryAfter(resetAt time.Time) string {
	seconds := int(time.Until(resetAt).Seconds()) + 1
	if seconds < 1 {
		seconds = 1
	}
	return strconv.Itoa(seconds)
}
