package subscription

import (
	"context"
	"net/http"
	"time"

	"courier-console-api/internal/auth"

	"go.uber.org/zap"
)

// Lookup loads the plan of an organization.
type Lookup interface {
	OrgSubscription(ctx context.Context, orgID int64) (plan string, trialEndsAt *time.Time, err error)
}

// RequireActive rejects writes from organizations whose trial has expired.
// Reads stay available so an expired account can still see and export its data.
func RequireActive(lookup Lookup, now func() time.Time, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isReadOnly(r.Method) || auth.IsPlatformAdmin(r.Context()) {
				next.ServeHTTP(w, r)
				return
			}
			orgID := auth.OrgIDFromContext(r.Context())
			plan, trialEndsAt, err := lookup.OrgSubscription(r.Context(), orgID)
			if err != nil {
				logger.Error("subscription lookup failed", zap.Int64("org_id", orgID), zap.Error(err))
				auth.SendError(w, "Could not verify subscription", "SUBSCRIPTION_LOOKUP_FAILED", http.StatusInternalServerError)
				return
			}
			if Evaluate(plan, trialEndsAt, now()).Expired() {
				auth.SendError(w, "Trial period has ended; upgrade to continue", "SUBSCRIPTION_EXPIRED", http.StatusPaymentRequired)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isReadOnly(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}
