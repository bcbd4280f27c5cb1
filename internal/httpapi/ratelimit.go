package httpapi

import (
	"net/http"

	"golang.org/x/time/rate"
)

// DefaultWebhookRate and DefaultWebhookBurst bound the webhook trigger
// surface absent an explicit override: generous enough for legitimate
// bursts of trigger traffic, low enough to blunt an accidental retry storm
// from a single misconfigured caller.
const (
	DefaultWebhookRate  = 50
	DefaultWebhookBurst = 100
)

// webhookLimiter rate-limits the dynamic webhook surface with a single
// process-wide token bucket (golang.org/x/time/rate), matching the
// teacher's use of the same library for RPC call throttling. A per-path
// limiter would require bounding memory against arbitrary path churn;
// REFLUX's webhook surface is small enough that one shared bucket suffices.
type webhookLimiter struct {
	limiter *rate.Limiter
}

func newWebhookLimiter(limit rate.Limit, burst int) *webhookLimiter {
	if limit <= 0 {
		limit = DefaultWebhookRate
	}
	if burst <= 0 {
		burst = DefaultWebhookBurst
	}
	return &webhookLimiter{limiter: rate.NewLimiter(limit, burst)}
}

func (l *webhookLimiter) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, errTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
