package api

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// rateLimit allows requests per window for each client address and
// answers the rest with the standard error envelope.
func rateLimit(requests int, window time.Duration, resolver *ClientIPResolver) func(http.Handler) http.Handler {
	return httprate.Limit(
		requests,
		window,
		httprate.WithKeyFuncs(resolver.KeyFunc),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusTooManyRequests, ErrCodeRateLimitExceeded, "Too many requests, please try again later")
		}),
	)
}
