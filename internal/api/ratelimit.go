package api

import "golang.org/x/time/rate"

// Inbound messages allowed per session. A control client sends a handful of
// messages per user action; anything faster is a runaway script.
const (
	DefaultRateLimit rate.Limit = 5
	DefaultRateBurst            = 10
)

// newLimiter returns a per-session token bucket. A non-positive limit
// disables limiting.
func newLimiter(limit rate.Limit, burst int) *rate.Limiter {
	if limit <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(limit, max(1, burst))
}
