package clients

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter blocks until a request may proceed
type RateLimiter interface {
	Wait(ctx context.Context) error
}

// NewRateLimiter returns a limiter allowing requestsPerMinute requests with
// a burst of one, or nil when requestsPerMinute is not positive.
func NewRateLimiter(requestsPerMinute int) RateLimiter {
	if requestsPerMinute <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), 1)
}
