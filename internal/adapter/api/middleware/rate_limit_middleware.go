package middleware

import (
	"fmt"
	"math"

	"github.com/labstack/echo/v4"

	"chatsync/internal/infrastructure/ratelimit"
	"chatsync/pkg/errors"
	"chatsync/pkg/logger"
	"chatsync/pkg/response"
)

// RateLimit limits action per authenticated user, falling back to the client
// IP before authentication has run.
func RateLimit(limiter *ratelimit.RateLimiter, action string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key, ok := c.Get("uid").(string)
			if !ok || key == "" {
				key = "ip:" + c.RealIP()
			}

			allowed, wait := limiter.Allow(key, action)
			if !allowed {
				retryAfter := int(math.Ceil(wait.Seconds()))
				logger.Warn("RATE LIMIT: %s on %s (retry in %v)", key, action, wait)
				c.Response().Header().Set("Retry-After", fmt.Sprint(retryAfter))
				return response.Error(c, errors.TooManyRequests(
					fmt.Sprintf("Rate limit exceeded. Please wait %d seconds", retryAfter), nil))
			}

			return next(c)
		}
	}
}
