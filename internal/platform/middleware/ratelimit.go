package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/ehr/pharmacy/internal/platform/auth"
)

// idleBucketTTL is how long a caller's bucket survives without requests.
const idleBucketTTL = 3 * time.Minute

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
}

func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 100,
		BurstSize:         200,
	}
}

// RateLimit limits each caller to cfg.RequestsPerSecond with bursts of
// cfg.BurstSize. It must run after authentication: authenticated callers are
// keyed by user id, anonymous ones by client IP, and both are scoped by
// tenant.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	limit := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', 0, 64)
	retryAfter := "1"
	if cfg.RequestsPerSecond > 0 {
		retryAfter = strconv.Itoa(int(math.Ceil(1 / cfg.RequestsPerSecond)))
	}

	store := echomw.NewRateLimiterMemoryStoreWithConfig(echomw.RateLimiterMemoryStoreConfig{
		Rate:      rate.Limit(cfg.RequestsPerSecond),
		Burst:     cfg.BurstSize,
		ExpiresIn: idleBucketTTL,
	})

	return echomw.RateLimiterWithConfig(echomw.RateLimiterConfig{
		Store: store,
		BeforeFunc: func(c echo.Context) {
			c.Response().Header().Set("X-RateLimit-Limit", limit)
		},
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return rateLimitKey(c), nil
		},
		DenyHandler: func(c echo.Context, _ string, _ error) error {
			c.Response().Header().Set("Retry-After", retryAfter)
			c.Response().Header().Set("X-RateLimit-Remaining", "0")
			return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
		},
	})
}

func rateLimitKey(c echo.Context) string {
	key := "ip:" + c.RealIP()
	if uid := auth.UserIDFromContext(c.Request().Context()); uid != "" {
		key = "user:" + uid
	}
	if tid, ok := c.Get("jwt_tenant_id").(string); ok && tid != "" {
		key = tid + ":" + key
	}
	return key
}
