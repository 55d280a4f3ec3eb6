package middleware

import (
	"net/http"
	"runtime"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/pharmacy/internal/platform/auth"
)

const maxStackBytes = 4096

// Recovery turns a handler panic into a 500. The log line carries the route
// pattern plus the request id, tenant and user, so it can be matched against
// the audit trail without logging the raw URL.
func Recovery(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				stack := make([]byte, maxStackBytes)
				stack = stack[:runtime.Stack(stack, false)]

				ev := logger.Error().
					Interface("panic", r).
					Str("method", c.Request().Method).
					Str("route", c.Path()).
					Bytes("stack", stack)
				if rid, ok := c.Get("request_id").(string); ok {
					ev = ev.Str("request_id", rid)
				}
				if tid, ok := c.Get("tenant_id").(string); ok {
					ev = ev.Str("tenant", tid)
				}
				if uid := auth.UserIDFromContext(c.Request().Context()); uid != "" {
					ev = ev.Str("user_id", uid)
				}
				ev.Msg("panic recovered")

				err = echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
			}()
			return next(c)
		}
	}
}
