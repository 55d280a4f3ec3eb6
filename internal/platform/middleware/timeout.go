package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// RequestTimeout sets a deadline on each request context and runs the handler
// on the request goroutine. Repositories abort their queries once the
// deadline passes; if nothing has been written by then the response becomes a
// 504, whatever error the handler made of the cancellation.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if timeout <= 0 {
				return next(c)
			}

			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)
			if !errors.Is(ctx.Err(), context.DeadlineExceeded) || c.Response().Committed {
				return err
			}
			return c.JSON(http.StatusGatewayTimeout, map[string]string{
				"message": "request processing exceeded the allowed time limit",
			})
		}
	}
}
