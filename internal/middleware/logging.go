// Package middleware provides Echo middleware for logging, metrics and security.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// RequestLogger returns an Echo middleware that logs each request with slog.
//
// The entry is written from a deferred call so aborted streams are logged
// too. Server errors are logged at error, refusals at warn.
func RequestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			start := time.Now()
			aborted := true

			defer func() {
				req := c.Request()
				res := c.Response()

				level := slog.LevelInfo
				switch {
				case aborted || res.Status >= http.StatusInternalServerError:
					level = slog.LevelError
				case res.Status >= http.StatusBadRequest:
					level = slog.LevelWarn
				}

				logger.LogAttrs(context.Background(), level, "request",
					slog.String("method", req.Method),
					slog.String("path", req.URL.Path),
					slog.Int("status", res.Status),
					slog.Int64("duration_ms", time.Since(start).Milliseconds()),
					slog.String("request_id", res.Header().Get(echo.HeaderXRequestID)),
					slog.String("remote_ip", c.RealIP()),
					slog.Int64("bytes_out", res.Size),
					slog.Bool("aborted", aborted),
				)
			}()

			err = next(c)
			aborted = false
			return err
		}
	}
}
