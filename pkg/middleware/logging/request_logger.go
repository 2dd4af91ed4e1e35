package loggingmw

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/football_stats/pkg/logging"
)

// UserIDKey is the echo context key an authentication middleware sets to the
// caller's id. When present it is attached to the completion line.
const UserIDKey = "user_id"

// RequestLogger binds a request-scoped logger to the request context and
// emits one request_completed line per request. Requests to quietPaths
// (probes, scrapes) are logged at debug level unless they fail.
func RequestLogger(base *slog.Logger, quietPaths ...string) echo.MiddlewareFunc {
	quiet := make(map[string]struct{}, len(quietPaths))
	for _, p := range quietPaths {
		quiet[p] = struct{}{}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			r := c.Request()
			rid := r.Header.Get(echo.HeaderXRequestID)
			if rid == "" {
				rid = uuid.NewString()
			}
			c.Response().Header().Set(echo.HeaderXRequestID, rid)

			l := base.With(
				"request_id", rid,
				"method", r.Method,
				"path", c.Path(),
				"url", r.URL.Path,
				"remote_ip", c.RealIP(),
				"user_agent", r.UserAgent(),
			)
			c.SetRequest(r.WithContext(logging.IntoContext(r.Context(), l)))

			start := time.Now()
			err := next(c)
			if err != nil {
				c.Echo().HTTPErrorHandler(err, c)
			}

			status := c.Response().Status
			attrs := []any{"status", status, "duration_ms", time.Since(start).Milliseconds()}
			if id := c.Get(UserIDKey); id != nil {
				attrs = append(attrs, "user_id", id)
			}

			level := slog.LevelInfo
			switch {
			case status >= 500:
				level = slog.LevelError
			case status >= 400:
				level = slog.LevelWarn
			default:
				if _, ok := quiet[c.Path()]; ok {
					level = slog.LevelDebug
				}
				attrs = append(attrs, "bytes", c.Response().Size)
			}
			if err != nil {
				attrs = append(attrs, "error", err.Error())
			}
			l.Log(context.Background(), level, "request_completed", attrs...)
			return nil
		}
	}
}
