package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/football_stats/internal/metrics"
	"github.com/Skotchmaster/football_stats/internal/models"
	"github.com/Skotchmaster/football_stats/internal/repo"
	"github.com/Skotchmaster/football_stats/pkg/logging"
	loggingmw "github.com/Skotchmaster/football_stats/pkg/middleware/logging"
	"github.com/Skotchmaster/football_stats/pkg/tokens"
)

const (
	ctxUser   = "user"
	ctxUserID = loggingmw.UserIDKey
	ctxRole   = "role"
)

type IdentityLookup interface {
	FindByID(ctx context.Context, id uint) (*models.User, error)
}

// Gate resolves a bearer access token to an active identity and enforces
// role membership. Every authentication failure is a plain 401; only a role
// mismatch is reported as 403.
type Gate struct {
	Codec   *tokens.Codec
	Users   IdentityLookup
	Metrics *metrics.Auth
}

func NewGate(codec *tokens.Codec, users IdentityLookup, m *metrics.Auth) *Gate {
	return &Gate{Codec: codec, Users: users, Metrics: m}
}

func (g *Gate) RequireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		l := logging.FromContext(ctx).With("mw", "require_auth")

		raw, ok := bearerToken(c.Request())
		if !ok {
			return g.reject(c, "missing_token", nil)
		}

		id, err := g.Codec.Validate(raw)
		if err != nil {
			if errors.Is(err, tokens.ErrTokenExpired) {
				return g.reject(c, "expired_token", err)
			}
			return g.reject(c, "invalid_token", err)
		}
		role, err := models.ParseRole(id.Role)
		if err != nil {
			return g.reject(c, "invalid_token", err)
		}

		user, err := g.Users.FindByID(ctx, id.UserID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return g.reject(c, "unknown_user", err)
			}
			l.Error("auth_lookup_failed", "status", 500, "user_id", id.UserID, "error", err)
			return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
		}
		if !user.IsActive {
			return g.reject(c, "inactive_user", nil)
		}

		c.Set(ctxUser, user)
		c.Set(ctxUserID, user.ID)
		c.Set(ctxRole, role)
		c.SetRequest(c.Request().WithContext(
			logging.IntoContext(ctx, logging.FromContext(ctx).With("user_id", user.ID)),
		))
		return next(c)
	}
}

// RequireRoles admits identities whose token role is one of roles. It must be
// chained after RequireAuth.
func (g *Gate) RequireRoles(roles ...models.Role) echo.MiddlewareFunc {
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = r.String()
	}
	msg := fmt.Sprintf("insufficient permissions: requires one of [%s]", strings.Join(names, ", "))

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			role, ok := CurrentRole(c)
			if !ok {
				return g.reject(c, "missing_identity", nil)
			}
			if !role.In(roles...) {
				g.Metrics.GateRejected("forbidden_role")
				logging.FromContext(c.Request().Context()).Warn("access_denied",
					"status", 403, "role", role, "required", names, "path", c.Path())
				return echo.NewHTTPError(http.StatusForbidden, msg)
			}
			return next(c)
		}
	}
}

func (g *Gate) reject(c echo.Context, reason string, err error) error {
	g.Metrics.GateRejected(reason)
	l := logging.FromContext(c.Request().Context())
	if err != nil {
		l.Warn("auth_rejected", "status", 401, "reason", reason, "error", err)
	} else {
		l.Warn("auth_rejected", "status", 401, "reason", reason)
	}
	c.Response().Header().Set(echo.HeaderWWWAuthenticate, "Bearer")
	return unauthorized("could not validate credentials")
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get(echo.HeaderAuthorization)
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func unauthorized(msg string) *echo.HTTPError {
	return echo.NewHTTPError(http.StatusUnauthorized, msg)
}

// CurrentUser returns the identity stored by RequireAuth.
func CurrentUser(c echo.Context) (*models.User, bool) {
	u, ok := c.Get(ctxUser).(*models.User)
	return u, ok && u != nil
}

func CurrentUserID(c echo.Context) (uint, bool) {
	id, ok := c.Get(ctxUserID).(uint)
	return id, ok
}

func CurrentRole(c echo.Context) (models.Role, bool) {
	r, ok := c.Get(ctxRole).(models.Role)
	return r, ok
}
