package httpserver

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/football_stats/internal/middleware"
	"github.com/Skotchmaster/football_stats/internal/models"
	"github.com/Skotchmaster/football_stats/internal/service"
	"github.com/Skotchmaster/football_stats/internal/transport"
	"github.com/Skotchmaster/football_stats/pkg/logging"
)

type AuthHTTP struct {
	Svc *service.AuthService
}

// Login accepts form credentials and returns an access token only.
func (h *AuthHTTP) Login(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth.login")

	username, password := c.FormValue("username"), c.FormValue("password")
	if username == "" || password == "" {
		l.Warn("login_error", "status", 400, "reason", "missing form credentials")
		return echo.NewHTTPError(http.StatusBadRequest, "username and password are required")
	}

	access, _, _, err := h.Svc.LoginAccess(ctx, username, password)
	if err != nil {
		return fail(c, l, "login_failed", err)
	}

	return c.JSON(http.StatusOK, transport.AccessTokenResponse{
		AccessToken: access,
		TokenType:   transport.TokenTypeBearer,
	})
}

func (h *AuthHTTP) LoginJSON(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth.login_json")

	var req transport.LoginRequest
	if err := c.Bind(&req); err != nil {
		return badBody(l, "login_error", err)
	}
	if req.Username == "" || req.Password == "" {
		l.Warn("login_error", "status", 400, "reason", "missing credentials")
		return echo.NewHTTPError(http.StatusBadRequest, "username and password are required")
	}

	pair, err := h.Svc.Login(ctx, req.Username, req.Password)
	if err != nil {
		return fail(c, l, "login_failed", err)
	}

	return c.JSON(http.StatusOK, transport.LoginResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    transport.TokenTypeBearer,
		UserID:       pair.User.ID,
		Username:     pair.User.Username,
		Role:         pair.User.Role,
	})
}

func (h *AuthHTTP) Refresh(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth.refresh")

	var req transport.RefreshRequest
	if err := c.Bind(&req); err != nil {
		return badBody(l, "refresh_error", err)
	}
	if req.RefreshToken == "" {
		return fail(c, l, "refresh_error", service.ErrRefreshFailed)
	}

	pair, err := h.Svc.Refresh(ctx, req.RefreshToken)
	if err != nil {
		return fail(c, l, "refresh_failed", err)
	}

	return c.JSON(http.StatusOK, transport.TokenPairResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    transport.TokenTypeBearer,
	})
}

func (h *AuthHTTP) Logout(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth.logout")

	var req transport.RefreshRequest
	if err := c.Bind(&req); err != nil {
		return badBody(l, "logout_error", err)
	}
	if err := h.Svc.Logout(ctx, req.RefreshToken); err != nil {
		return fail(c, l, "logout_failed", err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *AuthHTTP) LogoutAll(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth.logout_all")

	id, ok := middleware.CurrentUserID(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "could not validate credentials")
	}
	if err := h.Svc.LogoutAll(ctx, id); err != nil {
		return fail(c, l, "logout_all_failed", err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *AuthHTTP) Register(c echo.Context) error {
	return h.register(c, models.RoleUser)
}

// RegisterAdmin creates an admin identity. The route is admin-only.
func (h *AuthHTTP) RegisterAdmin(c echo.Context) error {
	return h.register(c, models.RoleAdmin)
}

func (h *AuthHTTP) register(c echo.Context, role models.Role) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth.register", "role", role)

	var req transport.RegisterRequest
	if err := c.Bind(&req); err != nil {
		return badBody(l, "register_error", err)
	}

	u, err := h.Svc.Register(ctx, service.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		FullName: req.FullName,
		Password: req.Password,
	}, role)
	if err != nil {
		return fail(c, l, "register_failed", err)
	}

	return c.JSON(http.StatusCreated, transport.UserFromModel(u))
}

func (h *AuthHTTP) Me(c echo.Context) error {
	u, ok := middleware.CurrentUser(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "could not validate credentials")
	}
	return c.JSON(http.StatusOK, transport.UserFromModel(u))
}
