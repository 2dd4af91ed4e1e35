package httpserver

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/football_stats/internal/middleware"
	"github.com/Skotchmaster/football_stats/internal/models"
	"github.com/Skotchmaster/football_stats/internal/service"
	"github.com/Skotchmaster/football_stats/internal/transport"
	"github.com/Skotchmaster/football_stats/internal/util"
	"github.com/Skotchmaster/football_stats/pkg/logging"
)

type UsersHTTP struct {
	Svc *service.UserService
}

func (h *UsersHTTP) Me(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "users.me")

	id, _ := middleware.CurrentUserID(c)
	u, err := h.Svc.Me(ctx, id)
	if err != nil {
		return fail(c, l, "get_me_failed", err)
	}
	return c.JSON(http.StatusOK, transport.UserFromModel(u))
}

func (h *UsersHTTP) UpdateMe(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "users.update_me")

	var req transport.UpdateMeRequest
	if err := c.Bind(&req); err != nil {
		return badBody(l, "update_me_error", err)
	}

	id, _ := middleware.CurrentUserID(c)
	u, err := h.Svc.UpdateMe(ctx, id, service.ProfileUpdate{
		Email:    req.Email,
		FullName: req.FullName,
		Password: req.Password,
	})
	if err != nil {
		return fail(c, l, "update_me_failed", err)
	}

	l.Info("update_me_success")
	return c.JSON(http.StatusOK, transport.UserFromModel(u))
}

func (h *UsersHTTP) List(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "users.list")

	page := util.ParseIntDefault(c.QueryParam("page"), 1)
	size := util.ParseIntDefault(c.QueryParam("size"), util.DefaultPageSize)

	res, err := h.Svc.List(ctx, page, size)
	if err != nil {
		return fail(c, l, "list_users_failed", err)
	}
	return c.JSON(http.StatusOK, toUserPage(res))
}

func (h *UsersHTTP) Search(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "users.search")

	q := c.QueryParam("q")
	if q == "" {
		l.Warn("search_users_error", "status", 400, "reason", "empty query")
		return echo.NewHTTPError(http.StatusBadRequest, "query parameter q is required")
	}
	page := util.ParseIntDefault(c.QueryParam("page"), 1)
	size := util.ParseIntDefault(c.QueryParam("size"), util.DefaultPageSize)

	res, err := h.Svc.Find(ctx, q, page, size)
	if err != nil {
		return fail(c, l, "search_users_failed", err)
	}
	return c.JSON(http.StatusOK, toUserPage(res))
}

func (h *UsersHTTP) Get(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "users.get")

	id, err := parseID(c)
	if err != nil {
		l.Warn("get_user_error", "status", 400, "reason", "id is not a positive integer", "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "id is not a positive integer")
	}

	u, err := h.Svc.Get(ctx, id)
	if err != nil {
		return fail(c, l, "get_user_failed", err)
	}
	return c.JSON(http.StatusOK, transport.UserFromModel(u))
}

func (h *UsersHTTP) Update(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "users.update")

	id, err := parseID(c)
	if err != nil {
		l.Warn("update_user_error", "status", 400, "reason", "id is not a positive integer", "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "id is not a positive integer")
	}

	var req transport.AdminUpdateRequest
	if err := c.Bind(&req); err != nil {
		return badBody(l, "update_user_error", err)
	}

	in := service.AdminUpdate{
		ProfileUpdate: service.ProfileUpdate{
			Email:    req.Email,
			FullName: req.FullName,
			Password: req.Password,
		},
		IsActive: req.IsActive,
	}
	if req.Role != nil {
		role, err := models.ParseRole(*req.Role)
		if err != nil {
			l.Warn("update_user_error", "status", 422, "reason", "unknown role", "role", *req.Role)
			return echo.NewHTTPError(http.StatusUnprocessableEntity, map[string]string{
				"field":  "role",
				"reason": "unknown role",
			})
		}
		in.Role = &role
	}

	u, err := h.Svc.AdminUpdate(ctx, id, in)
	if err != nil {
		return fail(c, l, "update_user_failed", err)
	}

	l.Info("update_user_success", "user_id", id)
	return c.JSON(http.StatusOK, transport.UserFromModel(u))
}

func (h *UsersHTTP) Delete(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "users.delete")

	id, err := parseID(c)
	if err != nil {
		l.Warn("delete_user_error", "status", 400, "reason", "id is not a positive integer", "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "id is not a positive integer")
	}

	actor, _ := middleware.CurrentUserID(c)
	if err := h.Svc.Delete(ctx, actor, id); err != nil {
		return fail(c, l, "delete_user_failed", err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *UsersHTTP) RequestReset(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "users.reset_request")

	var req transport.ResetRequest
	if err := c.Bind(&req); err != nil {
		return badBody(l, "reset_request_error", err)
	}
	if err := h.Svc.RequestPasswordReset(ctx, req.Email); err != nil {
		return fail(c, l, "reset_request_failed", err)
	}
	return c.JSON(http.StatusAccepted, echo.Map{
		"message": "if the email is registered, a reset link has been sent",
	})
}

func (h *UsersHTTP) ConfirmReset(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "users.reset_confirm")

	var req transport.ResetConfirmRequest
	if err := c.Bind(&req); err != nil {
		return badBody(l, "reset_confirm_error", err)
	}

	access, _, err := h.Svc.ConfirmPasswordReset(ctx, req.Token, req.NewPassword)
	if err != nil {
		return fail(c, l, "reset_confirm_failed", err)
	}
	return c.JSON(http.StatusOK, transport.AccessTokenResponse{
		AccessToken: access,
		TokenType:   transport.TokenTypeBearer,
	})
}

func parseID(c echo.Context) (uint, error) {
	v, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return 0, err
	}
	if v == 0 {
		return 0, strconv.ErrRange
	}
	return uint(v), nil
}

func toUserPage(p *service.Page) transport.UserPage {
	return transport.UserPage{
		Data: transport.UsersFromModels(p.Items),
		Meta: transport.PageMeta{
			Page:       p.Page,
			Size:       p.Size,
			Total:      p.Total,
			TotalPages: util.TotalPages(p.Total, p.Size),
			HasPrev:    p.Page > 1,
			HasNext:    int64(p.Page*p.Size) < p.Total,
		},
	}
}
