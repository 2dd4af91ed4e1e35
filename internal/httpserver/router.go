package httpserver

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"gorm.io/gorm"

	"github.com/Skotchmaster/football_stats/internal/live"
	"github.com/Skotchmaster/football_stats/internal/middleware"
	"github.com/Skotchmaster/football_stats/internal/models"
	"github.com/Skotchmaster/football_stats/internal/ratelimit"
	"github.com/Skotchmaster/football_stats/pkg/db"
	loggingmw "github.com/Skotchmaster/football_stats/pkg/middleware/logging"
)

type Deps struct {
	DB           *gorm.DB
	AuthHandler  *AuthHTTP
	UsersHandler *UsersHTTP
	LiveHandler  *LiveHTTP
	Hub          *live.Hub
	Gate         *middleware.Gate
	LoginLimiter ratelimit.Limiter
	Metrics      http.Handler
}

// New builds the echo instance with the ambient middleware and every route.
func New(log *slog.Logger, corsOrigins []string, d *Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = 10 * time.Second
	e.Server.WriteTimeout = 15 * time.Second
	e.Server.ReadHeaderTimeout = 3 * time.Second

	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}
	e.Use(loggingmw.RequestLogger(log, "/health/live", "/health/ready", "/metrics"))
	e.Use(echomw.Recover())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: corsOrigins,
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))

	Register(e, d)
	return e
}

func Register(e *echo.Echo, d *Deps) {
	e.GET("/health/live", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/health/ready", d.ready)
	if d.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(d.Metrics))
	}

	auth := d.Gate.RequireAuth
	adminOnly := d.Gate.RequireRoles(models.RoleAdmin)
	editors := d.Gate.RequireRoles(models.RoleAdmin, models.RoleEditor)

	a := e.Group("/auth")
	login := []echo.MiddlewareFunc{}
	if d.LoginLimiter != nil {
		login = append(login, ratelimit.Middleware(d.LoginLimiter, "login"))
	}
	a.POST("/login", d.AuthHandler.Login, login...)
	a.POST("/login/json", d.AuthHandler.LoginJSON, login...)
	a.POST("/refresh", d.AuthHandler.Refresh)
	a.POST("/logout", d.AuthHandler.Logout)
	a.POST("/logout/all", d.AuthHandler.LogoutAll, auth)
	a.POST("/register", d.AuthHandler.Register)
	a.POST("/register/admin", d.AuthHandler.RegisterAdmin, auth, adminOnly)
	a.GET("/me", d.AuthHandler.Me, auth)

	u := e.Group("/users")
	u.POST("/reset-password/request", d.UsersHandler.RequestReset)
	u.POST("/reset-password/confirm", d.UsersHandler.ConfirmReset)

	me := u.Group("/me", auth)
	me.GET("", d.UsersHandler.Me)
	me.PUT("", d.UsersHandler.UpdateMe)

	admin := u.Group("", auth, adminOnly)
	admin.GET("", d.UsersHandler.List)
	admin.GET("/search", d.UsersHandler.Search)
	admin.GET("/:id", d.UsersHandler.Get)
	admin.PUT("/:id", d.UsersHandler.Update)
	admin.DELETE("/:id", d.UsersHandler.Delete)

	if d.Hub != nil {
		e.GET("/ws", d.Hub.ServeEcho)
		e.GET("/ws/matches", d.Hub.ServeMatches)
		e.POST("/matches/:id/live", d.LiveHandler.PublishMatch, auth, editors)
	}
}

func (d *Deps) ready(c echo.Context) error {
	if d.DB == nil {
		return c.NoContent(http.StatusOK)
	}
	if err := db.Ping(c.Request().Context(), d.DB); err != nil {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "unavailable"})
	}
	return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
}
