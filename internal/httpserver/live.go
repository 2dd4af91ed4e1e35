package httpserver

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/football_stats/internal/live"
	"github.com/Skotchmaster/football_stats/pkg/logging"
)

type LiveHTTP struct {
	Hub *live.Hub
}

// PublishMatch pushes an arbitrary JSON update for one match to its subscribers.
func (h *LiveHTTP) PublishMatch(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "live.publish_match")

	matchID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || matchID == 0 {
		l.Warn("publish_match_error", "status", 400, "reason", "id is not a positive integer", "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "id is not a positive integer")
	}

	update := map[string]any{}
	if err := c.Bind(&update); err != nil {
		return badBody(l, "publish_match_error", err)
	}
	update["match_id"] = matchID

	n, err := h.Hub.PublishMatchUpdate(update)
	if err != nil {
		l.Error("publish_match_failed", "status", 500, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}

	l.Info("publish_match_success", "match_id", matchID, "delivered", n)
	return c.JSON(http.StatusAccepted, echo.Map{"delivered": n})
}
