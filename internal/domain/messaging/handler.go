package messaging

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/careline/careline/internal/platform/apperr"
)

const maxWebhookBody = 1 << 20

type Handler struct {
	pipeline *Pipeline
}

func NewHandler(p *Pipeline) *Handler {
	return &Handler{pipeline: p}
}

// RegisterRoutes mounts the webhook. mw guards it (shared secret).
func (h *Handler) RegisterRoutes(e *echo.Echo, mw ...echo.MiddlewareFunc) {
	e.POST("/webhooks/messages", h.Receive, mw...)
}

// Receive handles POST /webhooks/messages. Anything that cannot be routed
// is acknowledged with 200 so the gateway does not redeliver it.
func (h *Handler) Receive(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, map[string]string{"error": "unreadable body"})
	}
	res, err := h.pipeline.Handle(c.Request().Context(), body)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, res)
}
