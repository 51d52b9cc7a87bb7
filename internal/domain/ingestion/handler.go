package ingestion

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/careline/careline/internal/platform/apperr"
	"github.com/careline/careline/internal/platform/auth"
	"github.com/careline/careline/internal/platform/retrieval"
)

type Handler struct {
	tracker *Tracker
}

func NewHandler(tracker *Tracker) *Handler {
	return &Handler{tracker: tracker}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.POST("/ingestion/jobs", h.Enqueue)

	read := api.Group("", auth.RequireRole(auth.RoleProvider))
	read.GET("/ingestion/jobs/status", h.Status)
}

type enqueueRequest struct {
	Files     []retrieval.FileSpec `json:"files"`
	Namespace string               `json:"namespace"`
}

func (h *Handler) Enqueue(c echo.Context) error {
	var req enqueueRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	jobs, err := h.tracker.Enqueue(c.Request().Context(), req.Files, req.Namespace)
	if err != nil {
		return apperr.HTTP(err)
	}
	if jobs == nil {
		jobs = []retrieval.Job{}
	}
	return c.JSON(http.StatusAccepted, map[string]interface{}{"jobs": jobs})
}

func (h *Handler) Status(c echo.Context) error {
	st, err := h.tracker.Status(c.Request().Context(), c.QueryParam("id"))
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, st)
}
