package provider

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/careline/careline/internal/platform/apperr"
	"github.com/careline/careline/internal/platform/auth"
)

type Handler struct {
	dir *Directory
}

func NewHandler(dir *Directory) *Handler {
	return &Handler{dir: dir}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	staff := api.Group("", auth.RequireRole(auth.RoleProvider))
	staff.GET("/providers/me", h.Me)

	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.PUT("/providers/:user_id", h.Put)
}

// Me returns the caller's profile with computed permissions.
func (h *Handler) Me(c echo.Context) error {
	ctx := c.Request().Context()
	caller, _ := auth.CallerFromContext(ctx)
	perms, err := h.dir.Permissions(ctx, caller)
	if err != nil {
		return apperr.HTTP(err)
	}
	resp := map[string]interface{}{"user_id": caller.UserID, "permissions": perms}
	if p, err := h.dir.Get(ctx, caller.UserID); err == nil {
		resp["profile"] = p
	} else if !apperr.IsNotFound(err) {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, resp)
}

type putRequest struct {
	DisplayName          string `json:"display_name"`
	Phone                string `json:"phone"`
	CanUpdateEscalations bool   `json:"can_update_escalations"`
	CanCloseEscalations  bool   `json:"can_close_escalations"`
}

func (h *Handler) Put(c echo.Context) error {
	var req putRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	p := &Profile{
		UserID:               c.Param("user_id"),
		DisplayName:          req.DisplayName,
		Phone:                req.Phone,
		CanUpdateEscalations: req.CanUpdateEscalations,
		CanCloseEscalations:  req.CanCloseEscalations,
	}
	if existing, err := h.dir.Get(c.Request().Context(), p.UserID); err == nil {
		p.ID = existing.ID
	}
	if err := h.dir.Save(c.Request().Context(), p); err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}
