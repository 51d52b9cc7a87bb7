package escalation

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/careline/careline/internal/domain/records"
	"github.com/careline/careline/internal/platform/apperr"
	"github.com/careline/careline/internal/platform/auth"
	"github.com/careline/careline/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole(auth.RoleProvider))
	g.GET("/escalations", h.List)
	g.GET("/escalations/:id", h.Get)
	g.POST("/escalations", h.Create)
	g.PATCH("/escalations", h.Update)
}

type listResponse struct {
	*pagination.Page[*View]
	CanUpdate bool `json:"canUpdate"`
	CanClose  bool `json:"canClose"`
}

func (h *Handler) List(c echo.Context) error {
	ctx := c.Request().Context()
	caller, _ := auth.CallerFromContext(ctx)
	perms, err := h.svc.Permissions(ctx, caller)
	if err != nil {
		return apperr.HTTP(err)
	}
	p := pagination.FromContext(c)
	items, total, err := h.svc.List(ctx, records.EscalationStatus(c.QueryParam("status")), p.Limit, p.Offset)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, listResponse{
		Page:      pagination.NewPage(items, total, p),
		CanUpdate: perms.CanUpdate,
		CanClose:  perms.CanClose,
	})
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, map[string]string{"error": "invalid id"})
	}
	ctx := c.Request().Context()
	caller, _ := auth.CallerFromContext(ctx)
	perms, err := h.svc.Permissions(ctx, caller)
	if err != nil {
		return apperr.HTTP(err)
	}
	v, err := h.svc.Get(ctx, id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"items":     []*View{v},
		"canUpdate": perms.CanUpdate,
		"canClose":  perms.CanClose,
	})
}

type createRequest struct {
	PatientID uuid.UUID `json:"patient_id"`
	Summary   string    `json:"summary"`
	Media     []string  `json:"media"`
}

func (h *Handler) Create(c echo.Context) error {
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	ctx := c.Request().Context()
	caller, _ := auth.CallerFromContext(ctx)
	v, err := h.svc.Create(ctx, caller, req.PatientID, req.Summary, req.Media)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, v)
}

type updateRequest struct {
	ID      uuid.UUID                 `json:"id"`
	Status  *records.EscalationStatus `json:"status"`
	Note    string                    `json:"note"`
	Version *int                      `json:"version"`
}

// Update handles PATCH /escalations {id, status?, note?, version?}.
func (h *Handler) Update(c echo.Context) error {
	var req updateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.ID == uuid.Nil {
		return apperr.HTTP(apperr.Validation("id", "is required"))
	}
	ctx := c.Request().Context()
	caller, _ := auth.CallerFromContext(ctx)
	v, err := h.svc.Apply(ctx, caller, Update{ID: req.ID, Status: req.Status, Note: req.Note, Version: req.Version})
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, v)
}
