package records

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/careline/careline/internal/platform/apperr"
	"github.com/careline/careline/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole(auth.RoleProvider))
	g.GET("/patients/:id/records", h.List)
}

// List handles GET /patients/:id/records?kind=a,b.
func (h *Handler) List(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, map[string]string{"error": "invalid id"})
	}
	var kinds []Kind
	if q := c.QueryParam("kind"); q != "" {
		for _, s := range strings.Split(q, ",") {
			k, ok := ParseKind(strings.TrimSpace(s))
			if !ok {
				return apperr.HTTP(apperr.Validation("kind", "unknown record kind "+s))
			}
			kinds = append(kinds, k)
		}
	}

	caller, _ := auth.CallerFromContext(c.Request().Context())
	recs, err := h.svc.List(c.Request().Context(), caller, patientID, kinds...)
	if err != nil {
		return apperr.HTTP(err)
	}
	items := make([]Envelope, 0, len(recs))
	for _, r := range recs {
		items = append(items, Wrap(r))
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"items": items})
}
