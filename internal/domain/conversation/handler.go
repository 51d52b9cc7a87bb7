package conversation

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/careline/careline/internal/domain/identity"
	"github.com/careline/careline/internal/platform/apperr"
	"github.com/careline/careline/internal/platform/auth"
	"github.com/careline/careline/pkg/pagination"
)

type Handler struct {
	ledger *Ledger
}

func NewHandler(ledger *Ledger) *Handler {
	return &Handler{ledger: ledger}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole(auth.RoleProvider))
	g.GET("/conversations/:subject_type/:subject_id/messages", h.ListMessages)
}

func (h *Handler) ListMessages(c echo.Context) error {
	st := identity.SubjectType(c.Param("subject_type"))
	if !st.Valid() {
		return apperr.HTTP(apperr.Validation("subject_type", "must be patient or visitor"))
	}
	id, err := uuid.Parse(c.Param("subject_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, map[string]string{"error": "invalid subject_id"})
	}
	p := pagination.FromContext(c)
	msgs, total, err := h.ledger.List(c.Request().Context(), identity.Subject{Type: st, ID: id}, p.Limit, p.Offset)
	if err != nil {
		return apperr.HTTP(err)
	}
	if msgs == nil {
		msgs = []Message{}
	}
	return c.JSON(http.StatusOK, pagination.NewPage(msgs, total, p))
}
