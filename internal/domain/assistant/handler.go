package assistant

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/careline/careline/internal/platform/apperr"
	"github.com/careline/careline/internal/platform/auth"
)

type Handler struct {
	orch *Orchestrator
}

func NewHandler(orch *Orchestrator) *Handler {
	return &Handler{orch: orch}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole(auth.RoleProvider))
	g.POST("/ask", h.Ask)
}

type askRequest struct {
	Question  string     `json:"question"`
	PatientID *uuid.UUID `json:"patient_id"`
}

// Ask handles POST /ask. With patient_id the question is about that
// patient's records and needs their consent. The namespace searched always
// follows from patient_id; callers cannot name one.
func (h *Handler) Ask(c echo.Context) error {
	var req askRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	var scope *Scope
	if req.PatientID != nil {
		scope = PatientRecordScope(*req.PatientID)
	}
	ans, err := h.orch.Answer(c.Request().Context(), req.Question, scope)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, ans)
}
