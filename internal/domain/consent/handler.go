package consent

import (
	"bytes"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/careline/careline/internal/platform/apperr"
	"github.com/careline/careline/internal/platform/auth"
)

type Handler struct {
	ledger *Ledger
}

func NewHandler(ledger *Ledger) *Handler {
	return &Handler{ledger: ledger}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole(auth.RoleProvider))
	g.POST("/consents", h.Issue)
	g.GET("/patients/:id/consent", h.Status)
}

// RegisterPublicRoutes mounts the patient-facing approval page, which has
// no bearer token.
func (h *Handler) RegisterPublicRoutes(e *echo.Echo) {
	e.GET("/consent/allow", h.Allow)
}

type issueRequest struct {
	ProviderPhone string `json:"provider_phone"`
	PatientPhone  string `json:"patient_phone"`
}

type consentResponse struct {
	ID        uuid.UUID `json:"id"`
	PatientID uuid.UUID `json:"patient_id"`
	Granted   bool      `json:"granted"`
	Link      string    `json:"link"`
}

func (h *Handler) Issue(c echo.Context) error {
	var req issueRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	res, err := h.ledger.Issue(c.Request().Context(), req.ProviderPhone, req.PatientPhone)
	if err != nil {
		return apperr.HTTP(err)
	}
	body := consentResponse{
		ID:        res.Consent.ID,
		PatientID: res.Consent.PatientID,
		Granted:   res.Consent.Granted,
		Link:      h.ledger.Link(res.Consent.Token),
	}
	if res.Partial() {
		_, msg := apperr.Status(res.SendErr)
		return c.JSON(http.StatusMultiStatus, map[string]interface{}{
			"consent": body,
			"error":   msg,
		})
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{"consent": body})
}

func (h *Handler) Status(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, map[string]string{"error": "invalid id"})
	}
	granted, err := h.ledger.HasGrantedConsent(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"patient_id": id, "granted": granted})
}

// Allow handles GET /consent/allow?token= from the link sent to the patient.
func (h *Handler) Allow(c echo.Context) error {
	token := c.QueryParam("token")
	if token == "" {
		return renderPage(c, http.StatusBadRequest, pageMissing)
	}
	_, err := h.ledger.Redeem(c.Request().Context(), token)
	switch {
	case err == nil:
		return renderPage(c, http.StatusOK, pageGranted)
	case apperr.IsNotFound(err):
		return renderPage(c, http.StatusNotFound, pageNotFound)
	default:
		return renderPage(c, http.StatusInternalServerError, pageError)
	}
}

func renderPage(c echo.Context, code int, p page) error {
	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, p); err != nil {
		return err
	}
	return c.HTMLBlob(code, buf.Bytes())
}
