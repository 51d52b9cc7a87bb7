package consent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/careline/careline/internal/platform/apperr"
)

func TestHandler_Allow(t *testing.T) {
	f := newFixture()
	res, _ := f.ledger.Issue(context.Background(), providerPhone, patientPhone)
	h := NewHandler(f.ledger)
	e := echo.New()

	tests := []struct {
		name     string
		query    string
		wantCode int
		wantText string
	}{
		{"missing token", "", http.StatusBadRequest, "missing its code"},
		{"unknown token", "?token=deadbeef", http.StatusNotFound, "invalid or has been replaced"},
		{"valid token", "?token=" + res.Consent.Token, http.StatusOK, "Access approved"},
		{"repeat redemption", "?token=" + res.Consent.Token, http.StatusOK, "Access approved"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			c := e.NewContext(httptest.NewRequest(http.MethodGet, "/consent/allow"+tt.query, nil), rec)
			if err := h.Allow(c); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if rec.Code != tt.wantCode {
				t.Errorf("expected %d, got %d", tt.wantCode, rec.Code)
			}
			if !strings.Contains(rec.Body.String(), tt.wantText) {
				t.Errorf("expected body to contain %q", tt.wantText)
			}
			if ct := rec.Header().Get(echo.HeaderContentType); !strings.HasPrefix(ct, "text/html") {
				t.Errorf("expected html content type, got %q", ct)
			}
		})
	}
}

func postConsent(t *testing.T, h *Handler, body string) (*httptest.ResponseRecorder, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/consents", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return rec, h.Issue(e.NewContext(req, rec))
}

func TestHandler_Issue_Created(t *testing.T) {
	f := newFixture()
	rec, err := postConsent(t, NewHandler(f.ledger),
		`{"provider_phone":"`+providerPhone+`","patient_phone":"`+patientPhone+`"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var body map[string]map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["consent"]["granted"] != false {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestHandler_Issue_MultiStatus(t *testing.T) {
	f := newFixture()
	f.sender.FailAll = apperr.Upstream("gateway", errors.New("status 503: down"))
	rec, err := postConsent(t, NewHandler(f.ledger),
		`{"provider_phone":"`+providerPhone+`","patient_phone":"`+patientPhone+`"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusMultiStatus {
		t.Fatalf("expected 207, got %d", rec.Code)
	}
	var body map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["error"] != "gateway: status 503: down" || body["consent"] == nil {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestHandler_Issue_UnknownPatient(t *testing.T) {
	f := newFixture()
	_, err := postConsent(t, NewHandler(f.ledger),
		`{"provider_phone":"`+providerPhone+`","patient_phone":"+15550000000"}`)
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %v", err)
	}
}
