// Package apperr defines the error taxonomy shared by services and its
// translation to HTTP responses.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Authorization reason codes returned in 403 bodies.
const (
	ReasonForbidden      = "forbidden"
	ReasonForbiddenClose = "forbidden_close"
	ReasonNoConsent      = "no_consent"
)

// ValidationError reports malformed input (bad phone, missing field).
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// AuthzError reports a permission or consent denial. Reason distinguishes
// "no permission" from "no consent".
type AuthzError struct {
	Reason string
}

func (e *AuthzError) Error() string { return e.Reason }

// NotFoundError reports an unknown id or token.
type NotFoundError struct {
	Resource string
}

func (e *NotFoundError) Error() string { return e.Resource + " not found" }

// ConflictError reports a lost optimistic-concurrency race.
type ConflictError struct {
	Resource string
}

func (e *ConflictError) Error() string {
	return e.Resource + " was modified concurrently, reload and retry"
}

// UpstreamError wraps a failure of an external dependency.
type UpstreamError struct {
	Service string
	Err     error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %v", e.Service, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

func Validation(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}

func Forbidden(reason string) error {
	return &AuthzError{Reason: reason}
}

func NotFound(resource string) error {
	return &NotFoundError{Resource: resource}
}

func Conflict(resource string) error {
	return &ConflictError{Resource: resource}
}

func Upstream(service string, err error) error {
	return &UpstreamError{Service: service, Err: err}
}

// IsNotFound reports whether err is, or wraps, a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsUpstream reports whether err is, or wraps, an UpstreamError.
func IsUpstream(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue)
}

// ReasonOf returns the AuthzError reason carried by err, or "".
func ReasonOf(err error) string {
	var ae *AuthzError
	if errors.As(err, &ae) {
		return ae.Reason
	}
	return ""
}

// Status maps err to an HTTP status code and a short client-facing message.
func Status(err error) (int, string) {
	var (
		ve *ValidationError
		ae *AuthzError
		nf *NotFoundError
		ce *ConflictError
		ue *UpstreamError
	)
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, ve.Error()
	case errors.As(err, &ae):
		return http.StatusForbidden, ae.Reason
	case errors.As(err, &nf):
		return http.StatusNotFound, nf.Error()
	case errors.As(err, &ce):
		return http.StatusConflict, ce.Error()
	case errors.As(err, &ue):
		return http.StatusInternalServerError, ue.Error()
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

// HTTP converts err to an echo.HTTPError with a {"error": ...} body.
func HTTP(err error) *echo.HTTPError {
	code, msg := Status(err)
	return echo.NewHTTPError(code, map[string]string{"error": msg})
}
