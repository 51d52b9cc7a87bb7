package auth

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/careline/careline/internal/platform/apperr"
)

// RequireRole returns middleware that checks the caller has at least one of
// the given roles. Admins pass every check. A denial carries the same
// {"error":"forbidden"} body as service-level authorization failures.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			caller, ok := CallerFromContext(c.Request().Context())
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "unauthenticated")
			}
			if caller.IsAdmin() {
				return next(c)
			}
			for _, required := range roles {
				if caller.HasRole(required) {
					return next(c)
				}
			}
			return apperr.HTTP(apperr.Forbidden(apperr.ReasonForbidden))
		}
	}
}
