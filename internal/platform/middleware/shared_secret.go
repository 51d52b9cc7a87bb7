package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/labstack/echo/v4"
)

const WebhookSecretHeader = "X-Webhook-Secret"

// SharedSecret rejects requests whose header does not match secret. An empty
// secret disables the check (development gateways often cannot sign).
func SharedSecret(header, secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if secret == "" {
			return next
		}
		want := []byte(secret)
		return func(c echo.Context) error {
			got := []byte(c.Request().Header.Get(header))
			if subtle.ConstantTimeCompare(got, want) != 1 {
				return echo.NewHTTPError(http.StatusUnauthorized, map[string]string{"error": "invalid webhook secret"})
			}
			return next(c)
		}
	}
}
