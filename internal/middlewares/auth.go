package middlewares

import (
	"crypto/subtle"
	"fmt"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/onurcolak/sms-dispatch/pkg/response"
)

const (
	APIKeyHeader = "x-ops-api-key"

	bearerPrefix = "Bearer "
)

func secureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// presentedKey reads the ops key from x-ops-api-key, falling back to a bearer token.
func presentedKey(c echo.Context) string {
	if key := c.Request().Header.Get(APIKeyHeader); key != "" {
		return key
	}

	auth := c.Request().Header.Get(echo.HeaderAuthorization)
	if len(auth) > len(bearerPrefix) && strings.EqualFold(auth[:len(bearerPrefix)], bearerPrefix) {
		return strings.TrimSpace(auth[len(bearerPrefix):])
	}
	return ""
}

// OpsAPIKeyAuth guards the operator API. An empty configured key rejects every request
// with 500, since that is a deployment mistake rather than a client one.
func OpsAPIKeyAuth(apiKey string) echo.MiddlewareFunc {
	if apiKey == "" {
		return func(next echo.HandlerFunc) echo.HandlerFunc {
			return func(c echo.Context) error {
				return response.InternalServerError(c, fmt.Errorf("ops API key is not configured"))
			}
		}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := presentedKey(c)
			if key == "" || !secureCompare(key, apiKey) {
				return response.Unauthorized(c)
			}

			return next(c)
		}
	}
}
