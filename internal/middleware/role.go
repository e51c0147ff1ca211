package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/psych-forms/internal/model"
)

// RequireRole rejects requests whose principal holds none of the given
// roles with 403.  It must run after JWTAuth; a missing principal is a 401.
// The engine checks roles again on every operation.
func RequireRole(roles ...model.Role) echo.MiddlewareFunc {
	// Build the allowed set once at registration time.
	allowed := make(map[model.Role]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p, ok := PrincipalFrom(c)
			if !ok { // JWTAuth did not run for this route
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
			}
			if !allowed[p.Role] {
				return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
			}
			return next(c)
		}
	}
}
