package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/psych-forms/internal/model"
	"github.com/iliyamo/psych-forms/internal/service"
)

// Context keys set by JWTAuth.
const (
	ContextUser      = "user"      // *model.User loaded from the store
	ContextPrincipal = "principal" // model.Principal built from that user
)

// Authenticator resolves a raw bearer token to the stored user.
// *service.Engine satisfies it.
type Authenticator interface {
	Authenticate(ctx context.Context, raw string) (*model.User, error)
}

// JWTAuth validates the Bearer token on every request and stores the
// resolved user and principal in the context.  The principal's role comes
// from the stored user, so a role change takes effect without reissuing
// tokens.
func JWTAuth(auth Authenticator) echo.MiddlewareFunc {
	// The returned middleware wraps each protected handler once at
	// registration; the inner func runs per request.
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			// Read the Authorization header.  Without a "Bearer <token>"
			// value the request is rejected before any token parsing.
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			raw, ok := bearer(header)
			if !ok {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}
			// Verify the signature and expiry, then load the subject.  A
			// token whose user was deleted fails here as well.
			u, err := auth.Authenticate(c.Request().Context(), raw)
			if err != nil {
				// Token problems are 401 with the engine's message; a store
				// failure is not the client's fault and answers 500.
				var se *service.Error
				if errors.As(err, &se) && se.Kind == service.KindAuth {
					return c.JSON(http.StatusUnauthorized, echo.Map{"error": se.Msg})
				}
				return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
			}
			// Store both forms of the caller for handlers and RequireRole.
			c.Set(ContextUser, u)
			c.Set(ContextPrincipal, model.Principal{ID: u.ID, Role: u.Role})
			return next(c)
		}
	}
}

// bearer extracts the token from an Authorization header.  The scheme is
// matched case-insensitively.
func bearer(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ") // split "Bearer <token>"
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false // no scheme, or Basic and the like
	}
	token = strings.TrimSpace(token) // tolerate extra spaces after the scheme
	return token, token != ""
}

// PrincipalFrom returns the principal stored by JWTAuth.  ok is false on
// routes that JWTAuth does not cover.
func PrincipalFrom(c echo.Context) (model.Principal, bool) {
	p, ok := c.Get(ContextPrincipal).(model.Principal)
	return p, ok
}

// UserFrom returns the user stored by JWTAuth.
func UserFrom(c echo.Context) (*model.User, bool) {
	u, ok := c.Get(ContextUser).(*model.User)
	return u, ok && u != nil
}
