package handler

import (
	"context"
	"time"

	"github.com/labstack/echo/v4"
)

// requestTimeout bounds every store round trip made on behalf of a request.
const requestTimeout = 5 * time.Second

// requestContext derives the per-request context from the client's, so a
// dropped connection also cancels the work.  Callers must call cancel.
func requestContext(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), requestTimeout)
}
