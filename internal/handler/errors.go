package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/psych-forms/internal/service"
)

// statusFor maps an engine error kind to its HTTP status.
var statusFor = map[service.Kind]int{
	service.KindAuth:       http.StatusUnauthorized,
	service.KindForbidden:  http.StatusForbidden,
	service.KindNotFound:   http.StatusNotFound,
	service.KindValidation: http.StatusBadRequest,
	service.KindConflict:   http.StatusConflict,
}

// respondErr writes the JSON error body for err.  Internal errors are
// handed back to echo with the cause attached so the request logger
// records it; clients only see a generic message.
func respondErr(c echo.Context, err error) error {
	// Engine errors with a mapped kind carry a message meant for clients.
	var se *service.Error
	if errors.As(err, &se) {
		if status, ok := statusFor[se.Kind]; ok {
			return c.JSON(status, echo.Map{"error": se.Msg})
		}
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
}

// ErrorHandler renders errors that reach echo as {"error": msg}, the same
// shape handlers use.
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return // headers already sent; nothing more can be written
	}
	status, msg := http.StatusInternalServerError, "internal server error"
	// echo's own errors (404 routes, 405, bind failures) are HTTPErrors.
	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		if s, ok := he.Message.(string); ok {
			msg = s
		} else {
			msg = http.StatusText(status)
		}
	}
	// HEAD responses carry no body.
	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(status)
		return
	}
	_ = c.JSON(status, echo.Map{"error": msg})
}
