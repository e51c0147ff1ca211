package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"

	"github.com/iliyamo/psych-forms/internal/service"
)

func TestRespondErrStatuses(t *testing.T) {
	cases := []struct {
		kind   service.Kind
		status int
	}{
		{service.KindAuth, http.StatusUnauthorized},
		{service.KindForbidden, http.StatusForbidden},
		{service.KindNotFound, http.StatusNotFound},
		{service.KindValidation, http.StatusBadRequest},
		{service.KindConflict, http.StatusConflict},
	}
	for _, tc := range cases {
		t.Run(tc.kind.String(), func(t *testing.T) {
			e := echo.New()
			rec := httptest.NewRecorder()
			c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

			err := fmt.Errorf("outer: %w", &service.Error{Kind: tc.kind, Msg: "nope"})
			assert.NoError(t, respondErr(c, err))
			assert.Equal(t, tc.status, rec.Code)
			assert.JSONEq(t, `{"error":"nope"}`, rec.Body.String())
		})
	}
}

func TestRespondErrInternalHidesCause(t *testing.T) {
	e := echo.New()
	e.HTTPErrorHandler = ErrorHandler
	e.GET("/", func(c echo.Context) error {
		return respondErr(c, errors.New("disk on fire"))
	})
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
}

func TestErrorHandlerNotFound(t *testing.T) {
	e := echo.New()
	e.HTTPErrorHandler = ErrorHandler
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"Not Found"}`, rec.Body.String())
}

type pingFunc func() error

func (f pingFunc) Ping(_ context.Context) error { return f() }

func TestReady(t *testing.T) {
	e := echo.New()
	e.GET("/readyz", Ready(map[string]Pinger{
		"sql":   pingFunc(func() error { return nil }),
		"redis": pingFunc(func() error { return errors.New("refused") }),
	}))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"unavailable","failed":{"redis":"refused"}}`, rec.Body.String())

	e.GET("/ok", Ready(nil))
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ok", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
