// Package router wires handlers and middleware onto an echo instance.
package router

import (
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/iliyamo/psych-forms/internal/handler"
	"github.com/iliyamo/psych-forms/internal/middleware"
	"github.com/iliyamo/psych-forms/internal/model"
	"github.com/iliyamo/psych-forms/internal/service"
)

// Deps are the collaborators New needs.  Ready may be nil.
type Deps struct {
	Engine *service.Engine
	Log    zerolog.Logger
	Ready  map[string]handler.Pinger
}

// New returns an echo instance with every route registered.
func New(d Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = handler.ErrorHandler

	e.Use(echomw.RequestID())
	e.Use(middleware.Recovery(d.Log))
	e.Use(middleware.Logger(d.Log))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
	e.Use(echomw.BodyLimit("1M"))

	RegisterRoutes(e, d.Ready)
	RegisterAuth(e, handler.NewAuthHandler(d.Engine), d.Engine)

	// One authenticated group for everything else under /api.  Role checks
	// hang off individual routes so the group's not-found route is only
	// behind JWTAuth.
	api := e.Group("/api", middleware.JWTAuth(d.Engine))
	RegisterPsychologist(api, handler.NewFormHandler(d.Engine), handler.NewAuthHandler(d.Engine))
	RegisterPatient(api, handler.NewPatientHandler(d.Engine))
	return e
}

// RegisterRoutes registers routes that do not require authentication.
func RegisterRoutes(e *echo.Echo, ready map[string]handler.Pinger) {
	e.GET("/healthz", handler.Health)
	e.GET("/readyz", handler.Ready(ready))
}

// RegisterAuth registers /api/auth.  Only /me needs a token.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, auth middleware.Authenticator) {
	g := e.Group("/api/auth")
	g.POST("/register", a.Register)
	g.POST("/login", a.Login)
	g.GET("/me", a.Me, middleware.JWTAuth(auth))
}

// RegisterPsychologist registers the form authoring routes on the
// authenticated /api group.  GET /forms/:id is shared with patients; the
// engine decides access.
func RegisterPsychologist(g *echo.Group, f *handler.FormHandler, a *handler.AuthHandler) {
	psy := middleware.RequireRole(model.RolePsychologist)

	g.POST("/forms", f.CreateForm, psy)
	g.GET("/forms", f.ListForms, psy)
	g.GET("/forms/:id", f.GetForm)
	g.PUT("/forms/:id", f.UpdateForm, psy)
	g.DELETE("/forms/:id", f.DeleteForm, psy)
	g.GET("/forms/:id/responses", f.ListResponses, psy)
	g.GET("/patients", a.ListPatients, psy)
}

// RegisterPatient registers the patient routes on the authenticated /api
// group.
func RegisterPatient(g *echo.Group, p *handler.PatientHandler) {
	pat := middleware.RequireRole(model.RolePatient)

	g.GET("/patient/forms", p.AvailableForms, pat)
	g.POST("/responses", p.Submit, pat)
	g.GET("/responses/my", p.MyResponses, pat)
}
