package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/psych-forms/internal/middleware"
	"github.com/iliyamo/psych-forms/internal/service"
)

// PatientHandler serves the patient side: assigned forms and responses.
// Its routes are registered behind JWTAuth and the patient role check.
type PatientHandler struct {
	Engine *service.Engine // Engine checks assignment and the one-response rule
}

// NewPatientHandler constructs a PatientHandler around the engine.
func NewPatientHandler(e *service.Engine) *PatientHandler {
	return &PatientHandler{Engine: e}
}

// AvailableForms handles GET /patient/forms: forms assigned to the caller
// that they have not answered yet.
func (h *PatientHandler) AvailableForms(c echo.Context) error {
	p, _ := middleware.PrincipalFrom(c)
	ctx, cancel := requestContext(c)
	defer cancel()

	out, err := h.Engine.ListAvailableForms(ctx, p)
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

// Submit handles POST /responses.  The body is a formId and the answers;
// the reply carries the new response id.
func (h *PatientHandler) Submit(c echo.Context) error {
	p, _ := middleware.PrincipalFrom(c)
	var req service.SubmitInput
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	// A second submission for the same form comes back as 409 here.
	r, err := h.Engine.SubmitResponse(ctx, p, req)
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"id": r.ID, "message": "Response submitted successfully"})
}

// MyResponses handles GET /responses/my: every response the caller has
// submitted.
func (h *PatientHandler) MyResponses(c echo.Context) error {
	p, _ := middleware.PrincipalFrom(c)
	ctx, cancel := requestContext(c)
	defer cancel()

	out, err := h.Engine.ListMyResponses(ctx, p)
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(http.StatusOK, out)
}
