package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/psych-forms/internal/middleware"
	"github.com/iliyamo/psych-forms/internal/model"
	"github.com/iliyamo/psych-forms/internal/service"
)

// FormHandler serves form authoring and the form detail view.  Every route
// it backs sits behind JWTAuth, and all but GetForm also behind the
// psychologist role check.
type FormHandler struct {
	Engine *service.Engine // Engine enforces roles, ownership and assignment
}

// NewFormHandler constructs a FormHandler around the engine.
func NewFormHandler(e *service.Engine) *FormHandler {
	return &FormHandler{Engine: e}
}

// patientFormView is a form as shown to an assigned patient: the
// assignment list and owner stay hidden.
type patientFormView struct {
	ID          string           `json:"id"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Questions   []model.Question `json:"questions"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}

// CreateForm handles POST /forms.  The body carries title, description,
// questions and assignedPatients; the stored form is returned with 200.
func (h *FormHandler) CreateForm(c echo.Context) error {
	p, _ := middleware.PrincipalFrom(c) // set by JWTAuth
	// Decode the body.  Field-level validation (title, question ids)
	// happens in the engine.
	var req service.FormInput
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	f, err := h.Engine.CreateForm(ctx, p, req)
	if err != nil {
		return respondErr(c, err) // 400, 403 or 409 depending on the kind
	}
	return c.JSON(http.StatusOK, f)
}

// ListForms handles GET /forms: the principal's own forms with question
// and response counts.
func (h *FormHandler) ListForms(c echo.Context) error {
	p, _ := middleware.PrincipalFrom(c)
	ctx, cancel := requestContext(c)
	defer cancel()

	out, err := h.Engine.ListOwnForms(ctx, p)
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

// GetForm handles GET /forms/:id for the owner or an assigned patient.
// The route has no role middleware; the engine decides who may read.
func (h *FormHandler) GetForm(c echo.Context) error {
	p, _ := middleware.PrincipalFrom(c)
	ctx, cancel := requestContext(c)
	defer cancel()

	f, err := h.Engine.GetForm(ctx, p, c.Param("id"))
	if err != nil {
		return respondErr(c, err)
	}
	// Patients get the trimmed view without assignedPatients or createdBy.
	if p.Role == model.RolePatient {
		return c.JSON(http.StatusOK, patientFormView{
			ID: f.ID, Title: f.Title, Description: f.Description,
			Questions: f.Questions, CreatedAt: f.CreatedAt, UpdatedAt: f.UpdatedAt,
		})
	}
	return c.JSON(http.StatusOK, f) // owner view includes the assignment list
}

// UpdateForm handles PUT /forms/:id.  Fields absent from the body are left
// untouched, so the update is partial.
func (h *FormHandler) UpdateForm(c echo.Context) error {
	p, _ := middleware.PrincipalFrom(c)
	// FormUpdate uses pointer fields to tell "absent" from "empty".
	var req service.FormUpdate
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	f, err := h.Engine.UpdateForm(ctx, p, c.Param("id"), req)
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(http.StatusOK, f)
}

// DeleteForm handles DELETE /forms/:id.  The form's responses go with it.
func (h *FormHandler) DeleteForm(c echo.Context) error {
	p, _ := middleware.PrincipalFrom(c)
	ctx, cancel := requestContext(c)
	defer cancel()

	if err := h.Engine.DeleteForm(ctx, p, c.Param("id")); err != nil {
		return respondErr(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "Form deleted successfully"})
}

// ListResponses handles GET /forms/:id/responses for the form's owner.
// Each response carries the patient's name and email when still known.
func (h *FormHandler) ListResponses(c echo.Context) error {
	p, _ := middleware.PrincipalFrom(c)
	ctx, cancel := requestContext(c)
	defer cancel()

	out, err := h.Engine.ListFormResponses(ctx, p, c.Param("id"))
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(http.StatusOK, out)
}
